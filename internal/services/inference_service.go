package services

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/miradorstack/mirador-replay/internal/api"
	"github.com/miradorstack/mirador-replay/internal/metrics"
	"github.com/miradorstack/mirador-replay/internal/models"
	"github.com/miradorstack/mirador-replay/internal/utils"
)

// latencyLogEvery successful calls produce one latency summary log line.
const latencyLogEvery = 100

// ModelExecutor runs one model and returns a response with the outcome classified.
type ModelExecutor interface {
	Signature() models.ModelSignature
	Execute(ctx context.Context, req models.InferRequest) models.InferResponse
}

// InferenceService implements the gRPC inference service.
type InferenceService struct {
	logger    *slog.Logger
	executors map[string]ModelExecutor
	ready     atomic.Bool
	latencies *utils.LatencyTracker
}

// NewInferenceService constructs the service facade over one executor per model.
func NewInferenceService(logger *slog.Logger, executors ...ModelExecutor) *InferenceService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &InferenceService{
		logger:    logger,
		executors: make(map[string]ModelExecutor, len(executors)),
		latencies: utils.NewLatencyTracker(1024),
	}
	for _, ex := range executors {
		s.executors[ex.Signature().Name] = ex
	}
	s.ready.Store(true)
	return s
}

// SetReady flips the readiness reported by ServerReady.
func (s *InferenceService) SetReady(ready bool) {
	s.ready.Store(ready)
}

// ServerLive reports that the process is serving.
func (s *InferenceService) ServerLive(ctx context.Context, req *api.ServerLiveRequest) (*api.ServerLiveResponse, error) {
	return &api.ServerLiveResponse{Live: true}, nil
}

// ServerReady reports whether models are loaded and the service accepts inference.
func (s *InferenceService) ServerReady(ctx context.Context, req *api.ServerReadyRequest) (*api.ServerReadyResponse, error) {
	return &api.ServerReadyResponse{Ready: s.ready.Load() && len(s.executors) > 0}, nil
}

// ModelConfig returns the declared signature of a model.
func (s *InferenceService) ModelConfig(ctx context.Context, req *api.ModelConfigRequest) (*api.ModelConfigResponse, error) {
	if req == nil || req.Name == "" {
		return nil, status.Error(codes.InvalidArgument, "model name is required")
	}
	ex, ok := s.executors[req.Name]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "model %q is not loaded", req.Name)
	}
	return api.ToWireModelConfig(ex.Signature()), nil
}

// ModelInfer runs one inference call; capture happens inside the executor.
func (s *InferenceService) ModelInfer(ctx context.Context, req *api.ModelInferRequest) (*api.ModelInferResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	if !s.ready.Load() {
		return nil, status.Error(codes.Unavailable, "server is not ready")
	}

	s.logger.Debug("ModelInfer called", slog.String("model", req.ModelName), slog.String("request_id", req.ID))

	domainReq, err := api.FromWireInferRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	ex, ok := s.executors[domainReq.ModelName]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "model %q is not loaded", domainReq.ModelName)
	}

	declared := make(map[string]struct{}, len(ex.Signature().Outputs))
	for _, name := range ex.Signature().OutputNames() {
		declared[name] = struct{}{}
	}
	for _, o := range req.Outputs {
		if _, ok := declared[o.Name]; !ok {
			return nil, status.Errorf(codes.InvalidArgument, "requested output %q is not declared by model %q", o.Name, domainReq.ModelName)
		}
	}

	start := time.Now()
	resp := ex.Execute(ctx, domainReq)
	duration := time.Since(start)
	if resp.Failed() {
		metrics.ObserveInference(domainReq.ModelName, duration, metrics.OutcomeError)
		s.logger.Warn("inference failed",
			slog.String("model", domainReq.ModelName),
			slog.String("request_id", domainReq.ID),
			slog.String("status", resp.StatusMessage),
		)
		return nil, status.Error(codes.Internal, resp.StatusMessage)
	}
	s.latencies.Observe(duration)
	metrics.ObserveInference(domainReq.ModelName, duration, metrics.OutcomeSuccess)
	if n := s.latencies.Observed(); n%latencyLogEvery == 0 {
		summary := s.latencies.Summary()
		s.logger.Info("inference latency",
			slog.Duration("p50", summary.P50),
			slog.Duration("p95", summary.P95),
			slog.Duration("p99", summary.P99),
			slog.Int("samples", summary.Samples),
		)
	}

	out, err := api.ToWireInferResponse(resp, req.Outputs)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// LatencyP95 returns the current p95 inference latency.
func (s *InferenceService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}
