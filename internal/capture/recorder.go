package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-replay/internal/metrics"
	"github.com/miradorstack/mirador-replay/internal/models"
)

// FailurePrefix starts the status message of every failed call.
const FailurePrefix = "Error during inference: "

// ErrMissingInput signals a request lacking a declared model input.
var ErrMissingInput = errors.New("missing input")

// Runtime executes a loaded model.
type Runtime interface {
	Infer(ctx context.Context, sig models.ModelSignature, inputs map[string]models.Tensor) (map[string]models.Tensor, error)
}

// RecorderConfig holds the capture settings shared by every model.
type RecorderConfig struct {
	Policy Policy
	Store  Store
	Logger *slog.Logger
}

// Recorder runs one model and captures its calls according to the policy.
// It is immutable after construction and safe for concurrent use.
type Recorder struct {
	sig     models.ModelSignature
	runtime Runtime
	policy  Policy
	store   Store
	logger  *slog.Logger
	now     func() time.Time
}

// NewRecorder builds the per-model recorder.
func NewRecorder(sig models.ModelSignature, runtime Runtime, cfg RecorderConfig) *Recorder {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		sig:     sig,
		runtime: runtime,
		policy:  cfg.Policy,
		store:   cfg.Store,
		logger:  logger.With(slog.String("model", sig.Name)),
		now:     time.Now,
	}
}

// Signature returns the model signature served by the recorder.
func (r *Recorder) Signature() models.ModelSignature {
	return r.sig
}

// Execute runs the model on req and returns the response for the caller. Capture happens
// after the response is built and never changes it.
func (r *Recorder) Execute(ctx context.Context, req models.InferRequest) models.InferResponse {
	resp := models.InferResponse{ID: req.ID, ModelName: r.sig.Name, StatusMessage: models.StatusNone}

	inputs, err := r.gather(req)
	if err == nil {
		resp.Outputs, err = r.infer(ctx, inputs)
	}
	if err != nil {
		resp.Outputs = nil
		resp.StatusMessage = FailureMessage(err)
	}

	r.capture(req.ID, resp.StatusMessage, inputs)
	return resp
}

// FailureMessage formats the status message recorded for a failed call.
func FailureMessage(err error) string {
	return FailurePrefix + err.Error()
}

// gather collects one tensor per declared input. On a missing input it returns what was
// gathered so far together with ErrMissingInput.
func (r *Recorder) gather(req models.InferRequest) (map[string]models.Tensor, error) {
	inputs := make(map[string]models.Tensor, len(r.sig.Inputs))
	for _, spec := range r.sig.Inputs {
		t, ok := req.Inputs[spec.Name]
		if !ok {
			return inputs, fmt.Errorf("%w %q", ErrMissingInput, spec.Name)
		}
		inputs[spec.Name] = t
	}
	return inputs, nil
}

func (r *Recorder) infer(ctx context.Context, inputs map[string]models.Tensor) (outputs map[string]models.Tensor, err error) {
	defer func() {
		if p := recover(); p != nil {
			outputs, err = nil, fmt.Errorf("runtime panic: %v", p)
		}
	}()
	outputs, err = r.runtime.Infer(ctx, r.sig, inputs)
	if err != nil {
		return nil, err
	}
	for _, name := range r.sig.OutputNames() {
		if _, ok := outputs[name]; !ok {
			return nil, fmt.Errorf("output %q not produced", name)
		}
	}
	return outputs, nil
}

func (r *Recorder) capture(requestID, status string, inputs map[string]models.Tensor) {
	failed := status != models.StatusNone
	if !r.policy.ShouldCapture(failed) || r.store == nil {
		metrics.ObserveCapture(metrics.CaptureSkipped, 0)
		return
	}

	id := models.SanitizeID(requestID)
	if requestID != "" && id != requestID {
		r.logger.Debug("request id rewritten for capture", slog.String("request_id", requestID), slog.String("correlation_id", id))
	}

	rec := models.CapturedRecord{
		CorrelationID: id,
		ModelName:     r.sig.Name,
		StatusMessage: status,
		Inputs:        inputs,
		CapturedAt:    r.now().UTC(),
	}
	path, size, err := r.store.Write(rec)
	if err != nil {
		metrics.ObserveCapture(metrics.CaptureFailed, 0)
		r.logger.Error("capture write failed", slog.String("correlation_id", id), slog.Any("error", err))
		return
	}
	metrics.ObserveCapture(metrics.CaptureWritten, size)
	r.logger.Info("captured inference request",
		slog.String("correlation_id", id),
		slog.String("path", path),
		slog.Bool("failed", failed),
		slog.Int("bytes", size),
	)
}
