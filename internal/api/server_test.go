package api

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/miradorstack/mirador-replay/internal/config"
	"github.com/miradorstack/mirador-replay/internal/models"
)

type serviceStub struct {
	ready bool
}

func (s *serviceStub) ServerLive(context.Context, *ServerLiveRequest) (*ServerLiveResponse, error) {
	return &ServerLiveResponse{Live: true}, nil
}

func (s *serviceStub) ServerReady(context.Context, *ServerReadyRequest) (*ServerReadyResponse, error) {
	return &ServerReadyResponse{Ready: s.ready}, nil
}

func (s *serviceStub) ModelConfig(_ context.Context, req *ModelConfigRequest) (*ModelConfigResponse, error) {
	return &ModelConfigResponse{
		Name:    req.Name,
		Inputs:  []TensorMetadata{{Name: "x", Datatype: TypeINT32, Shape: []int64{-1}}},
		Outputs: []TensorMetadata{{Name: "y", Datatype: TypeINT32, Shape: []int64{-1}}},
	}, nil
}

func (s *serviceStub) ModelInfer(_ context.Context, req *ModelInferRequest) (*ModelInferResponse, error) {
	if req.ID == "fail" {
		return nil, status.Error(codes.Internal, "Error during inference: boom")
	}
	return &ModelInferResponse{ModelName: req.ModelName, ID: req.ID, Outputs: []InferTensor{{
		Name: "y", Datatype: req.Inputs[0].Datatype, Shape: req.Inputs[0].Shape, Contents: req.Inputs[0].Contents,
	}}}, nil
}

func serve(t *testing.T, svc InferenceServer) (*bufconn.Listener, grpc.DialOption) {
	t.Helper()
	return serveWith(t, config.ServerConfig{}, svc)
}

func serveWith(t *testing.T, cfg config.ServerConfig, svc InferenceServer) (*bufconn.Listener, grpc.DialOption) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	server := NewServerOnListener(lis, cfg, svc)
	go func() { _ = server.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		server.Shutdown(ctx)
	})
	return lis, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
}

func TestClientAgainstServer(t *testing.T) {
	_, dialer := serve(t, &serviceStub{ready: true})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, "passthrough:///bufnet", dialer)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	if ready, err := client.IsReady(ctx); err != nil || !ready {
		t.Fatalf("expected ready, got %v %v", ready, err)
	}
	sig, err := client.ModelSignature(ctx, "m")
	if err != nil || sig.Name != "m" || sig.Inputs[0].DataType != TypeINT32 {
		t.Fatalf("unexpected signature %+v %v", sig, err)
	}

	in := NewInferInput("x", []int64{2}, TypeINT32)
	if err := in.SetData([]byte{1, 0, 0, 0, 2, 0, 0, 0}); err != nil {
		t.Fatalf("set data: %v", err)
	}
	result, err := client.Infer(ctx, "m", []*InferInput{in}, []string{"y"}, "req-7")
	if err != nil {
		t.Fatalf("infer: %v", err)
	}
	y, err := result.AsTensor("y")
	if err != nil {
		t.Fatalf("as tensor: %v", err)
	}
	if result.ID() != "req-7" || y.ElementType != models.Int32 || y.NumElements() != 2 {
		t.Fatalf("unexpected result id=%s tensor=%+v", result.ID(), y)
	}

	_, err = client.Infer(ctx, "m", []*InferInput{in}, nil, "fail")
	if status.Code(err) != codes.Internal || status.Convert(err).Message() != "Error during inference: boom" {
		t.Fatalf("expected internal status, got %v", err)
	}
}

func TestSetDataRejectsWrongSize(t *testing.T) {
	in := NewInferInput("x", []int64{2}, TypeFP32)
	if err := in.SetData([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected size mismatch")
	}
	if err := NewInferInput("x", []int64{1}, "BF16").SetData([]byte{0, 0}); err == nil {
		t.Fatalf("expected unsupported type")
	}
}

func TestHealthService(t *testing.T) {
	_, dialer := serve(t, &serviceStub{})
	conn, err := grpc.NewClient("passthrough:///bufnet", dialer, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected serving, got %v", resp.Status)
	}
}

func TestDialUnreachable(t *testing.T) {
	lis, dialer := serve(t, &serviceStub{})
	lis.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, err := Dial(ctx, "passthrough:///bufnet", dialer); err == nil {
		t.Fatalf("expected connection error")
	}
}

func TestMaxMessageBytesAllowsLargeResponses(t *testing.T) {
	_, dialer := serveWith(t, config.ServerConfig{MaxMessageBytes: 16 << 20}, &serviceStub{ready: true})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const n = 6 << 20
	in := NewInferInput("x", []int64{n}, TypeINT8)
	if err := in.SetData(make([]byte, n)); err != nil {
		t.Fatalf("set data: %v", err)
	}

	small, err := Dial(ctx, "passthrough:///bufnet", dialer)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer small.Close()
	if _, err := small.Infer(ctx, "m", []*InferInput{in}, []string{"y"}, "big"); status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("expected default limit to reject the response, got %v", err)
	}

	large, err := Dial(ctx, "passthrough:///bufnet", dialer, WithMaxMessageBytes(16<<20))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer large.Close()
	result, err := large.Infer(ctx, "m", []*InferInput{in}, []string{"y"}, "big")
	if err != nil {
		t.Fatalf("infer: %v", err)
	}
	y, err := result.AsTensor("y")
	if err != nil || y.NumElements() != n {
		t.Fatalf("unexpected result %+v %v", y, err)
	}
}
