package replay

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/miradorstack/mirador-replay/internal/api"
	"github.com/miradorstack/mirador-replay/internal/models"
	"github.com/miradorstack/mirador-replay/internal/record"
)

type infererStub struct {
	calls     int
	model     string
	requestID string
	inputs    []*api.InferInput
	outputs   []string
	result    *api.InferResult
	err       error
}

func (s *infererStub) Infer(ctx context.Context, modelName string, inputs []*api.InferInput, outputs []string, requestID string) (*api.InferResult, error) {
	s.calls++
	s.model = modelName
	s.inputs = inputs
	s.outputs = outputs
	s.requestID = requestID
	return s.result, s.err
}

func particleNetSignature() models.ModelSignature {
	return models.ModelSignature{
		Name: "particlenet_AK4_PT",
		Inputs: []models.TensorSpec{
			{Name: "pf_points__0", DataType: api.TypeFP32, Dims: []int64{-1, 2}},
			{Name: "pf_mask__2", DataType: api.TypeFP32, Dims: []int64{-1, 1}},
		},
		Outputs: []models.TensorSpec{{Name: "softmax__0", DataType: api.TypeFP32, Dims: []int64{-1, 2}}},
	}
}

func sampleRecord(t *testing.T, id string) models.CapturedRecord {
	t.Helper()
	points, err := models.NewFloat32Tensor([]int64{1, 2}, []float32{0.1, 0.2})
	if err != nil {
		t.Fatalf("build tensor: %v", err)
	}
	mask, err := models.NewFloat32Tensor([]int64{1, 1}, []float32{1})
	if err != nil {
		t.Fatalf("build tensor: %v", err)
	}
	return models.CapturedRecord{
		CorrelationID: id,
		ModelName:     "particlenet_AK4_PT",
		StatusMessage: "Error during inference: shape mismatch",
		Inputs:        map[string]models.Tensor{"pf_points__0": points, "pf_mask__2": mask},
		CapturedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func writeRecord(t *testing.T, dir string, rec models.CapturedRecord) string {
	t.Helper()
	blob, err := record.Encode(rec)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	path := filepath.Join(dir, rec.CorrelationID+record.FileExtension)
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		t.Fatalf("write record: %v", err)
	}
	return path
}

func softmaxResult(t *testing.T) *api.InferResult {
	t.Helper()
	out, err := models.NewFloat32Tensor([]int64{1, 2}, []float32{0.5, 0.5})
	if err != nil {
		t.Fatalf("build tensor: %v", err)
	}
	resp, err := api.ToWireInferResponse(models.InferResponse{
		ID:            "abc-1",
		ModelName:     "particlenet_AK4_PT",
		Outputs:       map[string]models.Tensor{"softmax__0": out},
		StatusMessage: models.StatusNone,
	}, nil)
	if err != nil {
		t.Fatalf("wire response: %v", err)
	}
	return api.NewInferResult(resp)
}

func TestResolveAppendsExtension(t *testing.T) {
	dir := t.TempDir()
	want := writeRecord(t, dir, sampleRecord(t, "abc-1"))

	for _, name := range []string{"abc-1", "abc-1.rpl", " abc-1 "} {
		got, err := Resolve(name, dir)
		if err != nil {
			t.Fatalf("resolve %q: %v", name, err)
		}
		if got != want {
			t.Fatalf("resolve %q: got %s want %s", name, got, want)
		}
	}
}

func TestResolveNotFound(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "sub.rpl"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, name := range []string{"missing", "sub", ""} {
		_, err := Resolve(name, dir)
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("resolve %q: expected ErrNotFound, got %v", name, err)
		}
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	rec := sampleRecord(t, "abc-1")
	path := writeRecord(t, dir, rec)

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.rpl")
	if err := os.WriteFile(path, []byte("not a record"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); !errors.Is(err, record.ErrCorruptRecord) {
		t.Fatalf("expected corrupt record, got %v", err)
	}
	if _, err := Load(filepath.Join(dir, "gone.rpl")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListDumps(t *testing.T) {
	dir := t.TempDir()
	writeRecord(t, dir, sampleRecord(t, "b"))
	writeRecord(t, dir, sampleRecord(t, "a"))
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	dumps, err := ListDumps(dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(dumps) != 2 || dumps[0].Name != "a.rpl" || dumps[1].Name != "b.rpl" {
		t.Fatalf("unexpected listing: %+v", dumps)
	}
	if dumps[0].Size == 0 {
		t.Fatalf("expected non-zero size")
	}
}

func TestListDumpsEmptyAndMissing(t *testing.T) {
	dumps, err := ListDumps(t.TempDir())
	if err != nil || dumps == nil || len(dumps) != 0 {
		t.Fatalf("expected empty listing, got %v %v", dumps, err)
	}
	if _, err := ListDumps(filepath.Join(t.TempDir(), "nope")); !errors.Is(err, ErrDirectoryNotFound) {
		t.Fatalf("expected directory not found, got %v", err)
	}
}

func TestSendUsesCorrelationID(t *testing.T) {
	conn := &infererStub{result: softmaxResult(t)}

	outcome, err := Send(context.Background(), sampleRecord(t, "abc-1"), particleNetSignature(), conn)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if conn.calls != 1 || conn.requestID != "abc-1" || outcome.RequestID != "abc-1" {
		t.Fatalf("unexpected request id: call=%s outcome=%s", conn.requestID, outcome.RequestID)
	}
	if conn.model != "particlenet_AK4_PT" {
		t.Fatalf("unexpected model %q", conn.model)
	}
	if diff := cmp.Diff([]string{"softmax__0"}, conn.outputs); diff != "" {
		t.Fatalf("requested outputs mismatch (-want +got):\n%s", diff)
	}
	if len(conn.inputs) != 2 || conn.inputs[0].Name() != "pf_points__0" || conn.inputs[0].Datatype() != api.TypeFP32 {
		t.Fatalf("unexpected inputs: %+v", conn.inputs)
	}

	want := []OutputSummary{{Name: "softmax__0", Shape: []int64{1, 2}, ElementType: models.Float32}}
	if diff := cmp.Diff(want, outcome.Outputs); diff != "" {
		t.Fatalf("outputs mismatch (-want +got):\n%s", diff)
	}
}

func TestSendGeneratesIDForUnknown(t *testing.T) {
	prev := newRequestID
	newRequestID = func() string { return "generated" }
	t.Cleanup(func() { newRequestID = prev })

	for _, id := range []string{models.UnknownID, ""} {
		conn := &infererStub{result: softmaxResult(t)}
		outcome, err := Send(context.Background(), sampleRecord(t, id), particleNetSignature(), conn)
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		if conn.requestID != "generated" || outcome.RequestID != "generated" {
			t.Fatalf("expected generated id for %q, got %s", id, conn.requestID)
		}
	}
}

func TestSendInputNotInRecord(t *testing.T) {
	rec := sampleRecord(t, "abc-1")
	delete(rec.Inputs, "pf_mask__2")
	conn := &infererStub{}

	_, err := Send(context.Background(), rec, particleNetSignature(), conn)
	if !errors.Is(err, ErrInputNotInRecord) {
		t.Fatalf("expected ErrInputNotInRecord, got %v", err)
	}
	if conn.calls != 0 {
		t.Fatalf("no call expected, got %d", conn.calls)
	}
}

func TestSendInferFailure(t *testing.T) {
	conn := &infererStub{err: status.Error(codes.Internal, "Error during inference: shape mismatch")}

	_, err := Send(context.Background(), sampleRecord(t, "abc-1"), particleNetSignature(), conn)
	if !errors.Is(err, ErrInfer) {
		t.Fatalf("expected ErrInfer, got %v", err)
	}
	var inferErr *InferError
	if !errors.As(err, &inferErr) || inferErr.RequestID != "abc-1" {
		t.Fatalf("expected InferError with request id, got %v", err)
	}
	if status.Code(inferErr.Err) != codes.Internal {
		t.Fatalf("transport error lost: %v", inferErr.Err)
	}
	if conn.calls != 1 {
		t.Fatalf("failures must not be retried, got %d calls", conn.calls)
	}
}
