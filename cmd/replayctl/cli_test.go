package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/miradorstack/mirador-replay/internal/api"
	"github.com/miradorstack/mirador-replay/internal/config"
	"github.com/miradorstack/mirador-replay/internal/models"
	"github.com/miradorstack/mirador-replay/internal/record"
	"github.com/miradorstack/mirador-replay/internal/replay"
	"github.com/miradorstack/mirador-replay/internal/shell"
)

type fakeConn struct {
	requestID string
	closed    bool
}

func (f *fakeConn) Address() string                            { return "fake:8001" }
func (f *fakeConn) Close() error                               { f.closed = true; return nil }
func (f *fakeConn) IsLive(ctx context.Context) (bool, error)  { return true, nil }
func (f *fakeConn) IsReady(ctx context.Context) (bool, error) { return true, nil }

func (f *fakeConn) ModelSignature(ctx context.Context, name string) (models.ModelSignature, error) {
	return models.ModelSignature{
		Name:    name,
		Inputs:  []models.TensorSpec{{Name: "ids", DataType: api.TypeINT64, Dims: []int64{-1}}},
		Outputs: []models.TensorSpec{{Name: "score", DataType: api.TypeINT64, Dims: []int64{-1}}},
	}, nil
}

func (f *fakeConn) Infer(ctx context.Context, modelName string, inputs []*api.InferInput, outputs []string, requestID string) (*api.InferResult, error) {
	f.requestID = requestID
	score, err := models.NewInt64Tensor([]int64{1}, []int64{7})
	if err != nil {
		return nil, err
	}
	return api.NewInferResult(&api.ModelInferResponse{
		ModelName: modelName,
		ID:        requestID,
		Outputs:   []api.InferTensor{api.ToWireTensor("score", score)},
	}), nil
}

func seedDump(t *testing.T, dir string) {
	t.Helper()
	ids, err := models.NewInt64Tensor([]int64{1}, []int64{42})
	if err != nil {
		t.Fatalf("build tensor: %v", err)
	}
	blob, err := record.Encode(models.CapturedRecord{
		CorrelationID: "req-9",
		ModelName:     "ranker",
		StatusMessage: models.StatusNone,
		Inputs:        map[string]models.Tensor{"ids": ids},
	}, record.WithCompression(record.CompressionNone))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "req-9"+record.FileExtension), blob, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func execute(t *testing.T, conn *fakeConn, args ...string) (string, error) {
	t.Helper()
	t.Setenv("MIRADOR_REPLAY_CONFIG", "")

	root := newRootCmd(func(ctx context.Context, addr string) (shell.Conn, error) { return conn, nil })
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(out)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestListCommand(t *testing.T) {
	dir := t.TempDir()
	seedDump(t, dir)

	out, err := execute(t, &fakeConn{}, "list", "--dump-dir", dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.HasPrefix(out, "req-9.rpl\t") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestListMissingDirectory(t *testing.T) {
	_, err := execute(t, &fakeConn{}, "list", "--dump-dir", filepath.Join(t.TempDir(), "gone"))
	if !errors.Is(err, replay.ErrDirectoryNotFound) {
		t.Fatalf("expected directory not found, got %v", err)
	}
}

func TestShowCommand(t *testing.T) {
	dir := t.TempDir()
	seedDump(t, dir)

	out, err := execute(t, &fakeConn{}, "show", "req-9", "-d", dir)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	for _, want := range []string{"id:       req-9", "model:    ranker", "status:   none", "ids INT64 [1]"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestReplayCommand(t *testing.T) {
	dir := t.TempDir()
	seedDump(t, dir)
	conn := &fakeConn{}

	out, err := execute(t, conn, "replay", "req-9", "-d", dir, "-s", "fake:8001")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if conn.requestID != "req-9" || !conn.closed {
		t.Fatalf("unexpected connection state: %+v", conn)
	}
	if !strings.Contains(out, "output:     score INT64 [1]") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestReplayCommandNotFound(t *testing.T) {
	_, err := execute(t, &fakeConn{}, "replay", "nope", "-d", t.TempDir())
	if !errors.Is(err, replay.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestShellReadsUntilEOF(t *testing.T) {
	dir := t.TempDir()
	seedDump(t, dir)
	conn := &fakeConn{}

	out, err := execute(t, conn, "shell", "-d", dir)
	if err != nil {
		t.Fatalf("shell: %v", err)
	}
	if !strings.Contains(out, "connected to") || !conn.closed {
		t.Fatalf("expected connect and close, got %q", out)
	}
}

func TestClientOptionsFollowConfig(t *testing.T) {
	if got := clientOptions(config.ReplayConfig{MaxMessageBytes: 64 << 20}); len(got) != 1 {
		t.Fatalf("expected a message size option, got %d", len(got))
	}
	if got := clientOptions(config.ReplayConfig{}); len(got) != 0 {
		t.Fatalf("expected no options without a limit, got %d", len(got))
	}
}
