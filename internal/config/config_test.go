package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/miradorstack/mirador-replay/internal/record"
)

const sampleConfig = `
server:
  address: ":9001"
capture:
  policy: always
  dumpDir: /tmp/dumps
  compression: none
models:
  - name: particlenet_AK4_PT
    inputs:
      - name: pf_points__0
        dataType: FP32
        dims: [-1, 2, 100]
    outputs:
      - name: softmax__0
        dataType: FP32
        dims: [-1, 5]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MIRADOR_REPLAY_CONFIG", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Capture.Policy != "on_failure" || cfg.Server.Address != ":8001" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Replay.DialTimeout != 5*time.Second || cfg.Replay.MaxMessageBytes != 64<<20 {
		t.Fatalf("unexpected dial timeout: %v", cfg.Replay.DialTimeout)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	t.Setenv("MIRADOR_REPLAY_CAPTURE_DIR", "/var/dumps")
	t.Setenv("MIRADOR_REPLAY_REQUEST_TIMEOUT", "3s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Address != ":9001" || cfg.Capture.Policy != "always" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Capture.DumpDir != "/var/dumps" {
		t.Fatalf("env override not applied: %s", cfg.Capture.DumpDir)
	}
	if cfg.Replay.RequestTimeout != 3*time.Second {
		t.Fatalf("unexpected request timeout: %v", cfg.Replay.RequestTimeout)
	}

	sig, ok := cfg.Signature("particlenet_AK4_PT")
	if !ok {
		t.Fatalf("expected model signature")
	}
	if len(sig.Inputs) != 1 || sig.Inputs[0].Dims[0] != -1 || sig.Outputs[0].Name != "softmax__0" {
		t.Fatalf("unexpected signature: %+v", sig)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"duplicate model": "models:\n  - name: a\n    outputs: [{name: o}]\n  - name: a\n    outputs: [{name: o}]\n",
		"no outputs":      "models:\n  - name: a\n",
		"compression":     "capture:\n  compression: lz77\n",
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadNormalisesCompression(t *testing.T) {
	t.Setenv("MIRADOR_REPLAY_CONFIG", "")
	t.Setenv("MIRADOR_REPLAY_CAPTURE_COMPRESSION", "ZSTD")
	t.Setenv("MIRADOR_REPLAY_CLIENT_MAX_MESSAGE_BYTES", "1048576")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c, err := record.ParseCompression(cfg.Capture.Compression); err != nil || c != record.CompressionZstd {
		t.Fatalf("accepted compression %q must parse: %v %v", cfg.Capture.Compression, c, err)
	}
	if cfg.Replay.MaxMessageBytes != 1<<20 {
		t.Fatalf("unexpected client message limit: %d", cfg.Replay.MaxMessageBytes)
	}
}
