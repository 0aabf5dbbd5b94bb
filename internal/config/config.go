package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-replay/internal/models"
	"github.com/miradorstack/mirador-replay/internal/record"
)

// Config captures the settings for the capture server and the replay tool.
type Config struct {
	Server  ServerConfig            `yaml:"server"`
	Capture CaptureConfig           `yaml:"capture"`
	Models  []models.ModelSignature `yaml:"models"`
	Replay  ReplayConfig            `yaml:"replay"`
	Logging LoggingConfig           `yaml:"logging"`
}

// ServerConfig controls gRPC listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
	MaxMessageBytes int           `yaml:"maxMessageBytes"`
}

// CaptureConfig controls when inference inputs are dumped and where.
type CaptureConfig struct {
	Policy          string        `yaml:"policy"`
	DumpDir         string        `yaml:"dumpDir"`
	Compression     string        `yaml:"compression"`
	BreakerFailures uint32        `yaml:"breakerFailures"`
	BreakerCooldown time.Duration `yaml:"breakerCooldown"`
}

// ReplayConfig configures the operator replay tool.
type ReplayConfig struct {
	ServerAddress  string        `yaml:"serverAddress"`
	DumpDir        string        `yaml:"dumpDir"`
	DialTimeout    time.Duration `yaml:"dialTimeout"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`

	// MaxMessageBytes bounds client messages; keep it in line with server.maxMessageBytes.
	MaxMessageBytes int `yaml:"maxMessageBytes"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_REPLAY_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Signature returns the configured signature of the named model.
func (c *Config) Signature(name string) (models.ModelSignature, bool) {
	for _, sig := range c.Models {
		if sig.Name == name {
			return sig, true
		}
	}
	return models.ModelSignature{}, false
}

func (c *Config) validate() error {
	seen := make(map[string]struct{}, len(c.Models))
	for i, sig := range c.Models {
		if sig.Name == "" {
			return fmt.Errorf("models[%d]: name is required", i)
		}
		if _, dup := seen[sig.Name]; dup {
			return fmt.Errorf("models[%d]: duplicate model %q", i, sig.Name)
		}
		seen[sig.Name] = struct{}{}
		if len(sig.Outputs) == 0 {
			return fmt.Errorf("model %q: at least one output is required", sig.Name)
		}
		for _, spec := range append(append([]models.TensorSpec(nil), sig.Inputs...), sig.Outputs...) {
			if spec.Name == "" {
				return fmt.Errorf("model %q: tensor with empty name", sig.Name)
			}
		}
	}
	if _, err := record.ParseCompression(c.Capture.Compression); err != nil {
		return fmt.Errorf("capture.compression: %w", err)
	}
	if c.Replay.MaxMessageBytes < 0 {
		return fmt.Errorf("replay.maxMessageBytes must not be negative")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8001",
			MetricsAddress:  ":8002",
			GracefulTimeout: 10 * time.Second,
			MaxMessageBytes: 64 << 20,
		},
		Capture: CaptureConfig{
			Policy:          "on_failure",
			DumpDir:         "/dumps",
			Compression:     "zstd",
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		Replay: ReplayConfig{
			ServerAddress:  "localhost:8001",
			DumpDir:        "replay_dumps",
			DialTimeout:     5 * time.Second,
			RequestTimeout:  30 * time.Second,
			MaxMessageBytes: 64 << 20,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_REPLAY_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MIRADOR_REPLAY_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_REPLAY_MAX_MESSAGE_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MaxMessageBytes = n
		}
	}
	if v := os.Getenv("MIRADOR_REPLAY_CAPTURE_POLICY"); v != "" {
		cfg.Capture.Policy = v
	}
	if v := os.Getenv("MIRADOR_REPLAY_CAPTURE_DIR"); v != "" {
		cfg.Capture.DumpDir = v
	}
	if v := os.Getenv("MIRADOR_REPLAY_CAPTURE_COMPRESSION"); v != "" {
		cfg.Capture.Compression = v
	}
	if v := os.Getenv("MIRADOR_REPLAY_CAPTURE_BREAKER_FAILURES"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.Capture.BreakerFailures = uint32(n)
		}
	}
	if v := os.Getenv("MIRADOR_REPLAY_CAPTURE_BREAKER_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Capture.BreakerCooldown = d
		}
	}
	if v := os.Getenv("MIRADOR_REPLAY_TARGET"); v != "" {
		cfg.Replay.ServerAddress = v
	}
	if v := os.Getenv("MIRADOR_REPLAY_DUMP_DIR"); v != "" {
		cfg.Replay.DumpDir = v
	}
	if v := os.Getenv("MIRADOR_REPLAY_DIAL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Replay.DialTimeout = d
		}
	}
	if v := os.Getenv("MIRADOR_REPLAY_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Replay.RequestTimeout = d
		}
	}
	if v := os.Getenv("MIRADOR_REPLAY_CLIENT_MAX_MESSAGE_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Replay.MaxMessageBytes = n
		}
	}
	if v := os.Getenv("MIRADOR_REPLAY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_REPLAY_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
}
