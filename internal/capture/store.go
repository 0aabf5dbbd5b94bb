package capture

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sony/gobreaker"

	"github.com/miradorstack/mirador-replay/internal/models"
	"github.com/miradorstack/mirador-replay/internal/record"
)

// Store persists captured records.
type Store interface {
	Write(rec models.CapturedRecord) (string, int, error)
}

// DumpStore writes one file per record under a flat directory.
type DumpStore struct {
	dir         string
	compression record.Compression
	breaker     *gobreaker.CircuitBreaker
}

// DumpStoreConfig configures a DumpStore.
type DumpStoreConfig struct {
	Dir         string
	Compression record.Compression
	// BreakerFailures consecutive write failures open the breaker; zero disables it.
	BreakerFailures uint32
	BreakerCooldown time.Duration
	// OnBreakerChange is notified on breaker state transitions.
	OnBreakerChange func(from, to string)
}

// NewDumpStore builds a DumpStore. The directory is created on first write if missing.
func NewDumpStore(cfg DumpStoreConfig) *DumpStore {
	s := &DumpStore{dir: cfg.Dir, compression: cfg.Compression}
	if cfg.BreakerFailures > 0 {
		threshold := cfg.BreakerFailures
		s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "capture-store",
			MaxRequests: 1,
			Timeout:     cfg.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(_ string, from, to gobreaker.State) {
				if cfg.OnBreakerChange != nil {
					cfg.OnBreakerChange(from.String(), to.String())
				}
			},
		})
	}
	return s
}

// Dir returns the dump directory.
func (s *DumpStore) Dir() string {
	return s.dir
}

// Path returns the file path used for a correlation id.
func (s *DumpStore) Path(correlationID string) string {
	return filepath.Join(s.dir, correlationID+record.FileExtension)
}

// Write encodes rec and atomically replaces <dir>/<id>.rpl. It returns the path and
// the number of bytes written. Concurrent writes for the same id are last-writer-wins.
func (s *DumpStore) Write(rec models.CapturedRecord) (string, int, error) {
	if !models.IsSafeID(rec.CorrelationID) {
		return "", 0, fmt.Errorf("correlation id %q is not filesystem-safe", rec.CorrelationID)
	}
	blob, err := record.Encode(rec, record.WithCompression(s.compression))
	if err != nil {
		return "", 0, err
	}

	path := s.Path(rec.CorrelationID)
	if s.breaker == nil {
		return path, len(blob), s.writeFile(path, blob)
	}
	_, err = s.breaker.Execute(func() (interface{}, error) {
		return nil, s.writeFile(path, blob)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return path, 0, fmt.Errorf("capture writes suspended after repeated failures: %w", err)
	}
	return path, len(blob), err
}

func (s *DumpStore) writeFile(path string, blob []byte) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create dump dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".capture-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	return nil
}
