// Package replay loads captured records and resends them to a live inference server.
package replay

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/miradorstack/mirador-replay/internal/models"
	"github.com/miradorstack/mirador-replay/internal/record"
	"github.com/miradorstack/mirador-replay/internal/utils"
)

var (
	// ErrNotFound signals a dump name that does not resolve to a regular file.
	ErrNotFound = errors.New("dump not found")
	// ErrDirectoryNotFound signals a dump directory that does not exist.
	ErrDirectoryNotFound = errors.New("dump directory not found")
)

// DumpInfo describes one record file in a dump directory.
type DumpInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Resolve maps a dump name or correlation id onto a record file path inside dir.
// The record extension is appended when absent.
func Resolve(nameOrID, dir string) (string, error) {
	name := strings.TrimSpace(nameOrID)
	if name == "" {
		return "", utils.NewAppError("resolve", "dump name is empty", ErrNotFound)
	}
	if !strings.HasSuffix(name, record.FileExtension) {
		name += record.FileExtension
	}
	path := filepath.Join(dir, name)

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", utils.NewPathError("resolve", path, "looked in "+dir, ErrNotFound)
	}
	return path, nil
}

// Load reads and decodes a record file and checks it is usable for replay.
func Load(path string) (models.CapturedRecord, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return models.CapturedRecord{}, utils.NewPathError("load", path, "", ErrNotFound)
		}
		return models.CapturedRecord{}, utils.NewPathError("load", path, "", err)
	}
	rec, err := record.Decode(blob)
	if err != nil {
		return models.CapturedRecord{}, utils.NewPathError("load", path, "", err)
	}
	if err := rec.Validate(); err != nil {
		return models.CapturedRecord{}, utils.NewPathError("load", path, "", fmt.Errorf("%w: %v", record.ErrSchemaMismatch, err))
	}
	return rec, nil
}

// ListDumps returns the record files in dir sorted by name. A directory without
// record files yields an empty slice.
func ListDumps(dir string) ([]DumpInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, utils.NewPathError("list", dir, "", ErrDirectoryNotFound)
		}
		return nil, utils.NewPathError("list", dir, "", err)
	}

	dumps := []DumpInfo{}
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasSuffix(entry.Name(), record.FileExtension) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		dumps = append(dumps, DumpInfo{Name: entry.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	sort.Slice(dumps, func(i, j int) bool { return dumps[i].Name < dumps[j].Name })
	return dumps, nil
}
