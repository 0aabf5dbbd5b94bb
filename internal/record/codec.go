// Package record encodes captured inference records into self-describing blobs.
//
// A blob is a fixed header followed by a payload:
//
//	magic "MRPL" | version (1 byte) | compression (1 byte) | BLAKE3-256 of the stored payload | payload
//
// The payload is protobuf wire format. Field numbers are part of the on-disk contract and
// must not be reused.
package record

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/miradorstack/mirador-replay/internal/models"
)

// FileExtension is appended to the correlation id to name a record file.
const FileExtension = ".rpl"

// Version is the schema version written by Encode.
const Version byte = 1

var magic = []byte("MRPL")

const (
	digestSize = 32
	headerSize = 4 + 1 + 1 + digestSize
)

var (
	// ErrCorruptRecord signals a blob that cannot be parsed.
	ErrCorruptRecord = errors.New("corrupt record")
	// ErrSchemaMismatch signals a parsed blob missing required fields or of an unknown version.
	ErrSchemaMismatch = errors.New("record schema mismatch")
)

// Compression selects how the payload is stored.
type Compression byte

const (
	CompressionNone Compression = 0
	CompressionZstd Compression = 1
)

// ParseCompression maps a config value onto a Compression, ignoring case. Empty means none.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return CompressionNone, fmt.Errorf("unknown compression %q", s)
	}
}

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", byte(c))
	}
}

type options struct {
	compression Compression
}

// Option adjusts Encode.
type Option func(*options)

// WithCompression selects payload compression.
func WithCompression(c Compression) Option {
	return func(o *options) { o.compression = c }
}

// zstd encoder and decoder are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("record: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("record: zstd decoder initialization failed: " + err.Error())
	}
}

// Encode serialises rec. Element buffers are stored verbatim.
func Encode(rec models.CapturedRecord, opts ...Option) ([]byte, error) {
	o := options{compression: CompressionNone}
	for _, opt := range opts {
		opt(&o)
	}

	payload, err := marshalRecord(rec)
	if err != nil {
		return nil, err
	}

	switch o.compression {
	case CompressionNone:
	case CompressionZstd:
		payload = zstdEncoder.EncodeAll(payload, nil)
	default:
		return nil, fmt.Errorf("encode record: unknown compression %d", o.compression)
	}

	digest := blake3.Sum256(payload)
	blob := make([]byte, 0, headerSize+len(payload))
	blob = append(blob, magic...)
	blob = append(blob, Version, byte(o.compression))
	blob = append(blob, digest[:]...)
	blob = append(blob, payload...)
	return blob, nil
}

// Decode parses a blob produced by Encode.
func Decode(blob []byte) (models.CapturedRecord, error) {
	if len(blob) < headerSize || !bytes.Equal(blob[:4], magic) {
		return models.CapturedRecord{}, fmt.Errorf("%w: missing header", ErrCorruptRecord)
	}
	version := blob[4]
	if version != Version {
		return models.CapturedRecord{}, fmt.Errorf("%w: unsupported version %d", ErrSchemaMismatch, version)
	}
	compression := Compression(blob[5])
	payload := blob[headerSize:]

	digest := blake3.Sum256(payload)
	if !bytes.Equal(digest[:], blob[6:headerSize]) {
		return models.CapturedRecord{}, fmt.Errorf("%w: digest mismatch", ErrCorruptRecord)
	}

	switch compression {
	case CompressionNone:
	case CompressionZstd:
		raw, err := zstdDecoder.DecodeAll(payload, nil)
		if err != nil {
			return models.CapturedRecord{}, fmt.Errorf("%w: zstd: %v", ErrCorruptRecord, err)
		}
		payload = raw
	default:
		return models.CapturedRecord{}, fmt.Errorf("%w: unknown compression %d", ErrCorruptRecord, compression)
	}

	return unmarshalRecord(payload)
}
