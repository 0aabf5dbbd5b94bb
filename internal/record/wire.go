package record

import (
	"bytes"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/miradorstack/mirador-replay/internal/models"
)

// CapturedRecord fields.
const (
	fieldCorrelationID protowire.Number = 1
	fieldModelName     protowire.Number = 2
	fieldStatusMessage protowire.Number = 3
	fieldInput         protowire.Number = 4
	fieldCapturedAt    protowire.Number = 5
)

// NamedTensor fields.
const (
	fieldTensorName        protowire.Number = 1
	fieldTensorElementType protowire.Number = 2
	fieldTensorShape       protowire.Number = 3
	fieldTensorData        protowire.Number = 4
)

func marshalRecord(rec models.CapturedRecord) ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, fieldCorrelationID, protowire.BytesType)
	b = protowire.AppendString(b, rec.CorrelationID)
	b = protowire.AppendTag(b, fieldModelName, protowire.BytesType)
	b = protowire.AppendString(b, rec.ModelName)
	b = protowire.AppendTag(b, fieldStatusMessage, protowire.BytesType)
	b = protowire.AppendString(b, rec.StatusMessage)

	for _, name := range rec.InputNames() {
		b = protowire.AppendTag(b, fieldInput, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalTensor(name, rec.Inputs[name]))
	}

	if !rec.CapturedAt.IsZero() {
		ts, err := proto.Marshal(timestamppb.New(rec.CapturedAt))
		if err != nil {
			return nil, fmt.Errorf("encode captured_at: %w", err)
		}
		b = protowire.AppendTag(b, fieldCapturedAt, protowire.BytesType)
		b = protowire.AppendBytes(b, ts)
	}
	return b, nil
}

func marshalTensor(name string, t models.Tensor) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldTensorName, protowire.BytesType)
	b = protowire.AppendString(b, name)
	b = protowire.AppendTag(b, fieldTensorElementType, protowire.BytesType)
	b = protowire.AppendString(b, string(t.ElementType))
	if len(t.Shape) > 0 {
		var packed []byte
		for _, d := range t.Shape {
			packed = protowire.AppendVarint(packed, uint64(d))
		}
		b = protowire.AppendTag(b, fieldTensorShape, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	if len(t.Data) > 0 {
		b = protowire.AppendTag(b, fieldTensorData, protowire.BytesType)
		b = protowire.AppendBytes(b, t.Data)
	}
	return b
}

func unmarshalRecord(b []byte) (models.CapturedRecord, error) {
	rec := models.CapturedRecord{Inputs: map[string]models.Tensor{}}
	var hasID, hasModel, hasStatus bool

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return models.CapturedRecord{}, corrupt(protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldCorrelationID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return models.CapturedRecord{}, corrupt(protowire.ParseError(n))
			}
			rec.CorrelationID, hasID = v, true
			b = b[n:]
		case num == fieldModelName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return models.CapturedRecord{}, corrupt(protowire.ParseError(n))
			}
			rec.ModelName, hasModel = v, true
			b = b[n:]
		case num == fieldStatusMessage && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return models.CapturedRecord{}, corrupt(protowire.ParseError(n))
			}
			rec.StatusMessage, hasStatus = v, true
			b = b[n:]
		case num == fieldInput && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return models.CapturedRecord{}, corrupt(protowire.ParseError(n))
			}
			name, tensor, err := unmarshalTensor(v)
			if err != nil {
				return models.CapturedRecord{}, err
			}
			if _, dup := rec.Inputs[name]; dup {
				return models.CapturedRecord{}, fmt.Errorf("%w: input %q appears more than once", ErrSchemaMismatch, name)
			}
			rec.Inputs[name] = tensor
			b = b[n:]
		case num == fieldCapturedAt && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return models.CapturedRecord{}, corrupt(protowire.ParseError(n))
			}
			at, err := unmarshalTime(v)
			if err != nil {
				return models.CapturedRecord{}, err
			}
			rec.CapturedAt = at
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return models.CapturedRecord{}, corrupt(protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	switch {
	case !hasID:
		return models.CapturedRecord{}, fmt.Errorf("%w: correlation_id is absent", ErrSchemaMismatch)
	case !hasModel:
		return models.CapturedRecord{}, fmt.Errorf("%w: model_name is absent", ErrSchemaMismatch)
	case !hasStatus:
		return models.CapturedRecord{}, fmt.Errorf("%w: status_message is absent", ErrSchemaMismatch)
	}
	return rec, nil
}

func unmarshalTensor(b []byte) (string, models.Tensor, error) {
	var (
		name             string
		tensor           models.Tensor
		hasName, hasType bool
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", models.Tensor{}, corrupt(protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldTensorName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return "", models.Tensor{}, corrupt(protowire.ParseError(n))
			}
			name, hasName = v, true
			b = b[n:]
		case num == fieldTensorElementType && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return "", models.Tensor{}, corrupt(protowire.ParseError(n))
			}
			tensor.ElementType, hasType = models.ElementType(v), true
			b = b[n:]
		case num == fieldTensorShape && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return "", models.Tensor{}, corrupt(protowire.ParseError(n))
			}
			for len(packed) > 0 {
				d, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return "", models.Tensor{}, corrupt(protowire.ParseError(m))
				}
				tensor.Shape = append(tensor.Shape, int64(d))
				packed = packed[m:]
			}
			b = b[n:]
		case num == fieldTensorShape && typ == protowire.VarintType:
			d, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return "", models.Tensor{}, corrupt(protowire.ParseError(n))
			}
			tensor.Shape = append(tensor.Shape, int64(d))
			b = b[n:]
		case num == fieldTensorData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return "", models.Tensor{}, corrupt(protowire.ParseError(n))
			}
			tensor.Data = bytes.Clone(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return "", models.Tensor{}, corrupt(protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if !hasName || name == "" {
		return "", models.Tensor{}, fmt.Errorf("%w: input without name", ErrSchemaMismatch)
	}
	if !hasType {
		return "", models.Tensor{}, fmt.Errorf("%w: input %q has no element type", ErrSchemaMismatch, name)
	}
	return name, tensor, nil
}

func unmarshalTime(b []byte) (time.Time, error) {
	var ts timestamppb.Timestamp
	if err := proto.Unmarshal(b, &ts); err != nil {
		return time.Time{}, corrupt(err)
	}
	if err := ts.CheckValid(); err != nil {
		return time.Time{}, corrupt(err)
	}
	return ts.AsTime(), nil
}

func corrupt(err error) error {
	return fmt.Errorf("%w: %v", ErrCorruptRecord, err)
}
