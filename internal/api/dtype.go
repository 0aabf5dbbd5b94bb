package api

import (
	"errors"
	"fmt"

	"github.com/miradorstack/mirador-replay/internal/models"
)

// Wire type tags of the inference protocol.
const (
	TypeFP32   = "FP32"
	TypeFP64   = "FP64"
	TypeINT8   = "INT8"
	TypeUINT8  = "UINT8"
	TypeINT32  = "INT32"
	TypeUINT32 = "UINT32"
	TypeINT64  = "INT64"
	TypeUINT64 = "UINT64"
)

// DefaultWireType is returned by ToWireType for element types outside the supported set.
const DefaultWireType = TypeFP32

// ErrUnsupportedType signals a wire tag with no local element type.
var ErrUnsupportedType = errors.New("unsupported type")

// ToWireType maps a local element type to its wire tag. It never fails: unrecognised
// types map to DefaultWireType.
func ToWireType(et models.ElementType) string {
	switch et {
	case models.Float32:
		return TypeFP32
	case models.Float64:
		return TypeFP64
	case models.Int8:
		return TypeINT8
	case models.Uint8:
		return TypeUINT8
	case models.Int32:
		return TypeINT32
	case models.Uint32:
		return TypeUINT32
	case models.Int64:
		return TypeINT64
	case models.Uint64:
		return TypeUINT64
	default:
		return DefaultWireType
	}
}

// ToElementType maps a wire tag to its local element type.
func ToElementType(tag string) (models.ElementType, error) {
	switch tag {
	case TypeFP32:
		return models.Float32, nil
	case TypeFP64:
		return models.Float64, nil
	case TypeINT8:
		return models.Int8, nil
	case TypeUINT8:
		return models.Uint8, nil
	case TypeINT32:
		return models.Int32, nil
	case TypeUINT32:
		return models.Uint32, nil
	case TypeINT64:
		return models.Int64, nil
	case TypeUINT64:
		return models.Uint64, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, tag)
	}
}

// WireTypes lists the supported wire tags.
func WireTypes() []string {
	return []string{TypeFP32, TypeFP64, TypeINT8, TypeUINT8, TypeINT32, TypeUINT32, TypeINT64, TypeUINT64}
}
