// Package backend provides a stand-in model executor for the capture server.
//
// Reference does not run a real model graph. It checks every input against the declared
// signature the way a strict runtime would, then emits outputs of the declared shape: a
// uniform softmax for float outputs and zeros for integer outputs. It is enough to drive
// the capture path end to end and to reproduce shape and type failures.
package backend

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/miradorstack/mirador-replay/internal/api"
	"github.com/miradorstack/mirador-replay/internal/models"
)

// Reference is a deterministic, stateless runtime.
type Reference struct{}

// NewReference returns a Reference runtime.
func NewReference() *Reference {
	return &Reference{}
}

// Infer validates inputs and produces outputs for sig.
func (r *Reference) Infer(ctx context.Context, sig models.ModelSignature, inputs map[string]models.Tensor) (map[string]models.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch := int64(-1)
	for _, spec := range sig.Inputs {
		t, ok := inputs[spec.Name]
		if !ok {
			return nil, fmt.Errorf("input %q not provided", spec.Name)
		}
		if spec.DataType != "" {
			if got := api.ToWireType(t.ElementType); got != spec.DataType || t.ElementType.Size() == 0 {
				return nil, fmt.Errorf("dtype mismatch: input %q expected %s, got %s", spec.Name, spec.DataType, t.ElementType)
			}
		}
		if err := matchDims(spec.Dims, t.Shape); err != nil {
			return nil, fmt.Errorf("shape mismatch: input %q %v", spec.Name, err)
		}
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("input %q: %w", spec.Name, err)
		}
		if len(spec.Dims) > 0 && spec.Dims[0] == -1 && len(t.Shape) > 0 {
			if batch >= 0 && t.Shape[0] != batch {
				return nil, fmt.Errorf("shape mismatch: input %q batch %d differs from %d", spec.Name, t.Shape[0], batch)
			}
			batch = t.Shape[0]
		}
	}
	if batch < 0 {
		batch = 1
	}

	outputs := make(map[string]models.Tensor, len(sig.Outputs))
	for _, spec := range sig.Outputs {
		out, err := fill(spec, batch)
		if err != nil {
			return nil, err
		}
		outputs[spec.Name] = out
	}
	return outputs, nil
}

func matchDims(declared, got []int64) error {
	if len(declared) == 0 {
		return nil
	}
	if len(declared) != len(got) {
		return fmt.Errorf("expected rank %d %v, got %v", len(declared), declared, got)
	}
	for i, d := range declared {
		if d >= 0 && got[i] != d {
			return fmt.Errorf("expected %v, got %v", declared, got)
		}
	}
	return nil
}

func fill(spec models.TensorSpec, batch int64) (models.Tensor, error) {
	et, err := api.ToElementType(spec.DataType)
	if err != nil {
		return models.Tensor{}, fmt.Errorf("output %q: %w", spec.Name, err)
	}
	shape := make([]int64, len(spec.Dims))
	for i, d := range spec.Dims {
		if d < 0 {
			d = batch
		}
		shape[i] = d
	}

	t := models.Tensor{ElementType: et, Shape: shape}
	n := t.NumElements()
	if n < 0 {
		return models.Tensor{}, fmt.Errorf("output %q: shape %v is too large", spec.Name, shape)
	}
	classes := int64(1)
	if len(shape) > 0 && shape[len(shape)-1] > 0 {
		classes = shape[len(shape)-1]
	}
	p := 1 / float64(classes)

	switch et {
	case models.Float32:
		t.Data = make([]byte, 0, n*4)
		for i := int64(0); i < n; i++ {
			t.Data = binary.LittleEndian.AppendUint32(t.Data, math.Float32bits(float32(p)))
		}
	case models.Float64:
		t.Data = make([]byte, 0, n*8)
		for i := int64(0); i < n; i++ {
			t.Data = binary.LittleEndian.AppendUint64(t.Data, math.Float64bits(p))
		}
	default:
		t.Data = make([]byte, n*int64(et.Size()))
	}
	return t, nil
}
