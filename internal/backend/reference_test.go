package backend

import (
	"context"
	"strings"
	"testing"

	"github.com/miradorstack/mirador-replay/internal/models"
)

func particleSignature() models.ModelSignature {
	return models.ModelSignature{
		Name: "particlenet_AK4_PT",
		Inputs: []models.TensorSpec{
			{Name: "pf_points__0", DataType: "FP32", Dims: []int64{-1, 2, 3}},
			{Name: "pf_mask__2", DataType: "FP32", Dims: []int64{-1, 1, 3}},
		},
		Outputs: []models.TensorSpec{
			{Name: "softmax__0", DataType: "FP32", Dims: []int64{-1, 4}},
			{Name: "label", DataType: "INT64", Dims: []int64{-1}},
		},
	}
}

func zeros(t *testing.T, shape ...int64) models.Tensor {
	t.Helper()
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	tensor, err := models.NewFloat32Tensor(shape, make([]float32, n))
	if err != nil {
		t.Fatalf("build tensor: %v", err)
	}
	return tensor
}

func TestReferenceInfer(t *testing.T) {
	inputs := map[string]models.Tensor{
		"pf_points__0": zeros(t, 5, 2, 3),
		"pf_mask__2":   zeros(t, 5, 1, 3),
	}
	out, err := NewReference().Infer(context.Background(), particleSignature(), inputs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	softmax := out["softmax__0"]
	if len(softmax.Shape) != 2 || softmax.Shape[0] != 5 || softmax.Shape[1] != 4 {
		t.Fatalf("unexpected output shape: %v", softmax.Shape)
	}
	values, err := softmax.Float32s()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if values[0] != 0.25 {
		t.Fatalf("expected uniform softmax 0.25, got %v", values[0])
	}

	label := out["label"]
	if label.ElementType != models.Int64 || len(label.Data) != 5*8 {
		t.Fatalf("unexpected label tensor: %+v", label)
	}
}

func TestReferenceShapeMismatch(t *testing.T) {
	inputs := map[string]models.Tensor{
		"pf_points__0": zeros(t, 5, 3, 3),
		"pf_mask__2":   zeros(t, 5, 1, 3),
	}
	_, err := NewReference().Infer(context.Background(), particleSignature(), inputs)
	if err == nil || !strings.HasPrefix(err.Error(), "shape mismatch") {
		t.Fatalf("expected shape mismatch, got %v", err)
	}

	inputs["pf_points__0"] = zeros(t, 4, 2, 3)
	if _, err := NewReference().Infer(context.Background(), particleSignature(), inputs); err == nil {
		t.Fatalf("expected batch mismatch error")
	}
}

func TestReferenceDtypeMismatch(t *testing.T) {
	ids, err := models.NewInt64Tensor([]int64{1, 2, 3}, make([]int64, 6))
	if err != nil {
		t.Fatalf("build tensor: %v", err)
	}
	inputs := map[string]models.Tensor{
		"pf_points__0": ids,
		"pf_mask__2":   zeros(t, 1, 1, 3),
	}
	_, err = NewReference().Infer(context.Background(), particleSignature(), inputs)
	if err == nil || !strings.Contains(err.Error(), "dtype mismatch") {
		t.Fatalf("expected dtype mismatch, got %v", err)
	}
}

func TestReferenceCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewReference().Infer(ctx, particleSignature(), nil); err == nil {
		t.Fatalf("expected context error")
	}
}
