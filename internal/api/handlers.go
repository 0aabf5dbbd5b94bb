package api

import (
	"fmt"
	"sort"

	"github.com/miradorstack/mirador-replay/internal/models"
)

// FromWireTensor maps a wire tensor into the domain representation.
func FromWireTensor(t InferTensor) (models.Tensor, error) {
	et, err := ToElementType(t.Datatype)
	if err != nil {
		return models.Tensor{}, fmt.Errorf("tensor %q: %w", t.Name, err)
	}
	tensor := models.Tensor{
		ElementType: et,
		Shape:       append([]int64(nil), t.Shape...),
		Data:        t.Contents,
	}
	if err := tensor.Validate(); err != nil {
		return models.Tensor{}, fmt.Errorf("tensor %q: %w", t.Name, err)
	}
	return tensor, nil
}

// ToWireTensor converts a domain tensor into its wire form under the given name.
func ToWireTensor(name string, t models.Tensor) InferTensor {
	return InferTensor{
		Name:     name,
		Datatype: ToWireType(t.ElementType),
		Shape:    append([]int64(nil), t.Shape...),
		Contents: t.Data,
	}
}

// FromWireInferRequest maps the gRPC request into a domain InferRequest.
func FromWireInferRequest(req *ModelInferRequest) (models.InferRequest, error) {
	if req == nil {
		return models.InferRequest{}, fmt.Errorf("request is nil")
	}
	if req.ModelName == "" {
		return models.InferRequest{}, fmt.Errorf("model_name is required")
	}

	inputs := make(map[string]models.Tensor, len(req.Inputs))
	for _, in := range req.Inputs {
		if in.Name == "" {
			return models.InferRequest{}, fmt.Errorf("input with empty name")
		}
		if _, dup := inputs[in.Name]; dup {
			return models.InferRequest{}, fmt.Errorf("input %q given more than once", in.Name)
		}
		tensor, err := FromWireTensor(in)
		if err != nil {
			return models.InferRequest{}, err
		}
		inputs[in.Name] = tensor
	}

	return models.InferRequest{
		ID:        req.ID,
		ModelName: req.ModelName,
		Inputs:    inputs,
	}, nil
}

// ToWireInferResponse converts a successful domain response. Only requested outputs are
// returned; an empty request list returns every output in name order.
func ToWireInferResponse(resp models.InferResponse, requested []RequestedOutput) (*ModelInferResponse, error) {
	out := &ModelInferResponse{ModelName: resp.ModelName, ID: resp.ID}

	names := make([]string, 0, len(requested))
	for _, r := range requested {
		names = append(names, r.Name)
	}
	if len(names) == 0 {
		for name := range resp.Outputs {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	for _, name := range names {
		tensor, ok := resp.Outputs[name]
		if !ok {
			return nil, fmt.Errorf("requested output %q is not produced by model %q", name, resp.ModelName)
		}
		out.Outputs = append(out.Outputs, ToWireTensor(name, tensor))
	}
	return out, nil
}

// ToWireModelConfig converts a signature into the model config response.
func ToWireModelConfig(sig models.ModelSignature) *ModelConfigResponse {
	return &ModelConfigResponse{
		Name:    sig.Name,
		Inputs:  toWireSpecs(sig.Inputs),
		Outputs: toWireSpecs(sig.Outputs),
	}
}

// FromWireModelConfig converts a model config response back into a signature.
func FromWireModelConfig(resp *ModelConfigResponse) models.ModelSignature {
	if resp == nil {
		return models.ModelSignature{}
	}
	return models.ModelSignature{
		Name:    resp.Name,
		Inputs:  fromWireSpecs(resp.Inputs),
		Outputs: fromWireSpecs(resp.Outputs),
	}
}

func toWireSpecs(specs []models.TensorSpec) []TensorMetadata {
	out := make([]TensorMetadata, 0, len(specs))
	for _, s := range specs {
		out = append(out, TensorMetadata{Name: s.Name, Datatype: s.DataType, Shape: append([]int64(nil), s.Dims...)})
	}
	return out
}

func fromWireSpecs(specs []TensorMetadata) []models.TensorSpec {
	out := make([]models.TensorSpec, 0, len(specs))
	for _, s := range specs {
		out = append(out, models.TensorSpec{Name: s.Name, DataType: s.Datatype, Dims: append([]int64(nil), s.Shape...)})
	}
	return out
}
