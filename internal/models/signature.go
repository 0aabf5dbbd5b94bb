package models

// TensorSpec declares one model input or output. DataType is a wire type tag (e.g. "FP32").
// A dimension of -1 accepts any size.
type TensorSpec struct {
	Name     string  `yaml:"name"`
	DataType string  `yaml:"dataType"`
	Dims     []int64 `yaml:"dims"`
}

// ModelSignature is the ordered input/output declaration of a deployed model.
type ModelSignature struct {
	Name    string       `yaml:"name"`
	Inputs  []TensorSpec `yaml:"inputs"`
	Outputs []TensorSpec `yaml:"outputs"`
}

// InputNames returns declared input names in declaration order.
func (s ModelSignature) InputNames() []string {
	return specNames(s.Inputs)
}

// OutputNames returns declared output names in declaration order.
func (s ModelSignature) OutputNames() []string {
	return specNames(s.Outputs)
}

func specNames(specs []TensorSpec) []string {
	names := make([]string, 0, len(specs))
	for _, spec := range specs {
		names = append(names, spec.Name)
	}
	return names
}

// InferRequest is a server-side inference call after it left the wire format.
type InferRequest struct {
	ID        string
	ModelName string
	Inputs    map[string]Tensor
}

// InferResponse is the outcome of one inference call. StatusMessage is StatusNone on success.
type InferResponse struct {
	ID            string
	ModelName     string
	Outputs       map[string]Tensor
	StatusMessage string
}

// Failed reports whether the call produced an error.
func (r InferResponse) Failed() bool {
	return r.StatusMessage != StatusNone
}
