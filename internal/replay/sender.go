package replay

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-replay/internal/api"
	"github.com/miradorstack/mirador-replay/internal/models"
)

var (
	// ErrInputNotInRecord signals a record that lacks an input the live model declares.
	ErrInputNotInRecord = errors.New("input not in record")
	// ErrInfer signals a failed replayed inference call.
	ErrInfer = errors.New("inference failed")
)

// newRequestID generates request ids for records without a usable correlation id.
var newRequestID = uuid.NewString

// Inferer issues inference calls. *api.Client implements it.
type Inferer interface {
	Infer(ctx context.Context, modelName string, inputs []*api.InferInput, outputs []string, requestID string) (*api.InferResult, error)
}

// OutputSummary describes one output of a replayed call.
type OutputSummary struct {
	Name        string
	Shape       []int64
	ElementType models.ElementType
	// Err is set when the output could not be decoded.
	Err error
}

// Outcome is the result of a successful replay.
type Outcome struct {
	RequestID string
	Outputs   []OutputSummary
}

// InferError carries the request id of a failed replay.
type InferError struct {
	RequestID string
	Err       error
}

func (e *InferError) Error() string {
	return fmt.Sprintf("inference failed for request id %s: %v", e.RequestID, e.Err)
}

// Unwrap exposes both ErrInfer and the transport error.
func (e *InferError) Unwrap() []error {
	return []error{ErrInfer, e.Err}
}

// RequestID returns the id a replay of rec is sent with: the correlation id when the
// original request carried one, otherwise a fresh UUID.
func RequestID(rec models.CapturedRecord) string {
	if rec.CorrelationID != "" && rec.CorrelationID != models.UnknownID {
		return rec.CorrelationID
	}
	return newRequestID()
}

// BuildInputs turns the record's tensors into protocol inputs in signature order.
func BuildInputs(rec models.CapturedRecord, sig models.ModelSignature) ([]*api.InferInput, error) {
	inputs := make([]*api.InferInput, 0, len(sig.Inputs))
	for _, spec := range sig.Inputs {
		tensor, ok := rec.Inputs[spec.Name]
		if !ok {
			return nil, fmt.Errorf("%w: model %q declares %q", ErrInputNotInRecord, sig.Name, spec.Name)
		}
		in := api.NewInferInput(spec.Name, tensor.Shape, api.ToWireType(tensor.ElementType))
		if err := in.SetData(tensor.Data); err != nil {
			return nil, err
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

// Send replays rec against the model described by sig. No call is issued when the record
// lacks a declared input. Failures are not retried.
func Send(ctx context.Context, rec models.CapturedRecord, sig models.ModelSignature, conn Inferer) (Outcome, error) {
	inputs, err := BuildInputs(rec, sig)
	if err != nil {
		return Outcome{}, err
	}

	modelName := sig.Name
	if modelName == "" {
		modelName = rec.ModelName
	}
	requestID := RequestID(rec)

	result, err := conn.Infer(ctx, modelName, inputs, sig.OutputNames(), requestID)
	if err != nil {
		return Outcome{RequestID: requestID}, &InferError{RequestID: requestID, Err: err}
	}

	outcome := Outcome{RequestID: requestID}
	for _, name := range sig.OutputNames() {
		summary := OutputSummary{Name: name}
		tensor, err := result.AsTensor(name)
		if err != nil {
			summary.Err = err
		} else {
			summary.Shape = tensor.Shape
			summary.ElementType = tensor.ElementType
		}
		outcome.Outputs = append(outcome.Outputs, summary)
	}
	return outcome, nil
}
