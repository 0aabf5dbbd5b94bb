package api

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/miradorstack/mirador-replay/internal/models"
)

// ErrConnection signals that the inference server could not be reached.
var ErrConnection = errors.New("connection error")

// Client is a connection to an inference server.
type Client struct {
	addr string
	conn *grpc.ClientConn
}

// Dial opens a connection to addr and confirms the server answers a liveness probe.
// The probe is bounded by ctx.
func Dial(ctx context.Context, addr string, opts ...grpc.DialOption) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}
	dialOpts = append(dialOpts, opts...)

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnection, addr, err)
	}

	c := &Client{addr: addr, conn: conn}
	live, err := c.IsLive(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrConnection, addr, err)
	}
	if !live {
		conn.Close()
		return nil, fmt.Errorf("%w: %s: server reports not live", ErrConnection, addr)
	}
	return c, nil
}

// WithMaxMessageBytes raises the per-call message size limits in both directions.
func WithMaxMessageBytes(n int) grpc.DialOption {
	return grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(n), grpc.MaxCallSendMsgSize(n))
}

// Address returns the dialed server address.
func (c *Client) Address() string {
	return c.addr
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// IsLive probes server liveness.
func (c *Client) IsLive(ctx context.Context) (bool, error) {
	out := new(ServerLiveResponse)
	if err := c.conn.Invoke(ctx, methodServerLive, &ServerLiveRequest{}, out); err != nil {
		return false, err
	}
	return out.Live, nil
}

// IsReady probes server readiness.
func (c *Client) IsReady(ctx context.Context) (bool, error) {
	out := new(ServerReadyResponse)
	if err := c.conn.Invoke(ctx, methodServerReady, &ServerReadyRequest{}, out); err != nil {
		return false, err
	}
	return out.Ready, nil
}

// ModelSignature fetches the declared inputs and outputs of a deployed model.
func (c *Client) ModelSignature(ctx context.Context, modelName string) (models.ModelSignature, error) {
	out := new(ModelConfigResponse)
	if err := c.conn.Invoke(ctx, methodModelConfig, &ModelConfigRequest{Name: modelName}, out); err != nil {
		return models.ModelSignature{}, fmt.Errorf("model config for %q: %w", modelName, err)
	}
	return FromWireModelConfig(out), nil
}

// Infer issues one inference call.
func (c *Client) Infer(ctx context.Context, modelName string, inputs []*InferInput, outputs []string, requestID string) (*InferResult, error) {
	req := &ModelInferRequest{ModelName: modelName, ID: requestID}
	for _, in := range inputs {
		req.Inputs = append(req.Inputs, in.wire())
	}
	for _, name := range outputs {
		req.Outputs = append(req.Outputs, RequestedOutput{Name: name})
	}

	out := new(ModelInferResponse)
	if err := c.conn.Invoke(ctx, methodModelInfer, req, out); err != nil {
		return nil, err
	}
	return &InferResult{resp: out}, nil
}

// InferInput is a named, typed, shaped input under construction.
type InferInput struct {
	name     string
	datatype string
	shape    []int64
	data     []byte
}

// NewInferInput declares an input. Data is attached with SetData.
func NewInferInput(name string, shape []int64, datatype string) *InferInput {
	return &InferInput{name: name, datatype: datatype, shape: append([]int64(nil), shape...)}
}

// Name returns the input name.
func (in *InferInput) Name() string { return in.name }

// Datatype returns the wire type tag.
func (in *InferInput) Datatype() string { return in.datatype }

// Shape returns the declared shape.
func (in *InferInput) Shape() []int64 { return in.shape }

// SetData attaches the raw little-endian buffer, checking it against shape and type.
func (in *InferInput) SetData(data []byte) error {
	et, err := ToElementType(in.datatype)
	if err != nil {
		return fmt.Errorf("input %q: %w", in.name, err)
	}
	t := models.Tensor{ElementType: et, Shape: in.shape, Data: data}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("input %q: %w", in.name, err)
	}
	in.data = data
	return nil
}

func (in *InferInput) wire() InferTensor {
	return InferTensor{Name: in.name, Datatype: in.datatype, Shape: in.shape, Contents: in.data}
}

// InferResult is the server reply to an inference call.
type InferResult struct {
	resp *ModelInferResponse
}

// NewInferResult wraps a wire response.
func NewInferResult(resp *ModelInferResponse) *InferResult {
	return &InferResult{resp: resp}
}

// ID returns the request id echoed by the server.
func (r *InferResult) ID() string { return r.resp.ID }

// OutputNames lists the returned outputs in response order.
func (r *InferResult) OutputNames() []string {
	names := make([]string, 0, len(r.resp.Outputs))
	for _, out := range r.resp.Outputs {
		names = append(names, out.Name)
	}
	return names
}

// AsTensor decodes a named output.
func (r *InferResult) AsTensor(name string) (models.Tensor, error) {
	for _, out := range r.resp.Outputs {
		if out.Name == name {
			return FromWireTensor(out)
		}
	}
	return models.Tensor{}, fmt.Errorf("output %q not present in response", name)
}
