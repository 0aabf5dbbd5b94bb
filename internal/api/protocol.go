package api

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully-qualified inference service name.
const ServiceName = "inference.GRPCInferenceService"

const (
	methodServerLive  = "/" + ServiceName + "/ServerLive"
	methodServerReady = "/" + ServiceName + "/ServerReady"
	methodModelConfig = "/" + ServiceName + "/ModelConfig"
	methodModelInfer  = "/" + ServiceName + "/ModelInfer"
)

type ServerLiveRequest struct{}

type ServerLiveResponse struct {
	Live bool `cbor:"live"`
}

type ServerReadyRequest struct{}

type ServerReadyResponse struct {
	Ready bool `cbor:"ready"`
}

// TensorMetadata mirrors a declared model input or output.
type TensorMetadata struct {
	Name     string  `cbor:"name"`
	Datatype string  `cbor:"datatype"`
	Shape    []int64 `cbor:"shape"`
}

type ModelConfigRequest struct {
	Name string `cbor:"name"`
}

type ModelConfigResponse struct {
	Name    string           `cbor:"name"`
	Inputs  []TensorMetadata `cbor:"inputs"`
	Outputs []TensorMetadata `cbor:"outputs"`
}

// InferTensor is a named tensor on the wire. Contents are little-endian raw bytes.
type InferTensor struct {
	Name     string  `cbor:"name"`
	Datatype string  `cbor:"datatype"`
	Shape    []int64 `cbor:"shape"`
	Contents []byte  `cbor:"contents"`
}

type RequestedOutput struct {
	Name string `cbor:"name"`
}

type ModelInferRequest struct {
	ModelName string            `cbor:"model_name"`
	ID        string            `cbor:"id"`
	Inputs    []InferTensor     `cbor:"inputs"`
	Outputs   []RequestedOutput `cbor:"outputs"`
}

type ModelInferResponse struct {
	ModelName string        `cbor:"model_name"`
	ID        string        `cbor:"id"`
	Outputs   []InferTensor `cbor:"outputs"`
}

// InferenceServer is the server API of the inference service.
type InferenceServer interface {
	ServerLive(context.Context, *ServerLiveRequest) (*ServerLiveResponse, error)
	ServerReady(context.Context, *ServerReadyRequest) (*ServerReadyResponse, error)
	ModelConfig(context.Context, *ModelConfigRequest) (*ModelConfigResponse, error)
	ModelInfer(context.Context, *ModelInferRequest) (*ModelInferResponse, error)
}

// RegisterInferenceServer attaches srv to a gRPC registrar.
func RegisterInferenceServer(s grpc.ServiceRegistrar, srv InferenceServer) {
	s.RegisterService(&InferenceServiceDesc, srv)
}

// InferenceServiceDesc describes the inference service for grpc.Server.
var InferenceServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*InferenceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ServerLive", Handler: unaryHandler(methodServerLive, InferenceServer.ServerLive)},
		{MethodName: "ServerReady", Handler: unaryHandler(methodServerReady, InferenceServer.ServerReady)},
		{MethodName: "ModelConfig", Handler: unaryHandler(methodModelConfig, InferenceServer.ModelConfig)},
		{MethodName: "ModelInfer", Handler: unaryHandler(methodModelInfer, InferenceServer.ModelInfer)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "inference.proto",
}

// unaryHandler adapts a typed InferenceServer method to grpc's method handler signature.
func unaryHandler[Req, Resp any](fullMethod string, call func(InferenceServer, context.Context, *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(InferenceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(InferenceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}
