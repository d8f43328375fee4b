// Package labrpc exposes the lab runner to an external policy over gRPC.
// Messages are google.protobuf.Struct values carrying the same JSON shapes the
// event log uses, so no generated code is needed. Only the sealed observation
// crosses the wire; simulator truth stays on the server.
package labrpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region service-desc

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "honestlab.Lab"

const (
	methodRunProposal = "RunProposal"
	methodDescribe    = "Describe"
)

// LabServer is the server API for the Lab service.
type LabServer interface {
	RunProposal(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Describe(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// LabClient is the client API for the Lab service.
type LabClient interface {
	RunProposal(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Describe(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

// ServiceDesc describes the Lab service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LabServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodRunProposal, Handler: unaryHandler(methodRunProposal, LabServer.RunProposal)},
		{MethodName: methodDescribe, Handler: unaryHandler(methodDescribe, LabServer.Describe)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "honestlab/lab.proto",
}

// RegisterLabServer registers srv on s.
func RegisterLabServer(s grpc.ServiceRegistrar, srv LabServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unaryHandler(method string, call func(LabServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LabServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(LabServer), ctx, req.(*structpb.Struct))
		})
	}
}

// #endregion service-desc

// #region client-stub

type labClient struct {
	cc grpc.ClientConnInterface
}

// NewLabClient creates a client stub over a connection.
func NewLabClient(cc grpc.ClientConnInterface) LabClient {
	return &labClient{cc: cc}
}

func (c *labClient) RunProposal(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+methodRunProposal, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *labClient) Describe(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+methodDescribe, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// #endregion client-stub

// #region codec

// toStruct converts a JSON-shaped value to a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode struct: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("encode struct: %w", err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("encode struct: %w", err)
	}
	return s, nil
}

// fromStruct decodes a Struct into dst through its JSON form.
func fromStruct(s *structpb.Struct, dst any) error {
	b, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("decode struct: %w", err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("decode struct: %w", err)
	}
	return nil
}

// #endregion codec
