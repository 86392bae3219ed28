// Package grpc serves the Forge operations over gRPC with a JSON codec.
package grpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "modelforge.v1.Forge"

// ForgeServer is the server API for the Forge service.
type ForgeServer interface {
	Fetch(context.Context, *FetchRequest) (*FetchResponse, error)
	Compile(context.Context, *CompileRequest) (*CompileResponse, error)
	Run(context.Context, *RunRequest) (*RunResponse, error)
}

// ServiceDesc describes the Forge service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ForgeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Fetch", Handler: unary("Fetch", func(s ForgeServer, ctx context.Context, in *FetchRequest) (any, error) { return s.Fetch(ctx, in) })},
		{MethodName: "Compile", Handler: unary("Compile", func(s ForgeServer, ctx context.Context, in *CompileRequest) (any, error) { return s.Compile(ctx, in) })},
		{MethodName: "Run", Handler: unary("Run", func(s ForgeServer, ctx context.Context, in *RunRequest) (any, error) { return s.Run(ctx, in) })},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "modelforge/v1/forge",
}

// RegisterForgeServer registers srv on s.
func RegisterForgeServer(s grpc.ServiceRegistrar, srv ForgeServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unary[Req any](method string, call func(ForgeServer, context.Context, *Req) (any, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ForgeServer), ctx, in)
		}

		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ForgeServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Client is the client API for the Forge service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient creates a Forge client on cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Fetch calls Forge.Fetch.
func (c *Client) Fetch(ctx context.Context, in *FetchRequest, opts ...grpc.CallOption) (*FetchResponse, error) {
	out := new(FetchResponse)
	if err := c.invoke(ctx, "Fetch", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// Compile calls Forge.Compile.
func (c *Client) Compile(ctx context.Context, in *CompileRequest, opts ...grpc.CallOption) (*CompileResponse, error) {
	out := new(CompileResponse)
	if err := c.invoke(ctx, "Compile", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// Run calls Forge.Run.
func (c *Client) Run(ctx context.Context, in *RunRequest, opts ...grpc.CallOption) (*RunResponse, error) {
	out := new(RunResponse)
	if err := c.invoke(ctx, "Run", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...)
}
