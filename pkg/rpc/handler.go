package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// unaryHandler adapts a typed service method to the untyped handler shape
// grpc.ServiceDesc expects. It fills the role protoc-generated stubs play in
// repositories that ship generated code.
func unaryHandler[Srv any, Req any, Resp any](service, method string, call func(Srv, context.Context, *Req) (*Resp, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	full := "/" + service + "/" + method
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(Srv), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(Srv), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// invoke issues a unary call and decodes the typed response
func invoke[Resp any](ctx context.Context, cc *grpc.ClientConn, service, method string, in interface{}) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, "/"+service+"/"+method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}
