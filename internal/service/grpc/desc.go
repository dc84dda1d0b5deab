package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName: полное имя административного сервиса.
const ServiceName = "storefront.admin.v1.AdminService"

const (
	MethodConfirmOrder = "/" + ServiceName + "/ConfirmOrder"
	MethodCancelOrder  = "/" + ServiceName + "/CancelOrder"
	MethodGetOrder     = "/" + ServiceName + "/GetOrder"
	MethodListOrders   = "/" + ServiceName + "/ListOrders"
)

// AdminServer: серверная сторона AdminService. Сообщения описаны well-known типами,
// поэтому сервису не нужен сгенерированный код.
type AdminServer interface {
	ConfirmOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CancelOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetOrder(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error)
	ListOrders(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// AdminServiceDesc описывает AdminService для grpc.Server.
var AdminServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ConfirmOrder",
			Handler:    unaryHandler(MethodConfirmOrder, newStruct, AdminServer.ConfirmOrder),
		},
		{
			MethodName: "CancelOrder",
			Handler:    unaryHandler(MethodCancelOrder, newStruct, AdminServer.CancelOrder),
		},
		{
			MethodName: "GetOrder",
			Handler:    unaryHandler(MethodGetOrder, newStringValue, AdminServer.GetOrder),
		},
		{
			MethodName: "ListOrders",
			Handler:    unaryHandler(MethodListOrders, newStruct, AdminServer.ListOrders),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "storefront/admin/v1/admin.proto",
}

// RegisterAdminServer регистрирует реализацию на сервере.
func RegisterAdminServer(s grpc.ServiceRegistrar, srv AdminServer) {
	s.RegisterService(&AdminServiceDesc, srv)
}

func newStruct() *structpb.Struct { return &structpb.Struct{} }

func newStringValue() *wrapperspb.StringValue { return &wrapperspb.StringValue{} }

func unaryHandler[Req proto.Message, Resp proto.Message](
	method string,
	newReq func() Req,
	call func(AdminServer, context.Context, Req) (Resp, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := newReq()
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AdminServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AdminServer), ctx, req.(Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// AdminClient: клиент AdminService поверх grpc.ClientConnInterface.
type AdminClient struct {
	cc grpc.ClientConnInterface
}

// NewAdminClient создаёт клиента.
func NewAdminClient(cc grpc.ClientConnInterface) *AdminClient {
	return &AdminClient{cc: cc}
}

// ConfirmOrder вызывает ConfirmOrder.
func (c *AdminClient) ConfirmOrder(ctx context.Context, orderID, confirmedBy string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]any{"order_id": orderID, "confirmed_by": confirmedBy})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodConfirmOrder, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// CancelOrder вызывает CancelOrder.
func (c *AdminClient) CancelOrder(ctx context.Context, orderID, reason string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]any{"order_id": orderID, "reason": reason})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodCancelOrder, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GetOrder вызывает GetOrder.
func (c *AdminClient) GetOrder(ctx context.Context, orderID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodGetOrder, wrapperspb.String(orderID), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ListOrders вызывает ListOrders; statuses, через запятую, пусто или "all" означает все.
func (c *AdminClient) ListOrders(ctx context.Context, statuses, customerID string, limit int, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]any{
		"status":      statuses,
		"customer_id": customerID,
		"limit":       float64(limit),
	})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodListOrders, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
