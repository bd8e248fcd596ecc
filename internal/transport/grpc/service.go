package grpc

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "drivesched.v1.AvailabilityService"

// AvailabilityServiceServer is the server side of drivesched.v1.AvailabilityService.
type AvailabilityServiceServer interface {
	AddWindow(context.Context, *AddWindowRequest) (*AddWindowResponse, error)
	UpdateWindow(context.Context, *UpdateWindowRequest) (*UpdateWindowResponse, error)
	RemoveWindow(context.Context, *RemoveWindowRequest) (*RemoveWindowResponse, error)
	ListWindows(context.Context, *ListWindowsRequest) (*ListWindowsResponse, error)
	CopyWeek(context.Context, *CopyWeekRequest) (*CopyWeekResponse, error)
	ResolveAvailability(context.Context, *ResolveAvailabilityRequest) (*ResolveAvailabilityResponse, error)
	CheckAvailability(context.Context, *CheckAvailabilityRequest) (*CheckAvailabilityResponse, error)
	CreateBooking(context.Context, *CreateBookingRequest) (*CreateBookingResponse, error)
	CancelBooking(context.Context, *CancelBookingRequest) (*CancelBookingResponse, error)
	UpdateBookingStatus(context.Context, *UpdateBookingStatusRequest) (*UpdateBookingStatusResponse, error)
}

func RegisterAvailabilityServiceServer(s grpc.ServiceRegistrar, srv AvailabilityServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// unaryHandler adapts a typed method to grpc.MethodHandler, running the server interceptor chain.
func unaryHandler[Req any, Resp any](method string, call func(AvailabilityServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	fullMethod := "/" + ServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AvailabilityServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AvailabilityServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AvailabilityServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "AddWindow", Handler: unaryHandler("AddWindow", AvailabilityServiceServer.AddWindow)},
		{MethodName: "UpdateWindow", Handler: unaryHandler("UpdateWindow", AvailabilityServiceServer.UpdateWindow)},
		{MethodName: "RemoveWindow", Handler: unaryHandler("RemoveWindow", AvailabilityServiceServer.RemoveWindow)},
		{MethodName: "ListWindows", Handler: unaryHandler("ListWindows", AvailabilityServiceServer.ListWindows)},
		{MethodName: "CopyWeek", Handler: unaryHandler("CopyWeek", AvailabilityServiceServer.CopyWeek)},
		{MethodName: "ResolveAvailability", Handler: unaryHandler("ResolveAvailability", AvailabilityServiceServer.ResolveAvailability)},
		{MethodName: "CheckAvailability", Handler: unaryHandler("CheckAvailability", AvailabilityServiceServer.CheckAvailability)},
		{MethodName: "CreateBooking", Handler: unaryHandler("CreateBooking", AvailabilityServiceServer.CreateBooking)},
		{MethodName: "CancelBooking", Handler: unaryHandler("CancelBooking", AvailabilityServiceServer.CancelBooking)},
		{MethodName: "UpdateBookingStatus", Handler: unaryHandler("UpdateBookingStatus", AvailabilityServiceServer.UpdateBookingStatus)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "drivesched/v1/availability.json",
}
