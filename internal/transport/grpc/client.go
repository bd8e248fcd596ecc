package grpc

import (
	"context"
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// Client calls drivesched.v1.AvailabilityService with the JSON codec.
type Client struct {
	conn *grpc.ClientConn
}

// Dial opens a plaintext connection to addr.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	return c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, req, resp, grpc.CallContentSubtype(CodecName))
}

func (c *Client) AddWindow(ctx context.Context, req *AddWindowRequest) (*AddWindowResponse, error) {
	resp := new(AddWindowResponse)
	if err := c.invoke(ctx, "AddWindow", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) UpdateWindow(ctx context.Context, req *UpdateWindowRequest) (*UpdateWindowResponse, error) {
	resp := new(UpdateWindowResponse)
	if err := c.invoke(ctx, "UpdateWindow", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) RemoveWindow(ctx context.Context, req *RemoveWindowRequest) (*RemoveWindowResponse, error) {
	resp := new(RemoveWindowResponse)
	if err := c.invoke(ctx, "RemoveWindow", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) ListWindows(ctx context.Context, req *ListWindowsRequest) (*ListWindowsResponse, error) {
	resp := new(ListWindowsResponse)
	if err := c.invoke(ctx, "ListWindows", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) CopyWeek(ctx context.Context, req *CopyWeekRequest) (*CopyWeekResponse, error) {
	resp := new(CopyWeekResponse)
	if err := c.invoke(ctx, "CopyWeek", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) ResolveAvailability(ctx context.Context, req *ResolveAvailabilityRequest) (*ResolveAvailabilityResponse, error) {
	resp := new(ResolveAvailabilityResponse)
	if err := c.invoke(ctx, "ResolveAvailability", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) CheckAvailability(ctx context.Context, req *CheckAvailabilityRequest) (*CheckAvailabilityResponse, error) {
	resp := new(CheckAvailabilityResponse)
	if err := c.invoke(ctx, "CheckAvailability", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// CreateBooking sends idempotencyKey as request metadata when it is not empty.
func (c *Client) CreateBooking(ctx context.Context, req *CreateBookingRequest, idempotencyKey string) (*CreateBookingResponse, error) {
	if idempotencyKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "idempotency-key", idempotencyKey)
	}
	resp := new(CreateBookingResponse)
	if err := c.invoke(ctx, "CreateBooking", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) CancelBooking(ctx context.Context, req *CancelBookingRequest) (*CancelBookingResponse, error) {
	resp := new(CancelBookingResponse)
	if err := c.invoke(ctx, "CancelBooking", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) UpdateBookingStatus(ctx context.Context, req *UpdateBookingStatusRequest) (*UpdateBookingStatusResponse, error) {
	resp := new(UpdateBookingStatusResponse)
	if err := c.invoke(ctx, "UpdateBookingStatus", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
