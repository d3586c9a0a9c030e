package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"github.com/rl1809/shoe-store/internal/core/domain"
	"github.com/rl1809/shoe-store/internal/core/service"
	"github.com/rl1809/shoe-store/internal/port"
)

// JSONCodecName is the content-subtype clients must request; messages are
// plain Go structs encoded as JSON.
const JSONCodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return JSONCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

const (
	orderServiceName     = "store.OrderService"
	placeOrderFullMethod = "/" + orderServiceName + "/PlaceOrder"
	trackOrderFullMethod = "/" + orderServiceName + "/TrackOrder"
)

type PlaceOrderRequest struct {
	IdempotencyKey string `json:"idempotencyKey"`
	CheckoutRequest
}

type PlaceOrderResponse struct {
	OrderID     string             `json:"orderId"`
	OrderNumber string             `json:"orderNumber"`
	Status      domain.OrderStatus `json:"status"`
	TotalAmount decimal.Decimal    `json:"totalAmount"`
}

type TrackOrderRequest struct {
	OrderNumber string `json:"orderNumber"`
}

type TrackOrderResponse struct {
	Order OrderResponse `json:"order"`
}

// OrderServiceServer is implemented by GRPCHandler.
type OrderServiceServer interface {
	PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*PlaceOrderResponse, error)
	TrackOrder(ctx context.Context, req *TrackOrderRequest) (*TrackOrderResponse, error)
}

type GRPCHandler struct {
	orders port.OrderService
	log    logrus.FieldLogger
}

func NewGRPCHandler(orders port.OrderService, log logrus.FieldLogger) *GRPCHandler {
	return &GRPCHandler{orders: orders, log: log}
}

func (h *GRPCHandler) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*PlaceOrderResponse, error) {
	order, err := h.orders.PlaceOrder(ctx, req.IdempotencyKey, req.CheckoutRequest.toDomain())
	if err != nil {
		return nil, h.statusFor(err)
	}

	return &PlaceOrderResponse{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      order.Status,
		TotalAmount: order.TotalAmount,
	}, nil
}

func (h *GRPCHandler) TrackOrder(ctx context.Context, req *TrackOrderRequest) (*TrackOrderResponse, error) {
	order, err := h.orders.TrackOrder(ctx, req.OrderNumber)
	if err != nil {
		return nil, h.statusFor(err)
	}
	return &TrackOrderResponse{Order: newOrderResponse(order)}, nil
}

// statusFor maps service errors to gRPC codes. Stock shortages carry one
// PreconditionFailure violation per failing line.
func (h *GRPCHandler) statusFor(err error) error {
	var stockErr *domain.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		st := status.New(codes.FailedPrecondition, "Insufficient stock for some items")
		failure := &errdetails.PreconditionFailure{}
		for _, item := range stockErr.Items {
			failure.Violations = append(failure.Violations, &errdetails.PreconditionFailure_Violation{
				Type:        "STOCK",
				Subject:     fmt.Sprintf("%s/%s/%s", item.ProductID, item.Size, item.Color),
				Description: fmt.Sprintf("%s: requested %d, available %d", item.Reason, item.Requested, item.Available),
			})
		}
		if detailed, detailErr := st.WithDetails(failure); detailErr == nil {
			st = detailed
		}
		return st.Err()
	case errors.Is(err, domain.ErrInvalidCheckout), errors.Is(err, domain.ErrTotalMismatch):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrOrderNotFound):
		return status.Error(codes.NotFound, "order not found")
	case errors.Is(err, service.ErrDuplicateRequest):
		return status.Error(codes.AlreadyExists, "duplicate request")
	default:
		h.log.WithError(err).Error("grpc request failed")
		return status.Error(codes.Internal, "internal error")
	}
}

func placeOrderHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PlaceOrderRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrderServiceServer).PlaceOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: placeOrderFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OrderServiceServer).PlaceOrder(ctx, req.(*PlaceOrderRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func trackOrderHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(TrackOrderRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrderServiceServer).TrackOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: trackOrderFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OrderServiceServer).TrackOrder(ctx, req.(*TrackOrderRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var orderServiceDesc = grpc.ServiceDesc{
	ServiceName: orderServiceName,
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PlaceOrder", Handler: placeOrderHandler},
		{MethodName: "TrackOrder", Handler: trackOrderHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "store/order_service",
}

func RegisterOrderServiceServer(s grpc.ServiceRegistrar, srv OrderServiceServer) {
	s.RegisterService(&orderServiceDesc, srv)
}

// OrderClient calls store.OrderService with the JSON codec.
type OrderClient struct {
	cc grpc.ClientConnInterface
}

func NewOrderClient(cc grpc.ClientConnInterface) *OrderClient {
	return &OrderClient{cc: cc}
}

func (c *OrderClient) PlaceOrder(ctx context.Context, in *PlaceOrderRequest, opts ...grpc.CallOption) (*PlaceOrderResponse, error) {
	out := new(PlaceOrderResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(JSONCodecName)}, opts...)
	if err := c.cc.Invoke(ctx, placeOrderFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderClient) TrackOrder(ctx context.Context, in *TrackOrderRequest, opts ...grpc.CallOption) (*TrackOrderResponse, error) {
	out := new(TrackOrderResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(JSONCodecName)}, opts...)
	if err := c.cc.Invoke(ctx, trackOrderFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// UnaryLoggingInterceptor logs every unary call with its code and latency.
func UnaryLoggingInterceptor(log logrus.FieldLogger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		entry := log.WithFields(logrus.Fields{
			"method":   info.FullMethod,
			"code":     status.Code(err).String(),
			"duration": time.Since(start).String(),
		})
		if err != nil && status.Code(err) == codes.Internal {
			entry.Error("grpc call failed")
		} else {
			entry.Debug("grpc call handled")
		}
		return resp, err
	}
}

var _ OrderServiceServer = (*GRPCHandler)(nil)
