package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	"github.com/go-playground/validator/v10"

	"github.com/Nikhil170404/hyperlocal-sub001/internal/errs"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/middleware"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/models"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/service"
)

// Procedure paths, one per RPC.
const (
	OrderServicePlaceOrderProcedure      = "/groupbuy.v1.OrderService/PlaceOrder"
	OrderServiceWithdrawOrderProcedure   = "/groupbuy.v1.OrderService/WithdrawOrder"
	OrderServiceGetCycleProcedure        = "/groupbuy.v1.OrderService/GetCycle"
	OrderServiceCloseCollectingProcedure = "/groupbuy.v1.OrderService/CloseCollecting"
	OrderServiceAdvancePhaseProcedure    = "/groupbuy.v1.OrderService/AdvancePhase"
	OrderServiceCancelCycleProcedure     = "/groupbuy.v1.OrderService/CancelCycle"
	OrderServiceGetAuditProcedure        = "/groupbuy.v1.OrderService/GetAudit"

	PaymentServiceCreatePaymentIntentProcedure = "/groupbuy.v1.PaymentService/CreatePaymentIntent"
	PaymentServiceVerifyPaymentProcedure       = "/groupbuy.v1.PaymentService/VerifyPayment"
	PaymentServiceRefundPaymentProcedure       = "/groupbuy.v1.PaymentService/RefundPayment"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// asConnectError maps domain sentinels onto Connect codes at the transport
// boundary. Anything unrecognized is internal.
func asConnectError(err error) error {
	var cerr *connect.Error
	if errors.As(err, &cerr) {
		return err
	}
	code := connect.CodeInternal
	switch {
	case errors.Is(err, errs.ErrValidation), errors.Is(err, errs.ErrSignatureMismatch):
		code = connect.CodeInvalidArgument
	case errors.Is(err, errs.ErrUnauthenticated):
		code = connect.CodeUnauthenticated
	case errors.Is(err, errs.ErrPermission):
		code = connect.CodePermissionDenied
	case errors.Is(err, errs.ErrNotFound):
		code = connect.CodeNotFound
	case errors.Is(err, errs.ErrConflict):
		code = connect.CodeFailedPrecondition
	}
	return connect.NewError(code, err)
}

// unary wires one procedure: request validation, identity extraction, the
// service call, and error mapping.
func unary[Req, Res any](procedure string, opts []connect.HandlerOption, fn func(ctx context.Context, msg *Req) (*Res, error)) (string, http.Handler) {
	return procedure, connect.NewUnaryHandler(
		procedure,
		func(ctx context.Context, req *connect.Request[Req]) (*connect.Response[Res], error) {
			if err := validate.Struct(req.Msg); err != nil {
				return nil, connect.NewError(connect.CodeInvalidArgument, err)
			}
			res, err := fn(ctx, req.Msg)
			if err != nil {
				return nil, asConnectError(err)
			}
			return connect.NewResponse(res), nil
		},
		opts...,
	)
}

// NewOrderServiceHandler returns the path prefix and handler for the order
// service, mirroring the shape of generated Connect constructors.
func NewOrderServiceHandler(svc *service.OrderService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)
	mux := http.NewServeMux()

	mux.Handle(unary(OrderServicePlaceOrderProcedure, opts,
		func(ctx context.Context, msg *PlaceOrderRequest) (*PlaceOrderResponse, error) {
			items := make([]models.OrderItem, len(msg.Items))
			for i, in := range msg.Items {
				items[i] = in.toModel()
			}
			c, err := svc.PlaceOrder(ctx, middleware.GetIdentity(ctx), msg.GroupID, items)
			if err != nil {
				return nil, err
			}
			return &PlaceOrderResponse{Cycle: c}, nil
		}))

	mux.Handle(unary(OrderServiceWithdrawOrderProcedure, opts,
		func(ctx context.Context, msg *WithdrawOrderRequest) (*WithdrawOrderResponse, error) {
			c, err := svc.Withdraw(ctx, middleware.GetIdentity(ctx), msg.CycleID)
			if err != nil {
				return nil, err
			}
			return &WithdrawOrderResponse{Cycle: c}, nil
		}))

	mux.Handle(unary(OrderServiceGetCycleProcedure, opts,
		func(ctx context.Context, msg *GetCycleRequest) (*GetCycleResponse, error) {
			var (
				c   *models.OrderCycle
				err error
			)
			switch {
			case msg.CycleID != "":
				c, err = svc.GetCycle(ctx, msg.CycleID)
			case msg.GroupID != "":
				c, err = svc.GetOpenCycle(ctx, msg.GroupID)
			default:
				return nil, fmt.Errorf("either cycleId or groupId is required: %w", errs.ErrValidation)
			}
			if err != nil {
				return nil, err
			}
			return &GetCycleResponse{Cycle: c}, nil
		}))

	mux.Handle(unary(OrderServiceCloseCollectingProcedure, opts,
		func(ctx context.Context, msg *CloseCollectingRequest) (*CloseCollectingResponse, error) {
			c, err := svc.CloseCollecting(ctx, middleware.GetIdentity(ctx), msg.CycleID)
			if err != nil {
				return nil, err
			}
			return &CloseCollectingResponse{Cycle: c}, nil
		}))

	mux.Handle(unary(OrderServiceAdvancePhaseProcedure, opts,
		func(ctx context.Context, msg *AdvancePhaseRequest) (*AdvancePhaseResponse, error) {
			c, err := svc.AdvancePhase(ctx, middleware.GetIdentity(ctx), msg.CycleID, models.Phase(msg.Target))
			if err != nil {
				return nil, err
			}
			return &AdvancePhaseResponse{Cycle: c}, nil
		}))

	mux.Handle(unary(OrderServiceCancelCycleProcedure, opts,
		func(ctx context.Context, msg *CancelCycleRequest) (*CancelCycleResponse, error) {
			c, err := svc.CancelCycle(ctx, middleware.GetIdentity(ctx), msg.CycleID)
			if err != nil {
				return nil, err
			}
			return &CancelCycleResponse{Cycle: c}, nil
		}))

	mux.Handle(unary(OrderServiceGetAuditProcedure, opts,
		func(ctx context.Context, msg *GetAuditRequest) (*GetAuditResponse, error) {
			entries, err := svc.GetAudit(ctx, middleware.GetIdentity(ctx), msg.CycleID)
			if err != nil {
				return nil, err
			}
			return &GetAuditResponse{Entries: entries}, nil
		}))

	return "/groupbuy.v1.OrderService/", mux
}

// NewPaymentServiceHandler returns the path prefix and handler for the
// payment service. keyID is the gateway's public key identifier, handed to
// clients so they can open checkout against the created order.
func NewPaymentServiceHandler(svc *service.PaymentService, keyID string, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)
	mux := http.NewServeMux()

	mux.Handle(unary(PaymentServiceCreatePaymentIntentProcedure, opts,
		func(ctx context.Context, msg *CreatePaymentIntentRequest) (*CreatePaymentIntentResponse, error) {
			rec, err := svc.CreateIntent(ctx, middleware.GetIdentity(ctx), msg.CycleID, msg.Amount, msg.Currency)
			if err != nil {
				return nil, err
			}
			return &CreatePaymentIntentResponse{
				GatewayOrderID:   rec.GatewayOrderID,
				AmountMinorUnits: rec.AmountMinorUnits,
				Currency:         rec.Currency,
				KeyID:            keyID,
				Status:           string(rec.Status),
			}, nil
		}))

	mux.Handle(unary(PaymentServiceVerifyPaymentProcedure, opts,
		func(ctx context.Context, msg *VerifyPaymentRequest) (*VerifyPaymentResponse, error) {
			rec, err := svc.Verify(ctx, middleware.GetIdentity(ctx), msg.GatewayOrderID, msg.PaymentID, msg.Signature)
			if err != nil {
				return nil, err
			}
			return &VerifyPaymentResponse{Verified: true, Payment: rec}, nil
		}))

	mux.Handle(unary(PaymentServiceRefundPaymentProcedure, opts,
		func(ctx context.Context, msg *RefundPaymentRequest) (*RefundPaymentResponse, error) {
			rec, err := svc.Refund(ctx, middleware.GetIdentity(ctx), msg.PaymentID, msg.AmountMinorUnits)
			if err != nil {
				return nil, err
			}
			return &RefundPaymentResponse{Payment: rec}, nil
		}))

	return "/groupbuy.v1.PaymentService/", mux
}
