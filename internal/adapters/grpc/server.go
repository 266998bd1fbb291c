package grpc

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/thebiggive/matchbot-sub000/internal/application"
	"github.com/thebiggive/matchbot-sub000/internal/domain"
)

const serviceName = "matchbot.matching.v1.MatchingInternalService"

type MatchingInternalService interface {
	AllocateMatchFunds(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReleaseDonation(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type MatchingInternalServer struct {
	service *application.Service
}

func NewMatchingInternalServer(service *application.Service) *MatchingInternalServer {
	return &MatchingInternalServer{service: service}
}

func Register(server grpc.ServiceRegistrar, svc MatchingInternalService) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*MatchingInternalService)(nil),
		Methods: []grpc.MethodDesc{
			{
				MethodName: "AllocateMatchFunds",
				Handler:    unaryHandler("AllocateMatchFunds", svc.AllocateMatchFunds),
			},
			{
				MethodName: "ReleaseDonation",
				Handler:    unaryHandler("ReleaseDonation", svc.ReleaseDonation),
			},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "matchbot/matching/v1/matching_internal.proto",
	}, svc)
}

func (s *MatchingInternalServer) AllocateMatchFunds(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	donationID, err := donationIDField(req)
	if err != nil {
		return nil, err
	}
	res, err := s.service.AllocateMatchFunds(ctx, donationID)
	if err != nil {
		return nil, toStatus(err)
	}

	withdrawalIDs := make([]any, 0, len(res.Withdrawals))
	for _, w := range res.Withdrawals {
		withdrawalIDs = append(withdrawalIDs, float64(w.ID))
	}
	resp, err := structpb.NewStruct(map[string]any{
		"donation_id":    res.DonationID.String(),
		"currency":       res.Currency,
		"amount_matched": res.AmountMatched.StringFixed(domain.MinorUnitPlaces),
		"total_matched":  res.TotalMatched.StringFixed(domain.MinorUnitPlaces),
		"withdrawal_ids": withdrawalIDs,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

func (s *MatchingInternalServer) ReleaseDonation(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	donationID, err := donationIDField(req)
	if err != nil {
		return nil, err
	}
	reason := domain.ReleaseReasonManual
	if v := req.GetFields()["reason"]; v != nil && v.GetStringValue() != "" {
		reason = v.GetStringValue()
	}
	if !domain.IsReleaseReason(reason) {
		return nil, status.Error(codes.InvalidArgument, "unknown release reason")
	}

	res, err := s.service.ReleaseDonation(ctx, donationID, reason)
	if err != nil {
		return nil, toStatus(err)
	}
	resp, err := structpb.NewStruct(map[string]any{
		"donation_id":         res.DonationID.String(),
		"reason":              res.Reason,
		"amount_released":     res.Amount.StringFixed(domain.MinorUnitPlaces),
		"withdrawals_reversed": float64(len(res.Released)),
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

func donationIDField(req *structpb.Struct) (uuid.UUID, error) {
	raw := req.GetFields()["donation_id"]
	if raw == nil || raw.GetStringValue() == "" {
		return uuid.Nil, status.Error(codes.InvalidArgument, "missing donation_id")
	}
	id, err := uuid.Parse(raw.GetStringValue())
	if err != nil {
		return uuid.Nil, status.Error(codes.InvalidArgument, "invalid donation_id")
	}
	return id, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrInvalidAmount):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, "donation not found")
	case errors.Is(err, domain.ErrCurrencyMismatch):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrReservationRetriesExhausted):
		return status.Error(codes.Unavailable, "match funds are under contention, retry shortly")
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrNegativeBalance), errors.Is(err, domain.ErrBalanceInvariant):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

type unaryMethod func(context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := &structpb.Struct{}
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(ctx, req)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + serviceName + "/" + method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			typed, ok := req.(*structpb.Struct)
			if !ok {
				return nil, status.Error(codes.InvalidArgument, "invalid request type")
			}
			return call(ctx, typed)
		}
		return interceptor(ctx, req, info, handler)
	}
}
