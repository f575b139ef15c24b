package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName         = "adjudicator.ledger.v1.LedgerService"
	executePayoutMethod = "/" + serviceName + "/ExecutePayout"
)

// SettlementService is the wire-level contract served over gRPC.
type SettlementService interface {
	ExecutePayout(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// Client talks to a remote ledger over gRPC.
type Client struct {
	conn *grpc.ClientConn
}

func Dial(endpoint string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial ledger grpc: %w", err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) ExecutePayout(ctx context.Context, in Instruction) (Receipt, error) {
	req, err := structpb.NewStruct(map[string]any{
		"payout_id":   in.PayoutID,
		"claim_id":    in.ClaimID,
		"beneficiary": in.Beneficiary,
		"amount":      in.Amount.StringFixed(2),
		"timestamp":   float64(in.Timestamp),
		"signature":   in.Signature,
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("build ledger request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, executePayoutMethod, req, resp); err != nil {
		if status.Code(err) == codes.FailedPrecondition {
			return Receipt{}, fmt.Errorf("%w: %s", ErrRejected, status.Convert(err).Message())
		}
		return Receipt{}, fmt.Errorf("ledger execute payout: %w", err)
	}

	fields := resp.GetFields()
	executedAt, err := time.Parse(time.RFC3339Nano, fields["executed_at"].GetStringValue())
	if err != nil {
		executedAt = time.Now().UTC()
	}
	return Receipt{
		ID:         fields["receipt_id"].GetStringValue(),
		PayoutID:   fields["payout_id"].GetStringValue(),
		ExecutedAt: executedAt,
	}, nil
}

// Server exposes a Service over gRPC.
type Server struct {
	service Service
}

func NewServer(service Service) *Server {
	return &Server{service: service}
}

func Register(server grpc.ServiceRegistrar, svc SettlementService) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*SettlementService)(nil),
		Methods: []grpc.MethodDesc{
			{
				MethodName: "ExecutePayout",
				Handler:    executePayoutHandler(svc),
			},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "ledger/v1/ledger.proto",
	}, svc)
}

func (s *Server) ExecutePayout(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	amount, err := decimal.NewFromString(fields["amount"].GetStringValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid amount")
	}
	in := Instruction{
		PayoutID:    fields["payout_id"].GetStringValue(),
		ClaimID:     fields["claim_id"].GetStringValue(),
		Beneficiary: fields["beneficiary"].GetStringValue(),
		Amount:      amount,
		Timestamp:   int64(fields["timestamp"].GetNumberValue()),
		Signature:   fields["signature"].GetStringValue(),
	}
	if in.PayoutID == "" {
		return nil, status.Error(codes.InvalidArgument, "missing payout_id")
	}

	receipt, err := s.service.ExecutePayout(ctx, in)
	if errors.Is(err, ErrRejected) {
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	}
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "execute payout: %v", err)
	}

	resp, err := structpb.NewStruct(map[string]any{
		"receipt_id":  receipt.ID,
		"payout_id":   receipt.PayoutID,
		"executed_at": receipt.ExecutedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

func executePayoutHandler(svc SettlementService) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := &structpb.Struct{}
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return svc.ExecutePayout(ctx, req)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: executePayoutMethod,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			typed, ok := req.(*structpb.Struct)
			if !ok {
				return nil, status.Error(codes.InvalidArgument, "invalid request type")
			}
			return svc.ExecutePayout(ctx, typed)
		}
		return interceptor(ctx, req, info, handler)
	}
}

var (
	_ Service           = (*Client)(nil)
	_ Service           = (*Memory)(nil)
	_ SettlementService = (*Server)(nil)
)
