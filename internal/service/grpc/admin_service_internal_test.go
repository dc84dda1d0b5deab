package grpcsvc

import (
	"context"
	"errors"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/resilience"
)

type stubOrders struct {
	order   domain.Order
	err     error
	list    []domain.Order
	filter  domain.OrderFilter
	events  []domain.TimelineEvent
	evErr   error
	confirm int
}

func (s *stubOrders) Get(context.Context, string) (domain.Order, error) { return s.order, s.err }

func (s *stubOrders) List(_ context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	s.filter = filter
	return s.list, s.err
}

func (s *stubOrders) Timeline(context.Context, string) ([]domain.TimelineEvent, error) {
	return s.events, s.evErr
}

func (s *stubOrders) Confirm(_ context.Context, _, by string) (domain.Order, error) {
	s.confirm++
	o := s.order
	o.ConfirmedBy = by
	return o, s.err
}

func (s *stubOrders) Cancel(context.Context, string, string) (domain.Order, error) { return s.order, s.err }

func mustStatusCode(t *testing.T, err error, expected codes.Code) {
	t.Helper()
	if status.Code(err) != expected {
		t.Fatalf("expected code %s, got %s (err=%v)", expected, status.Code(err), err)
	}
}

func newInternalTestService(orders Orders) *AdminService {
	return NewAdminService(orders, nil, log.New().WithField("test", "internal"))
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("NewStruct failed: %v", err)
	}
	return s
}

func TestNewAdminService_NilLogger(t *testing.T) {
	service := NewAdminService(&stubOrders{}, nil, nil)
	if service.logger == nil {
		t.Fatal("logger must be initialized when nil logger is provided")
	}
}

func TestStatusError_Mapping(t *testing.T) {
	service := newInternalTestService(&stubOrders{})

	tests := []struct {
		err  error
		code codes.Code
	}{
		{err: domain.ErrOrderIDRequired, code: codes.InvalidArgument},
		{err: domain.ErrOrderNotFound, code: codes.NotFound},
		{err: errors.Join(domain.ErrInvalidTransition, errors.New("canceled -> confirmed")), code: codes.FailedPrecondition},
		{err: domain.ErrOrderVersionConflict, code: codes.Aborted},
		{err: resilience.ErrCircuitOpen, code: codes.Unavailable},
		{err: errors.New("disk full"), code: codes.Internal},
	}
	for _, tt := range tests {
		mustStatusCode(t, service.statusError(tt.err, "ConfirmOrder", "o-1"), tt.code)
	}
}

func TestConfirmOrder_DefaultsConfirmedBy(t *testing.T) {
	orders := &stubOrders{order: domain.Order{ID: "o-1", Status: domain.OrderStatusConfirmed}}
	service := newInternalTestService(orders)

	resp, err := service.ConfirmOrder(context.Background(), mustStruct(t, map[string]any{"order_id": "o-1"}))
	if err != nil {
		t.Fatalf("ConfirmOrder failed: %v", err)
	}
	order := resp.GetFields()["order"].GetStructValue()
	if order.GetFields()["id"].GetStringValue() != "o-1" {
		t.Fatalf("unexpected order: %v", order)
	}
	if orders.confirm != 1 {
		t.Fatalf("expected one confirm call, got %d", orders.confirm)
	}

	_, err = service.ConfirmOrder(context.Background(), &structpb.Struct{})
	mustStatusCode(t, err, codes.InvalidArgument)
}

func TestListOrders_Branches(t *testing.T) {
	orders := &stubOrders{list: []domain.Order{{ID: "a"}, {ID: "b"}}}
	service := newInternalTestService(orders)
	ctx := context.Background()

	resp, err := service.ListOrders(ctx, mustStruct(t, map[string]any{"status": "pending,confirmed", "limit": 1000.0}))
	if err != nil {
		t.Fatalf("ListOrders failed: %v", err)
	}
	if got := resp.GetFields()["total"].GetNumberValue(); got != 2 {
		t.Fatalf("expected total 2, got %v", got)
	}
	if orders.filter.Limit != maxListOrdersLimit || len(orders.filter.Statuses) != 2 {
		t.Fatalf("unexpected filter: %+v", orders.filter)
	}

	if _, err := service.ListOrders(ctx, nil); err != nil {
		t.Fatalf("nil request must list everything: %v", err)
	}
	if orders.filter.Limit != defaultListOrdersLimit || orders.filter.Statuses != nil {
		t.Fatalf("unexpected default filter: %+v", orders.filter)
	}

	_, err = service.ListOrders(ctx, mustStruct(t, map[string]any{"status": "shipped"}))
	mustStatusCode(t, err, codes.InvalidArgument)
	_, err = service.ListOrders(ctx, mustStruct(t, map[string]any{"limit": -1.0}))
	mustStatusCode(t, err, codes.InvalidArgument)

	orders.err = errors.New("db down")
	_, err = service.ListOrders(ctx, nil)
	mustStatusCode(t, err, codes.Internal)
}

func TestOrderMap(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m := orderMap(domain.Order{
		ID:          "o-1",
		Status:      domain.OrderStatusCanceled,
		AmountMinor: 12345,
		Items:       []domain.OrderItem{{Name: "Guante", Qty: 2, PriceMinor: 100}},
		CreatedAt:   now,
		CanceledAt:  now,
	})
	if m["amount_minor"] != float64(12345) || m["canceled_at"] != "2024-05-01T12:00:00Z" {
		t.Fatalf("unexpected map: %v", m)
	}
	if _, ok := m["confirmed_at"]; ok {
		t.Fatal("zero confirmed_at must be omitted")
	}
	if _, err := structpb.NewStruct(m); err != nil {
		t.Fatalf("order map must convert to Struct: %v", err)
	}
}

func TestDecodeIdempotencyFailure_Branches(t *testing.T) {
	err := decodeIdempotencyFailure(domain.IdempotencyRecord{ResponseBody: []byte(`{"code":5,"message":"order not found"}`)})
	mustStatusCode(t, err, codes.NotFound)

	err = decodeIdempotencyFailure(domain.IdempotencyRecord{ResponseBody: []byte(`{"code":0}`)})
	mustStatusCode(t, err, codes.Internal)

	err = decodeIdempotencyFailure(domain.IdempotencyRecord{ResponseBody: []byte(`broken`), HTTPStatus: int(codes.FailedPrecondition)})
	mustStatusCode(t, err, codes.FailedPrecondition)

	err = decodeIdempotencyFailure(domain.IdempotencyRecord{HTTPStatus: 999})
	mustStatusCode(t, err, codes.Internal)
}

func TestParseStatuses(t *testing.T) {
	got, err := parseStatuses(" all ")
	if err != nil || got != nil {
		t.Fatalf("all must mean no filter: %v %v", got, err)
	}
	got, err = parseStatuses("pending, completed")
	if err != nil || len(got) != 2 || got[1] != domain.OrderStatusCompleted {
		t.Fatalf("unexpected statuses: %v %v", got, err)
	}
}
