// Package grpcsvc реализует административный gRPC API витрины: подтверждение, отмена и просмотр заказов.
package grpcsvc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/resilience"
)

// Orders: операции над заказами, доступные администратору.
type Orders interface {
	Get(ctx context.Context, id string) (domain.Order, error)
	List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)
	Timeline(ctx context.Context, id string) ([]domain.TimelineEvent, error)
	Confirm(ctx context.Context, id, confirmedBy string) (domain.Order, error)
	Cancel(ctx context.Context, id, reason string) (domain.Order, error)
}

// AdminService реализует AdminServer поверх сервиса заказов.
type AdminService struct {
	orders   Orders
	idemRepo domain.IdempotencyRepository
	logger   *log.Entry
	now      func() time.Time
}

const (
	defaultListOrdersLimit = 100
	maxListOrdersLimit     = 500

	idempotencyKeyHeader = "idempotency-key"
	idempotencyTTL       = 24 * time.Hour

	defaultConfirmedBy = "grpc-admin"
)

var _ AdminServer = (*AdminService)(nil)

// NewAdminService конструирует сервис. idemRepo может быть nil: тогда
// изменяющие вызовы не кэшируются и idempotency-key не обязателен.
func NewAdminService(orders Orders, idemRepo domain.IdempotencyRepository, logger *log.Entry) *AdminService {
	if logger == nil {
		logger = log.New().WithField("component", "admin-grpc")
	}
	return &AdminService{
		orders:   orders,
		idemRepo: idemRepo,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ConfirmOrder подтверждает оплату заказа оператором.
func (s *AdminService) ConfirmOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	orderID := stringField(req, "order_id")
	if orderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	confirmedBy := stringField(req, "confirmed_by")
	if confirmedBy == "" {
		confirmedBy = defaultConfirmedBy
	}

	return withIdempotency(s, ctx, MethodConfirmOrder, req, func(ctx context.Context) (*structpb.Struct, error) {
		order, err := s.orders.Confirm(ctx, orderID, confirmedBy)
		if err != nil {
			return nil, s.statusError(err, "ConfirmOrder", orderID)
		}
		return orderResponse(order, nil)
	})
}

// CancelOrder отменяет неоплаченный заказ.
func (s *AdminService) CancelOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	orderID := stringField(req, "order_id")
	if orderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	reason := stringField(req, "reason")

	return withIdempotency(s, ctx, MethodCancelOrder, req, func(ctx context.Context) (*structpb.Struct, error) {
		order, err := s.orders.Cancel(ctx, orderID, reason)
		if err != nil {
			return nil, s.statusError(err, "CancelOrder", orderID)
		}
		return orderResponse(order, nil)
	})
}

// GetOrder возвращает заказ и его таймлайн.
func (s *AdminService) GetOrder(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	orderID := strings.TrimSpace(req.GetValue())
	if orderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, s.statusError(err, "GetOrder", orderID)
	}
	events, err := s.orders.Timeline(ctx, orderID)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Warn("failed to list timeline events")
		events = nil
	}
	return orderResponse(order, events)
}

// ListOrders возвращает заказы от новых к старым.
func (s *AdminService) ListOrders(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	filter := domain.OrderFilter{
		CustomerID: stringField(req, "customer_id"),
		Limit:      defaultListOrdersLimit,
	}
	if v, ok := req.GetFields()["limit"]; ok {
		limit := int(v.GetNumberValue())
		if limit < 0 {
			return nil, status.Error(codes.InvalidArgument, "limit must be >= 0")
		}
		if limit > 0 {
			filter.Limit = min(limit, maxListOrdersLimit)
		}
	}
	statuses, err := parseStatuses(stringField(req, "status"))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	filter.Statuses = statuses

	list, err := s.orders.List(ctx, filter)
	if err != nil {
		return nil, s.statusError(err, "ListOrders", "")
	}
	items := make([]any, 0, len(list))
	for _, order := range list {
		items = append(items, orderMap(order))
	}
	out, err := structpb.NewStruct(map[string]any{
		"orders": items,
		"total":  float64(len(items)),
	})
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode orders")
	}
	return out, nil
}

func parseStatuses(raw string) ([]domain.OrderStatus, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "all" {
		return nil, nil
	}
	var out []domain.OrderStatus
	for _, part := range strings.Split(raw, ",") {
		st, ok := domain.ParseOrderStatus(strings.TrimSpace(part))
		if !ok {
			return nil, fmt.Errorf("unknown order status %q", part)
		}
		out = append(out, st)
	}
	return out, nil
}

// statusError сопоставляет доменные ошибки кодам gRPC.
func (s *AdminService) statusError(err error, operation, orderID string) error {
	entry := s.logger.WithError(err).WithFields(log.Fields{
		"operation": operation,
		"order_id":  orderID,
	})
	switch {
	case domain.IsValidation(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrOrderNotFound):
		return status.Error(codes.NotFound, domain.ErrOrderNotFound.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrOrderVersionConflict):
		entry.Warn("order update conflict")
		return status.Error(codes.Aborted, domain.ErrOrderVersionConflict.Error())
	case errors.Is(err, resilience.ErrCircuitOpen),
		errors.Is(err, context.DeadlineExceeded):
		entry.Warn("dependency unavailable")
		return status.Error(codes.Unavailable, err.Error())
	default:
		entry.Error("admin operation failed")
		return status.Error(codes.Internal, "failed to "+strings.ToLower(operation[:1])+operation[1:])
	}
}

func stringField(req *structpb.Struct, name string) string {
	v, ok := req.GetFields()[name]
	if !ok {
		return ""
	}
	return strings.TrimSpace(v.GetStringValue())
}

func orderResponse(order domain.Order, events []domain.TimelineEvent) (*structpb.Struct, error) {
	fields := map[string]any{"order": orderMap(order)}
	if events != nil {
		timeline := make([]any, 0, len(events))
		for _, e := range events {
			timeline = append(timeline, map[string]any{
				"type":        e.Type,
				"reason":      e.Reason,
				"actor":       e.Actor,
				"occurred_at": e.Occurred.UTC().Format(time.RFC3339),
			})
		}
		fields["timeline"] = timeline
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode order")
	}
	return out, nil
}

// orderMap строит представление заказа для structpb. Суммы в сентаво числами, время в RFC 3339.
func orderMap(o domain.Order) map[string]any {
	items := make([]any, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, map[string]any{
			"product_id":  it.ProductID,
			"name":        it.Name,
			"quantity":    float64(it.Qty),
			"price_minor": float64(it.PriceMinor),
		})
	}
	m := map[string]any{
		"id":             o.ID,
		"customer_id":    o.Customer.ID,
		"customer_name":  o.Customer.Name,
		"status":         string(o.Status),
		"payment_method": string(o.PaymentMethod),
		"payment_id":     o.PaymentID,
		"currency":       o.Currency,
		"subtotal_minor": float64(o.SubtotalMinor),
		"discount_minor": float64(o.DiscountMinor),
		"amount_minor":   float64(o.AmountMinor),
		"points_earned":  float64(o.PointsEarned),
		"items":          items,
		"version":        float64(o.Version),
		"created_at":     o.CreatedAt.UTC().Format(time.RFC3339),
	}
	if o.CouponCode != "" {
		m["coupon_code"] = o.CouponCode
	}
	if !o.ConfirmedAt.IsZero() {
		m["confirmed_at"] = o.ConfirmedAt.UTC().Format(time.RFC3339)
		m["confirmed_by"] = o.ConfirmedBy
	}
	if !o.CompletedAt.IsZero() {
		m["completed_at"] = o.CompletedAt.UTC().Format(time.RFC3339)
	}
	if !o.CanceledAt.IsZero() {
		m["canceled_at"] = o.CanceledAt.UTC().Format(time.RFC3339)
		m["cancel_reason"] = o.CancelReason
	}
	return m
}

type idempotencyErrorPayload struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

// withIdempotency кэширует ответ изменяющего вызова по метаданным idempotency-key.
func withIdempotency(
	s *AdminService,
	ctx context.Context,
	method string,
	req proto.Message,
	handler func(context.Context) (*structpb.Struct, error),
) (*structpb.Struct, error) {
	if s.idemRepo == nil {
		return handler(ctx)
	}

	idemKey, err := readIdempotencyKey(ctx)
	if err != nil {
		return nil, err
	}

	reqHash, err := buildIdempotencyRequestHash(method, req)
	if err != nil {
		s.logger.WithError(err).WithField("method", method).Warn("failed to build idempotency request hash")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	record, err := s.idemRepo.CreateProcessing(ctx, idemKey, reqHash, s.now().Add(idempotencyTTL))
	if err != nil {
		return replayIdempotency(s, err, record)
	}

	resp, runErr := handler(ctx)
	if runErr != nil {
		s.cacheIdempotencyFailure(ctx, idemKey, runErr)
		return nil, runErr
	}

	if cacheErr := s.cacheIdempotencySuccess(ctx, idemKey, resp); cacheErr != nil {
		s.logger.WithError(cacheErr).WithField("idempotency_key", idemKey).Warn("failed to store idempotent success response")
	}
	return resp, nil
}

func replayIdempotency(s *AdminService, createErr error, record domain.IdempotencyRecord) (*structpb.Struct, error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return nil, status.Error(codes.AlreadyExists, "idempotency key is already used with different request payload")
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone:
			if len(record.ResponseBody) == 0 {
				return nil, status.Error(codes.Internal, "idempotency cache is empty")
			}
			resp := &structpb.Struct{}
			if err := protojson.Unmarshal(record.ResponseBody, resp); err != nil {
				s.logger.WithError(err).WithField("idempotency_key", record.Key).Warn("failed to decode cached idempotency response")
				return nil, status.Error(codes.Internal, "failed to decode cached idempotency response")
			}
			return resp, nil
		case domain.IdempotencyStatusProcessing:
			return nil, status.Error(codes.Aborted, "request with the same idempotency key is already processing")
		case domain.IdempotencyStatusFailed:
			return nil, decodeIdempotencyFailure(record)
		default:
			return nil, status.Error(codes.Internal, "unknown idempotency record status")
		}
	default:
		s.logger.WithError(createErr).Warn("failed to create idempotency record")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}
}

func (s *AdminService) cacheIdempotencySuccess(ctx context.Context, key string, resp proto.Message) error {
	data, err := protojson.Marshal(resp)
	if err != nil {
		return err
	}
	return s.idemRepo.MarkDone(ctx, key, data, int(codes.OK))
}

func (s *AdminService) cacheIdempotencyFailure(ctx context.Context, key string, runErr error) {
	st := status.Convert(runErr)
	code := st.Code()
	if code == codes.OK {
		code = codes.Internal
	}

	payload, err := json.Marshal(idempotencyErrorPayload{
		Code:    int32(code), //nolint:gosec // codes.Code is a bounded enum value.
		Message: st.Message(),
	})
	if err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to encode idempotency failure payload")
		payload = nil
	}

	if err := s.idemRepo.MarkFailed(ctx, key, payload, int(code)); err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotency failure response")
	}
}

func decodeIdempotencyFailure(record domain.IdempotencyRecord) error {
	if len(record.ResponseBody) > 0 {
		var payload idempotencyErrorPayload
		if err := json.Unmarshal(record.ResponseBody, &payload); err == nil {
			if code, ok := grpcCode(int64(payload.Code)); ok {
				if code == codes.OK {
					code = codes.Internal
				}
				if payload.Message == "" {
					payload.Message = "previous request with the same idempotency key failed"
				}
				return status.Error(code, payload.Message)
			}
		}
	}

	if record.HTTPStatus > 0 {
		if code, ok := grpcCode(int64(record.HTTPStatus)); ok && code != codes.OK {
			return status.Error(code, "previous request with the same idempotency key failed")
		}
	}

	return status.Error(codes.Internal, "previous request with the same idempotency key failed")
}

func grpcCode(value int64) (codes.Code, bool) {
	if value < int64(codes.OK) || value > int64(codes.Unauthenticated) {
		return codes.Internal, false
	}
	return codes.Code(uint32(value)), true
}

func readIdempotencyKey(ctx context.Context) (string, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		values := md.Get(idempotencyKeyHeader)
		if len(values) > 0 && strings.TrimSpace(values[0]) != "" {
			return strings.TrimSpace(values[0]), nil
		}
	}
	return "", status.Error(codes.InvalidArgument, "idempotency-key metadata is required")
}

func buildIdempotencyRequestHash(method string, req proto.Message) (string, error) {
	if req == nil {
		return "", fmt.Errorf("request is nil")
	}

	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(req)
	if err != nil {
		return "", err
	}

	payload := make([]byte, 0, len(method)+1+len(data))
	payload = append(payload, method...)
	payload = append(payload, ':')
	payload = append(payload, data...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
