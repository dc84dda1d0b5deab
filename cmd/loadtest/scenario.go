package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	grpcsvc "github.com/vladislavdragonenkov/storefront/internal/service/grpc"
	"github.com/vladislavdragonenkov/storefront/internal/tracing"
)

const (
	idempotencyHeader = "Idempotency-Key"
	idempotencyMDKey  = "idempotency-key"
	maxResponseBytes  = 1 << 20
)

var errNoAdminClient = errors.New("admin client is not configured")

// target держит клиентов витрины. HTTP для оформления заказа и admin gRPC для подтверждения и отмены.
type target struct {
	baseURL string
	http    *tracing.HTTPClient
	admins  []*grpcsvc.AdminClient
}

// admin распределяет воркеры по соединениям round-robin.
func (t *target) admin(worker int) *grpcsvc.AdminClient {
	if len(t.admins) == 0 {
		return nil
	}
	return t.admins[worker%len(t.admins)]
}

// runner: общий контекст прогона для всех воркеров.
type runner struct {
	cfg   config
	tgt   *target
	col   *collector
	runID string
}

// runLoad прогоняет сценарии пулом из cfg.concurrency воркеров до исчерпания total,
// истечения duration или отмены ctx.
func runLoad(ctx context.Context, cfg config, tgt *target) report {
	startedAt := time.Now()
	r := &runner{
		cfg:   cfg,
		tgt:   tgt,
		col:   newCollector(),
		runID: fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid()),
	}

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for worker := range cfg.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				_ = r.scenario(ctx, worker, index)
			}
		}()
	}

	dispatchJobs(ctx, jobs, cfg)
	wg.Wait()
	return r.col.buildReport(startedAt, time.Since(startedAt))
}

// dispatchJobs выдаёт номера сценариев и закрывает jobs.
func dispatchJobs(ctx context.Context, jobs chan<- int, cfg config) {
	defer close(jobs)

	var deadline <-chan time.Time
	if cfg.duration > 0 {
		timer := time.NewTimer(cfg.duration)
		defer timer.Stop()
		deadline = timer.C
	}
	capped := cfg.duration <= 0 || cfg.totalSet

	for i := 0; !capped || i < cfg.total; i++ {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case jobs <- i:
		}
	}
}

// scenario оформляет заказ и, в зависимости от режима, подтверждает или отменяет его.
func (r *runner) scenario(ctx context.Context, worker, index int) error {
	var err error
	r.col.timed(scenarioSeries, func() string {
		var code string
		code, err = r.steps(ctx, worker, index)
		return code
	})
	return err
}

func (r *runner) steps(ctx context.Context, worker, index int) (string, error) {
	customerID := fmt.Sprintf("%s-%s-%d", r.cfg.customerTag, r.runID, index)
	orderID, code, err := r.placeOrder(ctx, r.key("place", index), customerID)
	if err != nil {
		return code, err
	}

	var settle func(context.Context, *grpcsvc.AdminClient, string, string) error
	switch {
	case r.cfg.mode == modePlace:
		return codeOK, nil
	case r.cfg.mode == modePlaceCancel || shouldCancelScenario(index, r.cfg.cancelRate):
		settle = r.cancelOrder
		code = "cancel"
	default:
		settle = r.confirmOrder
		code = "confirm"
	}

	if err := settle(ctx, r.tgt.admin(worker), orderID, r.key(code, index)); err != nil {
		return grpcCode(err), err
	}
	return codeOK, nil
}

func (r *runner) key(step string, index int) string {
	return fmt.Sprintf("lt-%s-%s-%d", step, r.runID, index)
}

type placeResponse struct {
	Order struct {
		ID string `json:"id"`
	} `json:"order"`
}

// placeOrder вызывает POST /api/orders. Код результата, HTTP-статус,
// "OK" для 201 и "TRANSPORT" при сетевой ошибке.
func (r *runner) placeOrder(ctx context.Context, key, customerID string) (string, string, error) {
	item := map[string]any{
		"name":       r.cfg.itemName,
		"quantity":   1,
		"unit_price": r.cfg.unitPrice,
	}
	if r.cfg.productID != "" {
		item["product_id"] = r.cfg.productID
	}
	customer := map[string]any{"id": customerID, "name": "Load Test", "phone": "+5491100000000"}
	body, err := json.Marshal(map[string]any{
		"customer":       customer,
		"items":          []any{item},
		"payment_method": r.cfg.paymentMethod,
	})
	if err != nil {
		return "", "MARSHAL", err
	}

	var orderID string
	code := r.col.timed("PlaceOrder", func() string {
		var code string
		code, orderID, err = postOrder(ctx, r.tgt, body, key)
		return code
	})
	return orderID, code, err
}

func postOrder(ctx context.Context, tgt *target, body []byte, key string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tgt.baseURL+"/api/orders", bytes.NewReader(body))
	if err != nil {
		return "REQUEST", "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(idempotencyHeader, key)

	resp, err := tgt.http.Do("loadtest.place_order", req)
	if err != nil {
		return "TRANSPORT", "", err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "TRANSPORT", "", err
	}
	if resp.StatusCode != http.StatusCreated {
		return strconv.Itoa(resp.StatusCode), "", fmt.Errorf("place order: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var decoded placeResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "DECODE", "", fmt.Errorf("decode place order response: %w", err)
	}
	if decoded.Order.ID == "" {
		return "DECODE", "", errors.New("place order response returned empty order id")
	}
	return codeOK, decoded.Order.ID, nil
}

func (r *runner) confirmOrder(ctx context.Context, client *grpcsvc.AdminClient, orderID, key string) error {
	return r.adminCall(ctx, "ConfirmOrder", client, key, func(ctx context.Context) error {
		_, err := client.ConfirmOrder(ctx, orderID, "loadtest")
		return err
	})
}

func (r *runner) cancelOrder(ctx context.Context, client *grpcsvc.AdminClient, orderID, key string) error {
	return r.adminCall(ctx, "CancelOrder", client, key, func(ctx context.Context) error {
		_, err := client.CancelOrder(ctx, orderID, "load-cancel")
		return err
	})
}

// adminCall выполняет вызов admin gRPC с таймаутом и ключом идемпотентности в metadata.
func (r *runner) adminCall(ctx context.Context, method string, client *grpcsvc.AdminClient, key string, call func(context.Context) error) error {
	if client == nil {
		return errNoAdminClient
	}

	var err error
	r.col.timed(method, func() string {
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.timeout)
		defer cancel()
		err = call(metadata.AppendToOutgoingContext(callCtx, idempotencyMDKey, key))
		return grpcCode(err)
	})
	return err
}

func grpcCode(err error) string {
	if err == nil {
		return codeOK
	}
	return status.Code(err).String()
}

// shouldCancelScenario отменяет cancelRate сценариев из каждой сотни.
func shouldCancelScenario(index, cancelRate int) bool {
	return index%100 < min(max(cancelRate, 0), 100)
}
