package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	grpcsvc "github.com/vladislavdragonenkov/storefront/internal/service/grpc"
	"github.com/vladislavdragonenkov/storefront/internal/tracing"
)

// parseArgs прогоняет аргументы через cobra и возвращает итоговую конфигурацию.
func parseArgs(t *testing.T, args ...string) (config, error) {
	t.Helper()

	var got config
	cmd := newRootCmd(func(_ context.Context, cfg config) error {
		got = cfg
		return nil
	})
	cmd.SetArgs(args)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	err := cmd.ExecuteContext(context.Background())
	return got, err
}

func TestParseMode(t *testing.T) {
	for input, want := range map[string]loadMode{
		"place":          modePlace,
		"place-confirm":  modePlaceConfirm,
		" place-cancel ": modePlaceCancel,
	} {
		got, err := parseMode(input)
		require.NoError(t, err, input)
		require.Equal(t, want, got)
	}

	_, err := parseMode("create-pay")
	require.ErrorContains(t, err, "unsupported mode")

	require.False(t, modePlace.needsAdmin())
	require.True(t, modePlaceCancel.needsAdmin())
}

func TestRootCommandFlags(t *testing.T) {
	t.Run("explicit values", func(t *testing.T) {
		cfg, err := parseArgs(t,
			"--base-url=http://127.0.0.1:3000/",
			"--admin-addr=127.0.0.1:50051",
			"--admin-token=ops-token",
			"--mode=place-confirm",
			"--total=12",
			"-c", "3",
			"--connections=2",
			"--timeout=2s",
			"--cancel-rate=10",
			"--payment-method=transferencia",
			"--product-id=p-1",
			"--unit-price=99.5",
			"--customer-tag=stage",
			"-o", "out.json",
		)
		require.NoError(t, err)
		require.True(t, cfg.totalSet)
		require.Equal(t, "http://127.0.0.1:3000", cfg.baseURL)
		require.Equal(t, modePlaceConfirm, cfg.mode)
		require.Equal(t, 12, cfg.total)
		require.Equal(t, 3, cfg.concurrency)
		require.Equal(t, 2, cfg.connections)
		require.Equal(t, 10, cfg.cancelRate)
		require.Equal(t, 2*time.Second, cfg.timeout)
		require.InDelta(t, 99.5, cfg.unitPrice, 1e-9)
		require.Equal(t, "transferencia", cfg.paymentMethod)
		require.Equal(t, "p-1", cfg.productID)
		require.Equal(t, "out.json", cfg.outputPath)
		require.Equal(t, "ops-token", cfg.adminToken)
	})

	t.Run("defaults with duration", func(t *testing.T) {
		cfg, err := parseArgs(t, "--duration=3s")
		require.NoError(t, err)
		require.Equal(t, 3*time.Second, cfg.duration)
		require.False(t, cfg.totalSet)
		require.Equal(t, modePlace, cfg.mode)
		require.Equal(t, defaultConfig().total, cfg.total)
		require.Equal(t, "duration:3s", cfg.describeRun())
	})

	t.Run("rejects", func(t *testing.T) {
		tests := []struct {
			name    string
			args    []string
			wantErr string
		}{
			{name: "invalid duration", args: []string{"--duration=bad"}, wantErr: "invalid argument"},
			{name: "negative duration", args: []string{"--duration=-1s"}, wantErr: "duration must be >= 0"},
			{name: "cancel rate", args: []string{"--cancel-rate=101"}, wantErr: "cancel-rate must be between 0 and 100"},
			{name: "zero total", args: []string{"--total=0"}, wantErr: "total must be > 0"},
			{name: "zero total with duration", args: []string{"--duration=1s", "--total=0"}, wantErr: "explicitly set with duration"},
			{name: "zero price", args: []string{"--unit-price=0"}, wantErr: "unit-price must be > 0"},
			{name: "empty base url", args: []string{"--base-url= "}, wantErr: "base-url is required"},
			{name: "admin required", args: []string{"--mode=place-cancel", "--admin-addr="}, wantErr: "admin-addr is required"},
			{name: "unknown mode", args: []string{"--mode=create"}, wantErr: "unsupported mode"},
			{name: "positional args", args: []string{"extra"}, wantErr: "unknown command"},
		}

		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				_, err := parseArgs(t, tc.args...)
				require.ErrorContains(t, err, tc.wantErr)
			})
		}
	})
}

func TestNormalizeReportsAllProblems(t *testing.T) {
	cfg := defaultConfig()
	cfg.concurrency = 0
	cfg.customerTag = " "
	cfg.cancelRate = -1

	err := cfg.normalize()
	require.ErrorContains(t, err, "concurrency must be > 0")
	require.ErrorContains(t, err, "customer-tag is required")
	require.ErrorContains(t, err, "cancel-rate must be between 0 and 100")
}

func TestDescribeRun(t *testing.T) {
	require.Equal(t, "count:50", config{total: 50}.describeRun())
	require.Equal(t, "duration:2s", config{duration: 2 * time.Second}.describeRun())
	require.Equal(t, "duration:2s,max-total:10", config{duration: 2 * time.Second, total: 10, totalSet: true}.describeRun())
}

func drain(jobs <-chan int) []int {
	var got []int
	for v := range jobs {
		got = append(got, v)
	}
	return got
}

func TestDispatchJobs(t *testing.T) {
	t.Run("count", func(t *testing.T) {
		jobs := make(chan int, 16)
		dispatchJobs(context.Background(), jobs, config{total: 5})
		require.Equal(t, []int{0, 1, 2, 3, 4}, drain(jobs))
	})

	t.Run("duration", func(t *testing.T) {
		jobs := make(chan int, 32)
		done := make(chan []int)
		go func() { done <- drain(jobs) }()

		dispatchJobs(context.Background(), jobs, config{duration: 20 * time.Millisecond})
		require.NotEmpty(t, <-done)
	})

	t.Run("duration capped by total", func(t *testing.T) {
		jobs := make(chan int, 16)
		dispatchJobs(context.Background(), jobs, config{duration: time.Second, total: 3, totalSet: true})
		require.Len(t, drain(jobs), 3)
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		jobs := make(chan int)
		dispatchJobs(ctx, jobs, config{total: 100})
		require.Empty(t, drain(jobs))
	})
}

func TestCollector(t *testing.T) {
	c := newCollector()
	c.record(scenarioSeries, 10*time.Millisecond, codeOK)
	c.record(scenarioSeries, 20*time.Millisecond, "409")
	code := c.timed("PlaceOrder", func() string { return codeOK })
	require.Equal(t, codeOK, code)

	snap, ok := c.snapshot(scenarioSeries)
	require.True(t, ok)
	require.EqualValues(t, 2, snap.Calls)
	require.EqualValues(t, 1, snap.Success)
	require.EqualValues(t, 1, snap.Failed)
	require.Equal(t, map[string]int64{codeOK: 1, "409": 1}, snap.Codes)

	_, ok = c.snapshot("missing")
	require.False(t, ok)

	r := c.buildReport(time.Now(), 2*time.Second)
	require.EqualValues(t, 2, r.TotalScenarios)
	require.EqualValues(t, 1, r.FailedScenarios)
	require.InDelta(t, 1.0, r.RPS, 1e-9)
	require.InDelta(t, 0.5, r.ErrorRate, 1e-9)
	require.Contains(t, r.Methods, "PlaceOrder")
}

func TestLatencyMath(t *testing.T) {
	sorted := []float64{10, 20, 30, 40}
	require.InDelta(t, 25, quantile(sorted, 0.5), 1e-9)
	require.InDelta(t, 40, quantile(sorted, 1), 1e-9)
	require.InDelta(t, 10, quantile(sorted, 0), 1e-9)
	require.Zero(t, quantile(nil, 0.5))
	require.InDelta(t, 7, quantile([]float64{7}, 0.99), 1e-9)

	summary := summarize([]time.Duration{40 * time.Millisecond, 10 * time.Millisecond, 30 * time.Millisecond, 20 * time.Millisecond})
	require.InDelta(t, 10, summary.Min, 1e-9)
	require.InDelta(t, 40, summary.Max, 1e-9)
	require.InDelta(t, 25, summary.Avg, 1e-9)
	require.InDelta(t, 25, summary.P50, 1e-9)
	require.Equal(t, latencySummary{}, summarize(nil))

	require.InDelta(t, 0.25, ratio(1, 4), 1e-9)
	require.Zero(t, ratio(1, 0))
}

func TestHelpers(t *testing.T) {
	require.Equal(t, codeOK, grpcCode(nil))
	require.Equal(t, codes.FailedPrecondition.String(), grpcCode(status.Error(codes.FailedPrecondition, "settled")))

	require.True(t, shouldCancelScenario(5, 10))
	require.False(t, shouldCancelScenario(15, 10))
	require.False(t, shouldCancelScenario(0, 0))
	require.True(t, shouldCancelScenario(99, 100))

	require.Equal(t, "409:1,OK:3", formatCodes(map[string]int64{"OK": 3, "409": 1}))
}

func TestWriteJSONReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	sample := report{TotalScenarios: 2, SuccessScenarios: 2}
	require.NoError(t, writeJSONReport(path, sample))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded report
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.EqualValues(t, 2, decoded.TotalScenarios)
	require.EqualValues(t, 2, decoded.SuccessScenarios)

	require.ErrorContains(t, writeJSONReport("../escape.json", sample), "inside current directory")
	require.ErrorContains(t, writeJSONReport(".", sample), "must point to a file")
}

// fakeStorefront отвечает на POST /api/orders и запоминает ключи идемпотентности.
type fakeStorefront struct {
	mu     sync.Mutex
	keys   []string
	bodies []map[string]any
	status int
}

func (f *fakeStorefront) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != "/api/orders" {
		http.NotFound(w, r)
		return
	}
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.keys = append(f.keys, r.Header.Get(idempotencyHeader))
	f.bodies = append(f.bodies, body)
	n := len(f.keys)
	code := f.status
	f.mu.Unlock()

	if code != 0 {
		w.WriteHeader(code)
		_, _ = io.WriteString(w, `{"error":"Conflict"}`)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{"order": map[string]any{"id": "order-" + strings.Repeat("x", n)}})
}

type recordingAdmin struct {
	mu         sync.Mutex
	confirmed  []string
	canceled   []string
	keys       []string
	confirmErr error
}

func (a *recordingAdmin) note(ctx context.Context, req *structpb.Struct, into *[]string) {
	md, _ := metadata.FromIncomingContext(ctx)
	a.keys = append(a.keys, strings.Join(md.Get(idempotencyMDKey), ","))
	*into = append(*into, req.GetFields()["order_id"].GetStringValue())
}

func (a *recordingAdmin) ConfirmOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.confirmErr != nil {
		return nil, a.confirmErr
	}
	a.note(ctx, req, &a.confirmed)
	return structpb.NewStruct(map[string]any{"order": map[string]any{"status": "confirmed"}})
}

func (a *recordingAdmin) CancelOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.note(ctx, req, &a.canceled)
	return structpb.NewStruct(map[string]any{"order": map[string]any{"status": "canceled"}})
}

func (a *recordingAdmin) GetOrder(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "not used")
}

func (a *recordingAdmin) ListOrders(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "not used")
}

func newTestTarget(t *testing.T, shop *fakeStorefront, admin *recordingAdmin) *target {
	t.Helper()
	return newAuthTestTarget(t, shop, admin, "", defaultConfig())
}

// newAuthTestTarget требует serverToken на стороне сервера и дозванивается
// с параметрами, которые execute собирает из cfg.
func newAuthTestTarget(t *testing.T, shop *fakeStorefront, admin *recordingAdmin, serverToken string, cfg config) *target {
	t.Helper()

	srv := httptest.NewServer(shop)
	t.Cleanup(srv.Close)

	listener := bufconn.Listen(1 << 20)
	server := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcsvc.AuthUnaryInterceptor(serverToken)))
	grpcsvc.RegisterAdminServer(server, admin)
	go func() { _ = server.Serve(listener) }()
	t.Cleanup(server.Stop)

	opts := append(adminDialOptions(cfg),
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return listener.Dial() }),
	)
	conn, err := grpc.NewClient("passthrough:///bufnet", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &target{
		baseURL: srv.URL,
		http:    tracing.NewHTTPClient(tracing.Tracer(), 2*time.Second),
		admins:  []*grpcsvc.AdminClient{grpcsvc.NewAdminClient(conn)},
	}
}

func testConfig(mode loadMode) config {
	cfg := defaultConfig()
	cfg.total = 4
	cfg.concurrency = 2
	cfg.connections = 1
	cfg.timeout = 2 * time.Second
	cfg.mode = mode
	cfg.unitPrice = 12.5
	cfg.customerTag = "lt"
	return cfg
}

func testRunner(tgt *target, cfg config) *runner {
	return &runner{cfg: cfg, tgt: tgt, col: newCollector(), runID: "run"}
}

func TestScenario(t *testing.T) {
	ctx := context.Background()

	t.Run("place sends idempotency key and order body", func(t *testing.T) {
		shop := &fakeStorefront{}
		cfg := testConfig(modePlace)
		cfg.productID = "p-7"
		r := testRunner(newTestTarget(t, shop, &recordingAdmin{}), cfg)

		require.NoError(t, r.scenario(ctx, 0, 3))
		require.Equal(t, []string{"lt-place-run-3"}, shop.keys)

		body := shop.bodies[0]
		require.Equal(t, "efectivo", body["payment_method"])
		items, _ := body["items"].([]any)
		require.Len(t, items, 1)
		require.Equal(t, "p-7", items[0].(map[string]any)["product_id"])
		require.Equal(t, "lt-run-3", body["customer"].(map[string]any)["id"])

		snap, _ := r.col.snapshot("PlaceOrder")
		require.EqualValues(t, 1, snap.Success)
	})

	t.Run("confirm mode calls admin confirm", func(t *testing.T) {
		admin := &recordingAdmin{}
		r := testRunner(newTestTarget(t, &fakeStorefront{}, admin), testConfig(modePlaceConfirm))

		require.NoError(t, r.scenario(ctx, 0, 1))
		require.Len(t, admin.confirmed, 1)
		require.Empty(t, admin.canceled)
		require.Equal(t, []string{"lt-confirm-run-1"}, admin.keys)
	})

	t.Run("cancel rate diverts to cancel", func(t *testing.T) {
		admin := &recordingAdmin{}
		cfg := testConfig(modePlaceConfirm)
		cfg.cancelRate = 100
		r := testRunner(newTestTarget(t, &fakeStorefront{}, admin), cfg)

		require.NoError(t, r.scenario(ctx, 0, 0))
		require.Len(t, admin.canceled, 1)
		require.Empty(t, admin.confirmed)
		require.Equal(t, []string{"lt-cancel-run-0"}, admin.keys)
	})

	t.Run("http failure is labelled with status code", func(t *testing.T) {
		r := testRunner(newTestTarget(t, &fakeStorefront{status: http.StatusConflict}, &recordingAdmin{}), testConfig(modePlace))

		require.Error(t, r.scenario(ctx, 0, 0))
		snap, _ := r.col.snapshot(scenarioSeries)
		require.EqualValues(t, 1, snap.Failed)
		require.EqualValues(t, 1, snap.Codes["409"])
	})

	t.Run("admin failure is labelled with grpc code", func(t *testing.T) {
		admin := &recordingAdmin{confirmErr: status.Error(codes.FailedPrecondition, "already settled")}
		r := testRunner(newTestTarget(t, &fakeStorefront{}, admin), testConfig(modePlaceConfirm))

		err := r.scenario(ctx, 0, 0)
		require.Equal(t, codes.FailedPrecondition, status.Code(err))
		snap, _ := r.col.snapshot("ConfirmOrder")
		require.EqualValues(t, 1, snap.Codes[codes.FailedPrecondition.String()])
	})

	t.Run("admin token is sent with each call", func(t *testing.T) {
		admin := &recordingAdmin{}
		cfg := testConfig(modePlaceConfirm)
		cfg.adminToken = "ops-token"
		r := testRunner(newAuthTestTarget(t, &fakeStorefront{}, admin, "ops-token", cfg), cfg)

		require.NoError(t, r.scenario(ctx, 0, 1))
		require.Len(t, admin.confirmed, 1)
	})

	t.Run("wrong admin token is unauthenticated", func(t *testing.T) {
		admin := &recordingAdmin{}
		cfg := testConfig(modePlaceConfirm)
		cfg.adminToken = "guess"
		r := testRunner(newAuthTestTarget(t, &fakeStorefront{}, admin, "ops-token", cfg), cfg)

		err := r.scenario(ctx, 0, 1)
		require.Equal(t, codes.Unauthenticated, status.Code(err))
		require.Empty(t, admin.confirmed)
	})

	t.Run("missing admin client", func(t *testing.T) {
		tgt := newTestTarget(t, &fakeStorefront{}, &recordingAdmin{})
		tgt.admins = nil
		r := testRunner(tgt, testConfig(modePlaceCancel))

		require.ErrorIs(t, r.scenario(ctx, 0, 0), errNoAdminClient)
	})
}

func TestRunLoad(t *testing.T) {
	admin := &recordingAdmin{}
	tgt := newTestTarget(t, &fakeStorefront{}, admin)

	result := runLoad(context.Background(), testConfig(modePlaceCancel), tgt)

	require.EqualValues(t, 4, result.TotalScenarios)
	require.EqualValues(t, 4, result.SuccessScenarios)
	require.Zero(t, result.FailedScenarios)
	require.EqualValues(t, 4, result.Methods["PlaceOrder"].Calls)
	require.EqualValues(t, 4, result.Methods["CancelOrder"].Calls)
	require.Len(t, admin.canceled, 4)

	keys := slices.Clone(admin.keys)
	slices.Sort(keys)
	require.Len(t, slices.Compact(keys), 4)
}

func TestExecuteFailsOnFailedScenarios(t *testing.T) {
	srv := httptest.NewServer(&fakeStorefront{status: http.StatusServiceUnavailable})
	t.Cleanup(srv.Close)

	cfg := testConfig(modePlace)
	cfg.baseURL = srv.URL
	cfg.total = 2

	var out bytes.Buffer
	err := execute(context.Background(), cfg, &out)
	require.ErrorIs(t, err, errScenariosFailed)
	require.Contains(t, out.String(), "codes=503:2")
}

func TestPrintReport(t *testing.T) {
	r := report{
		TotalScenarios:   2,
		SuccessScenarios: 2,
		Methods: map[string]methodReport{
			scenarioSeries: {Calls: 2, Success: 2},
			"PlaceOrder":   {Calls: 2, Success: 2, Codes: map[string]int64{codeOK: 2}},
		},
	}

	var buf bytes.Buffer
	printReport(&buf, r, config{baseURL: "http://shop", mode: modePlace, total: 2})
	out := buf.String()

	require.Contains(t, out, "Load test summary")
	require.Contains(t, out, "run=count:2")
	require.Contains(t, out, "PlaceOrder")
	require.Contains(t, out, "codes=OK:2")
	require.NotContains(t, out, "scenario:")
}

func TestPostOrderRejectsEmptyID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"order":{}}`)
	}))
	t.Cleanup(srv.Close)

	tgt := &target{baseURL: srv.URL, http: tracing.NewHTTPClient(tracing.Tracer(), time.Second)}
	code, _, err := postOrder(context.Background(), tgt, []byte(`{}`), "k")
	require.Error(t, err)
	require.Equal(t, "DECODE", code)
}
