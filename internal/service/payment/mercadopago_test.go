package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *MercadoPagoClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewMercadoPagoClient(MercadoPagoConfig{
		BaseURL:     srv.URL,
		AccessToken: "TEST-token",
		FrontendURL: "https://shop.example",
		BackendURL:  "https://api.shop.example",
		Timeout:     2 * time.Second,
	}, nil, nil)
}

func sampleRequest() domain.PreferenceRequest {
	return domain.PreferenceRequest{
		OrderID:      "order-1",
		CustomerID:   "user-1",
		PayerEmail:   "ana@example.com",
		Items:        []domain.PreferenceItem{{ID: "p1", Title: strings.Repeat("x", 300), Qty: 2, PriceMinor: 1500_50}},
		PointsEarned: 3,
	}
}

func TestCreatePreference(t *testing.T) {
	var got mpPreferenceRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/checkout/preferences" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer TEST-token" {
			t.Errorf("missing bearer token")
		}
		if r.Header.Get("X-Idempotency-Key") != "preference-order-1" {
			t.Errorf("unexpected idempotency key %q", r.Header.Get("X-Idempotency-Key"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"123-abc","init_point":"https://mp/init","sandbox_init_point":"https://mp/sandbox"}`))
	})

	pref, err := client.CreatePreference(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("CreatePreference failed: %v", err)
	}
	if pref.ID != "123-abc" || pref.InitPoint != "https://mp/init" || pref.SandboxInitPoint != "https://mp/sandbox" || pref.Demo {
		t.Fatalf("unexpected preference: %+v", pref)
	}
	if len(got.Items) != 1 || len([]rune(got.Items[0].Title)) != 256 {
		t.Fatalf("title must be truncated: %+v", got.Items)
	}
	if got.Items[0].UnitPrice != 1500.5 || got.Items[0].CurrencyID != "ARS" || got.Items[0].Quantity != 2 {
		t.Fatalf("unexpected item: %+v", got.Items[0])
	}
	if got.ExternalReference != "order-1" || got.AutoReturn != "approved" {
		t.Fatalf("unexpected reference fields: %+v", got)
	}
	if got.NotificationURL != "https://api.shop.example/webhook/secure" {
		t.Fatalf("unexpected notification url: %s", got.NotificationURL)
	}
	if got.BackURLs.Success != "https://shop.example/success" || got.BackURLs.Pending != "https://shop.example/pending" {
		t.Fatalf("unexpected back urls: %+v", got.BackURLs)
	}
	if got.Payer == nil || got.Payer.Email != "ana@example.com" || !got.Expires {
		t.Fatalf("unexpected payer/expiration: %+v", got)
	}
	from, _ := time.Parse(time.RFC3339, got.ExpirationDateFrom)
	to, _ := time.Parse(time.RFC3339, got.ExpirationDateTo)
	if to.Sub(from) != PreferenceLifetime {
		t.Fatalf("unexpected expiration window: %s - %s", got.ExpirationDateFrom, got.ExpirationDateTo)
	}
}

func TestCreatePreference_Validation(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("provider must not be called for invalid request")
	})
	req := sampleRequest()
	req.Items[0].PriceMinor = domain.MaxProviderAmountMinor
	_, err := client.CreatePreference(context.Background(), req)
	if !errors.Is(err, domain.ErrAmountTooLarge) || !domain.IsValidation(err) {
		t.Fatalf("expected ErrAmountTooLarge, got %v", err)
	}
}

func TestGetPayment(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payments/987" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{
			"id": 987,
			"status": "approved",
			"status_detail": "accredited",
			"external_reference": "order-1",
			"transaction_amount": 3001.1,
			"currency_id": "ARS",
			"date_created": "2024-05-01T10:00:00.000-03:00",
			"date_approved": "2024-05-01T10:01:00.000-03:00",
			"payer": {"email": "ana@example.com"},
			"metadata": {"usuario_id": "user-1"}
		}`))
	})

	p, err := client.GetPayment(context.Background(), "987")
	if err != nil {
		t.Fatalf("GetPayment failed: %v", err)
	}
	if p.ID != "987" || p.Status != domain.PaymentStatusApproved || p.ExternalReference != "order-1" {
		t.Fatalf("unexpected payment: %+v", p)
	}
	if p.AmountMinor != 3001_10 {
		t.Fatalf("unexpected amount: %d", p.AmountMinor)
	}
	if p.ApprovedAt.IsZero() || p.ApprovedAt.Location() != time.UTC {
		t.Fatalf("approved_at must be UTC: %v", p.ApprovedAt)
	}
	if p.Metadata["usuario_id"] != "user-1" || p.PayerEmail != "ana@example.com" {
		t.Fatalf("unexpected metadata: %+v", p)
	}
}

func TestGetPayment_ErrorMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, domain.ErrPaymentNotFound},
		{http.StatusTooManyRequests, domain.ErrPaymentTemporary},
		{http.StatusBadGateway, domain.ErrPaymentTemporary},
		{http.StatusUnauthorized, domain.ErrPaymentProvider},
	}
	for _, tc := range cases {
		status := tc.status
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"message":"boom"}`))
		})
		_, err := client.GetPayment(context.Background(), "1")
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
	}

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("provider must not be called for non-numeric id")
	})
	if _, err := client.GetPayment(context.Background(), "abc"); !errors.Is(err, domain.ErrInvalidPaymentID) {
		t.Fatalf("expected ErrInvalidPaymentID, got %v", err)
	}
}

func TestIsNumericPaymentID(t *testing.T) {
	for id, want := range map[string]bool{"123": true, "": false, "12a": false, "-1": false, "demo_1_2": false} {
		if got := IsNumericPaymentID(id); got != want {
			t.Fatalf("IsNumericPaymentID(%q) = %v", id, got)
		}
	}
}
