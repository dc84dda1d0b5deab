package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestTwilioClient_SendWhatsApp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Accounts/AC123/Messages.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC123" || pass != "secret" {
			t.Errorf("unexpected basic auth %q %q", user, pass)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("To") != "whatsapp:5491122334455" || r.PostForm.Get("From") != "whatsapp:14155238886" {
			t.Errorf("unexpected form: %v", r.PostForm)
		}
		if r.PostForm.Get("Body") != "hola" {
			t.Errorf("unexpected body: %q", r.PostForm.Get("Body"))
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM1","status":"queued"}`))
	}))
	defer srv.Close()

	client := NewTwilioClient(TwilioConfig{
		BaseURL:    srv.URL,
		AccountSID: "AC123",
		AuthToken:  "secret",
		FromNumber: "14155238886",
	}, nil, nil)

	receipt, err := client.SendWhatsApp(context.Background(), "5491122334455", "hola")
	if err != nil {
		t.Fatalf("SendWhatsApp failed: %v", err)
	}
	if receipt.SID != "SM1" || receipt.Status != "queued" {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
}

func TestTwilioClient_Errors(t *testing.T) {
	ctx := context.Background()

	unconfigured := NewTwilioClient(TwilioConfig{}, nil, nil)
	if _, err := unconfigured.SendWhatsApp(ctx, "5491122334455", "hola"); !errors.Is(err, domain.ErrNotifierNotConfigured) {
		t.Fatalf("expected ErrNotifierNotConfigured, got %v", err)
	}
	if _, err := unconfigured.SendWhatsApp(ctx, "", "hola"); !errors.Is(err, domain.ErrMessageRequired) {
		t.Fatalf("expected ErrMessageRequired, got %v", err)
	}

	status := http.StatusBadRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"code":21211,"message":"invalid To"}`))
	}))
	defer srv.Close()
	client := NewTwilioClient(TwilioConfig{BaseURL: srv.URL, AccountSID: "AC", AuthToken: "t", FromNumber: "1"}, nil, nil)

	_, err := client.SendWhatsApp(ctx, "123", "hola")
	if !domain.IsValidation(err) {
		t.Fatalf("4xx must be a validation error, got %v", err)
	}

	status = http.StatusServiceUnavailable
	_, err = client.SendWhatsApp(ctx, "123", "hola")
	if err == nil || domain.IsValidation(err) || !domain.CategorizeError(err).Retryable() {
		t.Fatalf("5xx must be retryable, got %v", err)
	}
}

func TestMaskPhone(t *testing.T) {
	if got := maskPhone("5491122334455"); got != "*********4455" {
		t.Fatalf("unexpected mask: %s", got)
	}
	if got := maskPhone("12"); got != "****" {
		t.Fatalf("unexpected mask: %s", got)
	}
}
