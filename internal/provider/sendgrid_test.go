package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ignite/relay/internal/domain"
)

func testMessage() *domain.Message {
	return &domain.Message{
		ID:          "msg-1",
		TenantID:    "tenant-1",
		To:          []string{"user@example.com"},
		FromName:    "Sender",
		FromEmail:   "sender@example.com",
		Subject:     "hello",
		HTMLContent: "<p>hi</p>",
	}
}

func TestSendGridSendAccepted(t *testing.T) {
	var gotAuth string
	var gotPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotPayload)
		w.Header().Set("X-Message-Id", "sg-abc")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewSendGridSender("key-123", srv.URL)
	res, err := s.Send(context.Background(), testMessage(), "job-1")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.ProviderMessageID != "sg-abc" {
		t.Errorf("message id = %q", res.ProviderMessageID)
	}
	if gotAuth != "Bearer key-123" {
		t.Errorf("auth header = %q", gotAuth)
	}
	persos, ok := gotPayload["personalizations"].([]any)
	if !ok || len(persos) != 1 {
		t.Fatalf("personalizations missing: %v", gotPayload)
	}
	args := persos[0].(map[string]any)["custom_args"].(map[string]any)
	if args["relay_idem_key"] != "job-1" {
		t.Errorf("idempotency key not attached: %v", args)
	}
}

func TestSendGridSendClassifiesErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"throttled", 429, true},
		{"server error", 500, true},
		{"bad request", 400, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			s := NewSendGridSender("key", srv.URL)
			_, err := s.Send(context.Background(), testMessage(), "job-1")
			if err == nil {
				t.Fatal("expected error")
			}
			if IsTransient(err) != tt.transient {
				t.Errorf("IsTransient = %v, want %v", IsTransient(err), tt.transient)
			}
			// A received status is a definite outcome.
			if IsAmbiguous(err) {
				t.Error("status error should not be ambiguous")
			}
		})
	}
}

func TestSendGridTransportErrorIsAmbiguous(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	s := NewSendGridSender("key", srv.URL)
	_, err := s.Send(context.Background(), testMessage(), "job-1")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsTransient(err) || !IsAmbiguous(err) {
		t.Errorf("transport error = (transient=%v, ambiguous=%v), want both", IsTransient(err), IsAmbiguous(err))
	}
}

func TestSendGridMissingKeyIsPermanent(t *testing.T) {
	s := NewSendGridSender("", "")
	_, err := s.Send(context.Background(), testMessage(), "job-1")
	if err == nil || IsTransient(err) {
		t.Errorf("missing key: got %v, want permanent", err)
	}
}

func TestSendGridHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/scopes" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSendGridSender("key", srv.URL)
	if err := s.HealthCheck(context.Background()); err != nil {
		t.Errorf("health check: %v", err)
	}
}
