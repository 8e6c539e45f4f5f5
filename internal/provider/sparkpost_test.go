package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSparkPostSendAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transmissions" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, `{"results":{"id":"sp-123","total_accepted_recipients":1}}`)
	}))
	defer srv.Close()

	s := NewSparkPostSender("key", srv.URL)
	res, err := s.Send(context.Background(), testMessage(), "job-1")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.ProviderMessageID != "sp-123" {
		t.Errorf("message id = %q", res.ProviderMessageID)
	}
}

func TestSparkPostUnparseableResponseIsAmbiguous(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `not json`)
	}))
	defer srv.Close()

	s := NewSparkPostSender("key", srv.URL)
	_, err := s.Send(context.Background(), testMessage(), "job-1")
	if err == nil {
		t.Fatal("expected error")
	}
	// The transmission may have been created; the claim must hold.
	if !IsTransient(err) || !IsAmbiguous(err) {
		t.Errorf("got (transient=%v, ambiguous=%v), want both", IsTransient(err), IsAmbiguous(err))
	}
}

func TestSparkPostRejectionIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"errors":[{"message":"invalid recipient"}]}`)
	}))
	defer srv.Close()

	s := NewSparkPostSender("key", srv.URL)
	_, err := s.Send(context.Background(), testMessage(), "job-1")
	if err == nil || IsTransient(err) {
		t.Errorf("422 rejection: got %v, want permanent", err)
	}
}
