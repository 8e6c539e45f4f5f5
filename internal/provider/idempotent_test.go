package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/relay/internal/domain"
)

func TestIdempotentSendHappyPath(t *testing.T) {
	base := &fakeSender{name: domain.ProviderSendGrid}
	s := WithIdempotency(base, NewDedup(nil))

	res, err := s.Send(context.Background(), &domain.Message{}, "job-1")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.ProviderMessageID != "sendgrid-msg" {
		t.Errorf("message id = %q", res.ProviderMessageID)
	}
	if base.sends != 1 {
		t.Errorf("base sends = %d, want 1", base.sends)
	}
}

func TestIdempotentSendShortCircuitsDuplicate(t *testing.T) {
	base := &fakeSender{name: domain.ProviderSendGrid}
	s := WithIdempotency(base, NewDedup(nil))
	ctx := context.Background()

	first, err := s.Send(ctx, &domain.Message{}, "job-1")
	if err != nil {
		t.Fatal(err)
	}

	// Second call with the same key resolves to the recorded acceptance
	// without reaching the provider.
	second, err := s.Send(ctx, &domain.Message{}, "job-1")
	if err != nil {
		t.Fatalf("duplicate send: %v", err)
	}
	if second.ProviderMessageID != first.ProviderMessageID {
		t.Errorf("duplicate resolved to %q, want %q", second.ProviderMessageID, first.ProviderMessageID)
	}
	if base.sends != 1 {
		t.Errorf("base sends = %d, duplicate reached the provider", base.sends)
	}
}

func TestIdempotentSendReleasesOnDefiniteFailure(t *testing.T) {
	base := &fakeSender{
		name:    domain.ProviderSendGrid,
		sendErr: &TransientError{Provider: domain.ProviderSendGrid, Err: errors.New("429")},
	}
	s := WithIdempotency(base, NewDedup(nil))
	ctx := context.Background()

	if _, err := s.Send(ctx, &domain.Message{}, "job-1"); err == nil {
		t.Fatal("expected error")
	}

	// Definite failure released the claim, so a failover send with the
	// same key goes through.
	base.sendErr = nil
	if _, err := s.Send(ctx, &domain.Message{}, "job-1"); err != nil {
		t.Fatalf("send after definite failure: %v", err)
	}
	if base.sends != 2 {
		t.Errorf("base sends = %d, want 2", base.sends)
	}
}

func TestIdempotentSendKeepsClaimOnAmbiguousFailure(t *testing.T) {
	base := &fakeSender{
		name:    domain.ProviderSendGrid,
		sendErr: &TransientError{Provider: domain.ProviderSendGrid, Err: errors.New("timeout"), Ambiguous: true},
	}
	s := WithIdempotency(base, NewDedup(nil))
	ctx := context.Background()

	if _, err := s.Send(ctx, &domain.Message{}, "job-1"); err == nil {
		t.Fatal("expected error")
	}

	// The outcome is unknown, so an immediate retry must not dispatch.
	base.sendErr = nil
	_, err := s.Send(ctx, &domain.Message{}, "job-1")
	if err == nil || !IsTransient(err) {
		t.Fatalf("retry during pending window: got %v, want transient in-flight error", err)
	}
	if !errors.Is(err, ErrSendInFlight) {
		t.Errorf("retry error = %v, want ErrSendInFlight so callers can tell a wait from a fault", err)
	}
	if base.sends != 1 {
		t.Errorf("base sends = %d, ambiguous retry reached the provider", base.sends)
	}
}

func TestIdempotentSendPermanentReleases(t *testing.T) {
	base := &fakeSender{
		name:    domain.ProviderSendGrid,
		sendErr: &PermanentError{Provider: domain.ProviderSendGrid, Err: errors.New("invalid recipient")},
	}
	s := WithIdempotency(base, NewDedup(nil))
	ctx := context.Background()

	_, err := s.Send(ctx, &domain.Message{}, "job-1")
	if IsTransient(err) {
		t.Fatalf("permanent error misclassified: %v", err)
	}
	base.sendErr = nil
	if _, err := s.Send(ctx, &domain.Message{}, "job-1"); err != nil {
		t.Errorf("send after permanent rejection: %v", err)
	}
}

func TestDedupAcrossProcessesViaRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	a := NewDedup(rdb)
	b := NewDedup(rdb)

	owned, _, err := a.Claim(ctx, "job-1")
	if err != nil || !owned {
		t.Fatalf("first claim = (%v, %v)", owned, err)
	}
	a.RecordAcceptance(ctx, "job-1", "msg-42")

	// A different worker process observes the acceptance.
	owned, prior, err := b.Claim(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if owned || prior != "msg-42" {
		t.Errorf("second claim = (owned=%v, prior=%q), want (false, msg-42)", owned, prior)
	}

	// Release frees the key for a fresh claim.
	b.Release(ctx, "job-1")
	owned, _, _ = b.Claim(ctx, "job-1")
	if !owned {
		t.Error("claim after release should be owned")
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{429, true},
		{500, true},
		{502, true},
		{503, true},
		{400, false},
		{401, false},
		{404, false},
		{422, false},
	}
	for _, tt := range tests {
		err := classifyStatus(domain.ProviderSendGrid, tt.status, "body")
		if err == nil {
			t.Fatalf("status %d: expected error", tt.status)
		}
		if IsTransient(err) != tt.transient {
			t.Errorf("status %d: IsTransient = %v, want %v", tt.status, IsTransient(err), tt.transient)
		}
	}
	if err := classifyStatus(domain.ProviderSendGrid, 202, ""); err != nil {
		t.Errorf("2xx classified as error: %v", err)
	}
}
