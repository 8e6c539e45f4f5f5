package suppression

import (
	"context"
	"errors"
	"testing"

	"github.com/ignite/relay/internal/domain"
)

func testService() *Service {
	return NewService(NewMemoryRepository())
}

func TestSuppressNormalizesAddress(t *testing.T) {
	ctx := context.Background()
	svc := testService()

	if err := svc.Suppress(ctx, "t1", "  John.Doe@Example.COM ", domain.SuppressionBounce, "hard bounce", "ses_webhook"); err != nil {
		t.Fatalf("suppress: %v", err)
	}

	blocked, err := svc.IsSuppressed(ctx, "t1", "john.doe@example.com")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !blocked {
		t.Error("normalized address not suppressed")
	}

	// Lookup normalizes too.
	blocked, _ = svc.IsSuppressed(ctx, "t1", "JOHN.DOE@example.com")
	if !blocked {
		t.Error("mixed-case lookup missed the entry")
	}
}

func TestSuppressIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := testService()

	for i := 0; i < 3; i++ {
		if err := svc.Suppress(ctx, "t1", "dup@example.com", domain.SuppressionBounce, "hard bounce", "ses_webhook"); err != nil {
			t.Fatalf("suppress %d: %v", i, err)
		}
	}

	stats, err := svc.GetStats(ctx, "t1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 1 {
		t.Errorf("total = %d after duplicate adds, want 1", stats.Total)
	}
}

func TestSuppressRequiresEmail(t *testing.T) {
	svc := testService()
	if err := svc.Suppress(context.Background(), "t1", "   ", domain.SuppressionManual, "", "api"); err == nil {
		t.Error("blank email accepted")
	}
}

func TestSuppressionIsPerTenant(t *testing.T) {
	ctx := context.Background()
	svc := testService()

	if err := svc.Suppress(ctx, "t1", "user@example.com", domain.SuppressionComplaint, "spam report", "sendgrid_webhook"); err != nil {
		t.Fatal(err)
	}

	blocked, _ := svc.IsSuppressed(ctx, "t2", "user@example.com")
	if blocked {
		t.Error("suppression leaked across tenants")
	}
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	svc := testService()

	if err := svc.Suppress(ctx, "t1", "gone@example.com", domain.SuppressionManual, "", "api"); err != nil {
		t.Fatal(err)
	}
	if err := svc.Remove(ctx, "t1", "Gone@Example.com"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	blocked, _ := svc.IsSuppressed(ctx, "t1", "gone@example.com")
	if blocked {
		t.Error("still suppressed after removal")
	}

	if err := svc.Remove(ctx, "t1", "gone@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second remove: got %v, want ErrNotFound", err)
	}
}

func TestListFiltering(t *testing.T) {
	ctx := context.Background()
	svc := testService()

	seed := []struct {
		email string
		typ   domain.SuppressionType
	}{
		{"bounce1@example.com", domain.SuppressionBounce},
		{"bounce2@example.com", domain.SuppressionBounce},
		{"angry@example.com", domain.SuppressionComplaint},
		{"opted-out@other.net", domain.SuppressionManual},
	}
	for _, s := range seed {
		if err := svc.Suppress(ctx, "t1", s.email, s.typ, "", "api"); err != nil {
			t.Fatal(err)
		}
	}

	entries, total, err := svc.List(ctx, "t1", ListFilter{Type: "bounce", Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 4 {
		t.Errorf("total = %d, want 4", total)
	}
	if len(entries) != 2 {
		t.Fatalf("bounce entries = %d, want 2", len(entries))
	}
	for _, e := range entries {
		if e.Type != domain.SuppressionBounce {
			t.Errorf("filter returned type %s", e.Type)
		}
	}

	entries, _, err = svc.List(ctx, "t1", ListFilter{Search: "other.net", Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Email != "opted-out@other.net" {
		t.Errorf("search results = %+v", entries)
	}
}

func TestGetStatsByType(t *testing.T) {
	ctx := context.Background()
	svc := testService()

	for _, email := range []string{"a@example.com", "b@example.com"} {
		if err := svc.Suppress(ctx, "t1", email, domain.SuppressionBounce, "", "ses_webhook"); err != nil {
			t.Fatal(err)
		}
	}
	if err := svc.Suppress(ctx, "t1", "c@example.com", domain.SuppressionComplaint, "", "ses_webhook"); err != nil {
		t.Fatal(err)
	}

	stats, err := svc.GetStats(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 3 {
		t.Errorf("total = %d", stats.Total)
	}
	if stats.ByType["bounce"] != 2 || stats.ByType["complaint"] != 1 {
		t.Errorf("by_type = %v", stats.ByType)
	}
}
