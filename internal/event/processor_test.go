package event

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ignite/relay/internal/domain"
	"github.com/ignite/relay/internal/queue"
	"github.com/ignite/relay/internal/suppression"
)

func testProcessor(t *testing.T) (*Processor, *queue.MemoryStore, *suppression.Service, *MemoryCounters) {
	t.Helper()
	store := queue.NewMemoryStore()
	supp := suppression.NewService(suppression.NewMemoryRepository())
	counters := NewMemoryCounters()
	p := NewProcessor(store, supp, NewMemoryLedger(), counters)
	return p, store, supp, counters
}

// acceptedJob enqueues a job and walks it to completed with a recorded
// provider message id, the state a delivery event usually finds.
func acceptedJob(t *testing.T, store *queue.MemoryStore, id, msgID string) {
	t.Helper()
	ctx := context.Background()
	job := &domain.Job{
		ID: id, TenantID: "tenant-1", Kind: domain.KindSingle,
		Recipients: []string{"user@example.com"}, MaxAttempts: 3,
	}
	if err := store.Enqueue(ctx, job); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Dequeue(ctx, "w1"); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordAcceptance(ctx, id, "ses", msgID); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkState(ctx, id, domain.StateCompleted, "accepted by ses"); err != nil {
		t.Fatal(err)
	}
}

func ev(typ domain.EventType, msgID string) domain.DeliveryEvent {
	return domain.DeliveryEvent{
		ProviderMessageID: msgID,
		EmailAddress:      "user@example.com",
		EventType:         typ,
		OccurredAt:        time.Now(),
		RawProviderName:   "ses",
	}
}

func TestApplyDeliveredIsIdempotent(t *testing.T) {
	ctx := context.Background()
	p, store, _, counters := testProcessor(t)
	acceptedJob(t, store, "j1", "msg-1")

	if err := p.Apply(ctx, ev(domain.EventDelivered, "msg-1")); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	// Redelivered webhook: second apply is a silent no-op.
	if err := p.Apply(ctx, ev(domain.EventDelivered, "msg-1")); !errors.Is(err, ErrDuplicateEvent) {
		t.Fatalf("second apply: got %v, want ErrDuplicateEvent", err)
	}

	stats, _ := counters.Snapshot(ctx, "tenant-1")
	if stats.Delivered != 1 {
		t.Errorf("delivered counter = %d, want 1", stats.Delivered)
	}
	job, _ := store.Get(ctx, "j1")
	if job.State != domain.StateCompleted {
		t.Errorf("job state = %s", job.State)
	}
}

func TestApplyBounceDominatesDelivered(t *testing.T) {
	ctx := context.Background()
	p, store, supp, _ := testProcessor(t)
	acceptedJob(t, store, "j1", "msg-1")

	// Delivered lands first.
	if err := p.Apply(ctx, ev(domain.EventDelivered, "msg-1")); err != nil {
		t.Fatal(err)
	}
	// A late bounce still rewrites the outcome.
	if err := p.Apply(ctx, ev(domain.EventBounced, "msg-1")); err != nil {
		t.Fatalf("bounce apply: %v", err)
	}

	job, _ := store.Get(ctx, "j1")
	if job.State != domain.StateFailed {
		t.Errorf("job state = %s, want failed after bounce dominance", job.State)
	}

	suppressed, err := supp.IsSuppressed(ctx, "tenant-1", "user@example.com")
	if err != nil || !suppressed {
		t.Errorf("bounced recipient not suppressed (suppressed=%v, err=%v)", suppressed, err)
	}
}

func TestApplyComplaintSuppresses(t *testing.T) {
	ctx := context.Background()
	p, store, supp, counters := testProcessor(t)
	acceptedJob(t, store, "j1", "msg-1")

	if err := p.Apply(ctx, ev(domain.EventComplained, "msg-1")); err != nil {
		t.Fatal(err)
	}
	suppressed, _ := supp.IsSuppressed(ctx, "tenant-1", "user@example.com")
	if !suppressed {
		t.Error("complained recipient not suppressed")
	}
	entries, _, _ := supp.List(ctx, "tenant-1", suppression.ListFilter{Limit: 10})
	if len(entries) != 1 || entries[0].Type != domain.SuppressionComplaint {
		t.Errorf("unexpected suppression entries %+v", entries)
	}
	stats, _ := counters.Snapshot(ctx, "tenant-1")
	if stats.Complained != 1 {
		t.Errorf("complained counter = %d", stats.Complained)
	}
}

func TestApplyEngagementOnlyEvents(t *testing.T) {
	ctx := context.Background()
	p, store, _, counters := testProcessor(t)
	acceptedJob(t, store, "j1", "msg-1")

	if err := p.Apply(ctx, ev(domain.EventOpened, "msg-1")); err != nil {
		t.Fatal(err)
	}
	if err := p.Apply(ctx, ev(domain.EventClicked, "msg-1")); err != nil {
		t.Fatal(err)
	}

	// Opens and clicks never touch job state.
	job, _ := store.Get(ctx, "j1")
	if job.State != domain.StateCompleted {
		t.Errorf("job state = %s, want completed", job.State)
	}
	stats, _ := counters.Snapshot(ctx, "tenant-1")
	if stats.Opened != 1 || stats.Clicked != 1 {
		t.Errorf("counters = %+v", stats)
	}
}

func TestApplyUnknownMessageStillCounts(t *testing.T) {
	ctx := context.Background()
	p, _, supp, _ := testProcessor(t)

	// Events can outlive job retention; suppression still applies.
	e := ev(domain.EventBounced, "msg-unknown")
	e.TenantID = "tenant-2"
	if err := p.Apply(ctx, e); err != nil {
		t.Fatalf("apply without job: %v", err)
	}
	suppressed, _ := supp.IsSuppressed(ctx, "tenant-2", "user@example.com")
	if !suppressed {
		t.Error("suppression skipped for unmatched event")
	}
}

// faultyRepo fails a configured number of Add calls before recovering,
// standing in for a storage blip during suppression writes.
type faultyRepo struct {
	suppression.Repository
	addFailures int
}

func (r *faultyRepo) Add(ctx context.Context, entry *domain.SuppressionEntry) error {
	if r.addFailures > 0 {
		r.addFailures--
		return errors.New("storage unavailable")
	}
	return r.Repository.Add(ctx, entry)
}

// A bounce whose suppression write fails must stay unapplied in the ledger:
// the provider redelivers, and the second application has to land instead of
// short-circuiting as a duplicate.
func TestApplyFailureReleasesLedgerClaim(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore()
	repo := &faultyRepo{Repository: suppression.NewMemoryRepository(), addFailures: 1}
	supp := suppression.NewService(repo)
	p := NewProcessor(store, supp, NewMemoryLedger(), NewMemoryCounters())
	acceptedJob(t, store, "j1", "msg-1")

	bounce := ev(domain.EventBounced, "msg-1")
	if err := p.Apply(ctx, bounce); err == nil {
		t.Fatal("first apply succeeded despite suppression write failure")
	}

	// Redelivery applies cleanly rather than reporting a duplicate.
	if err := p.Apply(ctx, bounce); err != nil {
		t.Fatalf("redelivered apply: %v", err)
	}
	suppressed, err := supp.IsSuppressed(ctx, "tenant-1", "user@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if !suppressed {
		t.Error("address not suppressed after redelivery")
	}
	job, _ := store.Get(ctx, "j1")
	if job.State != domain.StateFailed {
		t.Errorf("job state = %s, want failed", job.State)
	}
}

func TestApplyRejectsInvalidEventType(t *testing.T) {
	ctx := context.Background()
	p, _, _, _ := testProcessor(t)
	e := ev("mystery", "msg-1")
	if err := p.Apply(ctx, e); err == nil {
		t.Error("invalid event type accepted")
	}
}

func TestApplySameMessageDifferentEventTypes(t *testing.T) {
	ctx := context.Background()
	p, _, _, counters := testProcessor(t)

	// delivered then opened for one message are distinct events, not dupes.
	d := ev(domain.EventDelivered, "msg-1")
	d.TenantID = "tenant-1"
	o := ev(domain.EventOpened, "msg-1")
	o.TenantID = "tenant-1"
	if err := p.Apply(ctx, d); err != nil {
		t.Fatal(err)
	}
	if err := p.Apply(ctx, o); err != nil {
		t.Fatal(err)
	}
	stats, _ := counters.Snapshot(ctx, "tenant-1")
	if stats.Delivered != 1 || stats.Opened != 1 {
		t.Errorf("counters = %+v", stats)
	}
}
