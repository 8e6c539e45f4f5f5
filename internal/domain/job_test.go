package domain

import "testing"

func TestJobStateTransitions(t *testing.T) {
	tests := []struct {
		name string
		from JobState
		to   JobState
		want bool
	}{
		{"queued to processing", StateQueued, StateProcessing, true},
		{"queued to cancelled", StateQueued, StateCancelled, true},
		{"queued to completed", StateQueued, StateCompleted, false},
		{"processing to completed", StateProcessing, StateCompleted, true},
		{"processing to failed", StateProcessing, StateFailed, true},
		{"processing to cancelled", StateProcessing, StateCancelled, true},
		{"processing back to queued", StateProcessing, StateQueued, true},
		{"failed to queued via retry", StateFailed, StateQueued, true},
		{"failed to completed", StateFailed, StateCompleted, false},
		{"completed is terminal", StateCompleted, StateQueued, false},
		{"cancelled is terminal", StateCancelled, StateQueued, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestJobStateIsTerminal(t *testing.T) {
	terminal := []JobState{StateCompleted, StateFailed, StateCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []JobState{StateQueued, StateProcessing} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestDeriveBatchState(t *testing.T) {
	tests := []struct {
		name     string
		children []JobState
		want     BatchState
	}{
		{"no children", nil, BatchPending},
		{"all queued", []JobState{StateQueued, StateQueued}, BatchPending},
		{"some processing", []JobState{StateQueued, StateProcessing}, BatchRunning},
		{"partially terminal", []JobState{StateCompleted, StateQueued}, BatchRunning},
		{"all completed", []JobState{StateCompleted, StateCompleted}, BatchCompleted},
		{"all failed", []JobState{StateFailed, StateCancelled}, BatchFailed},
		{"mixed outcomes", []JobState{StateCompleted, StateFailed}, BatchPartial},
		{"single cancelled", []JobState{StateCancelled}, BatchFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveBatchState(tt.children); got != tt.want {
				t.Errorf("DeriveBatchState(%v) = %s, want %s", tt.children, got, tt.want)
			}
		})
	}
}

func TestEventDedupKey(t *testing.T) {
	ev := DeliveryEvent{ProviderMessageID: "msg-1", EventType: EventBounced}
	if ev.DedupKey() != "msg-1:bounced" {
		t.Errorf("unexpected dedup key %q", ev.DedupKey())
	}
	// Same message, different event types must not collide.
	other := DeliveryEvent{ProviderMessageID: "msg-1", EventType: EventDelivered}
	if ev.DedupKey() == other.DedupKey() {
		t.Error("dedup keys collide across event types")
	}
}

func TestEventTypeValid(t *testing.T) {
	for _, typ := range []EventType{EventDelivered, EventBounced, EventComplained, EventOpened, EventClicked, EventFailed} {
		if !typ.Valid() {
			t.Errorf("%s should be valid", typ)
		}
	}
	if EventType("deferred").Valid() {
		t.Error("unknown event type reported valid")
	}
}
