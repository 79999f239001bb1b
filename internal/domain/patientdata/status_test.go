package patientdata

import (
	"math/rand"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusWaiting, StatusInProgress, true},
		{StatusWaiting, StatusCompleted, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusWaiting, StatusWaiting, true},
		{StatusCompleted, StatusWaiting, false},
		{StatusCompleted, StatusInProgress, false},
		{StatusInProgress, StatusWaiting, false},
		{"", StatusWaiting, false},
		{StatusWaiting, "discharged", false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestQueuedAndCompleted_Partition(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	patients := MockPatients(50, rng, "loc-1", time.Now())

	queued := Queued(patients)
	completed := Completed(patients)
	if len(queued)+len(completed) != len(patients) {
		t.Fatalf("partition sizes %d + %d != %d", len(queued), len(completed), len(patients))
	}

	seen := map[string]bool{}
	for _, p := range queued {
		if p.Status == StatusCompleted {
			t.Errorf("completed patient %s in queue", p.ID)
		}
		seen[p.ID] = true
	}
	for _, p := range completed {
		if p.Status != StatusCompleted {
			t.Errorf("patient %s with status %s in completed list", p.ID, p.Status)
		}
		if seen[p.ID] {
			t.Errorf("patient %s in both lists", p.ID)
		}
	}
}

func TestQueued_PreservesOrderAndIsNeverNil(t *testing.T) {
	if Queued(nil) == nil || Completed(nil) == nil {
		t.Error("expected empty, non-nil slices")
	}
	in := []Patient{
		{ID: "a", Status: StatusInProgress},
		{ID: "b", Status: StatusCompleted},
		{ID: "c", Status: StatusWaiting},
	}
	q := Queued(in)
	if len(q) != 2 || q[0].ID != "a" || q[1].ID != "c" {
		t.Errorf("unexpected queue: %+v", q)
	}
}

func TestMockPatients(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	patients := MockPatients(10, rand.New(rand.NewSource(1)), "loc-9", now)
	if len(patients) != 10 {
		t.Fatalf("expected 10 patients, got %d", len(patients))
	}
	ids := map[string]bool{}
	for _, p := range patients {
		if ids[p.ID] {
			t.Errorf("duplicate id %s", p.ID)
		}
		ids[p.ID] = true
		if p.LocationID != "loc-9" || p.Name == "" || p.Age < 1 || !ValidStatus(p.Status) {
			t.Errorf("invalid mock patient: %+v", p)
		}
		if p.CreatedAt.After(now) {
			t.Errorf("mock createdAt %v is in the future", p.CreatedAt)
		}
		in := p.Input()
		if in.Name != p.Name || in.Status != p.Status {
			t.Errorf("Input() lost fields: %+v", in)
		}
	}
}
