package resilience

import (
	"fmt"
	"testing"
)

func TestStateHistory_AppendAndSnapshot(t *testing.T) {
	h := newStateHistory()

	h.append(StateChange{From: "closed", To: "open"})
	h.append(StateChange{From: "open", To: "half-open"})
	h.append(StateChange{From: "half-open", To: "closed"})

	snap := h.snapshot()
	if len(snap) != 3 {
		t.Fatalf("snapshot length = %d, want 3", len(snap))
	}
	if snap[0].To != "open" || snap[2].To != "closed" {
		t.Errorf("snapshot order wrong: first to %q, last to %q", snap[0].To, snap[2].To)
	}
}

func TestStateHistory_OverwritesOldestWhenFull(t *testing.T) {
	h := newStateHistory()

	for i := 0; i < historyCapacity+10; i++ {
		h.append(StateChange{Reason: fmt.Sprintf("change-%d", i)})
	}

	snap := h.snapshot()
	if len(snap) != historyCapacity {
		t.Fatalf("snapshot length = %d, want %d", len(snap), historyCapacity)
	}
	if snap[0].Reason != "change-10" {
		t.Errorf("oldest entry = %q, want change-10", snap[0].Reason)
	}
	if last := snap[len(snap)-1].Reason; last != fmt.Sprintf("change-%d", historyCapacity+9) {
		t.Errorf("newest entry = %q, want change-%d", last, historyCapacity+9)
	}
}

func TestEWMA_FirstSampleSeeds(t *testing.T) {
	e := newEWMA(0.1)
	e.observe(100)
	if got := e.get(); got != 100 {
		t.Errorf("get() after seed = %v, want 100", got)
	}
}

func TestEWMA_BlendsNewSamples(t *testing.T) {
	e := newEWMA(0.1)
	e.observe(100)
	e.observe(200)
	// 100*0.9 + 200*0.1
	if got := e.get(); got != 110 {
		t.Errorf("get() = %v, want 110", got)
	}
}

func TestEWMA_ZeroBeforeSamples(t *testing.T) {
	e := newEWMA(0.1)
	if got := e.get(); got != 0 {
		t.Errorf("get() with no samples = %v, want 0", got)
	}
}
