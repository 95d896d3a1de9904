package resilience

import "time"

// StateChange records a single state transition.
type StateChange struct {
	From   string
	To     string
	Time   time.Time
	Reason string
}

// historyCapacity bounds the per-component state-change history.
const historyCapacity = 100

// stateHistory is a fixed-capacity ring buffer of state transitions with
// O(1) append. Oldest entries are overwritten once full.
type stateHistory struct {
	buf  []StateChange
	head int // next write position
	size int
}

func newStateHistory() *stateHistory {
	return &stateHistory{buf: make([]StateChange, historyCapacity)}
}

func (h *stateHistory) append(c StateChange) {
	h.buf[h.head] = c
	h.head = (h.head + 1) % len(h.buf)
	if h.size < len(h.buf) {
		h.size++
	}
}

// snapshot returns the recorded transitions oldest-first.
func (h *stateHistory) snapshot() []StateChange {
	out := make([]StateChange, h.size)
	start := h.head - h.size
	if start < 0 {
		start += len(h.buf)
	}
	for i := 0; i < h.size; i++ {
		out[i] = h.buf[(start+i)%len(h.buf)]
	}
	return out
}

// ewma is an exponentially weighted moving average. The first sample seeds
// the average; later samples blend with weight newWeight.
type ewma struct {
	value     float64
	seeded    bool
	newWeight float64
}

func newEWMA(newWeight float64) ewma {
	return ewma{newWeight: newWeight}
}

func (e *ewma) observe(sample float64) {
	if !e.seeded {
		e.value = sample
		e.seeded = true
		return
	}
	e.value = e.value*(1-e.newWeight) + sample*e.newWeight
}

func (e *ewma) get() float64 {
	return e.value
}
