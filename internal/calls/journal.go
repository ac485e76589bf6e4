package calls

import (
	"context"
	"errors"
	"sync"
)

// Journal is an append-only record of status transitions keyed by call sid.
//
// It MUST preserve arrival order per sid. There are no Update/Delete methods;
// retention is the backend's concern (TTL in Redis, bounded map in memory).
//
// Append decides OutOfOrder atomically with the write: a known status that
// ranks below one already recorded for the call is flagged. Any OutOfOrder
// value set by the caller is ignored. The stored transition is returned.
type Journal interface {
	Append(ctx context.Context, t Transition) (Transition, error)
	History(ctx context.Context, callSid string) ([]Transition, error)
}

var ErrInvalidTransition = errors.New("calls: invalid transition")

// MemoryJournal keeps transitions in process memory. The number of distinct
// calls is bounded; once full, the oldest call is evicted.
type MemoryJournal struct {
	mu       sync.Mutex
	byCall   map[string][]Transition
	order    []string
	maxCalls int
}

const defaultMaxCalls = 1024

func NewMemoryJournal(maxCalls int) *MemoryJournal {
	if maxCalls <= 0 {
		maxCalls = defaultMaxCalls
	}
	return &MemoryJournal{byCall: map[string][]Transition{}, maxCalls: maxCalls}
}

func (j *MemoryJournal) Append(ctx context.Context, t Transition) (Transition, error) {
	if t.CallSid == "" || t.Status == "" {
		return Transition{}, ErrInvalidTransition
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	history, ok := j.byCall[t.CallSid]
	t.OutOfOrder = t.Status.Known() && t.Status.Rank() < HighestRank(history)
	if !ok {
		if len(j.order) >= j.maxCalls {
			oldest := j.order[0]
			j.order = j.order[1:]
			delete(j.byCall, oldest)
		}
		j.order = append(j.order, t.CallSid)
	}
	j.byCall[t.CallSid] = append(history, t)
	return t, nil
}

func (j *MemoryJournal) History(ctx context.Context, callSid string) ([]Transition, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	src := j.byCall[callSid]
	out := make([]Transition, len(src))
	copy(out, src)
	return out, nil
}

// HighestRank returns the highest known rank recorded in history.
func HighestRank(history []Transition) int {
	highest := 0
	for _, t := range history {
		if r := t.Status.Rank(); r > highest {
			highest = r
		}
	}
	return highest
}
