// Package velocity tracks recent offline approvals per card within a trailing window.
package velocity

import (
	"sync"
	"time"
)

type Tracker struct {
	window time.Duration
	limit  int

	mu      sync.Mutex
	entries map[string][]time.Time
}

func NewTracker(limit int, window time.Duration) *Tracker {
	return &Tracker{
		window:  window,
		limit:   limit,
		entries: make(map[string][]time.Time),
	}
}

// Allow prunes the card's window as of now and, when fewer than limit attempts remain,
// records now and returns true. A refused attempt is not recorded.
func (t *Tracker) Allow(card string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.prune(card, now)
	if len(kept) >= t.limit {
		return false
	}
	t.entries[card] = append(kept, now)
	return true
}

// Forget withdraws an attempt previously recorded at ts, used when the approval it
// belonged to could not be persisted.
func (t *Tracker) Forget(card string, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	list := t.entries[card]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Equal(ts) {
			t.entries[card] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(t.entries[card]) == 0 {
		delete(t.entries, card)
	}
}

// Count returns the number of attempts inside the window as of now.
func (t *Tracker) Count(card string, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.prune(card, now))
}

// prune drops entries older than the window. Caller holds t.mu.
func (t *Tracker) prune(card string, now time.Time) []time.Time {
	list := t.entries[card]
	cutoff := now.Add(-t.window)
	i := 0
	for i < len(list) && !list[i].After(cutoff) {
		i++
	}
	kept := list[i:]
	if len(kept) == 0 {
		delete(t.entries, card)
		return nil
	}
	t.entries[card] = kept
	return kept
}
