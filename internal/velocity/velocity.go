// Package velocity provides windowed spend tracking for campaigns.
package velocity

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// maxRetention bounds how long spend observations are kept. Windows
// longer than this see a truncated sum.
const maxRetention = 24 * time.Hour

type spendEvent struct {
	amount float64
	at     time.Time
}

// Tracker accumulates spend observations per campaign and answers
// windowed sum queries. It backs the window_spend variable available
// to guardrail expressions.
type Tracker struct {
	mu     sync.Mutex
	events map[string][]spendEvent
	now    func() time.Time
}

// NewTracker creates an empty spend tracker.
func NewTracker() *Tracker {
	return &Tracker{
		events: make(map[string][]spendEvent),
		now:    time.Now,
	}
}

// Observe records a spend amount against a campaign at the current time.
func (t *Tracker) Observe(tenantID, campaignID string, amount float64) error {
	if tenantID == "" || campaignID == "" {
		return fmt.Errorf("tenantID and campaignID are required")
	}
	if amount <= 0 {
		return nil
	}

	key := t.makeKey(tenantID, campaignID)

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.events[key] = append(t.pruneLocked(t.events[key], now), spendEvent{
		amount: amount,
		at:     now,
	})
	return nil
}

// WindowSpend returns the total spend observed for a campaign within
// the trailing window. This is the SpendGetter signature expected by
// the guardrail engine.
func (t *Tracker) WindowSpend(ctx context.Context, tenantID, campaignID string, windowSecs int) (float64, error) {
	if tenantID == "" || campaignID == "" {
		return 0, fmt.Errorf("tenantID and campaignID are required")
	}

	key := t.makeKey(tenantID, campaignID)

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	events := t.pruneLocked(t.events[key], now)
	t.events[key] = events

	cutoff := now.Add(-time.Duration(windowSecs) * time.Second)
	var total float64
	for _, e := range events {
		if !e.at.Before(cutoff) {
			total += e.amount
		}
	}
	return total, nil
}

// SpendGetter returns the windowed spend function for the guardrail engine.
func (t *Tracker) SpendGetter() func(ctx context.Context, tenantID, campaignID string, windowSecs int) (float64, error) {
	return t.WindowSpend
}

// pruneLocked drops observations older than the retention bound.
// Caller must hold the mutex.
func (t *Tracker) pruneLocked(events []spendEvent, now time.Time) []spendEvent {
	cutoff := now.Add(-maxRetention)
	i := 0
	for i < len(events) && events[i].at.Before(cutoff) {
		i++
	}
	return events[i:]
}

func (t *Tracker) makeKey(tenantID, campaignID string) string {
	return tenantID + ":" + campaignID
}
