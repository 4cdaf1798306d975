// Package registry keeps the in-memory table of issued pairing codes.
// Records live for a configurable TTL, are bulk-linked when the
// WhatsApp session comes online and are removed by per-record expiry
// timers, by the periodic sweep, or by FIFO eviction when the table
// outgrows its cap.  Everything is process-lifetime only.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	ilog "your.org/whatsmeow-linker/internal/log"
	"your.org/whatsmeow-linker/internal/paircode"
)

// Status is the lifecycle state of a pairing record.
type Status string

const (
	StatusPending Status = "pending"
	StatusLinked  Status = "linked"
	StatusExpired Status = "expired"
)

// Record is a single issued pairing code.  DisplayCode is derived
// from Code and is not a separate identity; lookups accept either
// form.
type Record struct {
	Code        string     `json:"code"`
	DisplayCode string     `json:"displayCode"`
	PhoneNumber string     `json:"phoneNumber,omitempty"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	LinkedAt    *time.Time `json:"linkedAt,omitempty"`
}

// Stats is a read-only summary for the status endpoints.
type Stats struct {
	Generated uint64 `json:"generated"`
	Active    int    `json:"active"`
	Pending   int    `json:"pending"`
	Linked    int    `json:"linked"`
	LastCode  string `json:"lastCode,omitempty"`
}

const issueAttempts = 10

// ErrNoUniqueCode is returned when every generation attempt collided
// with a live record, which at the registry cap is effectively
// impossible unless the randomness source is broken.
var ErrNoUniqueCode = errors.New("registry: could not generate a unique code")

// Registry is safe for concurrent use.  All mutations happen under a
// single mutex so HTTP handlers, expiry timers and the sweep never
// observe a half-applied update.
type Registry struct {
	mu      sync.Mutex
	records map[string]*Record
	timers  map[string]*time.Timer

	ttl         time.Duration
	maxSessions int

	generated uint64
	lastCode  string
	closed    bool

	// overridable in tests
	now       func() time.Time
	afterFunc func(d time.Duration, fn func()) *time.Timer
}

// New constructs a registry whose records expire after ttl and whose
// size is capped at maxSessions.
func New(ttl time.Duration, maxSessions int) *Registry {
	return &Registry{
		records:     make(map[string]*Record),
		timers:      make(map[string]*time.Timer),
		ttl:         ttl,
		maxSessions: maxSessions,
		now:         time.Now,
		afterFunc:   time.AfterFunc,
	}
}

// Issue generates a unique code, stores a pending record for the
// given phone number (which may be empty) and schedules its expiry.
func (r *Registry) Issue(phoneNumber string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var code string
	for attempt := 0; ; attempt++ {
		if attempt >= issueAttempts {
			return Record{}, ErrNoUniqueCode
		}
		c, err := paircode.Generate()
		if err != nil {
			return Record{}, fmt.Errorf("generate code: %w", err)
		}
		if _, taken := r.records[c]; !taken {
			code = c
			break
		}
	}

	now := r.now()
	rec := &Record{
		Code:        code,
		DisplayCode: paircode.FormatDisplay(code),
		PhoneNumber: phoneNumber,
		Status:      StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(r.ttl),
	}
	r.records[code] = rec
	r.generated++
	r.lastCode = code

	if !r.closed {
		r.timers[code] = r.afterFunc(r.ttl, func() { r.expire(code) })
	}

	r.evictOverCapLocked()

	ilog.WithCode(rec.DisplayCode).WithPhone(phoneNumber).
		Info("pairing code issued expires_at=%s", rec.ExpiresAt.Format(time.RFC3339))
	return *rec, nil
}

// Lookup finds a record by its raw or display code.  Pending records
// past their expiry are removed on read and reported as absent, so an
// expired code is never visible even before the sweep has run.
func (r *Registry) Lookup(codeOrDisplay string) (Record, bool) {
	key := paircode.NormalizeLookup(codeOrDisplay)

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[key]
	if !ok {
		return Record{}, false
	}
	if rec.Status == StatusPending && !r.now().Before(rec.ExpiresAt) {
		rec.Status = StatusExpired
		r.removeLocked(key)
		return Record{}, false
	}
	return *rec, true
}

// MarkAllPendingLinked flips every pending record to linked.  The
// whole bot connects, not a specific code, so the transition is
// deliberately a bulk one.  Linked and expired records are untouched.
func (r *Registry) MarkAllPendingLinked(linkedAt time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for code, rec := range r.records {
		if rec.Status != StatusPending {
			continue
		}
		rec.Status = StatusLinked
		at := linkedAt
		rec.LinkedAt = &at
		count++
		// linked records no longer expire
		if t, ok := r.timers[code]; ok {
			t.Stop()
			delete(r.timers, code)
		}
	}
	if count > 0 {
		ilog.Infof("marked %d pending code(s) as linked", count)
	}
	return count
}

// SweepExpired removes pending records whose expiry has passed and
// then enforces the size cap.  It is the safety net behind the
// per-record timers; removing an already-removed record is a no-op.
func (r *Registry) SweepExpired(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, rec := range r.records {
		if rec.Status == StatusPending && !now.Before(rec.ExpiresAt) {
			rec.Status = StatusExpired
			r.removeLocked(key)
			removed++
		}
	}
	removed += r.evictOverCapLocked()
	return removed
}

// RunSweeper runs SweepExpired on a fixed interval until ctx is
// cancelled.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.SweepExpired(r.now()); n > 0 {
				ilog.Infof("sweep removed %d record(s)", n)
			}
		}
	}
}

// List returns a snapshot of every record, for the admin listing.
func (r *Registry) List() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	return out
}

// Stats returns counters for the status endpoints.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Stats{Generated: r.generated, Active: len(r.records)}
	if r.lastCode != "" {
		st.LastCode = paircode.FormatDisplay(r.lastCode)
	}
	for _, rec := range r.records {
		switch rec.Status {
		case StatusPending:
			st.Pending++
		case StatusLinked:
			st.Linked++
		}
	}
	return st
}

// Size returns the current number of records.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Close stops all outstanding expiry timers.  Issued codes after
// Close still expire lazily on lookup and via the sweep.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for code, t := range r.timers {
		t.Stop()
		delete(r.timers, code)
	}
}

// expire is the per-record timer callback.  The record may already be
// gone (sweep, eviction) or linked; both cases are no-ops.
func (r *Registry) expire(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[code]
	if !ok || rec.Status != StatusPending {
		return
	}
	if r.now().Before(rec.ExpiresAt) {
		return
	}
	rec.Status = StatusExpired
	r.removeLocked(code)
	ilog.WithCode(rec.DisplayCode).Debug("pairing code expired")
}

// evictOverCapLocked drops the oldest-created records until the table
// fits the cap.  Eviction is strictly FIFO by creation time, never by
// expiry proximity.  Caller must hold r.mu.
func (r *Registry) evictOverCapLocked() int {
	evicted := 0
	for r.maxSessions > 0 && len(r.records) > r.maxSessions {
		oldestKey := ""
		var oldestAt time.Time
		for key, rec := range r.records {
			if oldestKey == "" || rec.CreatedAt.Before(oldestAt) {
				oldestKey = key
				oldestAt = rec.CreatedAt
			}
		}
		r.removeLocked(oldestKey)
		evicted++
	}
	if evicted > 0 {
		ilog.Infof("evicted %d record(s) over cap %d", evicted, r.maxSessions)
	}
	return evicted
}

// removeLocked deletes a record and its timer.  Caller must hold r.mu.
func (r *Registry) removeLocked(code string) {
	delete(r.records, code)
	if t, ok := r.timers[code]; ok {
		t.Stop()
		delete(r.timers, code)
	}
}
