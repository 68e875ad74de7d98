// Package ledger records exam-integrity violations.
//
// A [Ledger] is append-only and shared between the dialogue and the
// proctoring monitor. Appending and checking the escalation threshold happen
// under one lock, so exactly one caller observes the append that reaches the
// limit. Once the limit is reached (or [Ledger.Seal] is called) the ledger
// rejects further appends with [ErrSealed].
package ledger

import (
	"errors"
	"sync"
	"time"
)

// DefaultLimit is the number of violations that terminates a session.
const DefaultLimit = 3

// ErrSealed is returned by [Ledger.Append] after the ledger has been sealed.
var ErrSealed = errors.New("ledger: sealed")

// Kind classifies a violation.
type Kind string

const (
	// KindPhone is a forbidden device seen by the camera.
	KindPhone Kind = "phone"

	// KindAbsence means no person was visible for too long.
	KindAbsence Kind = "absence"

	// KindTabSwitch means the exam view lost visibility.
	KindTabSwitch Kind = "tab_switch"
)

// Violation is a single recorded integrity concern. Immutable once created.
type Violation struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Kind      Kind      `json:"kind"`
}

// Result describes the effect of a single [Ledger.Append].
type Result struct {
	// Violation is the entry that was appended. Zero when Suppressed.
	Violation Violation

	// Count is the ledger size after the call.
	Count int

	// Tripped is true for exactly one append: the one that made Count reach
	// the limit. The ledger is sealed when Tripped is true.
	Tripped bool

	// Suppressed is true when the debounce window swallowed the violation.
	Suppressed bool
}

// Option is a functional option for [New].
type Option func(*Ledger)

// WithLimit sets the escalation threshold. Values below 1 are ignored.
func WithLimit(n int) Option {
	return func(l *Ledger) {
		if n >= 1 {
			l.limit = n
		}
	}
}

// WithDebounce suppresses a violation when another of the same kind was
// recorded less than d ago. Zero (the default) records every violation.
func WithDebounce(d time.Duration) Option {
	return func(l *Ledger) {
		l.debounce = d
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// Ledger is an append-only violation record. All methods are safe for
// concurrent use.
type Ledger struct {
	mu       sync.Mutex
	entries  []Violation
	lastSeen map[Kind]time.Time
	sealed   bool

	limit    int
	debounce time.Duration
	now      func() time.Time
}

// New returns an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		lastSeen: make(map[Kind]time.Time),
		limit:    DefaultLimit,
		now:      time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Append records a violation and checks the threshold in one step.
func (l *Ledger) Append(kind Kind, message string) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sealed {
		return Result{Count: len(l.entries)}, ErrSealed
	}

	now := l.now()
	if l.debounce > 0 {
		if last, ok := l.lastSeen[kind]; ok && now.Sub(last) < l.debounce {
			return Result{Count: len(l.entries), Suppressed: true}, nil
		}
	}
	l.lastSeen[kind] = now

	v := Violation{Timestamp: now, Message: message, Kind: kind}
	l.entries = append(l.entries, v)

	res := Result{Violation: v, Count: len(l.entries)}
	if len(l.entries) >= l.limit {
		l.sealed = true
		res.Tripped = true
	}
	return res, nil
}

// Seal stops the ledger from accepting further violations. Idempotent.
func (l *Ledger) Seal() {
	l.mu.Lock()
	l.sealed = true
	l.mu.Unlock()
}

// Sealed reports whether the ledger has been sealed.
func (l *Ledger) Sealed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sealed
}

// Len returns the number of recorded violations.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Limit returns the escalation threshold.
func (l *Ledger) Limit() int {
	return l.limit
}

// Violations returns a copy of the recorded violations, oldest first.
func (l *Ledger) Violations() []Violation {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Violation, len(l.entries))
	copy(out, l.entries)
	return out
}
