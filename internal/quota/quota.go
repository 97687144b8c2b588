// Package quota enforces the per-identity daily recognition allowance.
//
// Each identity owns a counter and the time it was last reset. A check
// resets the counter once a full day has passed, then compares it to the
// identity's limit. Counting happens separately, only after a recognition
// actually produced a label.
package quota

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/ayusman/handsign/internal/identity"
)

// Period is how long a counter lives before it is reset.
const Period = 24 * time.Hour

// DefaultGuestLimit is the daily allowance for guests.
const DefaultGuestLimit = 10

var (
	// ErrStoreUnavailable means the backing store failed. Callers must deny
	// the request.
	ErrStoreUnavailable = errors.New("quota: store unavailable")
	// ErrUnknownIdentity means a registered identity has no usage record.
	ErrUnknownIdentity = errors.New("quota: unknown identity")
	// ErrNoUsage is returned by stores when no record exists for an id.
	ErrNoUsage = errors.New("quota: no usage record")
)

// State is the outcome of a quota check.
type State int

const (
	WithinLimit State = iota
	AtLimit
)

func (s State) String() string {
	if s == AtLimit {
		return "AT_LIMIT"
	}
	return "WITHIN_LIMIT"
}

// Usage is one identity's counter as held by a store. A nil DailyLimit
// means unlimited.
type Usage struct {
	Tier            string
	DailyLimit      *int
	RecognizedCount int
	LastReset       *time.Time
}

// Tier is a subscription level.
type Tier struct {
	Name       string
	DailyLimit *int
	Price      float64
}

// CounterStore persists usage counters.
type CounterStore interface {
	// GetUsage returns the counter for id, or ErrNoUsage.
	GetUsage(ctx context.Context, id string) (Usage, error)
	// ResetUsage sets the count to zero and last reset to at.
	ResetUsage(ctx context.Context, id string, at time.Time) error
	// IncrementUsage stores newCount as the count for id.
	IncrementUsage(ctx context.Context, id string, newCount int) error
}

// UsageStore is the store for registered users. It also resolves tiers.
type UsageStore interface {
	CounterStore
	GetTier(ctx context.Context, name string) (Tier, error)
}

// AtomicIncrementer is implemented by stores that can add one to a counter
// in a single round trip. The tracker prefers it over read then write.
type AtomicIncrementer interface {
	AddUsage(ctx context.Context, id string) (int, error)
}

// Decision is the result of Check, Record or Status.
type Decision struct {
	State     State
	Used      int
	Limit     int
	Unlimited bool
	ResetAt   time.Time
}

// Remaining returns how many recognitions are left, or -1 when unlimited.
func (d Decision) Remaining() int {
	if d.Unlimited {
		return -1
	}
	return max(0, d.Limit-d.Used)
}

// Allowed reports whether recognition may proceed.
func (d Decision) Allowed() bool { return d.State == WithinLimit }

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithGuestLimit overrides DefaultGuestLimit.
func WithGuestLimit(n int) Option {
	return func(t *Tracker) { t.guestLimit = n }
}

const lockStripes = 64

// Tracker applies the daily allowance. It is safe for concurrent use.
//
// The limit is soft: frames in flight for the same identity can all pass
// Check before any of them is recorded, so usage may end a little above the
// limit. Record itself never loses an increment.
type Tracker struct {
	users      UsageStore
	guests     CounterStore
	guestLimit int
	now        func() time.Time
	locks      [lockStripes]sync.Mutex
}

// NewTracker returns a Tracker over users and guests.
func NewTracker(users UsageStore, guests CounterStore, opts ...Option) *Tracker {
	t := &Tracker{
		users:      users,
		guests:     guests,
		guestLimit: DefaultGuestLimit,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) lock(id identity.Identity) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id.String()))
	return &t.locks[h.Sum32()%lockStripes]
}

func (t *Tracker) storeFor(id identity.Identity) CounterStore {
	if id.IsGuest() {
		return t.guests
	}
	return t.users
}

// load fetches the usage for id. A guest without a record starts empty and
// always carries the guest limit.
func (t *Tracker) load(ctx context.Context, id identity.Identity) (Usage, error) {
	u, err := t.storeFor(id).GetUsage(ctx, id.ID)
	switch {
	case err == nil:
	case errors.Is(err, ErrNoUsage) && id.IsGuest():
		u = Usage{}
	case errors.Is(err, ErrNoUsage):
		return Usage{}, fmt.Errorf("%w: %s", ErrUnknownIdentity, id)
	default:
		return Usage{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if id.IsGuest() {
		limit := t.guestLimit
		u.DailyLimit = &limit
	}
	return u, nil
}

func due(last *time.Time, now time.Time) bool {
	return last == nil || now.Sub(*last) >= Period
}

func (t *Tracker) decide(u Usage) Decision {
	d := Decision{Used: u.RecognizedCount}
	if u.LastReset != nil {
		d.ResetAt = u.LastReset.Add(Period)
	}
	if u.DailyLimit == nil {
		d.Unlimited = true
		return d
	}
	d.Limit = *u.DailyLimit
	if u.RecognizedCount >= d.Limit {
		d.State = AtLimit
	}
	return d
}

// Check resets the counter when its period has elapsed and reports whether
// id may run another recognition. It never increments.
func (t *Tracker) Check(ctx context.Context, id identity.Identity) (Decision, error) {
	u, err := t.load(ctx, id)
	if err != nil {
		return Decision{}, err
	}

	if due(u.LastReset, t.now()) {
		if u, err = t.reset(ctx, id); err != nil {
			return Decision{}, err
		}
	}

	return t.decide(u), nil
}

// reset zeroes the counter under the identity's lock. The usage is reloaded
// first so a concurrent Check that already reset and recorded in this
// period is not undone.
func (t *Tracker) reset(ctx context.Context, id identity.Identity) (Usage, error) {
	mu := t.lock(id)
	mu.Lock()
	defer mu.Unlock()

	u, err := t.load(ctx, id)
	if err != nil {
		return Usage{}, err
	}
	now := t.now()
	if !due(u.LastReset, now) {
		return u, nil
	}
	if err := t.storeFor(id).ResetUsage(ctx, id.ID, now); err != nil {
		return Usage{}, fmt.Errorf("%w: reset: %w", ErrStoreUnavailable, err)
	}
	u.RecognizedCount = 0
	u.LastReset = &now
	return u, nil
}

// Record counts one successful recognition for id and returns the updated
// decision.
func (t *Tracker) Record(ctx context.Context, id identity.Identity) (Decision, error) {
	mu := t.lock(id)
	mu.Lock()
	defer mu.Unlock()

	u, err := t.load(ctx, id)
	if err != nil {
		return Decision{}, err
	}

	store := t.storeFor(id)
	if inc, ok := store.(AtomicIncrementer); ok {
		n, err := inc.AddUsage(ctx, id.ID)
		if err != nil {
			return Decision{}, fmt.Errorf("%w: increment: %w", ErrStoreUnavailable, err)
		}
		u.RecognizedCount = n
	} else {
		u.RecognizedCount++
		if err := store.IncrementUsage(ctx, id.ID, u.RecognizedCount); err != nil {
			return Decision{}, fmt.Errorf("%w: increment: %w", ErrStoreUnavailable, err)
		}
	}

	return t.decide(u), nil
}

// Status reports the current decision without persisting anything. A due
// reset is reflected as zero usage.
func (t *Tracker) Status(ctx context.Context, id identity.Identity) (Decision, *Tier, error) {
	u, err := t.load(ctx, id)
	if err != nil {
		return Decision{}, nil, err
	}
	if now := t.now(); due(u.LastReset, now) {
		u.RecognizedCount = 0
		u.LastReset = nil
	}

	if id.IsGuest() || u.Tier == "" {
		return t.decide(u), nil, nil
	}
	tier, err := t.users.GetTier(ctx, u.Tier)
	if err != nil {
		return Decision{}, nil, fmt.Errorf("%w: tier: %w", ErrStoreUnavailable, err)
	}
	return t.decide(u), &tier, nil
}
