// Package registry implements the Execution Lock Registry: process-wide
// symbol-level mutual exclusion plus a per-(venue,symbol,side) active-order
// registry that lets the slice executor detect a concurrent duplicate
// submission before it ever reaches a venue. Grounded on core/router.go's
// mutex-guarded map-of-slices pattern, generalized from "subscriptions per
// market" to "lock/registry entries per symbol."
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hedgecore/engine/hedgetypes"
)

// OrderState is the registry entry's lifecycle state.
type OrderState string

const (
	StatePlacing     OrderState = "PLACING"
	StatePlaced      OrderState = "PLACED"
	StateWaitingFill OrderState = "WAITING_FILL"
	StateFilled      OrderState = "FILLED"
	StateCancelled   OrderState = "CANCELLED"
	StateFailed      OrderState = "FAILED"
)

func (s OrderState) terminal() bool {
	return s == StateFilled || s == StateCancelled || s == StateFailed
}

// orderKey identifies one active-order registry slot.
type orderKey struct {
	venue  hedgetypes.VenueTag
	symbol string
	side   hedgetypes.OrderSide
}

type entryInternal struct {
	state         OrderState
	ownerThreadID string
	orderID       string
	size          string
	price         string
	reduceOnly    bool
	createdAt     time.Time
}

// symbolLock is one symbol's non-blocking mutual-exclusion slot.
type symbolLock struct {
	ownerThreadID string
	acquiredAt    time.Time
	reason        string
}

// Registry implements symbol-level mutual exclusion and the active-order
// race-detection table described above. All operations are safe for
// concurrent use across goroutines executing distinct symbols in parallel.
type Registry struct {
	mu      sync.Mutex
	symbols map[string]*symbolLock
	orders  map[orderKey]*entryInternal

	staleCeiling time.Duration // entries/locks older than this are janitor-eligible
}

// New constructs an empty registry. staleCeiling should be roughly
// 10x the slice fill timeout.
func New(staleCeiling time.Duration) *Registry {
	return &Registry{
		symbols:      make(map[string]*symbolLock),
		orders:       make(map[orderKey]*entryInternal),
		staleCeiling: staleCeiling,
	}
}

// GenerateThreadID returns a fresh opaque owner id for a single hedge execution.
func (r *Registry) GenerateThreadID() string {
	return uuid.NewString()
}

// TryAcquireSymbol is non-blocking. Re-acquisition by the same thread id is
// idempotent; acquisition by a different thread id while held returns false.
func (r *Registry) TryAcquireSymbol(symbol, threadID, reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, held := r.symbols[symbol]
	if held && lock.ownerThreadID != threadID {
		log.Debug().
			Str("symbol", symbol).
			Str("requested_by", threadID).
			Str("held_by", lock.ownerThreadID).
			Msg("symbol lock busy")
		return false
	}

	r.symbols[symbol] = &symbolLock{
		ownerThreadID: threadID,
		acquiredAt:    time.Now(),
		reason:        reason,
	}
	return true
}

// ReleaseSymbol releases the lock only if threadID is the current owner;
// mismatched releases are no-ops, logged.
func (r *Registry) ReleaseSymbol(symbol, threadID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, held := r.symbols[symbol]
	if !held {
		return
	}
	if lock.ownerThreadID != threadID {
		log.Warn().
			Str("symbol", symbol).
			Str("releaser", threadID).
			Str("owner", lock.ownerThreadID).
			Msg("mismatched symbol lock release ignored")
		return
	}
	delete(r.symbols, symbol)
}

// HasActiveOrder reports whether a non-terminal registry entry exists for
// (venue, symbol, side). This is the race-detection primitive the slice
// executor consults before every order submission.
func (r *Registry) HasActiveOrder(venue hedgetypes.VenueTag, symbol string, side hedgetypes.OrderSide) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.orders[orderKey{venue, symbol, side}]
	return ok && !e.state.terminal()
}

// RegisterOrderPlacing creates a PLACING entry. Returns false if an active
// entry already exists for this key (the caller must treat this as a race
// condition and abort).
func (r *Registry) RegisterOrderPlacing(venue hedgetypes.VenueTag, symbol string, side hedgetypes.OrderSide, threadID, size, price string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := orderKey{venue, symbol, side}
	if e, ok := r.orders[key]; ok && !e.state.terminal() {
		return false
	}

	r.orders[key] = &entryInternal{
		state:         StatePlacing,
		ownerThreadID: threadID,
		size:          size,
		price:         price,
		createdAt:     time.Now(),
	}
	return true
}

// UpdateOrderStatus transitions a registry entry. Transitions are totally
// ordered by the caller (slice executor): PLACING -> PLACED -> WAITING_FILL ->
// terminal. Updating a nonexistent entry is a no-op, logged.
func (r *Registry) UpdateOrderStatus(venue hedgetypes.VenueTag, symbol string, side hedgetypes.OrderSide, newState OrderState, orderID, price string, reduceOnly bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := orderKey{venue, symbol, side}
	e, ok := r.orders[key]
	if !ok {
		log.Warn().
			Str("venue", string(venue)).
			Str("symbol", symbol).
			Str("side", string(side)).
			Str("new_state", string(newState)).
			Msg("updateOrderStatus on missing registry entry")
		return
	}

	e.state = newState
	if orderID != "" {
		e.orderID = orderID
	}
	if price != "" {
		e.price = price
	}
	e.reduceOnly = reduceOnly
}

// ForceClear removes a registry entry unconditionally, regardless of state.
// Used by rollback/cleanup paths and the stale-lock janitor.
func (r *Registry) ForceClear(venue hedgetypes.VenueTag, symbol string, side hedgetypes.OrderSide) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.orders, orderKey{venue, symbol, side})
}

// RunJanitor sweeps for registry entries and symbol locks older than the
// configured stale ceiling, clearing them as a safety net. It runs until stop
// is closed. This is not a correctness mechanism: normal
// cleanup always happens via the owning execution's finalizer.
func (r *Registry) RunJanitor(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.sweepStale()
		}
	}
}

func (r *Registry) sweepStale() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for key, e := range r.orders {
		if !e.state.terminal() && now.Sub(e.createdAt) > r.staleCeiling {
			log.Warn().
				Str("venue", string(key.venue)).
				Str("symbol", key.symbol).
				Str("side", string(key.side)).
				Dur("age", now.Sub(e.createdAt)).
				Msg("janitor force-clearing stale registry entry")
			delete(r.orders, key)
		}
	}
	for symbol, lock := range r.symbols {
		if now.Sub(lock.acquiredAt) > r.staleCeiling {
			log.Warn().
				Str("symbol", symbol).
				Str("owner", lock.ownerThreadID).
				Dur("age", now.Sub(lock.acquiredAt)).
				Msg("janitor force-releasing stale symbol lock")
			delete(r.symbols, symbol)
		}
	}
}
