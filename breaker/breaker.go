// Package breaker implements the Circuit Breaker: a sliding-window error
// counter that gates new-position opening while never blocking closes or
// rollbacks. Grounded on risk/circuit_breaker.go's trip/cooldown
// shape, generalized from a boolean "tripped" flag into a three-state
// CLOSED/HALF_OPEN/OPEN machine.
package breaker

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// State is the circuit breaker's current gating state.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Config controls breaker thresholds.
type Config struct {
	ErrorThreshold      int           // errors within Window that trip the breaker
	Window              time.Duration // sliding window for error counting
	Cooldown            time.Duration // OPEN duration before probing HALF_OPEN
	HalfOpenProbeVolume int           // successes required in HALF_OPEN to close
}

// DefaultConfig mirrors risk/circuit_breaker.go's thresholds,
// adapted from "consecutive losses" to "recent errors."
func DefaultConfig() Config {
	return Config{
		ErrorThreshold:      3,
		Window:              5 * time.Minute,
		Cooldown:            2 * time.Minute,
		HalfOpenProbeVolume: 2,
	}
}

// Breaker is the process-wide, shared-mutable-state circuit breaker.
// Operations are atomic under an internal mutex.
type Breaker struct {
	mu     sync.Mutex
	cfg    Config
	state  State

	errorTimestamps []time.Time
	trippedAt       time.Time
	halfOpenSuccess int
	reason          string
}

// New constructs a CLOSED breaker.
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg, state: StateClosed}
}

// CanOpenNewPosition reports whether a new opening may proceed. Closes and
// rollbacks must never call this — they are never gated.
func (b *Breaker) CanOpenNewPosition() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeProbe()
	return b.state != StateOpen
}

// GetState returns the current gating state.
func (b *Breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeProbe()
	return b.state
}

// maybeProbe transitions OPEN -> HALF_OPEN once the cooldown has elapsed.
// Caller must hold b.mu.
func (b *Breaker) maybeProbe() {
	if b.state == StateOpen && time.Since(b.trippedAt) >= b.cfg.Cooldown {
		b.state = StateHalfOpen
		b.halfOpenSuccess = 0
		log.Info().Msg("circuit breaker entering HALF_OPEN after cooldown")
	}
}

// RecordError records an error of the given kind. Any error while HALF_OPEN
// reopens the breaker immediately; enough recent errors while CLOSED trips it.
func (b *Breaker) RecordError(kind string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.errorTimestamps = append(b.errorTimestamps, now)
	b.errorTimestamps = pruneOlderThan(b.errorTimestamps, now, b.cfg.Window)

	switch b.state {
	case StateHalfOpen:
		b.trip(now, "error during HALF_OPEN probe: "+kind)
	case StateClosed:
		if len(b.errorTimestamps) >= b.cfg.ErrorThreshold {
			b.trip(now, "error threshold exceeded: "+kind)
		}
	}
}

// RecordSuccess records a success. Consecutive successes while HALF_OPEN
// close the breaker once the probe volume is satisfied.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateHalfOpen {
		return
	}

	b.halfOpenSuccess++
	if b.halfOpenSuccess >= b.cfg.HalfOpenProbeVolume {
		b.state = StateClosed
		b.errorTimestamps = nil
		b.reason = ""
		log.Info().Msg("circuit breaker closed after successful HALF_OPEN probe")
	}
}

func (b *Breaker) trip(now time.Time, reason string) {
	b.state = StateOpen
	b.trippedAt = now
	b.reason = reason
	log.Warn().
		Str("reason", reason).
		Dur("cooldown", b.cfg.Cooldown).
		Msg("circuit breaker OPEN")
}

// Reason returns the last trip reason, for diagnostics.
func (b *Breaker) Reason() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reason
}

func pruneOlderThan(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	cut := 0
	for _, t := range ts {
		if now.Sub(t) <= window {
			break
		}
		cut++
	}
	return ts[cut:]
}
