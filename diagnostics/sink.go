// Package diagnostics defines the structured event sink every other package
// reports through, plus a zerolog-backed default implementation. The engine
// never swallows an unhedged residual silently: every terminal transition and
// every escalation goes through a Sink.
package diagnostics

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Kind enumerates the diagnostic event kinds the engine can raise.
type Kind string

const (
	KindRollbackMarketFailed     Kind = "ROLLBACK_MARKET_FAILED"
	KindRollbackException        Kind = "ROLLBACK_EXCEPTION"
	KindOrderFillTimeout         Kind = "ORDER_FILL_TIMEOUT"
	KindSingleLegFailure         Kind = "SINGLE_LEG_FAILURE"
	KindSplicingSafetyViolation  Kind = "SPLICING_SAFETY_VIOLATION"
)

// criticalKinds is consulted by sinks (e.g. diagnostics/telegram) that only
// want to forward escalations instead of every routine event.
var criticalKinds = map[Kind]bool{
	KindRollbackMarketFailed: true,
	KindRollbackException:    true,
}

// IsCritical reports whether kind represents a CRITICAL escalation.
func IsCritical(kind Kind) bool {
	return criticalKinds[kind]
}

// Event is the structured payload passed to a Sink.
type Event struct {
	Kind    Kind
	Message string
	Venue   string
	Symbol  string
	Context map[string]any
}

// Sink accepts diagnostic events. Implementations must not block the caller
// for long; a slow sink (e.g. a rate-limited Telegram API call) should buffer
// or fire-and-forget internally.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// LogSink emits every event as a structured zerolog line. It is always safe
// to use as a fallback or in addition to other sinks.
type LogSink struct{}

// NewLogSink constructs the default, always-available diagnostic sink.
func NewLogSink() *LogSink { return &LogSink{} }

// Emit implements Sink.
func (s *LogSink) Emit(_ context.Context, ev Event) {
	logEvt := log.Warn()
	if IsCritical(ev.Kind) {
		logEvt = log.Error()
	}
	logEvt = logEvt.
		Str("kind", string(ev.Kind)).
		Str("venue", ev.Venue).
		Str("symbol", ev.Symbol)
	for k, v := range ev.Context {
		logEvt = logEvt.Interface(k, v)
	}
	logEvt.Msg(ev.Message)
}

// MultiSink fans an event out to every sink in order. A panicking sink is not
// recovered from here — the caller's finalizer discipline (symbol lock
// release) must tolerate that, same as any other exit path.
type MultiSink struct {
	Sinks []Sink
}

// NewMultiSink builds a Sink that fans out to every sink given, in order.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// Emit implements Sink.
func (m *MultiSink) Emit(ctx context.Context, ev Event) {
	for _, s := range m.Sinks {
		if s == nil {
			continue
		}
		s.Emit(ctx, ev)
	}
}
