// Package sqlsink implements a write-only diagnostic event ledger over
// database/sql + lib/pq, grounded on storage/database.go's connect/migrate
// pattern. It is audit-only: the engine never reads this table back to
// reconstruct state, so it stays compatible with treating cross-restart
// recovery as out of scope.
package sqlsink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	_ "github.com/lib/pq"

	"github.com/hedgecore/engine/diagnostics"
)

// Sink persists every diagnostic event to a Postgres table. Construction
// fails closed: if the connection or migration fails, New returns an error
// rather than silently degrading to a no-op, since diagnostics is the
// audit trail CRITICAL escalations depend on.
type Sink struct {
	db *sql.DB
}

// New opens dsn and ensures the diagnostic_events table exists.
func New(dsn string) (*Sink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlsink: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("sqlsink: ping: %w", err)
	}

	s := &Sink{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	log.Info().Msg("sqlsink: diagnostic event ledger connected")
	return s, nil
}

func (s *Sink) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS diagnostic_events (
		id SERIAL PRIMARY KEY,
		kind TEXT NOT NULL,
		venue TEXT,
		symbol TEXT,
		message TEXT NOT NULL,
		context JSONB,
		created_at TIMESTAMP DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_diagnostic_events_kind ON diagnostic_events(kind);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Emit implements diagnostics.Sink. Write failures are logged, never
// returned — a broken diagnostic sink must not interrupt execution.
func (s *Sink) Emit(ctx context.Context, ev diagnostics.Event) {
	ctxJSON, err := json.Marshal(ev.Context)
	if err != nil {
		ctxJSON = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO diagnostic_events (kind, venue, symbol, message, context) VALUES ($1, $2, $3, $4, $5)`,
		string(ev.Kind), ev.Venue, ev.Symbol, ev.Message, ctxJSON,
	)
	if err != nil {
		log.Warn().Err(err).Str("kind", string(ev.Kind)).Msg("sqlsink: failed to persist diagnostic event")
	}
}

// Close releases the underlying connection pool.
func (s *Sink) Close() error {
	return s.db.Close()
}
