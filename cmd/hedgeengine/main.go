// Command hedgeengine wires the full hedged execution engine together and
// runs it against a single demonstration opportunity in paper mode.
// Grounded on cmd/polybot/main.go's logging setup, config load, component
// wiring, and signal-driven graceful shutdown.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/hedgecore/engine/config"
	"github.com/hedgecore/engine/diagnostics"
	"github.com/hedgecore/engine/diagnostics/sqlsink"
	"github.com/hedgecore/engine/diagnostics/telegram"
	"github.com/hedgecore/engine/hedgetypes"
	"github.com/hedgecore/engine/journal"
	"github.com/hedgecore/engine/orchestrator"
	"github.com/hedgecore/engine/venue/paper"
)

const version = "1.0.0"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	log.Info().Str("version", version).Bool("dry_run", cfg.DryRun).Msg("hedgeengine starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := buildSink(cfg)

	var recorder orchestrator.Recorder
	if cfg.JournalDSN != "" {
		j, err := journal.Open(cfg.JournalDSN)
		if err != nil {
			log.Warn().Err(err).Msg("journal unavailable, continuing without execution history")
		} else {
			recorder = j
			defer j.Close()
		}
	}

	orch := orchestrator.New(sink, recorder, cfg.OrchestratorConfig())

	janitorStop := make(chan struct{})
	go orch.Registry().RunJanitor(cfg.JanitorInterval, janitorStop)
	defer close(janitorStop)

	longAdapter := paper.NewPaperAdapter(hedgetypes.VenueFlakyDEX)
	shortAdapter := paper.NewPaperAdapter(hedgetypes.VenueReliableCEX)

	opp := hedgetypes.Opportunity{
		Symbol:     "BTC-PERP",
		LongVenue:  hedgetypes.VenueFlakyDEX,
		ShortVenue: hedgetypes.VenueReliableCEX,
		LongPrice:  decimal.NewFromFloat(65000),
		ShortPrice: decimal.NewFromFloat(65010),
		TargetSize: decimal.NewFromFloat(0.5),
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	resultCh := make(chan hedgetypes.ExecutionResult, 1)
	go func() {
		resultCh <- orch.Execute(ctx, opp, longAdapter, shortAdapter)
	}()

	select {
	case result := <-resultCh:
		log.Info().
			Bool("success", result.Success).
			Int("completed_slices", result.CompletedSlices).
			Int("total_slices", result.TotalSlices).
			Str("abort_reason", result.AbortReason).
			Msg("execution finished")
	case <-quit:
		log.Info().Msg("shutdown signal received, cancelling execution")
		cancel()
		<-resultCh
	}

	log.Info().Msg("hedgeengine exiting")
}

func buildSink(cfg *config.Config) diagnostics.Sink {
	sinks := []diagnostics.Sink{diagnostics.NewLogSink()}

	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tgSink, err := telegram.New(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			log.Warn().Err(err).Msg("telegram diagnostics sink unavailable")
		} else {
			sinks = append(sinks, tgSink)
		}
	}

	if cfg.DiagnosticsDSN != "" {
		sqlSink, err := sqlsink.New(cfg.DiagnosticsDSN)
		if err != nil {
			log.Warn().Err(err).Msg("sql diagnostics sink unavailable")
		} else {
			sinks = append(sinks, sqlSink)
		}
	}

	return diagnostics.NewMultiSink(sinks...)
}
