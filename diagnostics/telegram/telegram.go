// Package telegram implements a diagnostics.Sink that forwards CRITICAL
// escalations to a Telegram chat, grounded on internal/bot/telegram.go's
// tgbotapi.NewBotAPI setup. Unlike the teacher's bot, this sink never
// listens for commands — it is send-only, matching the ambient diagnostics
// concern rather than the teacher's interactive control-plane.
package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/hedgecore/engine/diagnostics"
)

// Sink sends every CRITICAL diagnostic event as a Telegram message.
// Non-critical events are dropped so the chat isn't flooded with routine
// warnings already covered by diagnostics.LogSink.
type Sink struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// New constructs a Sink bound to one bot token and destination chat.
func New(token string, chatID int64) (*Sink, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: bot init failed: %w", err)
	}
	log.Info().Str("bot", api.Self.UserName).Msg("telegram: diagnostic sink connected")
	return &Sink{api: api, chatID: chatID}, nil
}

// Emit implements diagnostics.Sink.
func (s *Sink) Emit(_ context.Context, ev diagnostics.Event) {
	if !diagnostics.IsCritical(ev.Kind) {
		return
	}

	text := fmt.Sprintf(
		"CRITICAL: %s\nvenue: %s\nsymbol: %s\n%s",
		ev.Kind, ev.Venue, ev.Symbol, ev.Message,
	)
	msg := tgbotapi.NewMessage(s.chatID, text)
	if _, err := s.api.Send(msg); err != nil {
		log.Warn().Err(err).Str("kind", string(ev.Kind)).Msg("telegram: failed to deliver diagnostic alert")
	}
}
