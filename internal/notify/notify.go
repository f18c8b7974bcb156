// Package notify provides the position monitor's notification
// collaborator, adapted from the teacher's pluggable AlertSink interface
// (internal/monitor/alerts.go) into the structured exit-message shape
// spec §4.5 calls for.
package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ExitMessage is a structured exit notification (spec §4.5: symbol,
// entry, exit, P&L, reason, confidence, per-LLM reasons). The position
// monitor does not build one; it formats the same one-line text itself.
// String renders every field except UserID and AnalyzerNotes.
type ExitMessage struct {
	UserID        string
	Symbol        string
	EntryPrice    decimal.Decimal
	ExitPrice     decimal.Decimal
	PnL           decimal.Decimal
	Reason        string
	Confidence    int
	AnalyzerNotes map[string]string
}

func (m ExitMessage) String() string {
	return fmt.Sprintf(
		"[%s] closed entry=%s exit=%s pnl=%s reason=%q confidence=%d",
		m.Symbol, m.EntryPrice, m.ExitPrice, m.PnL, m.Reason, m.Confidence,
	)
}

// Sink is the pluggable alert delivery interface, same shape as the
// teacher's AlertSink but async-aware since notifications fan out from
// the monitor's per-position goroutines.
type Sink interface {
	Send(ctx context.Context, userID, message string) error
}

// LogSink is a Sink that writes the notification to a structured logger.
// It is always wired in, serving as the default/fallback delivery path;
// richer sinks (webhook, pub/sub) can be layered in front of it.
type LogSink struct {
	log zerolog.Logger
}

// NewLogSink builds a Sink backed by the given logger.
func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log}
}

// Send never returns an error: delivery failure is not a valid outcome
// for the logging sink, which is the backstop.
func (s *LogSink) Send(ctx context.Context, userID, message string) error {
	s.log.Info().Str("user_id", userID).Msg(message)
	return nil
}

// Notifier adapts a Sink to the collab.Notifier interface the monitor
// depends on.
type Notifier struct {
	sink Sink
}

// New builds a Notifier over the given Sink.
func New(sink Sink) *Notifier {
	return &Notifier{sink: sink}
}

// Notify delivers message for userID, swallowing delivery failures at the
// caller's discretion (spec §4.5: "failure to send is logged and
// swallowed — never a reason to roll back the already-completed close").
func (n *Notifier) Notify(ctx context.Context, userID, message string) error {
	return n.sink.Send(ctx, userID, message)
}
