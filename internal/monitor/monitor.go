// Package monitor implements the Position Monitor (spec §4.4, §4.5): a
// 60-second tick that decides, per open position, whether MT4's
// server-side stop should keep running a winner, whether a stagnant
// loser should be force-closed, or whether the LLM exit-signal
// collaborator should be consulted and its recommendation acted on.
//
// It replaces the teacher's event-bus-driven alert monitor (which
// subscribed to events.EventRiskAlert and forwarded formatted strings to
// an AlertFn) with a ticker-driven per-position fan-out, grounded on the
// Start/Stop ticker shape of the reference position monitor
// (RyanLisse-go-crypto-bot-clean's position_monitor.go).
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"mt4core/internal/collab"
	"mt4core/internal/model"
	"mt4core/internal/registry"
	"mt4core/pkg/db"
)

// BridgeClient is the subset of pkg/bridge.Client the monitor depends on.
type BridgeClient interface {
	GetOpenPositions(ctx context.Context, userID string) ([]model.Order, error)
	ClosePosition(ctx context.Context, userID string, ticket int64, volume decimal.Decimal) (model.Order, error)
}

// Monitor ties the registry, persistence, bridge, and the exit-signal/
// notification collaborators together into the tick algorithm of spec
// §4.4-§4.5.
type Monitor struct {
	bridge   BridgeClient
	registry *registry.Store
	queries  *db.Queries
	exitGen  collab.ExitSignalGenerator
	notifier collab.Notifier
	metrics  *SystemMetrics
	log      zerolog.Logger

	tickInterval time.Duration
	stop         chan struct{}
}

// New builds a Position Monitor.
func New(bridge BridgeClient, reg *registry.Store, queries *db.Queries, exitGen collab.ExitSignalGenerator, notifier collab.Notifier, tickInterval time.Duration, log zerolog.Logger) *Monitor {
	return &Monitor{
		bridge:       bridge,
		registry:     reg,
		queries:      queries,
		exitGen:      exitGen,
		notifier:     notifier,
		metrics:      NewSystemMetrics(),
		log:          log,
		tickInterval: tickInterval,
		stop:         make(chan struct{}),
	}
}

// Metrics exposes the monitor's SystemMetrics for the ops API.
func (m *Monitor) Metrics() *SystemMetrics { return m.metrics }

// Start runs monitorAllPositions on the configured tick interval until
// ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.tickInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.MonitorAllPositions(ctx)
			}
		}
	}()
}

// Stop halts the tick loop.
func (m *Monitor) Stop() {
	close(m.stop)
}

// AddPosition inserts a position into the registry (spec §4.4, idempotent
// by tradeId).
func (m *Monitor) AddPosition(tradeID, userID, agentID, symbol string, entryPrice decimal.Decimal, signal model.EntrySignalData, mt4Ticket int64) {
	m.registry.AddPosition(model.MonitoredPosition{
		TradeID:         tradeID,
		UserID:          userID,
		AgentID:         agentID,
		Symbol:          symbol,
		EntryPrice:      entryPrice,
		CurrentPrice:    entryPrice,
		EntryTime:       time.Now(),
		EntrySignalData: signal,
		LastCheckTime:   time.Now(),
		MT4Ticket:       mt4Ticket,
	})
}

// RemovePosition drops a position from the registry (no-op if absent).
func (m *Monitor) RemovePosition(tradeID string) {
	m.registry.RemovePosition(tradeID)
}

// Snapshot returns every position currently monitored, for the ops API's
// read-only /admin/positions endpoint.
func (m *Monitor) Snapshot() []model.MonitoredPosition {
	return m.registry.Snapshot()
}

// RegistrySize reports how many positions are currently monitored, for the
// ops API's /metrics snapshot (SPEC_FULL.md ops surface).
func (m *Monitor) RegistrySize() int {
	return m.registry.Len()
}

// ForceClose manually closes a monitored position outside the normal tick
// cycle, for the ops API's operator-initiated close endpoint. It runs the
// same dispatchExit path a tick would, tagged with an operator-supplied
// reason rather than an LLM recommendation.
func (m *Monitor) ForceClose(ctx context.Context, tradeID, reason string) error {
	pos, ok := m.registry.Get(tradeID)
	if !ok {
		return fmt.Errorf("monitor: force close: no monitored position %q", tradeID)
	}
	doc, err := m.queries.GetPositionDocument(ctx, tradeID)
	if err != nil {
		return fmt.Errorf("monitor: force close: load position document: %w", err)
	}
	if doc.Status != model.PositionOpen {
		m.registry.RemovePosition(tradeID)
		return fmt.Errorf("monitor: force close: position %q already %s", tradeID, doc.Status)
	}
	if reason == "" {
		reason = "operator-requested"
	}
	m.dispatchExit(ctx, pos, doc, model.ExitSignal{ShouldExit: true, ExitType: model.ExitFull, Confidence: 100, Reason: reason})
	return nil
}

// LoadExistingPositions hydrates the registry from persisted
// PositionDocuments with status=open on startup (spec §4.4
// loadExistingPositions; §9 Open Question resolution: deterministic
// re-hydration from any open PositionDocument rather than reconstructing
// signal context from trade history).
func (m *Monitor) LoadExistingPositions(ctx context.Context) error {
	docs, err := m.queries.ListOpenPositionDocuments(ctx)
	if err != nil {
		return fmt.Errorf("monitor: load existing positions: %w", err)
	}
	m.registry.Load(ctx, docs)
	return nil
}

// MonitorAllPositions fans out one evaluation per registered position,
// bounded by the registry's size, and awaits all of them (spec §4.4).
func (m *Monitor) MonitorAllPositions(ctx context.Context) {
	timer := NewTimer(m.metrics.TickLatency)
	defer timer.Stop()

	positions := m.registry.Snapshot()
	done := make(chan struct{}, len(positions))
	for _, pos := range positions {
		pos := pos
		go func() {
			defer func() { done <- struct{}{} }()
			_, _, _ = m.registry.SingleFlight(pos.TradeID, func() (interface{}, error) {
				m.evaluate(ctx, pos)
				return nil, nil
			})
		}()
	}
	for range positions {
		<-done
	}
}

// evaluate runs the per-position tick algorithm (spec §4.4 steps 1-9).
func (m *Monitor) evaluate(ctx context.Context, pos model.MonitoredPosition) {
	m.metrics.IncrementPositionsProcessed()

	// Step 1: scope filter.
	if !inScope(pos.Symbol, pos.EntrySignalData) {
		return
	}

	// Step 2: persistent liveness.
	doc, err := m.queries.GetPositionDocument(ctx, pos.TradeID)
	if err != nil {
		if err == db.ErrNotFound {
			m.registry.RemovePosition(pos.TradeID)
			return
		}
		m.metrics.IncrementErrors()
		m.log.Warn().Err(err).Str("trade_id", pos.TradeID).Msg("monitor: load position document failed")
		return
	}
	if doc.Status != model.PositionOpen {
		m.registry.RemovePosition(pos.TradeID)
		return
	}

	// Step 3: live refresh.
	if orders, err := m.bridge.GetOpenPositions(ctx, pos.UserID); err != nil {
		m.log.Warn().Err(err).Str("trade_id", pos.TradeID).Msg("monitor: live refresh failed, proceeding with cached values")
	} else {
		for _, o := range orders {
			if o.Ticket == doc.Ticket {
				doc.CurrentPrice = o.CurrentPrice
				doc.Profit = o.Profit
				break
			}
		}
	}
	if err := m.queries.UpsertPositionDocument(ctx, doc); err != nil {
		m.log.Warn().Err(err).Str("trade_id", pos.TradeID).Msg("monitor: persist live refresh failed")
	}
	pnl := pnlPercent(doc.Profit, doc.EntryPrice, doc.LotSize, doc.CurrentPrice, doc.Side)

	pos.CurrentPrice = doc.CurrentPrice
	pos.LastCheckTime = time.Now()
	m.registry.Update(pos)

	// Step 4: trailing-stop gate.
	if skipForTrailingStop(doc) {
		return
	}

	// Step 5: profit-protection gate.
	if skipForProfitProtection(doc.CurrentPrice, doc.EntryPrice, doc.TakeProfit, doc.Side) {
		return
	}

	// Step 6: stagnant-loser gate (overrides LLM).
	openForMinutes := time.Since(pos.EntryTime).Minutes()
	if progress, force := stagnantLoserCheck(doc, doc.Side, openForMinutes); force {
		signal := model.ExitSignal{
			ShouldExit: true,
			ExitType:   model.ExitFull,
			Confidence: 80,
			Reason:     fmt.Sprintf("Stagnant loser: %.0fmin open, %s%% to SL", openForMinutes, progress.Mul(decimal.NewFromInt(100)).StringFixed(1)),
		}
		m.dispatchExit(ctx, pos, doc, signal)
		return
	}

	// Step 7: LLM exit signal.
	if m.exitGen == nil {
		return
	}
	order := model.Order{
		Ticket:       doc.Ticket,
		Symbol:       doc.Symbol,
		Side:         doc.Side,
		CurrentPrice: doc.CurrentPrice,
		OpenPrice:    doc.EntryPrice,
		Profit:       doc.Profit,
	}
	pos.EntrySignalData.Extra = withPnLPercent(pos.EntrySignalData.Extra, pnl)
	signal, err := m.exitGen.GenerateExitSignal(ctx, pos, order)
	m.metrics.IncrementSignalsEvaluated()
	if err != nil {
		m.metrics.IncrementErrors()
		m.log.Warn().Err(err).Str("trade_id", pos.TradeID).Msg("monitor: exit signal generation failed")
		return
	}
	if !signal.ShouldExit {
		return
	}

	// Step 8: winner-consensus rule.
	if requiresUnanimousConsensus(doc.Profit) && !signal.LLMRecommendations.Unanimous() {
		m.log.Info().
			Str("trade_id", pos.TradeID).
			Int("votes", signal.LLMRecommendations.VoteCount()).
			Msg("monitor: winner-consensus veto, not all analyzers agreed to exit")
		return
	}

	// Step 9: dispatch exit.
	m.dispatchExit(ctx, pos, doc, signal)
}

func withPnLPercent(extra map[string]interface{}, pnl decimal.Decimal) map[string]interface{} {
	if extra == nil {
		extra = make(map[string]interface{}, 1)
	}
	extra["pnlPercent"] = pnl.InexactFloat64()
	return extra
}

// dispatchExit implements spec §4.5. It re-verifies the ticket is still
// open before closing, executes a FULL exit through the bridge, updates
// persistence, and notifies; PARTIAL exits are not yet supported by the
// bridge contract and are logged and skipped.
func (m *Monitor) dispatchExit(ctx context.Context, pos model.MonitoredPosition, doc model.PositionDocument, signal model.ExitSignal) {
	timer := NewTimer(m.metrics.ExitLatency)
	defer timer.Stop()

	// Re-verify: the ticket may already have been closed server-side
	// (stop loss/take profit hit, manual close) between the live refresh
	// and now.
	stillOpen := false
	orders, err := m.bridge.GetOpenPositions(ctx, doc.UserID)
	if err != nil {
		m.log.Warn().Err(err).Str("trade_id", pos.TradeID).Msg("monitor: re-verify before exit failed, proceeding with cached liveness")
		stillOpen = true
	} else {
		for _, o := range orders {
			if o.Ticket == doc.Ticket {
				stillOpen = true
				break
			}
		}
	}
	if !stillOpen {
		doc.Status = model.PositionClosed
		doc.ClosedAt = time.Now()
		doc.CloseReason = "mt4-already-closed"
		if err := m.queries.UpsertPositionDocument(ctx, doc); err != nil {
			m.log.Warn().Err(err).Str("trade_id", pos.TradeID).Msg("monitor: mark already-closed position failed")
		}
		m.registry.RemovePosition(pos.TradeID)
		return
	}

	pnl := doc.Profit
	switch signal.ExitType {
	case model.ExitPartial:
		m.log.Info().Str("trade_id", pos.TradeID).Msg("monitor: partial exit requested but not supported by bridge, skipping")
		return
	default:
		closedOrder, err := m.bridge.ClosePosition(ctx, doc.UserID, doc.Ticket, doc.LotSize)
		if err != nil {
			m.metrics.IncrementErrors()
			m.log.Warn().Err(err).Str("trade_id", pos.TradeID).Msg("monitor: close position failed")
			return
		}
		if closedOrder.Ticket != 0 {
			pnl = closedOrder.Profit
		}
	}

	doc.Status = model.PositionClosed
	doc.ClosedAt = time.Now()
	doc.CloseReason = "early-exit-llm"
	doc.Profit = pnl
	if err := m.queries.UpsertPositionDocument(ctx, doc); err != nil {
		m.log.Warn().Err(err).Str("trade_id", pos.TradeID).Msg("monitor: persist closed position failed")
	}

	notes := fmt.Sprintf("%s (confidence=%d)", signal.Reason, signal.Confidence)
	trade := model.TradeRecord{
		TradeID:          pos.TradeID,
		UserID:           pos.UserID,
		Symbol:           pos.Symbol,
		PnL:              pnl,
		CloseReason:      "early-exit-llm",
		PerformanceNotes: notes,
		UpdatedAt:        time.Now(),
	}
	if err := m.queries.UpsertTradeRecord(ctx, trade); err != nil {
		m.log.Warn().Err(err).Str("trade_id", pos.TradeID).Msg("monitor: persist trade record failed")
	}

	m.registry.RemovePosition(pos.TradeID)
	m.metrics.IncrementExits()

	if m.notifier != nil {
		msg := fmt.Sprintf(
			"[%s] closed entry=%s exit=%s pnl=%s reason=%q confidence=%d",
			pos.Symbol, doc.EntryPrice, doc.CurrentPrice, doc.Profit, signal.Reason, signal.Confidence,
		)
		if err := m.notifier.Notify(ctx, pos.UserID, msg); err != nil {
			m.log.Warn().Err(err).Str("trade_id", pos.TradeID).Msg("monitor: notification failed")
		}
	}
}
