package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"mt4core/internal/collab"
	"mt4core/internal/model"
	"mt4core/internal/registry"
	"mt4core/pkg/db"
)

func newTestDB(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return database
}

type fakeBridge struct {
	mu       sync.Mutex
	orders   []model.Order
	closed   []int64
	closeErr error
}

func (f *fakeBridge) GetOpenPositions(ctx context.Context, userID string) ([]model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Order, len(f.orders))
	copy(out, f.orders)
	return out, nil
}

func (f *fakeBridge) ClosePosition(ctx context.Context, userID string, ticket int64, volume decimal.Decimal) (model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closeErr != nil {
		return model.Order{}, f.closeErr
	}
	f.closed = append(f.closed, ticket)
	var remaining []model.Order
	var closed model.Order
	for _, o := range f.orders {
		if o.Ticket == ticket {
			closed = o
			continue
		}
		remaining = append(remaining, o)
	}
	f.orders = remaining
	closed.Ticket = ticket
	closed.Status = model.OrderClosed
	return closed, nil
}

type fakeExitGen struct {
	signal model.ExitSignal
	err    error
	calls  int
}

func (f *fakeExitGen) GenerateExitSignal(ctx context.Context, pos model.MonitoredPosition, order model.Order) (model.ExitSignal, error) {
	f.calls++
	return f.signal, f.err
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (f *fakeNotifier) Notify(ctx context.Context, userID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
	return f.err
}

func baseDoc() model.PositionDocument {
	return model.PositionDocument{
		TradeID:      "trade-1",
		UserID:       "user-1",
		Ticket:       1001,
		Symbol:       "BTCUSDT",
		Side:         model.SideBuy,
		Status:       model.PositionOpen,
		LotSize:      decimal.NewFromFloat(0.1),
		EntryPrice:   decimal.NewFromInt(50000),
		CurrentPrice: decimal.NewFromInt(50000),
		StopLoss:     decimal.NewFromInt(49000),
		TakeProfit:   decimal.NewFromInt(52000),
	}
}

func basePos() model.MonitoredPosition {
	return model.MonitoredPosition{
		TradeID:         "trade-1",
		UserID:          "user-1",
		Symbol:          "BTCUSDT",
		EntryPrice:      decimal.NewFromInt(50000),
		CurrentPrice:    decimal.NewFromInt(50000),
		EntryTime:       time.Now().Add(-time.Hour),
		EntrySignalData: model.EntrySignalData{Category: scopeCategory},
	}
}

func newMonitor(t *testing.T, bridge BridgeClient, exitGen *fakeExitGen, notifier *fakeNotifier) (*Monitor, *db.Queries) {
	t.Helper()
	database := newTestDB(t)
	q := database.Queries()
	reg := registry.New()
	var eg collab.ExitSignalGenerator
	if exitGen != nil {
		eg = exitGen
	}
	var nt collab.Notifier
	if notifier != nil {
		nt = notifier
	}
	m := New(bridge, reg, q, eg, nt, time.Minute, zerolog.Nop())
	return m, q
}

func TestEvaluateSkipsOutOfScopeSymbol(t *testing.T) {
	m, q := newMonitor(t, &fakeBridge{}, nil, nil)
	doc := baseDoc()
	doc.Symbol = "ETHUSD"
	if err := q.UpsertPositionDocument(context.Background(), doc); err != nil {
		t.Fatalf("seed doc: %v", err)
	}
	pos := basePos()
	pos.Symbol = "ETHUSD"
	m.registry.AddPosition(pos)

	m.evaluate(context.Background(), pos)

	if m.registry.Len() != 1 {
		t.Fatalf("expected position to remain registered, scope filter should not remove it")
	}
}

func TestEvaluateRemovesPositionWhenDocumentMissing(t *testing.T) {
	m, _ := newMonitor(t, &fakeBridge{}, nil, nil)
	pos := basePos()
	m.registry.AddPosition(pos)

	m.evaluate(context.Background(), pos)

	if m.registry.Len() != 0 {
		t.Fatalf("expected position removed when no PositionDocument exists")
	}
}

func TestEvaluateRemovesPositionWhenDocumentClosed(t *testing.T) {
	m, q := newMonitor(t, &fakeBridge{}, nil, nil)
	doc := baseDoc()
	doc.Status = model.PositionClosed
	if err := q.UpsertPositionDocument(context.Background(), doc); err != nil {
		t.Fatalf("seed doc: %v", err)
	}
	pos := basePos()
	m.registry.AddPosition(pos)

	m.evaluate(context.Background(), pos)

	if m.registry.Len() != 0 {
		t.Fatalf("expected position removed when document already closed")
	}
}

func TestEvaluateSkipsLLMWhenTrailingStopActive(t *testing.T) {
	doc := baseDoc()
	doc.TrailingStopActivated = true
	bridge := &fakeBridge{orders: []model.Order{{Ticket: doc.Ticket, CurrentPrice: doc.CurrentPrice, Profit: decimal.NewFromInt(10)}}}
	exitGen := &fakeExitGen{signal: model.ExitSignal{ShouldExit: true}}
	m, q := newMonitor(t, bridge, exitGen, nil)
	if err := q.UpsertPositionDocument(context.Background(), doc); err != nil {
		t.Fatalf("seed doc: %v", err)
	}
	pos := basePos()
	m.registry.AddPosition(pos)

	m.evaluate(context.Background(), pos)

	if exitGen.calls != 0 {
		t.Fatalf("expected LLM not to be consulted once trailing stop is active")
	}
}

func TestEvaluateSkipsLLMWhenProfitProtectionEngaged(t *testing.T) {
	doc := baseDoc()
	// 40% of the way from entry (50000) to take profit (52000) is 50800.
	doc.CurrentPrice = decimal.NewFromInt(50900)
	bridge := &fakeBridge{orders: []model.Order{{Ticket: doc.Ticket, CurrentPrice: doc.CurrentPrice, Profit: decimal.NewFromInt(100)}}}
	exitGen := &fakeExitGen{signal: model.ExitSignal{ShouldExit: true}}
	m, q := newMonitor(t, bridge, exitGen, nil)
	if err := q.UpsertPositionDocument(context.Background(), doc); err != nil {
		t.Fatalf("seed doc: %v", err)
	}
	pos := basePos()
	m.registry.AddPosition(pos)

	m.evaluate(context.Background(), pos)

	if exitGen.calls != 0 {
		t.Fatalf("expected LLM not to be consulted once progress to TP >= 0.40")
	}
}

func TestEvaluateForcesExitForStagnantLoser(t *testing.T) {
	doc := baseDoc()
	doc.Profit = decimal.NewFromInt(-50)
	// Halfway from entry (50000) to stop loss (49000) is 49500.
	doc.CurrentPrice = decimal.NewFromInt(49500)
	bridge := &fakeBridge{orders: []model.Order{{Ticket: doc.Ticket, CurrentPrice: doc.CurrentPrice, Profit: doc.Profit}}}
	notifier := &fakeNotifier{}
	exitGen := &fakeExitGen{signal: model.ExitSignal{ShouldExit: false}}
	m, q := newMonitor(t, bridge, exitGen, notifier)
	if err := q.UpsertPositionDocument(context.Background(), doc); err != nil {
		t.Fatalf("seed doc: %v", err)
	}
	pos := basePos()
	pos.EntryTime = time.Now().Add(-20 * time.Minute)
	m.registry.AddPosition(pos)

	m.evaluate(context.Background(), pos)

	if exitGen.calls != 0 {
		t.Fatalf("stagnant-loser gate should force exit without consulting the LLM")
	}
	if len(bridge.closed) != 1 || bridge.closed[0] != doc.Ticket {
		t.Fatalf("expected ticket %d closed, got %v", doc.Ticket, bridge.closed)
	}
	updated, err := q.GetPositionDocument(context.Background(), doc.TradeID)
	if err != nil {
		t.Fatalf("reload doc: %v", err)
	}
	if updated.Status != model.PositionClosed || updated.CloseReason != "early-exit-llm" {
		t.Fatalf("unexpected persisted document: %+v", updated)
	}
	if m.registry.Len() != 0 {
		t.Fatalf("expected position removed from registry after exit")
	}
}

func TestEvaluateWinnerExitRequiresUnanimousConsensus(t *testing.T) {
	doc := baseDoc()
	doc.Profit = decimal.NewFromInt(100)
	bridge := &fakeBridge{orders: []model.Order{{Ticket: doc.Ticket, CurrentPrice: doc.CurrentPrice, Profit: doc.Profit}}}
	exitGen := &fakeExitGen{signal: model.ExitSignal{
		ShouldExit: true,
		LLMRecommendations: model.LLMRecommendations{
			Fibonacci:         model.LLMVote{Exit: true},
			TrendMomentum:     model.LLMVote{Exit: true},
			VolumePriceAction: model.LLMVote{Exit: false},
			SupportResistance: model.LLMVote{Exit: true},
		},
	}}
	m, q := newMonitor(t, bridge, exitGen, nil)
	if err := q.UpsertPositionDocument(context.Background(), doc); err != nil {
		t.Fatalf("seed doc: %v", err)
	}
	pos := basePos()
	m.registry.AddPosition(pos)

	m.evaluate(context.Background(), pos)

	if len(bridge.closed) != 0 {
		t.Fatalf("expected no close: winner exit requires unanimous consensus, got 3/4 votes")
	}
	if m.registry.Len() != 1 {
		t.Fatalf("expected position to remain registered after vetoed exit")
	}
}

func TestEvaluateWinnerExitProceedsOnUnanimousConsensus(t *testing.T) {
	doc := baseDoc()
	doc.Profit = decimal.NewFromInt(100)
	bridge := &fakeBridge{orders: []model.Order{{Ticket: doc.Ticket, CurrentPrice: doc.CurrentPrice, Profit: doc.Profit}}}
	exitGen := &fakeExitGen{signal: model.ExitSignal{
		ShouldExit: true,
		Confidence: 90,
		Reason:     "all analyzers agree",
		LLMRecommendations: model.LLMRecommendations{
			Fibonacci:         model.LLMVote{Exit: true},
			TrendMomentum:     model.LLMVote{Exit: true},
			VolumePriceAction: model.LLMVote{Exit: true},
			SupportResistance: model.LLMVote{Exit: true},
		},
	}}
	notifier := &fakeNotifier{}
	m, q := newMonitor(t, bridge, exitGen, notifier)
	if err := q.UpsertPositionDocument(context.Background(), doc); err != nil {
		t.Fatalf("seed doc: %v", err)
	}
	pos := basePos()
	m.registry.AddPosition(pos)

	m.evaluate(context.Background(), pos)

	if len(bridge.closed) != 1 {
		t.Fatalf("expected unanimous winner exit to close the position")
	}
	if len(notifier.messages) != 1 {
		t.Fatalf("expected one notification sent, got %d", len(notifier.messages))
	}
}

func TestEvaluateLoserExitBypassesConsensus(t *testing.T) {
	doc := baseDoc()
	doc.Profit = decimal.NewFromInt(-20)
	doc.CurrentPrice = decimal.NewFromInt(49800) // below stagnant/SL threshold, under 10min open
	bridge := &fakeBridge{orders: []model.Order{{Ticket: doc.Ticket, CurrentPrice: doc.CurrentPrice, Profit: doc.Profit}}}
	exitGen := &fakeExitGen{signal: model.ExitSignal{
		ShouldExit: true,
		Reason:     "momentum reversal",
		LLMRecommendations: model.LLMRecommendations{
			Fibonacci:         model.LLMVote{Exit: true},
			TrendMomentum:     model.LLMVote{Exit: false},
			VolumePriceAction: model.LLMVote{Exit: false},
			SupportResistance: model.LLMVote{Exit: false},
		},
	}}
	m, q := newMonitor(t, bridge, exitGen, nil)
	if err := q.UpsertPositionDocument(context.Background(), doc); err != nil {
		t.Fatalf("seed doc: %v", err)
	}
	pos := basePos()
	pos.EntryTime = time.Now().Add(-2 * time.Minute)
	m.registry.AddPosition(pos)

	m.evaluate(context.Background(), pos)

	if len(bridge.closed) != 1 {
		t.Fatalf("expected losing exit to bypass the winner-consensus gate")
	}
}

func TestEvaluatePartialExitLogsAndSkips(t *testing.T) {
	doc := baseDoc()
	doc.Profit = decimal.NewFromInt(-20)
	doc.CurrentPrice = decimal.NewFromInt(49800)
	bridge := &fakeBridge{orders: []model.Order{{Ticket: doc.Ticket, CurrentPrice: doc.CurrentPrice, Profit: doc.Profit}}}
	exitGen := &fakeExitGen{signal: model.ExitSignal{ShouldExit: true, ExitType: model.ExitPartial}}
	m, q := newMonitor(t, bridge, exitGen, nil)
	if err := q.UpsertPositionDocument(context.Background(), doc); err != nil {
		t.Fatalf("seed doc: %v", err)
	}
	pos := basePos()
	pos.EntryTime = time.Now().Add(-2 * time.Minute)
	m.registry.AddPosition(pos)

	m.evaluate(context.Background(), pos)

	if len(bridge.closed) != 0 {
		t.Fatalf("expected partial exit to be a no-op, bridge does not support it")
	}
	if m.registry.Len() != 1 {
		t.Fatalf("expected position to remain registered after partial-exit no-op")
	}
}

func TestDispatchExitHandlesAlreadyClosedTicket(t *testing.T) {
	doc := baseDoc()
	bridge := &fakeBridge{} // ticket not present: already closed server-side
	m, q := newMonitor(t, bridge, nil, nil)
	if err := q.UpsertPositionDocument(context.Background(), doc); err != nil {
		t.Fatalf("seed doc: %v", err)
	}
	pos := basePos()
	m.registry.AddPosition(pos)

	m.dispatchExit(context.Background(), pos, doc, model.ExitSignal{ShouldExit: true, ExitType: model.ExitFull})

	updated, err := q.GetPositionDocument(context.Background(), doc.TradeID)
	if err != nil {
		t.Fatalf("reload doc: %v", err)
	}
	if updated.Status != model.PositionClosed || updated.CloseReason != "mt4-already-closed" {
		t.Fatalf("unexpected document after re-verify miss: %+v", updated)
	}
	if m.registry.Len() != 0 {
		t.Fatalf("expected position removed from registry")
	}
}

func TestDispatchExitSwallowsNotificationFailure(t *testing.T) {
	doc := baseDoc()
	bridge := &fakeBridge{orders: []model.Order{{Ticket: doc.Ticket, CurrentPrice: doc.CurrentPrice, Profit: doc.Profit}}}
	notifier := &fakeNotifier{err: context.DeadlineExceeded}
	m, q := newMonitor(t, bridge, nil, notifier)
	if err := q.UpsertPositionDocument(context.Background(), doc); err != nil {
		t.Fatalf("seed doc: %v", err)
	}
	pos := basePos()
	m.registry.AddPosition(pos)

	m.dispatchExit(context.Background(), pos, doc, model.ExitSignal{ShouldExit: true, ExitType: model.ExitFull, Confidence: 70, Reason: "test"})

	if len(bridge.closed) != 1 {
		t.Fatalf("expected the close to proceed despite notification failure")
	}
	if m.registry.Len() != 0 {
		t.Fatalf("expected position removed from registry even though notification failed")
	}
}

func TestLoadExistingPositionsHydratesOnlyOpenDocuments(t *testing.T) {
	m, q := newMonitor(t, &fakeBridge{}, nil, nil)
	ctx := context.Background()
	open := baseDoc()
	closed := baseDoc()
	closed.TradeID = "trade-2"
	closed.Ticket = 1002
	closed.Status = model.PositionClosed
	if err := q.UpsertPositionDocument(ctx, open); err != nil {
		t.Fatalf("seed open: %v", err)
	}
	if err := q.UpsertPositionDocument(ctx, closed); err != nil {
		t.Fatalf("seed closed: %v", err)
	}

	if err := m.LoadExistingPositions(ctx); err != nil {
		t.Fatalf("LoadExistingPositions: %v", err)
	}

	if m.registry.Len() != 1 {
		t.Fatalf("expected only the open document to be hydrated, got %d positions", m.registry.Len())
	}
	if _, ok := m.registry.Get(open.TradeID); !ok {
		t.Fatalf("expected open position hydrated into registry")
	}
}
