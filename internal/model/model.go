// Package model holds the domain types shared by the bridge client, the
// cache, the position registry, and the position monitor.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the MT4 order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderStatus is the lifecycle state of a broker order.
type OrderStatus string

const (
	OrderOpen    OrderStatus = "open"
	OrderClosed  OrderStatus = "closed"
	OrderPending OrderStatus = "pending"
)

// Order mirrors the broker-side record described in spec §3.
type Order struct {
	Ticket       int64
	Symbol       string
	Side         Side
	Volume       decimal.Decimal
	OpenPrice    decimal.Decimal
	CurrentPrice decimal.Decimal
	StopLoss     decimal.Decimal
	TakeProfit   decimal.Decimal
	Profit       decimal.Decimal
	Swap         decimal.Decimal
	Commission   decimal.Decimal
	OpenTime     time.Time
	CloseTime    time.Time
	Status       OrderStatus
	MagicNumber  int
}

// HasStopLoss reports whether the order carries a nonzero stop loss.
func (o Order) HasStopLoss() bool { return !o.StopLoss.IsZero() }

// HasTakeProfit reports whether the order carries a nonzero take profit.
func (o Order) HasTakeProfit() bool { return !o.TakeProfit.IsZero() }

// AccountSnapshot mirrors spec §3 AccountSnapshot.
type AccountSnapshot struct {
	AccountNumber string
	Broker        string
	Currency      string
	Balance       decimal.Decimal
	Equity        decimal.Decimal
	Margin        decimal.Decimal
	FreeMargin    decimal.Decimal
	MarginLevel   decimal.Decimal
	Profit        decimal.Decimal
}

// ComputeMarginLevel fills MarginLevel per spec: equity/margin*100, 0 when margin<=0.
func (a *AccountSnapshot) ComputeMarginLevel() {
	if a.Margin.IsPositive() {
		a.MarginLevel = a.Equity.Div(a.Margin).Mul(decimal.NewFromInt(100))
		return
	}
	a.MarginLevel = decimal.Zero
}

// SymbolInfo mirrors spec §3 SymbolInfo.
type SymbolInfo struct {
	Symbol      string
	Description string
	Digits      int
	Point       decimal.Decimal
	Spread      decimal.Decimal
	Bid         decimal.Decimal
	Ask         decimal.Decimal
}

// EntrySignalData is opaque strategy metadata carried from entry to exit;
// the only field the monitor inspects is Category (spec §4.4 step 1).
type EntrySignalData struct {
	Category string                 `json:"category"`
	Extra    map[string]interface{} `json:"extra,omitempty"`
}

// MonitoredPosition is the in-memory record owned exclusively by the
// Position Monitor (spec §3).
type MonitoredPosition struct {
	TradeID         string
	UserID          string
	AgentID         string
	Symbol          string
	EntryPrice      decimal.Decimal
	CurrentPrice    decimal.Decimal
	EntryTime       time.Time
	EntrySignalData EntrySignalData
	LastCheckTime   time.Time
	MT4Ticket       int64 // 0 means "not yet known"
}

// PositionStatus is the persisted lifecycle of a PositionDocument.
type PositionStatus string

const (
	PositionOpen      PositionStatus = "open"
	PositionClosed    PositionStatus = "closed"
	PositionCancelled PositionStatus = "cancelled"
)

// PositionDocument is the persisted counterpart of a MonitoredPosition
// (spec §3). Only the monitor writes CurrentPrice/Profit; the external
// MT4-trade-manager writes Status and the activation flags, and the
// monitor also writes Status, ClosedAt and CloseReason when it closes a
// position or finds its ticket already gone.
type PositionDocument struct {
	TradeID               string
	UserID                string
	Ticket                int64
	Symbol                string
	Side                  Side
	Status                PositionStatus
	LotSize               decimal.Decimal
	EntryPrice            decimal.Decimal
	CurrentPrice          decimal.Decimal
	StopLoss              decimal.Decimal
	TakeProfit            decimal.Decimal
	Profit                decimal.Decimal
	BreakEvenActivated    bool
	TrailingStopActivated bool
	ClosedAt              time.Time
	CloseReason           string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// TradeRecord is the persisted row shared with other subsystems (spec §3).
// The monitor only ever updates CloseReason, PerformanceNotes, PnL and
// leaves Status at "filled".
type TradeRecord struct {
	TradeID          string
	UserID           string
	Symbol           string
	Status           string
	PnL              decimal.Decimal
	CloseReason      string
	PerformanceNotes string
	UpdatedAt        time.Time
}

// ExitType distinguishes a full close from a partial one (spec §4.4 step 7).
type ExitType string

const (
	ExitFull    ExitType = "FULL"
	ExitPartial ExitType = "PARTIAL"
)

// LLMVote is one analyzer's exit recommendation.
type LLMVote struct {
	Exit   bool   `json:"exit"`
	Reason string `json:"reason"`
}

// LLMRecommendations holds the four named analyzer votes (spec §4.4 step 7).
type LLMRecommendations struct {
	Fibonacci         LLMVote `json:"fibonacci"`
	TrendMomentum     LLMVote `json:"trendMomentum"`
	VolumePriceAction LLMVote `json:"volumePriceAction"`
	SupportResistance LLMVote `json:"supportResistance"`
}

// Unanimous reports whether all four analyzers voted to exit.
func (r LLMRecommendations) Unanimous() bool {
	return r.Fibonacci.Exit && r.TrendMomentum.Exit && r.VolumePriceAction.Exit && r.SupportResistance.Exit
}

// VoteCount returns how many of the four analyzers voted to exit.
func (r LLMRecommendations) VoteCount() int {
	n := 0
	for _, v := range []bool{r.Fibonacci.Exit, r.TrendMomentum.Exit, r.VolumePriceAction.Exit, r.SupportResistance.Exit} {
		if v {
			n++
		}
	}
	return n
}

// ExitSignal is the result of the LLM exit-signal collaborator (spec §4.4 step 7, §6).
type ExitSignal struct {
	ShouldExit            bool
	ExitType              ExitType
	PartialExitPercentage decimal.Decimal
	Confidence            int
	Reason                string
	LLMRecommendations    LLMRecommendations
}
