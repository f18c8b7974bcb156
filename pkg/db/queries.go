// Package db provides database queries for the position monitor, grounded
// on the teacher's UserQueries data-isolation pattern narrowed to
// PositionDocument and TradeRecord persistence. Every write requires a
// user_id and trade-record reads are scoped by user_id; position-document
// lookups by tradeId or ticket and the open-position listing are not
// scoped by user.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"mt4core/internal/model"
)

var (
	ErrUserIDRequired = errors.New("user_id is required for data isolation")
	ErrNotFound       = errors.New("record not found")
)

// Queries provides access to position/trade persistence.
type Queries struct {
	db *sql.DB
}

func decimalFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// Queries builds a Queries bound to the database's handle.
func (d *Database) Queries() *Queries {
	return &Queries{db: d.DB}
}

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

// UpsertPositionDocument creates or updates a position document, keyed by
// tradeId (spec §3, §4.4 step 3).
func (q *Queries) UpsertPositionDocument(ctx context.Context, p model.PositionDocument) error {
	if p.UserID == "" {
		return ErrUserIDRequired
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO position_documents (
			trade_id, user_id, ticket, symbol, side, status, lot_size,
			entry_price, current_price, stop_loss, take_profit, profit,
			break_even_activated, trailing_stop_activated, closed_at,
			close_reason, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(trade_id) DO UPDATE SET
			ticket = excluded.ticket,
			status = excluded.status,
			lot_size = excluded.lot_size,
			current_price = excluded.current_price,
			stop_loss = excluded.stop_loss,
			take_profit = excluded.take_profit,
			profit = excluded.profit,
			break_even_activated = excluded.break_even_activated,
			trailing_stop_activated = excluded.trailing_stop_activated,
			closed_at = excluded.closed_at,
			close_reason = excluded.close_reason,
			updated_at = CURRENT_TIMESTAMP
	`,
		p.TradeID, p.UserID, p.Ticket, p.Symbol, string(p.Side), string(p.Status), p.LotSize.InexactFloat64(),
		p.EntryPrice.InexactFloat64(), p.CurrentPrice.InexactFloat64(), p.StopLoss.InexactFloat64(), p.TakeProfit.InexactFloat64(), p.Profit.InexactFloat64(),
		p.BreakEvenActivated, p.TrailingStopActivated, toNullTime(p.ClosedAt),
		p.CloseReason, createdAt,
	)
	if err != nil {
		return fmt.Errorf("upsert position document: %w", err)
	}
	return nil
}

func scanPositionDocumentRow(scan func(dest ...interface{}) error) (model.PositionDocument, error) {
	var (
		p                    model.PositionDocument
		side, status         string
		lotSize, entryPrice  float64
		currentPrice         float64
		stopLoss, takeProfit float64
		profit               float64
		breakEven, trailing  bool
		closedAt             sql.NullTime
		closeReason          sql.NullString
		createdAt, updatedAt time.Time
	)
	err := scan(
		&p.TradeID, &p.UserID, &p.Ticket, &p.Symbol, &side, &status, &lotSize,
		&entryPrice, &currentPrice, &stopLoss, &takeProfit, &profit,
		&breakEven, &trailing, &closedAt, &closeReason, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.PositionDocument{}, ErrNotFound
		}
		return model.PositionDocument{}, fmt.Errorf("scan position document: %w", err)
	}
	p.Side = model.Side(side)
	p.Status = model.PositionStatus(status)
	p.LotSize = decimalFromFloat(lotSize)
	p.EntryPrice = decimalFromFloat(entryPrice)
	p.CurrentPrice = decimalFromFloat(currentPrice)
	p.StopLoss = decimalFromFloat(stopLoss)
	p.TakeProfit = decimalFromFloat(takeProfit)
	p.Profit = decimalFromFloat(profit)
	p.BreakEvenActivated = breakEven
	p.TrailingStopActivated = trailing
	if closedAt.Valid {
		p.ClosedAt = closedAt.Time
	}
	if closeReason.Valid {
		p.CloseReason = closeReason.String
	}
	p.CreatedAt = createdAt
	p.UpdatedAt = updatedAt
	return p, nil
}

const positionDocumentColumns = `
	trade_id, user_id, ticket, symbol, side, status, lot_size,
	entry_price, current_price, stop_loss, take_profit, profit,
	break_even_activated, trailing_stop_activated, closed_at,
	close_reason, created_at, updated_at
`

// GetPositionDocumentByTicket returns a position by broker ticket, or
// ErrNotFound if none exists (spec §4.4 step 2).
func (q *Queries) GetPositionDocumentByTicket(ctx context.Context, ticket int64) (model.PositionDocument, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+positionDocumentColumns+` FROM position_documents WHERE ticket = ?`, ticket)
	return scanPositionDocumentRow(row.Scan)
}

// GetPositionDocument returns a position by tradeId, or ErrNotFound.
func (q *Queries) GetPositionDocument(ctx context.Context, tradeID string) (model.PositionDocument, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+positionDocumentColumns+` FROM position_documents WHERE trade_id = ?`, tradeID)
	return scanPositionDocumentRow(row.Scan)
}

// ListOpenPositionDocuments returns every position with status "open",
// used by loadExistingPositions on startup (spec §4.4, §9 Open Questions:
// re-hydrate from any PositionDocument with status=open).
func (q *Queries) ListOpenPositionDocuments(ctx context.Context) ([]model.PositionDocument, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+positionDocumentColumns+` FROM position_documents WHERE status = 'open' ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list open position documents: %w", err)
	}
	defer rows.Close()

	var out []model.PositionDocument
	for rows.Next() {
		p, err := scanPositionDocumentRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ClosePositionDocument marks a position closed and records why (spec
// §4.5).
func (q *Queries) ClosePositionDocument(ctx context.Context, tradeID, closeReason string, closedAt time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE position_documents
		SET status = 'closed', closed_at = ?, close_reason = ?, updated_at = CURRENT_TIMESTAMP
		WHERE trade_id = ?
	`, closedAt, closeReason, tradeID)
	if err != nil {
		return fmt.Errorf("close position document: %w", err)
	}
	return nil
}

// UpsertTradeRecord creates or updates the trade record counterpart of a
// position document (spec §4.5: closeReason, performanceNotes, pnl).
func (q *Queries) UpsertTradeRecord(ctx context.Context, t model.TradeRecord) error {
	if t.UserID == "" {
		return ErrUserIDRequired
	}
	status := t.Status
	if status == "" {
		status = "filled"
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO trade_records (trade_id, user_id, symbol, status, pnl, close_reason, performance_notes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(trade_id) DO UPDATE SET
			status = excluded.status,
			pnl = excluded.pnl,
			close_reason = excluded.close_reason,
			performance_notes = excluded.performance_notes,
			updated_at = CURRENT_TIMESTAMP
	`, t.TradeID, t.UserID, t.Symbol, status, t.PnL.InexactFloat64(), t.CloseReason, t.PerformanceNotes)
	if err != nil {
		return fmt.Errorf("upsert trade record: %w", err)
	}
	return nil
}

// GetTradeRecordsByUser returns trade records for a user, most recent
// first, bounded by limit (data-isolation pattern from the teacher's
// GetOrdersByUser).
func (q *Queries) GetTradeRecordsByUser(ctx context.Context, userID string, limit int) ([]model.TradeRecord, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT trade_id, user_id, symbol, status, pnl, COALESCE(close_reason, ''), COALESCE(performance_notes, ''), updated_at
		FROM trade_records WHERE user_id = ?
		ORDER BY updated_at DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query trade records: %w", err)
	}
	defer rows.Close()

	var out []model.TradeRecord
	for rows.Next() {
		var t model.TradeRecord
		var pnl float64
		if err := rows.Scan(&t.TradeID, &t.UserID, &t.Symbol, &t.Status, &pnl, &t.CloseReason, &t.PerformanceNotes, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan trade record: %w", err)
		}
		t.PnL = decimalFromFloat(pnl)
		out = append(out, t)
	}
	return out, rows.Err()
}
