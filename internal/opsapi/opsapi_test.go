package opsapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"mt4core/internal/model"
	"mt4core/internal/monitor"
)

type fakeMonitor struct {
	positions []model.MonitoredPosition
	closeErr  error
	closed    []string
	added     []model.MonitoredPosition
}

func (f *fakeMonitor) Snapshot() []model.MonitoredPosition { return f.positions }

func (f *fakeMonitor) ForceClose(ctx context.Context, tradeID, reason string) error {
	if f.closeErr != nil {
		return f.closeErr
	}
	f.closed = append(f.closed, tradeID)
	return nil
}

func (f *fakeMonitor) AddPosition(tradeID, userID, agentID, symbol string, entryPrice decimal.Decimal, signal model.EntrySignalData, mt4Ticket int64) {
	f.added = append(f.added, model.MonitoredPosition{
		TradeID: tradeID, UserID: userID, AgentID: agentID, Symbol: symbol,
		EntryPrice: entryPrice, EntrySignalData: signal, MT4Ticket: mt4Ticket,
	})
}

func (f *fakeMonitor) Metrics() *monitor.SystemMetrics {
	return monitor.NewSystemMetrics()
}

func (f *fakeMonitor) RegistrySize() int { return len(f.positions) }

func TestHealthzDoesNotRequireAuth(t *testing.T) {
	s := NewServer(&fakeMonitor{}, nil, nil, "secret", zerolog.Nop())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMetricsRequiresBearerToken(t *testing.T) {
	s := NewServer(&fakeMonitor{}, nil, nil, "secret", zerolog.Nop())
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with a valid token, got %d", rec.Code)
	}
}

func TestListPositionsReturnsSnapshot(t *testing.T) {
	fm := &fakeMonitor{positions: []model.MonitoredPosition{
		{TradeID: "t1", UserID: "u1", Symbol: "BTCUSDT", EntryPrice: decimal.NewFromInt(50000), CurrentPrice: decimal.NewFromInt(50500), MT4Ticket: 42},
	}}
	s := NewServer(fm, nil, nil, "", zerolog.Nop())
	req := httptest.NewRequest(http.MethodGet, "/admin/positions", nil)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Positions []positionView `json:"positions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Positions) != 1 || body.Positions[0].TradeID != "t1" {
		t.Fatalf("unexpected positions: %+v", body.Positions)
	}
}

func TestClosePositionDelegatesToMonitor(t *testing.T) {
	fm := &fakeMonitor{}
	s := NewServer(fm, nil, nil, "", zerolog.Nop())
	req := httptest.NewRequest(http.MethodPost, "/admin/positions/t1/close", nil)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(fm.closed) != 1 || fm.closed[0] != "t1" {
		t.Fatalf("expected ForceClose called with t1, got %v", fm.closed)
	}
}

func TestAddPositionGeneratesTradeIDWhenOmitted(t *testing.T) {
	fm := &fakeMonitor{}
	s := NewServer(fm, nil, nil, "", zerolog.Nop())
	body := `{"userId":"u1","symbol":"BTCUSDT","entryPrice":43000,"category":"FIBONACCI_SCALPING"}`
	req := httptest.NewRequest(http.MethodPost, "/admin/positions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(fm.added) != 1 {
		t.Fatalf("expected AddPosition called once, got %d", len(fm.added))
	}
	var resp struct {
		TradeID string `json:"tradeId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TradeID == "" {
		t.Fatal("expected a generated tradeId")
	}
	if fm.added[0].EntrySignalData.Category != "FIBONACCI_SCALPING" {
		t.Fatalf("unexpected signal category: %+v", fm.added[0].EntrySignalData)
	}
}

func TestClosePositionReturnsBadRequestOnError(t *testing.T) {
	fm := &fakeMonitor{closeErr: context.DeadlineExceeded}
	s := NewServer(fm, nil, nil, "", zerolog.Nop())
	req := httptest.NewRequest(http.MethodPost, "/admin/positions/t1/close", nil)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
