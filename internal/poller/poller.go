// Package poller implements the Order Poller: a bounded, per-ticket
// background task that watches a newly opened MT4 order until it closes
// or a maximum attempt count is reached (spec §4.2), grounded on the
// ticker-driven Start/Stop shape of the position monitor reference
// implementation (RyanLisse-go-crypto-bot-clean position_monitor.go) and
// on the teacher's singleflight-free per-key task dedup idiom.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mt4core/internal/cache"
	"mt4core/internal/model"
)

// BridgeClient is the subset of pkg/bridge.Client the poller depends on.
type BridgeClient interface {
	GetOpenPositions(ctx context.Context, userID string) ([]model.Order, error)
}

const (
	pollInterval = 2 * time.Second
	maxAttempts  = 30
)

// Poller polls the bridge for a specific ticket until it disappears from
// the open-positions list (closed) or maxAttempts is reached, at which
// point it terminates silently (spec §4.2: "the poller does not raise an
// error on exhaustion; the position monitor's own liveness check is the
// backstop").
type Poller struct {
	bridge BridgeClient
	cache  *cache.Cache
	log    zerolog.Logger

	mu      sync.Mutex
	running map[int64]context.CancelFunc
}

// New builds a Poller bound to a bridge client and the shared cache.
func New(bridge BridgeClient, c *cache.Cache, log zerolog.Logger) *Poller {
	return &Poller{bridge: bridge, cache: c, log: log, running: make(map[int64]context.CancelFunc)}
}

// Watch starts (or no-ops if already running) a bounded poll loop for
// ticket. userID is used to scope the order_closed pub/sub event.
func (p *Poller) Watch(ctx context.Context, ticket int64, symbol, userID string) {
	p.mu.Lock()
	if _, exists := p.running[ticket]; exists {
		p.mu.Unlock()
		return
	}
	pctx, cancel := context.WithCancel(ctx)
	p.running[ticket] = cancel
	p.mu.Unlock()

	go p.run(pctx, ticket, symbol, userID, cancel)
}

// Running reports how many tickets currently have an active poll loop, for
// the ops API's /metrics snapshot.
func (p *Poller) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.running)
}

// Stop cancels an in-flight poll for ticket, if any (called by the bridge
// client's ClosePosition once it has closed the ticket itself).
func (p *Poller) Stop(ticket int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cancel, ok := p.running[ticket]; ok {
		cancel()
		delete(p.running, ticket)
	}
}

func (p *Poller) run(ctx context.Context, ticket int64, symbol, userID string, cancel context.CancelFunc) {
	defer func() {
		p.mu.Lock()
		delete(p.running, ticket)
		p.mu.Unlock()
		cancel()
	}()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var lastSeen model.Order
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		orders, err := p.bridge.GetOpenPositions(ctx, userID)
		if err != nil {
			p.log.Warn().Err(err).Int64("ticket", ticket).Int("attempt", attempt).Msg("order poller: bridge fetch failed")
			continue
		}

		still := false
		var snapshot model.Order
		for _, o := range orders {
			if o.Ticket == ticket {
				still = true
				snapshot = o
				break
			}
		}

		if still {
			lastSeen = snapshot
			if err := p.cache.PutOrder(ctx, snapshot); err != nil {
				p.log.Warn().Err(err).Int64("ticket", ticket).Msg("order poller: cache write failed")
			}
			continue
		}

		// The ticket dropped out of the open list: it closed.
		if err := p.cache.RemoveOrder(ctx, ticket, symbol); err != nil {
			p.log.Warn().Err(err).Int64("ticket", ticket).Msg("order poller: cache remove failed")
		}
		closeTime := lastSeen.CloseTime
		if closeTime.IsZero() {
			closeTime = time.Now()
		}
		evt := cache.OrderEvent{Type: "order_closed", Ticket: ticket, Profit: lastSeen.Profit, CloseTime: closeTime}
		if err := p.cache.PublishOrderClosed(ctx, userID, evt); err != nil {
			p.log.Warn().Err(err).Int64("ticket", ticket).Msg("order poller: publish failed")
		}
		return
	}

	p.log.Debug().Int64("ticket", ticket).Msg("order poller: max attempts reached, stopping silently")
}
