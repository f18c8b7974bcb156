package poller

import (
	"context"
	"sync"
	"testing"

	"mt4core/internal/model"
)

type fakeBridge struct {
	mu     sync.Mutex
	orders []model.Order
}

func (f *fakeBridge) GetOpenPositions(ctx context.Context, userID string) ([]model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Order(nil), f.orders...), nil
}

func (f *fakeBridge) setOrders(orders []model.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = orders
}

func TestWatchDoesNotDoubleStart(t *testing.T) {
	fb := &fakeBridge{orders: []model.Order{{Ticket: 1, Symbol: "BTCUSDT"}}}
	p := &Poller{bridge: fb, running: make(map[int64]context.CancelFunc)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.Watch(ctx, 1, "BTCUSDT", "user-1")
	p.mu.Lock()
	_, firstRunning := p.running[1]
	p.mu.Unlock()
	if !firstRunning {
		t.Fatal("expected ticket 1 to be registered as running")
	}
	if n := p.Running(); n != 1 {
		t.Fatalf("Running() = %d, want 1", n)
	}

	p.Watch(ctx, 1, "BTCUSDT", "user-1") // should no-op, not replace the cancel func
	p.Stop(1)

	p.mu.Lock()
	_, stillRunning := p.running[1]
	p.mu.Unlock()
	if stillRunning {
		t.Fatal("expected Stop to remove the ticket from running")
	}
	if n := p.Running(); n != 0 {
		t.Fatalf("Running() = %d, want 0 after Stop", n)
	}
}
