package cache

import (
	"sync"
	"time"

	"mt4core/internal/model"
)

// orderLRUCapacity bounds the in-process order cache that sits in front of
// Redis (spec §4.3, §8 invariant: the cache never holds more than 1000
// entries and every entry has exactly one access-time record).
const orderLRUCapacity = 1000

// OrderLRU is the bounded in-process order cache, grounded on the
// lruOrder/touchLRU/evictOldestLocked pattern from the gateway connection
// pool (internal/gateway/manager.go) but keyed by ticket and holding
// model.Order values instead of live gateway connections.
type OrderLRU struct {
	mu         sync.Mutex
	orders     map[int64]model.Order
	accessedAt map[int64]time.Time
	lruOrder   []int64 // oldest first
	capacity   int
}

// NewOrderLRU builds an empty order cache bounded at capacity entries.
// capacity<=0 falls back to orderLRUCapacity.
func NewOrderLRU(capacity int) *OrderLRU {
	if capacity <= 0 {
		capacity = orderLRUCapacity
	}
	return &OrderLRU{
		orders:     make(map[int64]model.Order),
		accessedAt: make(map[int64]time.Time),
		lruOrder:   make([]int64, 0, capacity),
		capacity:   capacity,
	}
}

// Put inserts or updates an order and marks it most-recently-used,
// evicting the oldest entry first if the cache is at capacity.
func (c *OrderLRU) Put(order model.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, exists := c.orders[order.Ticket]
	c.orders[order.Ticket] = order
	c.accessedAt[order.Ticket] = time.Now()

	if exists {
		c.touchLocked(order.Ticket)
		return
	}

	for len(c.orders) > c.capacity {
		if !c.evictOldestLocked() {
			break
		}
	}
	c.lruOrder = append(c.lruOrder, order.Ticket)
}

// Get returns the cached order for ticket, marking it most-recently-used.
func (c *OrderLRU) Get(ticket int64) (model.Order, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	order, ok := c.orders[ticket]
	if !ok {
		return model.Order{}, false
	}
	c.accessedAt[ticket] = time.Now()
	c.touchLocked(ticket)
	return order, true
}

// Remove drops a ticket from the cache, keeping the orders map and
// accessedAt map in lockstep (spec §8's bijection invariant).
func (c *OrderLRU) Remove(ticket int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(ticket)
}

// Len reports the current entry count.
func (c *OrderLRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.orders)
}

// Stats reports the LRU's current size and configured capacity, for the
// ops API's /metrics snapshot (spec §8's "|cache| <= 1000" invariant).
func (c *OrderLRU) Stats() (size, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.orders), c.capacity
}

func (c *OrderLRU) touchLocked(ticket int64) {
	for i, id := range c.lruOrder {
		if id == ticket {
			c.lruOrder = append(c.lruOrder[:i], c.lruOrder[i+1:]...)
			break
		}
	}
	c.lruOrder = append(c.lruOrder, ticket)
}

func (c *OrderLRU) evictOldestLocked() bool {
	if len(c.lruOrder) == 0 {
		return false
	}
	oldest := c.lruOrder[0]
	c.lruOrder = c.lruOrder[1:]
	delete(c.orders, oldest)
	delete(c.accessedAt, oldest)
	return true
}

func (c *OrderLRU) removeLocked(ticket int64) {
	if _, ok := c.orders[ticket]; !ok {
		return
	}
	delete(c.orders, ticket)
	delete(c.accessedAt, ticket)
	for i, id := range c.lruOrder {
		if id == ticket {
			c.lruOrder = append(c.lruOrder[:i], c.lruOrder[i+1:]...)
			break
		}
	}
}
