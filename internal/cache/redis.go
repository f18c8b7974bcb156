// Package cache provides the Redis-backed order/account/symbol cache and
// the bounded in-process LRU order cache (spec §4.3), grounded on the
// go-redis/v9 cache shape from jax-trading-assistant's marketdata.Cache.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"mt4core/internal/model"
)

// ErrNoData mirrors the "cache miss" sentinel the source cache reports
// instead of a generic redis.Nil, so callers can branch on it directly.
var ErrNoData = errors.New("cache: no data")

const (
	orderTTL   = time.Hour
	accountTTL = 300 * time.Second
	symbolsTTL = time.Hour
)

// Cache is the Redis-backed order/account/symbol cache described in spec
// §4.3: mt4_order:<ticket>, mt4_orders:<symbol> (sorted set of tickets),
// mt4_account:<userId>, mt4_symbols:<userId>, and the mt4_order:<userId>
// pub/sub event channel.
type Cache struct {
	client *redis.Client
	lru    *OrderLRU
}

// NewCache connects to Redis at addr/db, pinging once to fail fast if the
// server is unreachable (jax-trading-assistant marketdata.NewCache). It
// fronts order reads/writes with the bounded in-process LRU (spec §4.3,
// §8: ORDER_CACHE_MAX_SIZE=1000, bijection between the order map and its
// access-time map).
func NewCache(addr string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: connect to redis: %w", err)
	}
	return &Cache{client: client, lru: NewOrderLRU(orderLRUCapacity)}, nil
}

// LRU exposes the in-process order cache for the ops API's /metrics
// snapshot (spec §4.3).
func (c *Cache) LRU() *OrderLRU { return c.lru }

func orderKey(ticket int64) string       { return fmt.Sprintf("mt4_order:%d", ticket) }
func ordersBySymbolKey(symbol string) string { return fmt.Sprintf("mt4_orders:%s", symbol) }
func accountKey(userID string) string    { return fmt.Sprintf("mt4_account:%s", userID) }
func symbolsKey(userID string) string    { return fmt.Sprintf("mt4_symbols:%s", userID) }
func orderEventsChannel(userID string) string { return fmt.Sprintf("mt4_order:%s", userID) }

// PutOrder caches a single order by ticket and indexes it into its
// symbol's sorted set, scored by open time so iteration is chronological.
func (c *Cache) PutOrder(ctx context.Context, order model.Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("cache: marshal order: %w", err)
	}
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, orderKey(order.Ticket), data, orderTTL)
	pipe.ZAdd(ctx, ordersBySymbolKey(order.Symbol), redis.Z{
		Score:  float64(order.OpenTime.Unix()),
		Member: order.Ticket,
	})
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("cache: put order: %w", err)
	}
	c.lru.Put(order)
	return nil
}

// GetOrder fetches a cached order by ticket, checking the in-process LRU
// before falling back to Redis, returning ErrNoData on a cache miss.
func (c *Cache) GetOrder(ctx context.Context, ticket int64) (model.Order, error) {
	if order, ok := c.lru.Get(ticket); ok {
		return order, nil
	}
	data, err := c.client.Get(ctx, orderKey(ticket)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.Order{}, ErrNoData
		}
		return model.Order{}, fmt.Errorf("cache: get order: %w", err)
	}
	var order model.Order
	if err := json.Unmarshal(data, &order); err != nil {
		return model.Order{}, fmt.Errorf("cache: unmarshal order: %w", err)
	}
	c.lru.Put(order)
	return order, nil
}

// RemoveOrder drops the order from both the keyed record and its symbol's
// index, called once a position closes.
func (c *Cache) RemoveOrder(ctx context.Context, ticket int64, symbol string) error {
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, orderKey(ticket))
	pipe.ZRem(ctx, ordersBySymbolKey(symbol), ticket)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("cache: remove order: %w", err)
	}
	c.lru.Remove(ticket)
	return nil
}

// TicketsForSymbol returns the cached tickets for a symbol, oldest open
// first.
func (c *Cache) TicketsForSymbol(ctx context.Context, symbol string) ([]int64, error) {
	members, err := c.client.ZRange(ctx, ordersBySymbolKey(symbol), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: tickets for symbol: %w", err)
	}
	tickets := make([]int64, 0, len(members))
	for _, m := range members {
		var t int64
		if _, err := fmt.Sscanf(m, "%d", &t); err == nil {
			tickets = append(tickets, t)
		}
	}
	return tickets, nil
}

// PutAccount caches the account snapshot for userId with the 300s TTL
// spec §4.3 mandates.
func (c *Cache) PutAccount(ctx context.Context, userID string, snap model.AccountSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("cache: marshal account: %w", err)
	}
	if err := c.client.Set(ctx, accountKey(userID), data, accountTTL).Err(); err != nil {
		return fmt.Errorf("cache: put account: %w", err)
	}
	return nil
}

// GetAccount fetches the cached account snapshot, ErrNoData on a miss.
func (c *Cache) GetAccount(ctx context.Context, userID string) (model.AccountSnapshot, error) {
	data, err := c.client.Get(ctx, accountKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.AccountSnapshot{}, ErrNoData
		}
		return model.AccountSnapshot{}, fmt.Errorf("cache: get account: %w", err)
	}
	var snap model.AccountSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return model.AccountSnapshot{}, fmt.Errorf("cache: unmarshal account: %w", err)
	}
	return snap, nil
}

// PutSymbols caches the symbol list for userId with the 3600s TTL spec
// §4.3 mandates.
func (c *Cache) PutSymbols(ctx context.Context, userID string, symbols []model.SymbolInfo) error {
	data, err := json.Marshal(symbols)
	if err != nil {
		return fmt.Errorf("cache: marshal symbols: %w", err)
	}
	if err := c.client.Set(ctx, symbolsKey(userID), data, symbolsTTL).Err(); err != nil {
		return fmt.Errorf("cache: put symbols: %w", err)
	}
	return nil
}

// GetSymbols fetches the cached symbol list, ErrNoData on a miss.
func (c *Cache) GetSymbols(ctx context.Context, userID string) ([]model.SymbolInfo, error) {
	data, err := c.client.Get(ctx, symbolsKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoData
		}
		return nil, fmt.Errorf("cache: get symbols: %w", err)
	}
	var symbols []model.SymbolInfo
	if err := json.Unmarshal(data, &symbols); err != nil {
		return nil, fmt.Errorf("cache: unmarshal symbols: %w", err)
	}
	return symbols, nil
}

// OrderEvent is the order_closed payload published on a user's order
// channel (spec §4.1, §6: "{type: 'order_closed', ticket, profit,
// closeTime}").
type OrderEvent struct {
	Type      string          `json:"type"`
	Ticket    int64           `json:"ticket"`
	Profit    decimal.Decimal `json:"profit"`
	CloseTime time.Time       `json:"closeTime"`
}

// PublishOrderClosed fires an order_closed event onto mt4_order:<userId>.
// Publishing is fire-and-forget: failures are returned to the caller, who
// is expected to log and continue rather than fail the close flow (spec
// §4.3, §4.5).
func (c *Cache) PublishOrderClosed(ctx context.Context, userID string, evt OrderEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("cache: marshal order event: %w", err)
	}
	if err := c.client.Publish(ctx, orderEventsChannel(userID), data).Err(); err != nil {
		return fmt.Errorf("cache: publish order event: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}
