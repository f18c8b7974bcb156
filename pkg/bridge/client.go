package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"mt4core/internal/cache"
	"mt4core/internal/collab"
	"mt4core/internal/model"
	"mt4core/internal/poller"
)

// Client is the bridge's single shared HTTP gateway to the MT4 terminal
// (spec §2.4, §9: "a single shared HTTP client" replaces a per-user client
// cache), modeled on the resty-based exchange client shape (polymarket-mm's
// exchange/client.go) but layered with the explicit RetryPolicy driver spec
// §4.1 calls for instead of resty's own retry hooks, since the backoff and
// broker-code classification rules need to be precise. User identity is
// never baked into the client: every operation below takes the calling
// user's userId as its first argument, per spec §4.1's literal signatures,
// so one process can safely serve many MT4 accounts.
type Client struct {
	http  *resty.Client
	retry RetryPolicy
	lot   LotSizePolicy
	log   zerolog.Logger

	cache        *cache.Cache
	poller       *poller.Poller
	symbolMapper collab.SymbolMapper
}

// SetCache wires the order/account/symbol cache described in spec §4.3
// into the client so every operation that spec §4.1 says "writes the
// cache" actually does. Optional: a nil cache (the default) leaves every
// bridge call working exactly as before, degrading silently per spec §7
// ("cache failures degrade silently — the authoritative state is the
// bridge, not the cache").
func (c *Client) SetCache(ca *cache.Cache) { c.cache = ca }

// SetPoller wires the Order Poller (spec §4.2) so createMarketOrder can
// schedule a bounded watch on every ticket it opens, as spec §4.1 requires.
func (c *Client) SetPoller(p *poller.Poller) { c.poller = p }

// SetSymbolMapper wires the external Symbol Mapper collaborator (spec
// §2.2) so createMarketOrder can resolve a universal symbol to the
// broker-specific symbol it submits to the bridge. Optional: a nil mapper
// (the default) leaves createMarketOrder submitting the caller's symbol
// unresolved, for deployments where the mapper integration isn't wired yet.
func (c *Client) SetSymbolMapper(m collab.SymbolMapper) { c.symbolMapper = m }

// NewClient builds a bridge client for the MT4 terminal. baseURL, username
// and password come from config (spec §6); they authenticate the process
// to the bridge itself, not to any one user's account — per-call userId
// parameters carry user identity (spec §2.4, §9).
func NewClient(baseURL, username, password string, timeout time.Duration, retry RetryPolicy, lot LotSizePolicy, log zerolog.Logger) *Client {
	h := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetBasicAuth(username, password).
		SetHeader("Content-Type", "application/json")

	return &Client{http: h, retry: retry, lot: lot, log: log}
}

// decodeEnvelope unmarshals the bridge's {success,data,error,latency_ms}
// response shape and turns a non-success response into a *BrokerError
// (spec §6).
func decodeEnvelope(body []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("bridge: decode response: %w", err)
	}
	if !env.Success {
		return &env, ParseBrokerError(env.Error)
	}
	return &env, nil
}

func toOrder(w orderWire) model.Order {
	return model.Order{
		Ticket:       w.Ticket,
		Symbol:       w.Symbol,
		Side:         model.Side(w.Side),
		Volume:       decimal.NewFromFloat(w.Volume),
		OpenPrice:    decimal.NewFromFloat(w.OpenPrice),
		CurrentPrice: decimal.NewFromFloat(w.CurrentPrice),
		StopLoss:     decimal.NewFromFloat(w.StopLoss),
		TakeProfit:   decimal.NewFromFloat(w.TakeProfit),
		Profit:       decimal.NewFromFloat(w.Profit),
		Swap:         decimal.NewFromFloat(w.Swap),
		Commission:   decimal.NewFromFloat(w.Commission),
		OpenTime:     parseBridgeTime(w.OpenTime),
		CloseTime:    parseBridgeTime(w.CloseTime),
		Status:       model.OrderStatus(w.Status),
		MagicNumber:  w.MagicNumber,
	}
}

func parseBridgeTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// CalculateLotSize implements the fixed lot-sizing policy (spec §4.1); it
// never calls the bridge.
func (c *Client) CalculateLotSize() decimal.Decimal {
	return c.lot.Clamp()
}

// CreateMarketOrder opens a position at market, tagging it with a magic
// number deterministically derived from userId (spec §4.1, §4.6). volume
// must already satisfy the broker's minimum; callers normally pass
// CalculateLotSize()'s result. universalSymbol is resolved to a
// broker-specific symbol via the Symbol Mapper collaborator before
// submission; an unmappable symbol fails fast with ErrSymbolUnavailable
// rather than reaching the bridge (spec §2.2, §4.1).
func (c *Client) CreateMarketOrder(ctx context.Context, userID, universalSymbol string, side model.Side, volume, stopLoss, takeProfit decimal.Decimal) (model.Order, error) {
	if volume.LessThan(c.lot.Min) {
		return model.Order{}, ErrInvalidVolume
	}

	brokerSymbol := universalSymbol
	if c.symbolMapper != nil {
		resolved, ok := c.symbolMapper.ResolveSymbol(ctx, universalSymbol)
		if !ok {
			return model.Order{}, ErrSymbolUnavailable
		}
		brokerSymbol = resolved
	}

	req := createOrderRequest{
		Symbol:      brokerSymbol,
		Side:        string(side),
		Volume:      volume.InexactFloat64(),
		StopLoss:    stopLoss.InexactFloat64(),
		TakeProfit:  takeProfit.InexactFloat64(),
		MagicNumber: MagicNumber(userID),
	}

	var order model.Order
	err := c.retry.do(ctx, func(ctx context.Context, attempt int) error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(req).
			Post("/api/v1/orders")
		if err != nil {
			return err
		}
		env, err := decodeEnvelope(resp.Body())
		if err != nil {
			return c.classify(err)
		}
		var w orderWire
		if uerr := json.Unmarshal(env.Data, &w); uerr != nil {
			return fmt.Errorf("bridge: decode order: %w", uerr)
		}
		order = toOrder(w)
		return nil
	})
	if err != nil {
		return model.Order{}, &OrderFailedError{Op: "createMarketOrder", Last: err}
	}

	c.writeOrderCache(ctx, order)
	if c.poller != nil {
		// Detached from ctx: the poller outlives this call by design (up
		// to 30 polls over ~1 minute, spec §4.2), so it must not be
		// cancelled just because the caller's request context ends.
		c.poller.Watch(context.Background(), order.Ticket, order.Symbol, userID)
	}
	return order, nil
}

// writeOrderCache is the cache-through write every order-mutating
// operation performs (spec §4.1, §4.3). Cache failures are logged and
// swallowed: the bridge remains the authoritative source of truth (spec
// §7).
func (c *Client) writeOrderCache(ctx context.Context, order model.Order) {
	if c.cache == nil {
		return
	}
	if err := c.cache.PutOrder(ctx, order); err != nil {
		c.log.Warn().Err(err).Int64("ticket", order.Ticket).Msg("bridge: cache write failed")
	}
}

// ClosePosition closes (or partially closes, when volume < the order's
// full volume) an open position by ticket (spec §4.1). It pre-validates
// the ticket is still in the bridge's open-positions list before
// submitting the close, failing fast with ErrPositionAlreadyClosed rather
// than spending a retry budget on a ticket that is already gone; a
// pre-validation fetch failure is not fatal (the close call's own
// response will still surface a fatal "already closed" error if that is
// in fact what happened) and is skipped rather than blocking the close.
func (c *Client) ClosePosition(ctx context.Context, userID string, ticket int64, volume decimal.Decimal) (model.Order, error) {
	if open, err := c.GetOpenPositions(ctx, userID); err == nil {
		found := false
		for _, o := range open {
			if o.Ticket == ticket {
				found = true
				break
			}
		}
		if !found {
			return model.Order{}, ErrPositionAlreadyClosed
		}
	}

	req := closeOrderRequest{Ticket: ticket, Volume: volume.InexactFloat64()}

	var order model.Order
	err := c.retry.do(ctx, func(ctx context.Context, attempt int) error {
		resp, rerr := c.http.R().
			SetContext(ctx).
			SetBody(req).
			Post("/api/v1/orders/close")
		if rerr != nil {
			return rerr
		}
		env, derr := decodeEnvelope(resp.Body())
		if derr != nil {
			return c.classify(derr)
		}
		var w orderWire
		if len(env.Data) > 0 {
			_ = json.Unmarshal(env.Data, &w)
		}
		if w.Ticket == 0 {
			w.Ticket = ticket
		}
		order = toOrder(w)
		return nil
	})
	if err != nil {
		return model.Order{}, err
	}

	// The bridge's close response is minimal and may lack closeTime; force
	// the terminal status rather than trusting a possibly-absent field
	// (spec §4.1).
	order.Status = model.OrderClosed
	if order.CloseTime.IsZero() {
		order.CloseTime = time.Now()
	}

	c.writeOrderCache(ctx, order)
	if c.cache != nil {
		evt := cache.OrderEvent{Type: "order_closed", Ticket: order.Ticket, Profit: order.Profit, CloseTime: order.CloseTime}
		if perr := c.cache.PublishOrderClosed(ctx, userID, evt); perr != nil {
			c.log.Warn().Err(perr).Int64("ticket", ticket).Msg("bridge: publish order_closed failed")
		}
	}
	if c.poller != nil {
		c.poller.Stop(ticket)
	}
	return order, nil
}

// CloseAllPositions closes every open position for userID, optionally
// scoped to a single symbol when symbol is non-empty (spec §4.1).
func (c *Client) CloseAllPositions(ctx context.Context, userID, symbol string) (closed, failed int, totalProfit decimal.Decimal, err error) {
	req := closeAllRequest{Symbol: symbol}

	err = c.retry.do(ctx, func(ctx context.Context, attempt int) error {
		resp, rerr := c.http.R().
			SetContext(ctx).
			SetBody(req).
			Post("/api/v1/orders/close-all")
		if rerr != nil {
			return rerr
		}
		env, derr := decodeEnvelope(resp.Body())
		if derr != nil {
			return c.classify(derr)
		}
		var w closeAllDataWire
		if uerr := json.Unmarshal(env.Data, &w); uerr != nil {
			return fmt.Errorf("bridge: decode close-all: %w", uerr)
		}
		closed, failed = w.Closed, w.Failed
		totalProfit = decimal.NewFromFloat(w.TotalProfit)
		return nil
	})
	return closed, failed, totalProfit, err
}

// ModifyStopLoss updates stop loss and/or take profit on userID's open
// position. A nil pointer leaves that field untouched on the broker side
// (spec §4.1). On success the updated Order is written to cache.
func (c *Client) ModifyStopLoss(ctx context.Context, userID string, ticket int64, stopLoss, takeProfit *decimal.Decimal) (model.Order, error) {
	req := modifyOrderRequest{}
	if stopLoss != nil {
		v := stopLoss.InexactFloat64()
		req.StopLoss = &v
	}
	if takeProfit != nil {
		v := takeProfit.InexactFloat64()
		req.TakeProfit = &v
	}

	var order model.Order
	err := c.retry.do(ctx, func(ctx context.Context, attempt int) error {
		resp, rerr := c.http.R().
			SetContext(ctx).
			SetBody(req).
			Put(fmt.Sprintf("/api/v1/orders/%d", ticket))
		if rerr != nil {
			return rerr
		}
		env, derr := decodeEnvelope(resp.Body())
		if derr != nil {
			return c.classify(derr)
		}
		var w orderWire
		if len(env.Data) > 0 {
			_ = json.Unmarshal(env.Data, &w)
		}
		if w.Ticket == 0 {
			w.Ticket = ticket
		}
		order = toOrder(w)
		return nil
	})
	if err != nil {
		return model.Order{}, err
	}
	c.writeOrderCache(ctx, order)
	return order, nil
}

// GetOpenPositions fetches every open order for userID's account. The
// bridge has been observed to respond either as {data:{orders:[...]}} or
// with a top-level {orders:[...]} (spec §6, §9); both shapes are accepted.
func (c *Client) GetOpenPositions(ctx context.Context, userID string) ([]model.Order, error) {
	var orders []model.Order
	err := c.retry.do(ctx, func(ctx context.Context, attempt int) error {
		resp, err := c.http.R().SetContext(ctx).Get("/api/v1/orders/open")
		if err != nil {
			return err
		}

		var env envelope
		if jerr := json.Unmarshal(resp.Body(), &env); jerr != nil {
			return fmt.Errorf("bridge: decode response: %w", jerr)
		}
		if !env.Success && len(env.Orders) == 0 {
			return c.classify(ParseBrokerError(env.Error))
		}

		raw := env.Orders
		if len(raw) == 0 && len(env.Data) > 0 {
			var d ordersDataWire
			if uerr := json.Unmarshal(env.Data, &d); uerr == nil {
				orders = make([]model.Order, 0, len(d.Orders))
				for _, w := range d.Orders {
					orders = append(orders, toOrder(w))
				}
				return nil
			}
		}
		var ws []orderWire
		if len(raw) > 0 {
			if uerr := json.Unmarshal(raw, &ws); uerr != nil {
				return fmt.Errorf("bridge: decode orders: %w", uerr)
			}
		}
		orders = make([]model.Order, 0, len(ws))
		for _, w := range ws {
			orders = append(orders, toOrder(w))
		}
		return nil
	})
	if err == nil {
		for _, o := range orders {
			c.writeOrderCache(ctx, o)
		}
	}
	return orders, err
}

// GetBalance fetches userID's account snapshot (spec §4.1) and caches it
// under mt4_account:<userId> with the 5-minute TTL spec §3 mandates.
func (c *Client) GetBalance(ctx context.Context, userID string) (model.AccountSnapshot, error) {
	var snap model.AccountSnapshot
	err := c.retry.do(ctx, func(ctx context.Context, attempt int) error {
		resp, err := c.http.R().SetContext(ctx).Get("/api/v1/account/info")
		if err != nil {
			return err
		}
		env, derr := decodeEnvelope(resp.Body())
		if derr != nil {
			return c.classify(derr)
		}
		var w accountWire
		if uerr := json.Unmarshal(env.Data, &w); uerr != nil {
			return fmt.Errorf("bridge: decode account: %w", uerr)
		}
		snap = model.AccountSnapshot{
			AccountNumber: w.AccountNumber,
			Broker:        w.Broker,
			Currency:      w.Currency,
			Balance:       decimal.NewFromFloat(w.Balance),
			Equity:        decimal.NewFromFloat(w.Equity),
			Margin:        decimal.NewFromFloat(w.Margin),
			FreeMargin:    decimal.NewFromFloat(w.FreeMargin),
			Profit:        decimal.NewFromFloat(w.Profit),
		}
		snap.ComputeMarginLevel()
		return nil
	})
	if err == nil && c.cache != nil {
		if perr := c.cache.PutAccount(ctx, userID, snap); perr != nil {
			c.log.Warn().Err(perr).Str("user_id", userID).Msg("bridge: cache write (account) failed")
		}
	}
	return snap, err
}

// GetAvailableSymbols lists tradable symbols for userID's account,
// cache-through with the 1-hour TTL spec §3 mandates (spec §4.1).
func (c *Client) GetAvailableSymbols(ctx context.Context, userID string) ([]model.SymbolInfo, error) {
	var symbols []model.SymbolInfo
	err := c.retry.do(ctx, func(ctx context.Context, attempt int) error {
		resp, err := c.http.R().SetContext(ctx).Get("/api/v1/symbols")
		if err != nil {
			return err
		}
		env, derr := decodeEnvelope(resp.Body())
		if derr != nil {
			return c.classify(derr)
		}
		var d symbolsDataWire
		if uerr := json.Unmarshal(env.Data, &d); uerr != nil {
			return fmt.Errorf("bridge: decode symbols: %w", uerr)
		}
		symbols = make([]model.SymbolInfo, 0, len(d.Symbols))
		for _, w := range d.Symbols {
			symbols = append(symbols, model.SymbolInfo{
				Symbol:      w.Symbol,
				Description: w.Description,
				Digits:      w.Digits,
				Point:       decimal.NewFromFloat(w.Point),
				Spread:      decimal.NewFromFloat(w.Spread),
				Bid:         decimal.NewFromFloat(w.Bid),
				Ask:         decimal.NewFromFloat(w.Ask),
			})
		}
		return nil
	})
	if err == nil && c.cache != nil {
		if perr := c.cache.PutSymbols(ctx, userID, symbols); perr != nil {
			c.log.Warn().Err(perr).Str("user_id", userID).Msg("bridge: cache write (symbols) failed")
		}
	}
	return symbols, err
}

// GetPrice fetches the current bid/ask for a symbol on userID's account
// (spec §4.1). Unlike the other endpoints this one is allowed to 404 for an
// unknown symbol, surfaced as ErrSymbolUnavailable. Not cached: scalping
// strategies need the freshest possible quote (spec §3).
func (c *Client) GetPrice(ctx context.Context, userID, symbol string) (bid, ask, spread decimal.Decimal, err error) {
	err = c.retry.do(ctx, func(ctx context.Context, attempt int) error {
		resp, rerr := c.http.R().SetContext(ctx).Get("/api/v1/price/" + symbol)
		if rerr != nil {
			return rerr
		}
		if resp.StatusCode() == 404 {
			return ErrSymbolUnavailable
		}
		env, derr := decodeEnvelope(resp.Body())
		if derr != nil {
			return c.classify(derr)
		}
		var w priceWire
		if uerr := json.Unmarshal(env.Data, &w); uerr != nil {
			return fmt.Errorf("bridge: decode price: %w", uerr)
		}
		bid = decimal.NewFromFloat(w.Bid)
		ask = decimal.NewFromFloat(w.Ask)
		spread = decimal.NewFromFloat(w.Spread)
		return nil
	})
	return bid, ask, spread, err
}

// Ping is a liveness check against the bridge HTTP surface itself, not the
// ZMQ leg to the terminal (spec §4.1). userID is accepted for parity with
// the rest of the per-call API but does not affect the request: liveness
// is process-wide, not per-account.
func (c *Client) Ping(ctx context.Context, userID string) error {
	resp, err := c.http.R().SetContext(ctx).Get("/api/v1/ping")
	if err != nil {
		return ErrBridgeUnavailable
	}
	if resp.StatusCode() >= 500 {
		return ErrBridgeUnavailable
	}
	return nil
}

// PingBridge additionally checks the bridge's reported ZMQ connection to
// the MT4 terminal, returning ErrBridgeUnavailable when either leg is down
// (spec §4.1, §4.2).
func (c *Client) PingBridge(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/api/v1/ping")
	if err != nil {
		return ErrBridgeUnavailable
	}
	env, derr := decodeEnvelope(resp.Body())
	if derr != nil {
		return ErrBridgeUnavailable
	}
	var w pingWire
	if uerr := json.Unmarshal(env.Data, &w); uerr != nil || !w.ZMQConnected {
		return ErrBridgeUnavailable
	}
	return nil
}

// classify maps a decode/broker error onto the package sentinels callers
// are expected to check with errors.Is (spec §7), falling back to the
// broker error itself when no sentinel applies.
func (c *Client) classify(err error) error {
	if err == nil {
		return nil
	}
	var be *BrokerError
	if asBrokerError(err, &be) {
		switch {
		case be.isFatalMessage() && be.Code != fatalTicketCode:
			if containsAny(be.Message, "already closed") {
				return ErrPositionAlreadyClosed
			}
		case be.Code == fatalTicketCode:
			return ErrPositionAlreadyClosed
		}
		if containsAny(be.Message, "invalid volume", "volume too small") {
			return ErrInvalidVolume
		}
		if containsAny(be.Message, "symbol not found", "unknown symbol") {
			return ErrSymbolUnavailable
		}
	}
	return err
}
