package bridge

import "encoding/json"

// envelope is the bridge's standard response shape (spec §6).
type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	LatencyMs float64         `json:"latency_ms,omitempty"`

	// The source also observed top-level fields on some endpoints
	// (orders/open in particular) instead of the {data:{...}} wrapper;
	// these let GetOpenPositions accept both shapes (spec §6, §9).
	Orders json.RawMessage `json:"orders,omitempty"`
}

type orderWire struct {
	Ticket       int64   `json:"ticket"`
	Symbol       string  `json:"symbol"`
	Side         string  `json:"side"`
	Volume       float64 `json:"volume"`
	OpenPrice    float64 `json:"open_price"`
	CurrentPrice float64 `json:"current_price"`
	StopLoss     float64 `json:"stop_loss"`
	TakeProfit   float64 `json:"take_profit"`
	Profit       float64 `json:"profit"`
	Swap         float64 `json:"swap"`
	Commission   float64 `json:"commission"`
	OpenTime     string  `json:"open_time"`
	CloseTime    string  `json:"close_time"`
	Status       string  `json:"status"`
	MagicNumber  int     `json:"magic_number"`
}

type ordersDataWire struct {
	Orders []orderWire `json:"orders"`
}

type createOrderRequest struct {
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	Volume      float64 `json:"volume"`
	StopLoss    float64 `json:"stopLoss"`
	TakeProfit  float64 `json:"takeProfit"`
	MagicNumber int     `json:"magicNumber"`
}

type modifyOrderRequest struct {
	StopLoss   *float64 `json:"stopLoss"`
	TakeProfit *float64 `json:"takeProfit"`
}

type closeOrderRequest struct {
	Ticket int64   `json:"ticket"`
	Volume float64 `json:"volume"`
}

type closeAllRequest struct {
	Symbol string `json:"symbol"`
}

type closeAllDataWire struct {
	Closed      int     `json:"closed"`
	Failed      int     `json:"failed"`
	TotalProfit float64 `json:"totalProfit"`
}

type accountWire struct {
	AccountNumber string  `json:"account_number"`
	Broker        string  `json:"broker"`
	Currency      string  `json:"currency"`
	Balance       float64 `json:"balance"`
	Equity        float64 `json:"equity"`
	Margin        float64 `json:"margin"`
	FreeMargin    float64 `json:"free_margin"`
	Profit        float64 `json:"profit"`
}

type symbolWire struct {
	Symbol      string  `json:"symbol"`
	Description string  `json:"description"`
	Digits      int     `json:"digits"`
	Point       float64 `json:"point"`
	Spread      float64 `json:"spread"`
	Bid         float64 `json:"bid"`
	Ask         float64 `json:"ask"`
}

type symbolsDataWire struct {
	Symbols []symbolWire `json:"symbols"`
}

type priceWire struct {
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Spread float64 `json:"spread"`
}

type pingWire struct {
	ZMQConnected bool `json:"zmq_connected"`
}
