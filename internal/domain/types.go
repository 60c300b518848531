package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance is the normalized per-asset view every segment reports, regardless
// of account mode. Free is what can be spent immediately, Used is locked in
// orders or posted as margin, Total = Free + Used.
type Balance struct {
	Asset string          `json:"asset"`
	Free  decimal.Decimal `json:"free"`
	Used  decimal.Decimal `json:"used"`
	Total decimal.Decimal `json:"total"`
}

// Position is an open derivatives position.
type Position struct {
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"` // LONG, SHORT or BOTH
	Amount        decimal.Decimal `json:"amount"`
	EntryPrice    decimal.Decimal `json:"entryPrice"`
	MarkPrice     decimal.Decimal `json:"markPrice"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnl"`
	Leverage      decimal.Decimal `json:"leverage"`
}

// OrderRequest carries everything needed to place an order on any segment.
// Quantity and Price stay as decimals until serialization so precision is
// never lost to float formatting.
type OrderRequest struct {
	Symbol      string
	Side        string // BUY or SELL
	Type        string // LIMIT, MARKET, ...
	Quantity    decimal.Decimal
	Price       decimal.Decimal // zero for market orders
	TimeInForce string          // GTC, IOC, FOK; empty defaults per order type
	ReduceOnly  bool
	Params      map[string]string // extra venue params passed through verbatim
}

// Order is the normalized fill state returned by place/cancel/query calls.
type Order struct {
	Symbol        string          `json:"symbol"`
	OrderID       int64           `json:"orderId"`
	ClientOrderID string          `json:"clientOrderId"`
	Side          string          `json:"side"`
	Type          string          `json:"type"`
	Status        string          `json:"status"`
	Price         decimal.Decimal `json:"price"`
	OrigQty       decimal.Decimal `json:"origQty"`
	ExecutedQty   decimal.Decimal `json:"executedQty"`
	Time          time.Time       `json:"time"`
}

// Ticker is a last-price snapshot.
type Ticker struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

// PriceLevel is one side entry of an order book.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Depth is an order book snapshot.
type Depth struct {
	Symbol string       `json:"symbol"`
	Bids   []PriceLevel `json:"bids"`
	Asks   []PriceLevel `json:"asks"`
}

// Kline is a single OHLCV candle.
type Kline struct {
	OpenTime  time.Time       `json:"openTime"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	CloseTime time.Time       `json:"closeTime"`
}

// FundingRate is the current premium-index funding snapshot for a perpetual.
type FundingRate struct {
	Symbol          string          `json:"symbol"`
	MarkPrice       decimal.Decimal `json:"markPrice"`
	LastFundingRate decimal.Decimal `json:"lastFundingRate"`
	NextFundingTime time.Time       `json:"nextFundingTime"`
}
