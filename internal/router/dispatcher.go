// Package router dispatches logical operations to the right API surface for
// each account. The account's mode (standard or unified) and the requested
// market segment select the path; responses come back in one normalized
// shape regardless of which surface answered.
package router

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/binance-vault/internal/domain"
	"github.com/betbot/binance-vault/internal/exchange"
)

// Exchange is the per-account operation surface the dispatcher routes to.
// *exchange.Handle implements it; tests substitute fakes.
type Exchange interface {
	Name() string
	Unified() bool
	Balances(ctx context.Context, seg domain.Segment) ([]domain.Balance, error)
	AssetBalance(ctx context.Context, seg domain.Segment, asset string) (domain.Balance, error)
	Positions(ctx context.Context, seg domain.Segment, symbol string) ([]domain.Position, error)
	PlaceOrder(ctx context.Context, seg domain.Segment, req domain.OrderRequest) (domain.Order, error)
	CancelOrder(ctx context.Context, seg domain.Segment, symbol string, orderID int64) (domain.Order, error)
	OpenOrders(ctx context.Context, seg domain.Segment, symbol string) ([]domain.Order, error)
	OrderHistory(ctx context.Context, seg domain.Segment, symbol string, limit int) ([]domain.Order, error)
	Transfer(ctx context.Context, transferType, asset string, amount decimal.Decimal) (int64, error)
	Ticker(ctx context.Context, seg domain.Segment, symbol string) (domain.Ticker, error)
	Depth(ctx context.Context, seg domain.Segment, symbol string, limit int) (domain.Depth, error)
	Klines(ctx context.Context, seg domain.Segment, symbol, interval string, limit int) ([]domain.Kline, error)
	FundingRate(ctx context.Context, seg domain.Segment, symbol string) (domain.FundingRate, error)
	SetLeverage(ctx context.Context, seg domain.Segment, symbol string, leverage int) error
	SetMarginType(ctx context.Context, seg domain.Segment, symbol string, isolated bool) error
	SelfTest(ctx context.Context) *exchange.SelfTestResult
	VerifyPartnerCodes() []exchange.CodeMismatch
}

// Source hands out exchanges by account name.
type Source interface {
	Handle(name string) (Exchange, error)
	Invalidate(name string)
	InvalidateAll()
}

type factorySource struct {
	f *exchange.Factory
}

func (s factorySource) Handle(name string) (Exchange, error) {
	h, err := s.f.Handle(name)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (s factorySource) Invalidate(name string) { s.f.Invalidate(name) }
func (s factorySource) InvalidateAll()         { s.f.InvalidateAll() }

const defaultSettleDelay = 2 * time.Second

// Dispatcher routes operations for all configured accounts.
type Dispatcher struct {
	src         Source
	log         *logrus.Entry
	settleDelay time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// New builds a dispatcher over a client factory.
func New(f *exchange.Factory, log *logrus.Entry) *Dispatcher {
	return NewWithSource(factorySource{f: f}, log)
}

// NewWithSource builds a dispatcher over any handle source, used by tests.
func NewWithSource(src Source, log *logrus.Entry) *Dispatcher {
	return &Dispatcher{
		src:         src,
		log:         log,
		settleDelay: defaultSettleDelay,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SetSettleDelay overrides the pause between dependent transfer steps.
func (d *Dispatcher) SetSettleDelay(delay time.Duration) {
	d.settleDelay = delay
}

// Invalidate drops the cached handle for an account, forcing the next call
// to rebuild it from the stored record. Call after credential rotation.
func (d *Dispatcher) Invalidate(account string) {
	d.src.Invalidate(account)
	d.log.WithField("account", account).Debug("handle invalidated")
}

// InvalidateAll drops every cached handle.
func (d *Dispatcher) InvalidateAll() {
	d.src.InvalidateAll()
}

// Balances fetches normalized balances for an account segment.
func (d *Dispatcher) Balances(ctx context.Context, account string, seg domain.Segment) ([]domain.Balance, error) {
	ex, err := d.src.Handle(account)
	if err != nil {
		return nil, err
	}
	return ex.Balances(ctx, seg)
}

// AssetBalance fetches one asset's balance.
func (d *Dispatcher) AssetBalance(ctx context.Context, account string, seg domain.Segment, asset string) (domain.Balance, error) {
	ex, err := d.src.Handle(account)
	if err != nil {
		return domain.Balance{}, err
	}
	return ex.AssetBalance(ctx, seg, asset)
}

// Positions fetches open positions.
func (d *Dispatcher) Positions(ctx context.Context, account string, seg domain.Segment, symbol string) ([]domain.Position, error) {
	ex, err := d.src.Handle(account)
	if err != nil {
		return nil, err
	}
	return ex.Positions(ctx, seg, symbol)
}

// PlaceOrder places an order on an account segment.
func (d *Dispatcher) PlaceOrder(ctx context.Context, account string, seg domain.Segment, req domain.OrderRequest) (domain.Order, error) {
	ex, err := d.src.Handle(account)
	if err != nil {
		return domain.Order{}, err
	}
	order, err := ex.PlaceOrder(ctx, seg, req)
	if err != nil {
		d.opLog(account, "place order", req.Symbol).Errorf("%v", err)
		return domain.Order{}, err
	}
	return order, nil
}

// CancelOrder cancels an order by venue ID.
func (d *Dispatcher) CancelOrder(ctx context.Context, account string, seg domain.Segment, symbol string, orderID int64) (domain.Order, error) {
	ex, err := d.src.Handle(account)
	if err != nil {
		return domain.Order{}, err
	}
	order, err := ex.CancelOrder(ctx, seg, symbol, orderID)
	if err != nil {
		d.opLog(account, "cancel order", symbol).Errorf("%v", err)
		return domain.Order{}, err
	}
	return order, nil
}

// OpenOrders lists resting orders on a segment.
func (d *Dispatcher) OpenOrders(ctx context.Context, account string, seg domain.Segment, symbol string) ([]domain.Order, error) {
	ex, err := d.src.Handle(account)
	if err != nil {
		return nil, err
	}
	return ex.OpenOrders(ctx, seg, symbol)
}

// OrderHistory lists past orders of one symbol on a segment.
func (d *Dispatcher) OrderHistory(ctx context.Context, account string, seg domain.Segment, symbol string, limit int) ([]domain.Order, error) {
	ex, err := d.src.Handle(account)
	if err != nil {
		return nil, err
	}
	return ex.OrderHistory(ctx, seg, symbol, limit)
}

// Ticker fetches a last-price snapshot through an account's handle.
func (d *Dispatcher) Ticker(ctx context.Context, account string, seg domain.Segment, symbol string) (domain.Ticker, error) {
	ex, err := d.src.Handle(account)
	if err != nil {
		return domain.Ticker{}, err
	}
	return ex.Ticker(ctx, seg, symbol)
}

// Depth fetches an order book snapshot.
func (d *Dispatcher) Depth(ctx context.Context, account string, seg domain.Segment, symbol string, limit int) (domain.Depth, error) {
	ex, err := d.src.Handle(account)
	if err != nil {
		return domain.Depth{}, err
	}
	return ex.Depth(ctx, seg, symbol, limit)
}

// Klines fetches candles.
func (d *Dispatcher) Klines(ctx context.Context, account string, seg domain.Segment, symbol, interval string, limit int) ([]domain.Kline, error) {
	ex, err := d.src.Handle(account)
	if err != nil {
		return nil, err
	}
	return ex.Klines(ctx, seg, symbol, interval, limit)
}

// FundingRate fetches the premium index snapshot for a perpetual.
func (d *Dispatcher) FundingRate(ctx context.Context, account string, seg domain.Segment, symbol string) (domain.FundingRate, error) {
	ex, err := d.src.Handle(account)
	if err != nil {
		return domain.FundingRate{}, err
	}
	return ex.FundingRate(ctx, seg, symbol)
}

// SetLeverage changes position leverage.
func (d *Dispatcher) SetLeverage(ctx context.Context, account string, seg domain.Segment, symbol string, leverage int) error {
	ex, err := d.src.Handle(account)
	if err != nil {
		return err
	}
	return ex.SetLeverage(ctx, seg, symbol, leverage)
}

// SetMarginType switches between crossed and isolated margin.
func (d *Dispatcher) SetMarginType(ctx context.Context, account string, seg domain.Segment, symbol string, isolated bool) error {
	ex, err := d.src.Handle(account)
	if err != nil {
		return err
	}
	return ex.SetMarginType(ctx, seg, symbol, isolated)
}

// SelfTest runs the connectivity probe for an account.
func (d *Dispatcher) SelfTest(ctx context.Context, account string) (*exchange.SelfTestResult, error) {
	ex, err := d.src.Handle(account)
	if err != nil {
		return nil, err
	}
	return ex.SelfTest(ctx), nil
}

// CloseFailure records one position that could not be closed.
type CloseFailure struct {
	Position domain.Position
	Err      error
}

// CloseResult reports a close operation's outcome explicitly: positions
// closed, positions that errored. Both can be non-empty at once.
type CloseResult struct {
	Closed []domain.Order
	Failed []CloseFailure
}

// ClosePosition closes the open positions matching symbol and optional side
// ("LONG"/"SHORT", empty for both) with reduce-only market orders. No open
// position is a successful no-op. A failure on one position does not stop the
// others; every outcome lands in the result.
func (d *Dispatcher) ClosePosition(ctx context.Context, account string, seg domain.Segment, symbol, side string) (*CloseResult, error) {
	ex, err := d.src.Handle(account)
	if err != nil {
		return nil, err
	}
	positions, err := ex.Positions(ctx, seg, symbol)
	if err != nil {
		return nil, err
	}

	res := &CloseResult{}
	for _, pos := range positions {
		if symbol != "" && pos.Symbol != symbol {
			continue
		}
		if side != "" && !strings.EqualFold(side, pos.Side) {
			continue
		}
		if pos.Amount.IsZero() {
			continue
		}

		closeSide := "SELL"
		if pos.Side == "SHORT" {
			closeSide = "BUY"
		}
		req := domain.OrderRequest{
			Symbol:   pos.Symbol,
			Side:     closeSide,
			Type:     "MARKET",
			Quantity: pos.Amount,
		}
		if ex.Unified() {
			// dual-side mode closes by naming the position, not reduceOnly
			req.Params = map[string]string{"positionSide": pos.Side}
		} else {
			req.ReduceOnly = true
		}

		order, err := ex.PlaceOrder(ctx, seg, req)
		if err != nil {
			d.opLog(account, "close position", pos.Symbol).Errorf("%v", err)
			res.Failed = append(res.Failed, CloseFailure{Position: pos, Err: err})
			continue
		}
		res.Closed = append(res.Closed, order)
	}
	return res, nil
}

func (d *Dispatcher) opLog(account, op, symbol string) *logrus.Entry {
	e := d.log.WithField("account", account).WithField("op", op)
	if symbol != "" {
		e = e.WithField("symbol", symbol)
	}
	return e
}
