package exchange

import (
	"context"
	"time"

	"github.com/adshao/go-binance/v2/delivery"
	"github.com/adshao/go-binance/v2/futures"

	"github.com/betbot/binance-vault/internal/domain"
)

// Ticker returns the last price on the segment the symbol trades in. Market
// data ignores account mode: unified and standard accounts see one book.
func (h *Handle) Ticker(ctx context.Context, seg domain.Segment, symbol string) (domain.Ticker, error) {
	if err := h.gate(ctx, seg); err != nil {
		return domain.Ticker{}, err
	}
	switch seg {
	case domain.SegmentSpot, domain.SegmentMargin:
		rows, err := h.spot.NewListPricesService().Symbol(symbol).Do(ctx)
		if err != nil {
			return domain.Ticker{}, h.venueError(err, "spot ticker")
		}
		for _, p := range rows {
			if p.Symbol == symbol {
				return domain.Ticker{Symbol: p.Symbol, Price: dec(p.Price)}, nil
			}
		}
	case domain.SegmentLinear, domain.SegmentSwap:
		rows, err := h.futures.NewListPricesService().Symbol(symbol).Do(ctx)
		if err != nil {
			return domain.Ticker{}, h.venueError(err, "futures ticker")
		}
		for _, p := range rows {
			if p.Symbol == symbol {
				return domain.Ticker{Symbol: p.Symbol, Price: dec(p.Price)}, nil
			}
		}
	case domain.SegmentInverse:
		rows, err := h.delivery.NewListPricesService().Symbol(symbol).Do(ctx)
		if err != nil {
			return domain.Ticker{}, h.venueError(err, "delivery ticker")
		}
		for _, p := range rows {
			if p.Symbol == symbol {
				return domain.Ticker{Symbol: p.Symbol, Price: dec(p.Price)}, nil
			}
		}
	default:
		return domain.Ticker{}, &UnsupportedOperationError{Segment: string(seg), Operation: "ticker"}
	}
	return domain.Ticker{}, &UnsupportedOperationError{Segment: string(seg), Operation: "ticker for " + symbol}
}

// Depth returns an order book snapshot.
func (h *Handle) Depth(ctx context.Context, seg domain.Segment, symbol string, limit int) (domain.Depth, error) {
	if limit <= 0 {
		limit = 20
	}
	out := domain.Depth{Symbol: symbol}
	if err := h.gate(ctx, seg); err != nil {
		return out, err
	}
	switch seg {
	case domain.SegmentSpot, domain.SegmentMargin:
		res, err := h.spot.NewDepthService().Symbol(symbol).Limit(limit).Do(ctx)
		if err != nil {
			return out, h.venueError(err, "spot depth")
		}
		for _, b := range res.Bids {
			out.Bids = append(out.Bids, domain.PriceLevel{Price: dec(b.Price), Quantity: dec(b.Quantity)})
		}
		for _, a := range res.Asks {
			out.Asks = append(out.Asks, domain.PriceLevel{Price: dec(a.Price), Quantity: dec(a.Quantity)})
		}
		return out, nil
	case domain.SegmentLinear, domain.SegmentSwap:
		res, err := h.futures.NewDepthService().Symbol(symbol).Limit(limit).Do(ctx)
		if err != nil {
			return out, h.venueError(err, "futures depth")
		}
		for _, b := range res.Bids {
			out.Bids = append(out.Bids, domain.PriceLevel{Price: dec(b.Price), Quantity: dec(b.Quantity)})
		}
		for _, a := range res.Asks {
			out.Asks = append(out.Asks, domain.PriceLevel{Price: dec(a.Price), Quantity: dec(a.Quantity)})
		}
		return out, nil
	case domain.SegmentInverse:
		res, err := h.delivery.NewDepthService().Symbol(symbol).Limit(limit).Do(ctx)
		if err != nil {
			return out, h.venueError(err, "delivery depth")
		}
		for _, b := range res.Bids {
			out.Bids = append(out.Bids, domain.PriceLevel{Price: dec(b.Price), Quantity: dec(b.Quantity)})
		}
		for _, a := range res.Asks {
			out.Asks = append(out.Asks, domain.PriceLevel{Price: dec(a.Price), Quantity: dec(a.Quantity)})
		}
		return out, nil
	}
	return out, &UnsupportedOperationError{Segment: string(seg), Operation: "depth"}
}

// Klines returns OHLCV candles.
func (h *Handle) Klines(ctx context.Context, seg domain.Segment, symbol, interval string, limit int) ([]domain.Kline, error) {
	if limit <= 0 {
		limit = 100
	}
	if err := h.gate(ctx, seg); err != nil {
		return nil, err
	}
	switch seg {
	case domain.SegmentSpot, domain.SegmentMargin:
		rows, err := h.spot.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
		if err != nil {
			return nil, h.venueError(err, "spot klines")
		}
		out := make([]domain.Kline, 0, len(rows))
		for _, k := range rows {
			out = append(out, domain.Kline{
				OpenTime:  time.UnixMilli(k.OpenTime),
				Open:      dec(k.Open),
				High:      dec(k.High),
				Low:       dec(k.Low),
				Close:     dec(k.Close),
				Volume:    dec(k.Volume),
				CloseTime: time.UnixMilli(k.CloseTime),
			})
		}
		return out, nil
	case domain.SegmentLinear, domain.SegmentSwap:
		rows, err := h.futures.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
		if err != nil {
			return nil, h.venueError(err, "futures klines")
		}
		out := make([]domain.Kline, 0, len(rows))
		for _, k := range rows {
			out = append(out, domain.Kline{
				OpenTime:  time.UnixMilli(k.OpenTime),
				Open:      dec(k.Open),
				High:      dec(k.High),
				Low:       dec(k.Low),
				Close:     dec(k.Close),
				Volume:    dec(k.Volume),
				CloseTime: time.UnixMilli(k.CloseTime),
			})
		}
		return out, nil
	case domain.SegmentInverse:
		rows, err := h.delivery.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
		if err != nil {
			return nil, h.venueError(err, "delivery klines")
		}
		out := make([]domain.Kline, 0, len(rows))
		for _, k := range rows {
			out = append(out, domain.Kline{
				OpenTime:  time.UnixMilli(k.OpenTime),
				Open:      dec(k.Open),
				High:      dec(k.High),
				Low:       dec(k.Low),
				Close:     dec(k.Close),
				Volume:    dec(k.Volume),
				CloseTime: time.UnixMilli(k.CloseTime),
			})
		}
		return out, nil
	}
	return nil, &UnsupportedOperationError{Segment: string(seg), Operation: "klines"}
}

// FundingRate returns the premium index snapshot for a USD-M perpetual.
func (h *Handle) FundingRate(ctx context.Context, seg domain.Segment, symbol string) (domain.FundingRate, error) {
	if err := h.gate(ctx, seg); err != nil {
		return domain.FundingRate{}, err
	}
	switch seg {
	case domain.SegmentLinear, domain.SegmentSwap:
		rows, err := h.futures.NewPremiumIndexService().Symbol(symbol).Do(ctx)
		if err != nil {
			return domain.FundingRate{}, h.venueError(err, "premium index")
		}
		if len(rows) == 0 {
			return domain.FundingRate{}, &UnsupportedOperationError{Segment: string(seg), Operation: "funding rate for " + symbol}
		}
		p := rows[0]
		return domain.FundingRate{
			Symbol:          p.Symbol,
			MarkPrice:       dec(p.MarkPrice),
			LastFundingRate: dec(p.LastFundingRate),
			NextFundingTime: time.UnixMilli(p.NextFundingTime),
		}, nil
	}
	return domain.FundingRate{}, &UnsupportedOperationError{Segment: string(seg), Operation: "funding rate"}
}

// SetLeverage changes position leverage on a derivatives segment.
func (h *Handle) SetLeverage(ctx context.Context, seg domain.Segment, symbol string, leverage int) error {
	if err := h.gate(ctx, seg); err != nil {
		return err
	}
	switch seg {
	case domain.SegmentLinear, domain.SegmentSwap:
		_, err := h.futures.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
		if err != nil {
			return h.venueError(err, "change leverage")
		}
		return nil
	case domain.SegmentInverse:
		_, err := h.delivery.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
		if err != nil {
			return h.venueError(err, "change leverage")
		}
		return nil
	}
	return &UnsupportedOperationError{Segment: string(seg), Operation: "set leverage"}
}

// SetMarginType switches a symbol between crossed and isolated margin.
// Unified accounts are always crossed, the venue rejects the call there.
func (h *Handle) SetMarginType(ctx context.Context, seg domain.Segment, symbol string, isolated bool) error {
	if err := h.gate(ctx, seg); err != nil {
		return err
	}
	switch seg {
	case domain.SegmentLinear, domain.SegmentSwap:
		mt := futures.MarginTypeCrossed
		if isolated {
			mt = futures.MarginTypeIsolated
		}
		if err := h.futures.NewChangeMarginTypeService().Symbol(symbol).MarginType(mt).Do(ctx); err != nil {
			return h.venueError(err, "change margin type")
		}
		return nil
	case domain.SegmentInverse:
		mt := delivery.MarginTypeCrossed
		if isolated {
			mt = delivery.MarginTypeIsolated
		}
		if err := h.delivery.NewChangeMarginTypeService().Symbol(symbol).MarginType(mt).Do(ctx); err != nil {
			return h.venueError(err, "change margin type")
		}
		return nil
	}
	return &UnsupportedOperationError{Segment: string(seg), Operation: "set margin type"}
}
