package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/betbot/binance-vault/internal/domain"
)

// Balances returns the normalized non-zero balances of a segment. Unified
// accounts answer margin and derivative segments from the shared
// portfolio-margin pool, so those numbers are identical across segments. Spot
// settlement stays segregated even under unified mode, so spot balances always
// come from the plain spot surface.
func (h *Handle) Balances(ctx context.Context, seg domain.Segment) ([]domain.Balance, error) {
	if h.Unified() && seg != domain.SegmentSpot {
		assets, err := h.pm.PortfolioBalance(ctx)
		if err != nil {
			return nil, h.venueError(err, "portfolio balance")
		}
		return normalizePortfolioAssets(assets), nil
	}

	if err := h.gate(ctx, seg); err != nil {
		return nil, err
	}
	switch seg {
	case domain.SegmentSpot:
		acct, err := h.spot.NewGetAccountService().Do(ctx)
		if err != nil {
			return nil, h.venueError(err, "spot account")
		}
		var out []domain.Balance
		for _, b := range acct.Balances {
			free, locked := dec(b.Free), dec(b.Locked)
			if free.IsZero() && locked.IsZero() {
				continue
			}
			out = append(out, domain.Balance{
				Asset: b.Asset, Free: free, Used: locked, Total: free.Add(locked),
			})
		}
		return out, nil

	case domain.SegmentMargin:
		acct, err := h.spot.NewGetMarginAccountService().Do(ctx)
		if err != nil {
			return nil, h.venueError(err, "margin account")
		}
		var out []domain.Balance
		for _, a := range acct.UserAssets {
			free, locked := dec(a.Free), dec(a.Locked)
			if free.IsZero() && locked.IsZero() {
				continue
			}
			out = append(out, domain.Balance{
				Asset: a.Asset, Free: free, Used: locked, Total: free.Add(locked),
			})
		}
		return out, nil

	case domain.SegmentLinear, domain.SegmentSwap:
		rows, err := h.futures.NewGetBalanceService().Do(ctx)
		if err != nil {
			return nil, h.venueError(err, "futures balance")
		}
		var out []domain.Balance
		for _, b := range rows {
			total := dec(b.Balance)
			if total.IsZero() {
				continue
			}
			out = append(out, normalizeBalance(b.Asset, dec(b.AvailableBalance), total))
		}
		return out, nil

	case domain.SegmentInverse:
		rows, err := h.delivery.NewGetBalanceService().Do(ctx)
		if err != nil {
			return nil, h.venueError(err, "delivery balance")
		}
		var out []domain.Balance
		for _, b := range rows {
			total := dec(b.Balance)
			if total.IsZero() {
				continue
			}
			out = append(out, normalizeBalance(b.Asset, dec(b.AvailableBalance), total))
		}
		return out, nil

	case domain.SegmentOption:
		acct, err := h.pm.OptionAccount(ctx)
		if err != nil {
			return nil, h.venueError(err, "option account")
		}
		var out []domain.Balance
		for _, a := range acct.Asset {
			total := dec(a.MarginBalance)
			if total.IsZero() {
				continue
			}
			out = append(out, domain.Balance{
				Asset: a.Asset, Free: dec(a.Available), Used: dec(a.Locked), Total: total,
			})
		}
		return out, nil
	}
	return nil, &UnsupportedOperationError{Segment: string(seg), Operation: "balances"}
}

// Positions returns open positions for a derivative segment. Symbol may be
// empty for all symbols. Spot and margin have no positions.
func (h *Handle) Positions(ctx context.Context, seg domain.Segment, symbol string) ([]domain.Position, error) {
	switch seg {
	case domain.SegmentLinear, domain.SegmentSwap:
		if h.Unified() {
			rows, err := h.pm.UMPositionRisk(ctx, symbol)
			if err != nil {
				return nil, h.venueError(err, "um positions")
			}
			return normalizePortfolioPositions(rows), nil
		}
		if err := h.gate(ctx, seg); err != nil {
			return nil, err
		}
		svc := h.futures.NewGetPositionRiskService()
		if symbol != "" {
			svc.Symbol(symbol)
		}
		rows, err := svc.Do(ctx)
		if err != nil {
			return nil, h.venueError(err, "futures positions")
		}
		var out []domain.Position
		for _, p := range rows {
			amt := dec(p.PositionAmt)
			if amt.IsZero() {
				continue
			}
			side := p.PositionSide
			if side == "" || side == "BOTH" {
				if amt.IsNegative() {
					side = "SHORT"
				} else {
					side = "LONG"
				}
			}
			out = append(out, domain.Position{
				Symbol:        p.Symbol,
				Side:          side,
				Amount:        amt.Abs(),
				EntryPrice:    dec(p.EntryPrice),
				MarkPrice:     dec(p.MarkPrice),
				UnrealizedPnL: dec(p.UnRealizedProfit),
				Leverage:      dec(p.Leverage),
			})
		}
		return out, nil

	case domain.SegmentInverse:
		if h.Unified() {
			rows, err := h.pm.CMPositionRisk(ctx, symbol)
			if err != nil {
				return nil, h.venueError(err, "cm positions")
			}
			return normalizePortfolioPositions(rows), nil
		}
		if err := h.gate(ctx, seg); err != nil {
			return nil, err
		}
		svc := h.delivery.NewGetPositionRiskService()
		if symbol != "" {
			svc.Symbol(symbol)
		}
		rows, err := svc.Do(ctx)
		if err != nil {
			return nil, h.venueError(err, "delivery positions")
		}
		var out []domain.Position
		for _, p := range rows {
			amt := dec(p.PositionAmt)
			if amt.IsZero() {
				continue
			}
			side := "LONG"
			if amt.IsNegative() {
				side = "SHORT"
			}
			out = append(out, domain.Position{
				Symbol:        p.Symbol,
				Side:          side,
				Amount:        amt.Abs(),
				EntryPrice:    dec(p.EntryPrice),
				MarkPrice:     dec(p.MarkPrice),
				UnrealizedPnL: dec(p.UnRealizedProfit),
				Leverage:      dec(p.Leverage),
			})
		}
		return out, nil
	}
	return nil, &UnsupportedOperationError{Segment: string(seg), Operation: "positions"}
}

// AssetBalance is a convenience lookup for a single asset on a segment.
// Missing assets come back as a zero balance, not an error.
func (h *Handle) AssetBalance(ctx context.Context, seg domain.Segment, asset string) (domain.Balance, error) {
	balances, err := h.Balances(ctx, seg)
	if err != nil {
		return domain.Balance{}, err
	}
	for _, b := range balances {
		if b.Asset == asset {
			return b, nil
		}
	}
	return domain.Balance{
		Asset: asset, Free: decimal.Zero, Used: decimal.Zero, Total: decimal.Zero,
	}, nil
}
