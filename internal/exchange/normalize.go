package exchange

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/binance-vault/internal/domain"
	"github.com/betbot/binance-vault/internal/exchange/rest"
)

// dec parses a venue decimal string, treating empty or malformed values as
// zero. The venue omits fields rather than sending garbage, so zero is the
// right reading.
func dec(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return v
}

// normalizeBalance builds the free/used/total triple, clamping used at zero
// so rounding on the venue side never produces a negative.
func normalizeBalance(asset string, free, total decimal.Decimal) domain.Balance {
	used := total.Sub(free)
	if used.IsNegative() {
		used = decimal.Zero
	}
	return domain.Balance{Asset: asset, Free: free, Used: used, Total: total}
}

// normalizePortfolioAssets folds the unified account's wallet split into the
// standard triple. Free is what is spendable across the cross-margin wallet
// and both futures wallets, used is whatever of the total that pins down.
func normalizePortfolioAssets(assets []rest.PortfolioAsset) []domain.Balance {
	out := make([]domain.Balance, 0, len(assets))
	for _, a := range assets {
		total := dec(a.TotalWalletBalance)
		free := dec(a.CrossMarginFree).Add(dec(a.UMWalletBalance)).Add(dec(a.CMWalletBalance))
		b := normalizeBalance(a.Asset, free, total)
		if b.Total.IsZero() && b.Free.IsZero() {
			continue
		}
		out = append(out, b)
	}
	return out
}

// normalizePortfolioPositions converts papi position rows, dropping flat ones.
func normalizePortfolioPositions(rows []rest.PortfolioPosition) []domain.Position {
	out := make([]domain.Position, 0, len(rows))
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
	return out
}

func umOrderToDomain(o *rest.UMOrder) domain.Order {
	return domain.Order{
		Symbol:        o.Symbol,
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Side:          o.Side,
		Type:          o.Type,
		Status:        o.Status,
		Price:         dec(o.Price),
		OrigQty:       dec(o.OrigQty),
		ExecutedQty:   dec(o.ExecutedQty),
		Time:          time.UnixMilli(o.UpdateTime),
	}
}

func umOrdersToDomain(rows []rest.UMOrder) []domain.Order {
	out := make([]domain.Order, 0, len(rows))
	for i := range rows {
		out = append(out, umOrderToDomain(&rows[i]))
	}
	return out
}

func optionOrderToDomain(o *rest.OptionOrder) domain.Order {
	return domain.Order{
		Symbol:        o.Symbol,
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Side:          o.Side,
		Type:          o.Type,
		Status:        o.Status,
		Price:         dec(o.Price),
		OrigQty:       dec(o.Quantity),
		ExecutedQty:   dec(o.ExecutedQty),
		Time:          time.UnixMilli(o.CreateTime),
	}
}
