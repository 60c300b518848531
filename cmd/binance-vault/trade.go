package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/betbot/binance-vault/internal/domain"
	"github.com/betbot/binance-vault/internal/router"
)

// tradeFlags are the flags shared by every trading command.
type tradeFlags struct {
	account *string
	segment *string
}

func newTradeFlags(fs *flag.FlagSet, a *app) tradeFlags {
	return tradeFlags{
		account: fs.String("account", a.cfg.DefaultAccount, "stored account name"),
		segment: fs.String("segment", "spot", "spot, margin, linear, inverse, swap or option"),
	}
}

func (tf tradeFlags) resolve() (string, domain.Segment, error) {
	if *tf.account == "" {
		return "", "", fmt.Errorf("no account given and no default_account configured")
	}
	seg, err := domain.ParseSegment(*tf.segment)
	if err != nil {
		return "", "", err
	}
	return *tf.account, seg, nil
}

func parseAmount(flagName, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, fmt.Errorf("-%s is required", flagName)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("-%s: %w", flagName, err)
	}
	if d.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("-%s must be positive", flagName)
	}
	return d, nil
}

func (a *app) cmdBalance(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("balance", flag.ExitOnError)
	tf := newTradeFlags(fs, a)
	asset := fs.String("asset", "", "show a single asset")
	fs.Parse(args)

	account, seg, err := tf.resolve()
	if err != nil {
		return err
	}
	if *asset != "" {
		bal, err := a.dispatcher.AssetBalance(ctx, account, seg, strings.ToUpper(*asset))
		if err != nil {
			return err
		}
		return printJSON(bal)
	}
	balances, err := a.dispatcher.Balances(ctx, account, seg)
	if err != nil {
		return err
	}
	return printJSON(balances)
}

func (a *app) cmdPositions(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("positions", flag.ExitOnError)
	tf := newTradeFlags(fs, a)
	symbol := fs.String("symbol", "", "filter by symbol")
	fs.Parse(args)

	account, seg, err := tf.resolve()
	if err != nil {
		return err
	}
	positions, err := a.dispatcher.Positions(ctx, account, seg, *symbol)
	if err != nil {
		return err
	}
	return printJSON(positions)
}

func (a *app) cmdOrder(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("order", flag.ExitOnError)
	tf := newTradeFlags(fs, a)
	symbol := fs.String("symbol", "", "trading symbol")
	side := fs.String("side", "", "BUY or SELL")
	orderType := fs.String("type", "LIMIT", "LIMIT or MARKET")
	qty := fs.String("qty", "", "order quantity")
	price := fs.String("price", "", "limit price")
	tif := fs.String("tif", "", "time in force (GTC, IOC, FOK)")
	reduceOnly := fs.Bool("reduce-only", false, "reduce-only order")
	fs.Parse(args)

	account, seg, err := tf.resolve()
	if err != nil {
		return err
	}
	if *symbol == "" || *side == "" {
		return fmt.Errorf("order: -symbol and -side are required")
	}
	quantity, err := parseAmount("qty", *qty)
	if err != nil {
		return err
	}
	req := domain.OrderRequest{
		Symbol:      *symbol,
		Side:        strings.ToUpper(*side),
		Type:        strings.ToUpper(*orderType),
		Quantity:    quantity,
		TimeInForce: strings.ToUpper(*tif),
		ReduceOnly:  *reduceOnly,
	}
	if req.Type == "LIMIT" {
		req.Price, err = parseAmount("price", *price)
		if err != nil {
			return err
		}
	}
	order, err := a.dispatcher.PlaceOrder(ctx, account, seg, req)
	if err != nil {
		return err
	}
	return printJSON(order)
}

func (a *app) cmdCancel(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	tf := newTradeFlags(fs, a)
	symbol := fs.String("symbol", "", "trading symbol")
	orderID := fs.Int64("order-id", 0, "venue order ID")
	fs.Parse(args)

	account, seg, err := tf.resolve()
	if err != nil {
		return err
	}
	if *symbol == "" || *orderID == 0 {
		return fmt.Errorf("cancel: -symbol and -order-id are required")
	}
	order, err := a.dispatcher.CancelOrder(ctx, account, seg, *symbol, *orderID)
	if err != nil {
		return err
	}
	return printJSON(order)
}

func (a *app) cmdOpenOrders(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("open-orders", flag.ExitOnError)
	tf := newTradeFlags(fs, a)
	symbol := fs.String("symbol", "", "filter by symbol")
	fs.Parse(args)

	account, seg, err := tf.resolve()
	if err != nil {
		return err
	}
	orders, err := a.dispatcher.OpenOrders(ctx, account, seg, *symbol)
	if err != nil {
		return err
	}
	return printJSON(orders)
}

func (a *app) cmdClose(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("close", flag.ExitOnError)
	tf := newTradeFlags(fs, a)
	symbol := fs.String("symbol", "", "trading symbol")
	side := fs.String("side", "", "close only LONG or SHORT positions")
	fs.Parse(args)

	account, seg, err := tf.resolve()
	if err != nil {
		return err
	}
	if *symbol == "" {
		return fmt.Errorf("close: -symbol is required")
	}
	res, err := a.dispatcher.ClosePosition(ctx, account, seg, *symbol, strings.ToUpper(*side))
	if err != nil {
		return err
	}
	if err := printJSON(res); err != nil {
		return err
	}
	if len(res.Failed) > 0 {
		return fmt.Errorf("close: %d of %d positions failed", len(res.Failed), len(res.Failed)+len(res.Closed))
	}
	return nil
}

func (a *app) cmdTransfer(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("transfer", flag.ExitOnError)
	account := fs.String("account", a.cfg.DefaultAccount, "stored account name")
	asset := fs.String("asset", "", "asset to move")
	amount := fs.String("amount", "", "amount to move")
	from := fs.String("from", "", "source segment")
	to := fs.String("to", "", "destination segment")
	fs.Parse(args)

	if *account == "" || *asset == "" {
		return fmt.Errorf("transfer: -account and -asset are required")
	}
	amt, err := parseAmount("amount", *amount)
	if err != nil {
		return err
	}
	fromSeg, err := domain.ParseSegment(*from)
	if err != nil {
		return fmt.Errorf("transfer: -from: %w", err)
	}
	toSeg, err := domain.ParseSegment(*to)
	if err != nil {
		return fmt.Errorf("transfer: -to: %w", err)
	}

	res, err := a.dispatcher.Transfer(ctx, *account, strings.ToUpper(*asset), amt, fromSeg, toSeg)
	if err != nil {
		var partial *router.PartialTransferError
		if errors.As(err, &partial) {
			fmt.Printf("funds parked in %s wallet after %d completed step(s)\n",
				partial.Failed.From, len(partial.Completed))
		}
		return err
	}
	for _, step := range res.Steps {
		fmt.Printf("%s -> %s  %s  tranId=%d\n", step.Step.From, step.Step.To, step.Step.Type, step.TranID)
	}
	return nil
}

func (a *app) cmdHistory(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	tf := newTradeFlags(fs, a)
	symbol := fs.String("symbol", "", "trading symbol")
	limit := fs.Int("limit", 50, "number of orders")
	fs.Parse(args)

	account, seg, err := tf.resolve()
	if err != nil {
		return err
	}
	if *symbol == "" {
		return fmt.Errorf("history: -symbol is required")
	}
	orders, err := a.dispatcher.OrderHistory(ctx, account, seg, *symbol, *limit)
	if err != nil {
		return err
	}
	return printJSON(orders)
}

func (a *app) cmdTicker(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ticker", flag.ExitOnError)
	tf := newTradeFlags(fs, a)
	symbol := fs.String("symbol", "", "trading symbol")
	fs.Parse(args)

	account, seg, err := tf.resolve()
	if err != nil {
		return err
	}
	if *symbol == "" {
		return fmt.Errorf("ticker: -symbol is required")
	}
	tick, err := a.dispatcher.Ticker(ctx, account, seg, *symbol)
	if err != nil {
		return err
	}
	return printJSON(tick)
}

func (a *app) cmdDepth(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("depth", flag.ExitOnError)
	tf := newTradeFlags(fs, a)
	symbol := fs.String("symbol", "", "trading symbol")
	limit := fs.Int("limit", 20, "book levels per side")
	fs.Parse(args)

	account, seg, err := tf.resolve()
	if err != nil {
		return err
	}
	if *symbol == "" {
		return fmt.Errorf("depth: -symbol is required")
	}
	book, err := a.dispatcher.Depth(ctx, account, seg, *symbol, *limit)
	if err != nil {
		return err
	}
	return printJSON(book)
}

func (a *app) cmdKlines(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("klines", flag.ExitOnError)
	tf := newTradeFlags(fs, a)
	symbol := fs.String("symbol", "", "trading symbol")
	interval := fs.String("interval", "1m", "kline interval")
	limit := fs.Int("limit", 100, "number of klines")
	fs.Parse(args)

	account, seg, err := tf.resolve()
	if err != nil {
		return err
	}
	if *symbol == "" {
		return fmt.Errorf("klines: -symbol is required")
	}
	klines, err := a.dispatcher.Klines(ctx, account, seg, *symbol, *interval, *limit)
	if err != nil {
		return err
	}
	return printJSON(klines)
}

func (a *app) cmdFunding(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("funding", flag.ExitOnError)
	tf := newTradeFlags(fs, a)
	symbol := fs.String("symbol", "", "trading symbol")
	fs.Parse(args)

	account, seg, err := tf.resolve()
	if err != nil {
		return err
	}
	if *symbol == "" {
		return fmt.Errorf("funding: -symbol is required")
	}
	rate, err := a.dispatcher.FundingRate(ctx, account, seg, *symbol)
	if err != nil {
		return err
	}
	return printJSON(rate)
}

func (a *app) cmdLeverage(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("leverage", flag.ExitOnError)
	tf := newTradeFlags(fs, a)
	symbol := fs.String("symbol", "", "trading symbol")
	leverage := fs.Int("leverage", 0, "target leverage")
	fs.Parse(args)

	account, seg, err := tf.resolve()
	if err != nil {
		return err
	}
	if *symbol == "" || *leverage <= 0 {
		return fmt.Errorf("leverage: -symbol and a positive -leverage are required")
	}
	if err := a.dispatcher.SetLeverage(ctx, account, seg, *symbol, *leverage); err != nil {
		return err
	}
	fmt.Printf("leverage on %s set to %dx\n", *symbol, *leverage)
	return nil
}

func (a *app) cmdMarginMode(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("margin-mode", flag.ExitOnError)
	tf := newTradeFlags(fs, a)
	symbol := fs.String("symbol", "", "trading symbol")
	isolated := fs.Bool("isolated", false, "isolated instead of crossed")
	fs.Parse(args)

	account, seg, err := tf.resolve()
	if err != nil {
		return err
	}
	if *symbol == "" {
		return fmt.Errorf("margin-mode: -symbol is required")
	}
	if err := a.dispatcher.SetMarginType(ctx, account, seg, *symbol, *isolated); err != nil {
		return err
	}
	mode := "crossed"
	if *isolated {
		mode = "isolated"
	}
	fmt.Printf("margin mode on %s set to %s\n", *symbol, mode)
	return nil
}
