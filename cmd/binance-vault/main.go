package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/betbot/binance-vault/internal/domain"
	"github.com/betbot/binance-vault/internal/exchange"
	"github.com/betbot/binance-vault/internal/router"
	"github.com/betbot/binance-vault/internal/vault"
	"github.com/betbot/binance-vault/pkg/config"
	"github.com/betbot/binance-vault/pkg/logger"
	"github.com/betbot/binance-vault/pkg/secretstore"
)

const keyFileName = "master.key"

func usage() {
	fmt.Fprintf(os.Stderr, `usage: binance-vault [-config file] <command> [flags]

account commands:
  add        store a new account
  list       list stored accounts
  show       show one account record
  update     change fields of an account
  remove     delete an account
  validate   check that stored credentials decrypt
  test       run a connectivity self test against the venue

trading commands:
  balance      show balances on one segment
  positions    show open positions
  order        place an order
  cancel       cancel an order
  open-orders  list open orders
  history      list past orders of a symbol
  close        close a position with a market order
  transfer     move funds between segments

market commands:
  ticker, depth, klines, funding

account settings:
  leverage, margin-mode

Run "binance-vault <command> -h" for command flags.
`)
}

// app wires the vault, the client factory and the dispatcher together.
type app struct {
	cfg        *config.Config
	registry   *vault.Registry
	dispatcher *router.Dispatcher
}

func newApp(cfg *config.Config) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	store, err := secretstore.Open(filepath.Join(cfg.DataDir, keyFileName))
	if err != nil {
		return nil, err
	}
	registry, err := vault.Open(cfg.DataDir, store)
	if err != nil {
		return nil, err
	}

	opts := exchange.DefaultOptions()
	opts.SpotOrdersBypassUnified = cfg.SpotBypass
	opts.RecvWindowMS = cfg.RecvWindowMS
	for name, code := range cfg.PartnerCodes {
		seg, err := domain.ParseSegment(name)
		if err != nil {
			return nil, fmt.Errorf("partner code override: %w", err)
		}
		opts.PartnerCodes[seg] = code
	}

	factory := exchange.NewFactory(registry, opts, logger.WithField("component", "exchange"))
	dispatcher := router.New(factory, logger.WithField("component", "router"))
	dispatcher.SetSettleDelay(time.Duration(cfg.SettleDelayMS) * time.Millisecond)

	return &app{cfg: cfg, registry: registry, dispatcher: dispatcher}, nil
}

func main() {
	// a missing .env is fine
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("BINANCE_VAULT_CONFIG"), "config file (yaml or json)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		fatal(err)
	}
	if err := logger.Init(logger.Config{Level: cfg.LogLevel, OutputFile: cfg.LogFile}); err != nil {
		fatal(err)
	}

	a, err := newApp(cfg)
	if err != nil {
		fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := a.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		fatal(err)
	}
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "add":
		return a.cmdAdd(args)
	case "list":
		return a.cmdList(args)
	case "show":
		return a.cmdShow(args)
	case "update":
		return a.cmdUpdate(args)
	case "remove":
		return a.cmdRemove(args)
	case "validate":
		return a.cmdValidate(args)
	case "test":
		return a.cmdSelfTest(ctx, args)
	case "balance":
		return a.cmdBalance(ctx, args)
	case "positions":
		return a.cmdPositions(ctx, args)
	case "order":
		return a.cmdOrder(ctx, args)
	case "cancel":
		return a.cmdCancel(ctx, args)
	case "open-orders":
		return a.cmdOpenOrders(ctx, args)
	case "history":
		return a.cmdHistory(ctx, args)
	case "close":
		return a.cmdClose(ctx, args)
	case "transfer":
		return a.cmdTransfer(ctx, args)
	case "ticker":
		return a.cmdTicker(ctx, args)
	case "depth":
		return a.cmdDepth(ctx, args)
	case "klines":
		return a.cmdKlines(ctx, args)
	case "funding":
		return a.cmdFunding(ctx, args)
	case "leverage":
		return a.cmdLeverage(ctx, args)
	case "margin-mode":
		return a.cmdMarginMode(ctx, args)
	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "binance-vault: %v\n", err)
	os.Exit(1)
}
