package exchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/binance-vault/internal/domain"
	"github.com/betbot/binance-vault/internal/vault"
	"github.com/betbot/binance-vault/pkg/ratelimit"
)

func TestCleanSymbol(t *testing.T) {
	cases := map[string]string{
		"BTCUSDT":       "BTCUSDT",
		"btcusdt":       "BTCUSDT",
		"BTC/USDT":      "BTCUSDT",
		"BTC-USDT":      "BTCUSDT",
		"BTC_USDT":      "BTCUSDT",
		"BTC/USDT:USDT": "BTCUSDTUSDT",
	}
	for in, want := range cases {
		if got := cleanSymbol(in); got != want {
			t.Errorf("cleanSymbol(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPapiOrderParamsLimit(t *testing.T) {
	req := domain.OrderRequest{
		Symbol:     "eth/usdt",
		Side:       "buy",
		Type:       "limit",
		Quantity:   decimal.RequireFromString("1.5"),
		Price:      decimal.RequireFromString("2000"),
		ReduceOnly: true,
		Params:     map[string]string{"selfTradePreventionMode": "EXPIRE_MAKER"},
	}
	p := papiOrderParams(req, "x-eFC56vBf-abc")

	if p.Get("symbol") != "ETHUSDT" || p.Get("side") != "BUY" || p.Get("type") != "LIMIT" {
		t.Fatalf("base params wrong: %v", p)
	}
	if p.Get("quantity") != "1.5" || p.Get("price") != "2000" {
		t.Fatalf("amounts wrong: %v", p)
	}
	if p.Get("timeInForce") != "GTC" {
		t.Fatalf("limit order must default timeInForce to GTC, got %q", p.Get("timeInForce"))
	}
	if p.Get("reduceOnly") != "true" {
		t.Fatal("reduceOnly lost")
	}
	if p.Get("newClientOrderId") != "x-eFC56vBf-abc" {
		t.Fatal("client order id lost")
	}
	if p.Get("selfTradePreventionMode") != "EXPIRE_MAKER" {
		t.Fatal("extra params must pass through")
	}
}

func TestPapiOrderParamsMarket(t *testing.T) {
	req := domain.OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     "SELL",
		Type:     "MARKET",
		Quantity: decimal.RequireFromString("0.1"),
	}
	p := papiOrderParams(req, "id")

	if p.Has("price") || p.Has("timeInForce") {
		t.Fatalf("market order must not carry price or timeInForce: %v", p)
	}
}

func TestPapiDerivativeParamsPositionSide(t *testing.T) {
	buy := domain.OrderRequest{
		Symbol: "BTCUSDT", Side: "BUY", Type: "MARKET",
		Quantity:   decimal.RequireFromString("1"),
		ReduceOnly: true,
	}
	p := papiDerivativeParams(buy, "id")
	if p.Get("positionSide") != "LONG" {
		t.Fatalf("buy must default to LONG, got %q", p.Get("positionSide"))
	}
	if p.Has("reduceOnly") {
		t.Fatal("reduceOnly must be dropped in dual-side mode")
	}

	sell := buy
	sell.Side = "SELL"
	sell.ReduceOnly = false
	if got := papiDerivativeParams(sell, "id").Get("positionSide"); got != "SHORT" {
		t.Fatalf("sell must default to SHORT, got %q", got)
	}

	closing := sell
	closing.Params = map[string]string{"positionSide": "LONG"}
	if got := papiDerivativeParams(closing, "id").Get("positionSide"); got != "LONG" {
		t.Fatalf("explicit positionSide must win, got %q", got)
	}
}

// newLocalHandle builds a unified handle whose every surface points at srv.
func newLocalHandle(srv *httptest.Server, bypass bool) *Handle {
	acct := vault.Account{Name: "pm", PortfolioMargin: true}
	creds := vault.Credentials{APIKey: "k", APISecret: "s"}
	opts := DefaultOptions()
	opts.SpotOrdersBypassUnified = bypass
	h := newHandle(acct, creds, opts, logrus.NewEntry(logrus.New()))
	h.pm.SetHosts(srv.URL, srv.URL, srv.URL)
	h.spot.BaseURL = srv.URL
	return h
}

func TestUnifiedSpotOrderBypass(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"symbol":"BTCUSDT","orderId":7,"status":"NEW"}`))
	}))
	defer srv.Close()

	h := newLocalHandle(srv, true)
	req := domain.OrderRequest{
		Symbol: "BTCUSDT", Side: "BUY", Type: "MARKET",
		Quantity: decimal.RequireFromString("0.01"),
	}
	order, err := h.PlaceOrder(context.Background(), domain.SegmentSpot, req)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if !strings.HasPrefix(gotPath, "/api/") {
		t.Fatalf("bypass must hit the spot surface, got %s", gotPath)
	}
	if order.OrderID != 7 {
		t.Fatalf("order = %+v", order)
	}
}

func TestUnifiedSpotOrderWithoutBypass(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"symbol":"BTCUSDT","orderId":9,"status":"NEW"}`))
	}))
	defer srv.Close()

	h := newLocalHandle(srv, false)
	req := domain.OrderRequest{
		Symbol: "BTCUSDT", Side: "BUY", Type: "MARKET",
		Quantity: decimal.RequireFromString("0.01"),
	}
	order, err := h.PlaceOrder(context.Background(), domain.SegmentSpot, req)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if gotPath != "/papi/v1/margin/order" {
		t.Fatalf("without bypass the order must go to the margin surface, got %s", gotPath)
	}
	if order.OrderID != 9 {
		t.Fatalf("order = %+v", order)
	}
}

func TestUnifiedDerivativeOrderCarriesPositionSide(t *testing.T) {
	var gotSide string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSide = r.URL.Query().Get("positionSide")
		w.Write([]byte(`{"symbol":"BTCUSDT","orderId":11,"status":"NEW"}`))
	}))
	defer srv.Close()

	h := newLocalHandle(srv, true)
	req := domain.OrderRequest{
		Symbol: "BTCUSDT", Side: "SELL", Type: "MARKET",
		Quantity: decimal.RequireFromString("1"),
	}
	if _, err := h.PlaceOrder(context.Background(), domain.SegmentLinear, req); err != nil {
		t.Fatalf("place: %v", err)
	}
	if gotSide != "SHORT" {
		t.Fatalf("positionSide = %q, want SHORT", gotSide)
	}
}

func TestStandardOrderDrawsOrderBudget(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"symbol":"BTCUSDT","orderId":3,"status":"NEW"}`))
	}))
	defer srv.Close()

	acct := vault.Account{Name: "std"}
	creds := vault.Credentials{APIKey: "k", APISecret: "s"}
	h := newHandle(acct, creds, DefaultOptions(), logrus.NewEntry(logrus.New()))
	h.spot.BaseURL = srv.URL
	h.limits.Set("order", ratelimit.NewTokenBucket(1, 0, time.Hour))

	req := domain.OrderRequest{
		Symbol: "BTCUSDT", Side: "BUY", Type: "MARKET",
		Quantity: decimal.RequireFromString("0.01"),
	}
	if _, err := h.PlaceOrder(context.Background(), domain.SegmentSpot, req); err != nil {
		t.Fatalf("first order: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := h.PlaceOrder(ctx, domain.SegmentSpot, req); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("server got %d orders, want 1", calls)
	}
}

func TestMarketDataGatedBySurfaceBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not reach the venue with an empty budget")
	}))
	defer srv.Close()

	acct := vault.Account{Name: "std"}
	creds := vault.Credentials{APIKey: "k", APISecret: "s"}
	h := newHandle(acct, creds, DefaultOptions(), logrus.NewEntry(logrus.New()))
	h.spot.BaseURL = srv.URL
	h.limits.Set("spot", ratelimit.NewTokenBucket(0, 0, time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := h.Ticker(ctx, domain.SegmentSpot, "BTCUSDT"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
}
