package rest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2/common"

	"github.com/betbot/binance-vault/pkg/ratelimit"
)

// verifySignature recomputes the HMAC over everything before &signature= and
// compares. Returns false on malformed queries.
func verifySignature(secret, rawQuery string) bool {
	idx := strings.LastIndex(rawQuery, "&signature=")
	if idx < 0 {
		return false
	}
	payload, sig := rawQuery[:idx], rawQuery[idx+len("&signature="):]
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil)) == sig
}

func TestSignedRequest(t *testing.T) {
	const secret = "test-secret"
	var gotPath, gotKey string
	var sigOK bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-MBX-APIKEY")
		sigOK = verifySignature(secret, r.URL.RawQuery)
		q := r.URL.Query()
		if q.Get("timestamp") == "" || q.Get("recvWindow") == "" {
			t.Errorf("timestamp/recvWindow missing: %s", r.URL.RawQuery)
		}
		w.Write([]byte(`[{"asset":"USDT","totalWalletBalance":"100.5","crossMarginFree":"40.5","umWalletBalance":"60","cmWalletBalance":"0"}]`))
	}))
	defer srv.Close()

	c := New("test-key", secret, false)
	c.SetHosts(srv.URL, srv.URL, srv.URL)

	assets, err := c.PortfolioBalance(context.Background())
	if err != nil {
		t.Fatalf("portfolio balance: %v", err)
	}
	if gotPath != "/papi/v1/balance" {
		t.Fatalf("path = %s", gotPath)
	}
	if gotKey != "test-key" {
		t.Fatalf("api key header = %s", gotKey)
	}
	if !sigOK {
		t.Fatal("signature did not verify")
	}
	if len(assets) != 1 || assets[0].Asset != "USDT" || assets[0].TotalWalletBalance != "100.5" {
		t.Fatalf("decoded assets wrong: %+v", assets)
	}
}

func TestOrderParamsForwarded(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		got = r.URL.Query()
		w.Write([]byte(`{"symbol":"BTCUSDT","orderId":42,"status":"NEW","side":"BUY","origQty":"0.5"}`))
	}))
	defer srv.Close()

	c := New("k", "s", false)
	c.SetHosts(srv.URL, srv.URL, srv.URL)

	params := url.Values{}
	params.Set("symbol", "BTCUSDT")
	params.Set("side", "BUY")
	params.Set("type", "MARKET")
	params.Set("quantity", "0.5")
	order, err := c.PlaceUMOrder(context.Background(), params)
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if got.Get("symbol") != "BTCUSDT" || got.Get("quantity") != "0.5" {
		t.Fatalf("params not forwarded: %v", got)
	}
	if order.OrderID != 42 || order.Status != "NEW" {
		t.Fatalf("order decoded wrong: %+v", order)
	}
}

func TestAPIErrorPassThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-2010,"msg":"Account has insufficient balance for requested action."}`))
	}))
	defer srv.Close()

	c := New("k", "s", false)
	c.SetHosts(srv.URL, srv.URL, srv.URL)

	_, err := c.UniversalTransfer(context.Background(), "MAIN_MARGIN", "USDT", "10")
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("want APIError, got %v", err)
	}
	if apiErr.Code != -2010 || !strings.Contains(apiErr.Message, "insufficient balance") {
		t.Fatalf("api error fields wrong: %+v", apiErr)
	}
}

func TestNonJSONErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("blocked"))
	}))
	defer srv.Close()

	c := New("k", "s", false)
	c.SetHosts(srv.URL, srv.URL, srv.URL)

	_, err := c.OptionAccount(context.Background())
	if err == nil {
		t.Fatal("want error")
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		t.Fatalf("plain body must not decode to APIError: %v", err)
	}
	if !strings.Contains(err.Error(), "403") {
		t.Fatalf("status code missing from error: %v", err)
	}
}

func TestNoInternalRetries(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"code":-1000,"msg":"An unknown error occurred while processing the request."}`))
	}))
	defer srv.Close()

	c := New("k", "s", false)
	c.SetHosts(srv.URL, srv.URL, srv.URL)

	// a 5xx on a transfer does not prove it failed, it must never be re-sent
	if _, err := c.UniversalTransfer(context.Background(), "MAIN_MARGIN", "USDT", "10"); err == nil {
		t.Fatal("want error")
	}
	if calls != 1 {
		t.Fatalf("transfer POST sent %d times, want 1", calls)
	}
}

func TestRecvWindowOverride(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query().Get("recvWindow")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := New("k", "s", false)
	c.SetRecvWindow(10000)
	c.SetHosts(srv.URL, srv.URL, srv.URL)

	if _, err := c.PortfolioBalance(context.Background()); err != nil {
		t.Fatalf("portfolio balance: %v", err)
	}
	if got != "10000" {
		t.Fatalf("recvWindow = %q, want 10000", got)
	}
}

func TestOrderBudgetGatesPlacement(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"symbol":"BTCUSDT","orderId":1,"status":"NEW"}`))
	}))
	defer srv.Close()

	c := New("k", "s", false)
	c.SetHosts(srv.URL, srv.URL, srv.URL)
	m := ratelimit.NewManager()
	m.Set("order", ratelimit.NewTokenBucket(1, 0, time.Hour))
	c.SetLimits(m)

	params := url.Values{}
	params.Set("symbol", "BTCUSDT")
	if _, err := c.PlaceUMOrder(context.Background(), params); err != nil {
		t.Fatalf("first order: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.PlaceUMOrder(ctx, params); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("server got %d orders, want 1", calls)
	}
}

func TestUniversalTransferResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("type") != "UMFUTURE_MAIN" || q.Get("asset") != "USDT" || q.Get("amount") != "25.5" {
			t.Errorf("transfer params wrong: %v", q)
		}
		w.Write([]byte(`{"tranId":13526853623}`))
	}))
	defer srv.Close()

	c := New("k", "s", false)
	c.SetHosts(srv.URL, srv.URL, srv.URL)

	id, err := c.UniversalTransfer(context.Background(), "UMFUTURE_MAIN", "USDT", "25.5")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if id != 13526853623 {
		t.Fatalf("tranId = %d", id)
	}
}
