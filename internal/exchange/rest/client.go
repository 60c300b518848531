// Package rest is a thin signed client for the Binance endpoints the SDK
// does not cover: the portfolio-margin surface (papi), the options surface
// (eapi) and universal asset transfers (sapi). Everything else goes through
// go-binance.
package rest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/betbot/binance-vault/pkg/ratelimit"
)

const (
	spotHost = "https://api.binance.com"
	papiHost = "https://papi.binance.com"
	eapiHost = "https://eapi.binance.com"

	spotTestnetHost = "https://testnet.binance.vision"
	papiTestnetHost = "https://testnet.binancefuture.com"

	defaultRecvWindow = 5000
)

// Client signs requests with the account's HMAC secret. One client per
// account.
type Client struct {
	apiKey string
	secret []byte

	spotHost string
	papiHost string
	eapiHost string

	http       *resty.Client
	limits     *ratelimit.Manager
	recvWindow int64
	now        func() time.Time
}

func New(apiKey, apiSecret string, testnet bool) *Client {
	c := &Client{
		apiKey:     apiKey,
		secret:     []byte(apiSecret),
		spotHost:   spotHost,
		papiHost:   papiHost,
		eapiHost:   eapiHost,
		limits:     ratelimit.NewManager(),
		recvWindow: defaultRecvWindow,
		now:        time.Now,
	}
	if testnet {
		c.spotHost = spotTestnetHost
		c.papiHost = papiTestnetHost
		// options has no public testnet, calls will fail fast there
	}
	// No retries. A 5xx on an order or a transfer does not prove the action
	// failed, re-sending could double it. Every failure goes to the caller.
	c.http = resty.New().SetTimeout(30 * time.Second)
	return c
}

// SetLimits replaces the rate-limit manager, letting several clients of one
// account share their budgets.
func (c *Client) SetLimits(m *ratelimit.Manager) {
	if m != nil {
		c.limits = m
	}
}

// SetRecvWindow overrides the signed-request validity window in milliseconds.
func (c *Client) SetRecvWindow(ms int64) {
	if ms > 0 {
		c.recvWindow = ms
	}
}

// SetHosts overrides the endpoint hosts, used by tests.
func (c *Client) SetHosts(spot, papi, eapi string) {
	c.spotHost = spot
	c.papiHost = papi
	c.eapiHost = eapi
}

// sign appends timestamp, recvWindow and the HMAC-SHA256 signature over the
// encoded query. The returned string is sent verbatim so the signature always
// matches what the server sees.
func (c *Client) sign(params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.recvWindow, 10))
	qs := params.Encode()
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(qs))
	return qs + "&signature=" + hex.EncodeToString(mac.Sum(nil))
}

// surface maps a host to its rate-limit bucket.
func (c *Client) surface(host string) string {
	switch host {
	case c.papiHost:
		return "papi"
	case c.eapiHost:
		return "eapi"
	default:
		return "spot"
	}
}

func (c *Client) signed(ctx context.Context, method, host, path string, params url.Values, out any) error {
	if err := c.limits.Wait(ctx, c.surface(host)); err != nil {
		return err
	}
	req := c.http.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetQueryString(c.sign(params))

	var (
		resp *resty.Response
		err  error
	)
	u := host + path
	switch method {
	case http.MethodGet:
		resp, err = req.Get(u)
	case http.MethodPost:
		resp, err = req.Post(u)
	case http.MethodDelete:
		resp, err = req.Delete(u)
	default:
		return fmt.Errorf("unsupported method %s", method)
	}
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	if !resp.IsSuccess() {
		return decodeAPIError(resp)
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return errors.Wrapf(err, "decode %s response", path)
		}
	}
	return nil
}

// decodeAPIError maps a non-2xx body into the same error type go-binance
// returns, so callers handle both transports uniformly.
func decodeAPIError(resp *resty.Response) error {
	apiErr := &common.APIError{}
	if err := json.Unmarshal(resp.Body(), apiErr); err != nil || apiErr.Code == 0 {
		return errors.Errorf("http %d: %s", resp.StatusCode(), resp.Body())
	}
	return apiErr
}

// PortfolioBalance returns the unified account's per-asset balances.
func (c *Client) PortfolioBalance(ctx context.Context) ([]PortfolioAsset, error) {
	var out []PortfolioAsset
	if err := c.signed(ctx, http.MethodGet, c.papiHost, "/papi/v1/balance", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UMPositionRisk returns USD-M positions of a unified account. Symbol may be
// empty for all symbols.
func (c *Client) UMPositionRisk(ctx context.Context, symbol string) ([]PortfolioPosition, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	var out []PortfolioPosition
	if err := c.signed(ctx, http.MethodGet, c.papiHost, "/papi/v1/um/positionRisk", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CMPositionRisk returns COIN-M positions of a unified account.
func (c *Client) CMPositionRisk(ctx context.Context, symbol string) ([]PortfolioPosition, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	var out []PortfolioPosition
	if err := c.signed(ctx, http.MethodGet, c.papiHost, "/papi/v1/cm/positionRisk", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// placeOrder draws from the shared order budget before sending. Cancels and
// queries only count against the surface weight, placements also burn this.
func (c *Client) placeOrder(ctx context.Context, host, path string, params url.Values, out any) error {
	if err := c.limits.Wait(ctx, "order"); err != nil {
		return err
	}
	return c.signed(ctx, http.MethodPost, host, path, params, out)
}

// PlaceUMOrder places a USD-M order on the unified account. Params are the
// venue's own names (symbol, side, type, quantity, ...).
func (c *Client) PlaceUMOrder(ctx context.Context, params url.Values) (*UMOrder, error) {
	var out UMOrder
	if err := c.placeOrder(ctx, c.papiHost, "/papi/v1/um/order", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelUMOrder cancels a USD-M order on the unified account.
func (c *Client) CancelUMOrder(ctx context.Context, symbol string, orderID int64) (*UMOrder, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))
	var out UMOrder
	if err := c.signed(ctx, http.MethodDelete, c.papiHost, "/papi/v1/um/order", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OpenUMOrders lists open USD-M orders on the unified account.
func (c *Client) OpenUMOrders(ctx context.Context, symbol string) ([]UMOrder, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	var out []UMOrder
	if err := c.signed(ctx, http.MethodGet, c.papiHost, "/papi/v1/um/openOrders", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PlaceCMOrder places a COIN-M order on the unified account.
func (c *Client) PlaceCMOrder(ctx context.Context, params url.Values) (*UMOrder, error) {
	var out UMOrder
	if err := c.placeOrder(ctx, c.papiHost, "/papi/v1/cm/order", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelCMOrder cancels a COIN-M order on the unified account.
func (c *Client) CancelCMOrder(ctx context.Context, symbol string, orderID int64) (*UMOrder, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))
	var out UMOrder
	if err := c.signed(ctx, http.MethodDelete, c.papiHost, "/papi/v1/cm/order", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OpenCMOrders lists open COIN-M orders on the unified account.
func (c *Client) OpenCMOrders(ctx context.Context, symbol string) ([]UMOrder, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	var out []UMOrder
	if err := c.signed(ctx, http.MethodGet, c.papiHost, "/papi/v1/cm/openOrders", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PlaceMarginOrder places a margin order through the unified account's
// margin surface.
func (c *Client) PlaceMarginOrder(ctx context.Context, params url.Values) (*UMOrder, error) {
	var out UMOrder
	if err := c.placeOrder(ctx, c.papiHost, "/papi/v1/margin/order", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelMarginOrder cancels a margin order on the unified account.
func (c *Client) CancelMarginOrder(ctx context.Context, symbol string, orderID int64) (*UMOrder, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))
	var out UMOrder
	if err := c.signed(ctx, http.MethodDelete, c.papiHost, "/papi/v1/margin/order", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OpenMarginOrders lists open margin orders on the unified account.
func (c *Client) OpenMarginOrders(ctx context.Context, symbol string) ([]UMOrder, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	var out []UMOrder
	if err := c.signed(ctx, http.MethodGet, c.papiHost, "/papi/v1/margin/openOrders", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UMOrderHistory lists past USD-M orders of a symbol on the unified account.
func (c *Client) UMOrderHistory(ctx context.Context, symbol string, limit int) ([]UMOrder, error) {
	return c.orderHistory(ctx, "/papi/v1/um/allOrders", symbol, limit)
}

// CMOrderHistory lists past COIN-M orders of a symbol on the unified account.
func (c *Client) CMOrderHistory(ctx context.Context, symbol string, limit int) ([]UMOrder, error) {
	return c.orderHistory(ctx, "/papi/v1/cm/allOrders", symbol, limit)
}

// MarginOrderHistory lists past margin orders of a symbol on the unified
// account.
func (c *Client) MarginOrderHistory(ctx context.Context, symbol string, limit int) ([]UMOrder, error) {
	return c.orderHistory(ctx, "/papi/v1/margin/allOrders", symbol, limit)
}

func (c *Client) orderHistory(ctx context.Context, path, symbol string, limit int) ([]UMOrder, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var out []UMOrder
	if err := c.signed(ctx, http.MethodGet, c.papiHost, path, params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UniversalTransfer moves funds between wallets of the same account.
// transferType is one of the venue's MAIN_MARGIN style constants.
func (c *Client) UniversalTransfer(ctx context.Context, transferType, asset, amount string) (int64, error) {
	params := url.Values{}
	params.Set("type", transferType)
	params.Set("asset", asset)
	params.Set("amount", amount)
	var out struct {
		TranID int64 `json:"tranId"`
	}
	if err := c.signed(ctx, http.MethodPost, c.spotHost, "/sapi/v1/asset/transfer", params, &out); err != nil {
		return 0, err
	}
	return out.TranID, nil
}

// OptionAccount returns the options account snapshot.
func (c *Client) OptionAccount(ctx context.Context) (*OptionAccount, error) {
	var out OptionAccount
	if err := c.signed(ctx, http.MethodGet, c.eapiHost, "/eapi/v1/account", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PlaceOptionOrder places an options order.
func (c *Client) PlaceOptionOrder(ctx context.Context, params url.Values) (*OptionOrder, error) {
	var out OptionOrder
	if err := c.placeOrder(ctx, c.eapiHost, "/eapi/v1/order", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelOptionOrder cancels an options order.
func (c *Client) CancelOptionOrder(ctx context.Context, symbol string, orderID int64) (*OptionOrder, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))
	var out OptionOrder
	if err := c.signed(ctx, http.MethodDelete, c.eapiHost, "/eapi/v1/order", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OpenOptionOrders lists open options orders.
func (c *Client) OpenOptionOrders(ctx context.Context, symbol string) ([]OptionOrder, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	var out []OptionOrder
	if err := c.signed(ctx, http.MethodGet, c.eapiHost, "/eapi/v1/openOrders", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// OptionOrderHistory lists past options orders of a symbol.
func (c *Client) OptionOrderHistory(ctx context.Context, symbol string, limit int) ([]OptionOrder, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var out []OptionOrder
	if err := c.signed(ctx, http.MethodGet, c.eapiHost, "/eapi/v1/historyOrders", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}
