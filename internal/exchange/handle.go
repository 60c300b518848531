// Package exchange builds and caches venue clients for stored accounts and
// exposes the per-segment operations the router dispatches to. One Handle per
// account owns a spot, a USD-M, a COIN-M and a portfolio-margin client, all
// sharing the account's credentials.
package exchange

import (
	"context"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/delivery"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/sirupsen/logrus"

	"github.com/betbot/binance-vault/internal/domain"
	"github.com/betbot/binance-vault/internal/exchange/rest"
	"github.com/betbot/binance-vault/internal/vault"
	"github.com/betbot/binance-vault/pkg/ratelimit"
)

const (
	spotTestnetURL        = "https://testnet.binance.vision"
	futuresTestnetURL     = "https://testnet.binancefuture.com"
	deliveryTestnetURL    = "https://testnet.binancefuture.com"
	maxAcceptedClockDrift = 2 * time.Second
)

// Handle is the live client set for one account.
type Handle struct {
	account vault.Account
	codes   PartnerCodes

	// spotBypass sends unified accounts' plain spot orders to the spot
	// surface instead of the portfolio-margin margin surface.
	spotBypass bool

	spot     *binance.Client
	futures  *futures.Client
	delivery *delivery.Client
	pm       *rest.Client

	// limits is shared with pm so every surface of the account draws from
	// one budget.
	limits *ratelimit.Manager

	log *logrus.Entry
}

func newHandle(acct vault.Account, creds vault.Credentials, opts Options, log *logrus.Entry) *Handle {
	h := &Handle{
		account:    acct,
		codes:      opts.PartnerCodes,
		spotBypass: opts.SpotOrdersBypassUnified,
		spot:       binance.NewClient(creds.APIKey, creds.APISecret),
		futures:    binance.NewFuturesClient(creds.APIKey, creds.APISecret),
		delivery:   binance.NewDeliveryClient(creds.APIKey, creds.APISecret),
		pm:         rest.New(creds.APIKey, creds.APISecret, acct.Testnet),
		limits:     ratelimit.NewManager(),
		log:        log.WithField("account", acct.Name),
	}
	h.pm.SetLimits(h.limits)
	h.pm.SetRecvWindow(int64(opts.RecvWindowMS))
	if acct.Testnet {
		h.spot.BaseURL = spotTestnetURL
		h.futures.BaseURL = futuresTestnetURL
		h.delivery.BaseURL = deliveryTestnetURL
	}
	return h
}

// standardSurface maps a segment's go-binance traffic to its rate-limit
// bucket. Option traffic goes through pm, which gates itself.
func standardSurface(seg domain.Segment) string {
	switch seg {
	case domain.SegmentSpot, domain.SegmentMargin:
		return "spot"
	case domain.SegmentLinear, domain.SegmentSwap, domain.SegmentInverse:
		return "futures"
	}
	return ""
}

// gate blocks until the surface's request budget allows another call.
func (h *Handle) gate(ctx context.Context, seg domain.Segment) error {
	if s := standardSurface(seg); s != "" {
		return h.limits.Wait(ctx, s)
	}
	return nil
}

// gateOrder additionally draws from the shared order budget.
func (h *Handle) gateOrder(ctx context.Context, seg domain.Segment) error {
	if err := h.gate(ctx, seg); err != nil {
		return err
	}
	return h.limits.Wait(ctx, "order")
}

// Name returns the account name the handle was built for.
func (h *Handle) Name() string { return h.account.Name }

// Unified reports whether the account runs in portfolio-margin mode.
func (h *Handle) Unified() bool { return h.account.PortfolioMargin }

// Mode returns the account mode.
func (h *Handle) Mode() domain.AccountMode {
	return domain.ModeFor(h.account.PortfolioMargin)
}

// clientOrderID tags an order with the partner code for the segment.
func (h *Handle) clientOrderID(seg domain.Segment) string {
	return NewClientOrderID(h.codes.For(seg))
}

// SelfTestResult reports what the connectivity check observed. The public and
// private probes succeed or fail independently, neither aborts the other.
type SelfTestResult struct {
	ServerTime time.Time
	ClockDrift time.Duration
	Latency    time.Duration
	PublicErr  error // unauthenticated time fetch
	PrivateErr error // authenticated balance fetch

	// CodeMismatches lists partner codes drifting from the canonical
	// table. Advisory, never a failure.
	CodeMismatches []CodeMismatch
}

// OK reports whether both probes passed.
func (r *SelfTestResult) OK() bool {
	return r.PublicErr == nil && r.PrivateErr == nil
}

// SelfTest probes the venue: a public time fetch, then an authenticated
// balance fetch. Unified accounts are checked against the portfolio-margin
// surface, which also proves the account really is unified. Failures land in
// the result instead of aborting, so a partial outage still yields a report.
func (h *Handle) SelfTest(ctx context.Context) *SelfTestResult {
	res := &SelfTestResult{CodeMismatches: h.codes.Verify()}

	if err := h.gate(ctx, domain.SegmentSpot); err != nil {
		res.PublicErr = err
		res.PrivateErr = err
		return res
	}
	start := time.Now()
	serverMillis, err := h.spot.NewServerTimeService().Do(ctx)
	if err != nil {
		res.PublicErr = h.venueError(err, "server time")
	} else {
		res.ServerTime = time.UnixMilli(serverMillis)
		res.Latency = time.Since(start)
		res.ClockDrift = time.Since(res.ServerTime)
		if res.ClockDrift < 0 {
			res.ClockDrift = -res.ClockDrift
		}
		if res.ClockDrift > maxAcceptedClockDrift {
			h.log.Warnf("clock drift %s exceeds %s, signed requests may be rejected", res.ClockDrift, maxAcceptedClockDrift)
		}
	}

	if h.Unified() {
		if _, err := h.pm.PortfolioBalance(ctx); err != nil {
			res.PrivateErr = h.venueError(err, "portfolio balance")
		}
	} else {
		if err := h.gate(ctx, domain.SegmentSpot); err != nil {
			res.PrivateErr = err
		} else if _, err := h.spot.NewGetAccountService().Do(ctx); err != nil {
			res.PrivateErr = h.venueError(err, "spot account")
		}
	}
	return res
}

// PartnerCodes returns a copy of the handle's effective code table.
func (h *Handle) PartnerCodes() PartnerCodes {
	out := make(PartnerCodes, len(domain.Segments()))
	for _, seg := range domain.Segments() {
		out[seg] = h.codes.For(seg)
	}
	return out
}

// SupportedSegments lists the segments this layer routes, in a stable order.
func (h *Handle) SupportedSegments() []domain.Segment {
	return domain.Segments()
}

// VerifyPartnerCodes reports configured codes that drift from the canonical
// table. Advisory only.
func (h *Handle) VerifyPartnerCodes() []CodeMismatch {
	return h.codes.Verify()
}

// venueError logs a venue-side failure with account context and returns the
// error unchanged so callers can inspect the venue code.
func (h *Handle) venueError(err error, op string) error {
	h.log.WithField("op", op).Warnf("venue error: %v", err)
	return err
}
