package router

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/betbot/binance-vault/internal/domain"
)

// TransferStep is one wallet-to-wallet move of a transfer plan.
type TransferStep struct {
	Type string // venue transfer type, MAIN_MARGIN style
	From domain.Segment
	To   domain.Segment
	// Settle marks a step that must wait for the previous one to settle
	// before it is issued.
	Settle bool
}

// ExecutedStep is a completed step with the venue's transaction ID.
type ExecutedStep struct {
	Step   TransferStep
	TranID int64
}

// TransferResult lists the executed steps of a successful transfer.
type TransferResult struct {
	Steps []ExecutedStep
}

// walletSegment collapses segments onto the wallet that backs them: swaps
// settle in the USD-M wallet.
func walletSegment(seg domain.Segment) domain.Segment {
	if seg == domain.SegmentSwap {
		return domain.SegmentLinear
	}
	return seg
}

// directTransferTypes is the fixed pair-to-type table of single-call routes.
var directTransferTypes = map[[2]domain.Segment]string{
	{domain.SegmentSpot, domain.SegmentMargin}:   "MAIN_MARGIN",
	{domain.SegmentMargin, domain.SegmentSpot}:   "MARGIN_MAIN",
	{domain.SegmentSpot, domain.SegmentLinear}:   "MAIN_UMFUTURE",
	{domain.SegmentLinear, domain.SegmentSpot}:   "UMFUTURE_MAIN",
	{domain.SegmentSpot, domain.SegmentInverse}:  "MAIN_CMFUTURE",
	{domain.SegmentInverse, domain.SegmentSpot}:  "CMFUTURE_MAIN",
	{domain.SegmentMargin, domain.SegmentLinear}: "MARGIN_UMFUTURE",
	{domain.SegmentLinear, domain.SegmentMargin}: "UMFUTURE_MARGIN",
}

// PlanTransfer computes the step list moving funds between two segments.
//
// Standard accounts have a direct route for every supported pair. Unified
// accounts have no direct spot-to-futures path: collateral lives in the
// cross-margin pool, so spot to futures is a single move into margin (already
// usable as collateral there), and futures to spot routes through margin in
// two steps with a settle pause between them.
func PlanTransfer(mode domain.AccountMode, from, to domain.Segment) ([]TransferStep, error) {
	from, to = walletSegment(from), walletSegment(to)
	if from == to {
		return nil, &UnsupportedTransferError{From: from, To: to}
	}

	if mode == domain.ModeUnified {
		switch {
		case from == domain.SegmentSpot && to == domain.SegmentLinear:
			return []TransferStep{
				{Type: "MAIN_MARGIN", From: domain.SegmentSpot, To: domain.SegmentMargin},
			}, nil
		case from == domain.SegmentLinear && to == domain.SegmentSpot:
			return []TransferStep{
				{Type: "UMFUTURE_MARGIN", From: domain.SegmentLinear, To: domain.SegmentMargin},
				{Type: "MARGIN_MAIN", From: domain.SegmentMargin, To: domain.SegmentSpot, Settle: true},
			}, nil
		case from == domain.SegmentSpot && to == domain.SegmentMargin:
			return []TransferStep{
				{Type: "MAIN_MARGIN", From: domain.SegmentSpot, To: domain.SegmentMargin},
			}, nil
		case from == domain.SegmentMargin && to == domain.SegmentSpot:
			return []TransferStep{
				{Type: "MARGIN_MAIN", From: domain.SegmentMargin, To: domain.SegmentSpot},
			}, nil
		case from == domain.SegmentMargin && to == domain.SegmentLinear:
			return []TransferStep{
				{Type: "MARGIN_UMFUTURE", From: domain.SegmentMargin, To: domain.SegmentLinear},
			}, nil
		case from == domain.SegmentLinear && to == domain.SegmentMargin:
			return []TransferStep{
				{Type: "UMFUTURE_MARGIN", From: domain.SegmentLinear, To: domain.SegmentMargin},
			}, nil
		}
		return nil, &UnsupportedTransferError{From: from, To: to}
	}

	if t, ok := directTransferTypes[[2]domain.Segment{from, to}]; ok {
		return []TransferStep{{Type: t, From: from, To: to}}, nil
	}
	return nil, &UnsupportedTransferError{From: from, To: to}
}

// Transfer plans and executes a fund move on one account. A failure on the
// first step propagates as-is; a failure after funds already moved comes back
// as *PartialTransferError naming the completed steps.
func (d *Dispatcher) Transfer(ctx context.Context, account, asset string, amount decimal.Decimal, from, to domain.Segment) (*TransferResult, error) {
	ex, err := d.src.Handle(account)
	if err != nil {
		return nil, err
	}
	plan, err := PlanTransfer(modeOf(ex), from, to)
	if err != nil {
		return nil, err
	}

	log := d.log.WithField("account", account).WithField("asset", asset)
	res := &TransferResult{}
	for _, step := range plan {
		if step.Settle {
			if err := d.sleep(ctx, d.settleDelay); err != nil {
				return nil, &PartialTransferError{Completed: res.Steps, Failed: step, Cause: err}
			}
		}
		id, err := ex.Transfer(ctx, step.Type, asset, amount)
		if err != nil {
			if len(res.Steps) > 0 {
				log.Errorf("transfer %s failed mid-plan: %v", step.Type, err)
				return nil, &PartialTransferError{Completed: res.Steps, Failed: step, Cause: err}
			}
			return nil, err
		}
		res.Steps = append(res.Steps, ExecutedStep{Step: step, TranID: id})
	}
	log.Infof("moved %s %s from %s to %s in %d step(s)", amount, asset, from, to, len(res.Steps))
	return res, nil
}

func modeOf(ex Exchange) domain.AccountMode {
	return domain.ModeFor(ex.Unified())
}
