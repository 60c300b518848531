package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/binance-vault/internal/domain"
)

func planTypes(steps []TransferStep) []string {
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		out = append(out, s.Type)
	}
	return out
}

func TestPlanTransferStandard(t *testing.T) {
	cases := []struct {
		from, to domain.Segment
		want     string
	}{
		{domain.SegmentSpot, domain.SegmentMargin, "MAIN_MARGIN"},
		{domain.SegmentMargin, domain.SegmentSpot, "MARGIN_MAIN"},
		{domain.SegmentSpot, domain.SegmentLinear, "MAIN_UMFUTURE"},
		{domain.SegmentLinear, domain.SegmentSpot, "UMFUTURE_MAIN"},
		{domain.SegmentSpot, domain.SegmentInverse, "MAIN_CMFUTURE"},
		{domain.SegmentInverse, domain.SegmentSpot, "CMFUTURE_MAIN"},
		{domain.SegmentMargin, domain.SegmentLinear, "MARGIN_UMFUTURE"},
		{domain.SegmentLinear, domain.SegmentMargin, "UMFUTURE_MARGIN"},
		// swaps settle in the USD-M wallet
		{domain.SegmentSpot, domain.SegmentSwap, "MAIN_UMFUTURE"},
		{domain.SegmentSwap, domain.SegmentSpot, "UMFUTURE_MAIN"},
	}
	for _, tc := range cases {
		plan, err := PlanTransfer(domain.ModeStandard, tc.from, tc.to)
		if err != nil {
			t.Fatalf("%s->%s: %v", tc.from, tc.to, err)
		}
		if len(plan) != 1 || plan[0].Type != tc.want {
			t.Fatalf("%s->%s: plan %v, want single %s", tc.from, tc.to, planTypes(plan), tc.want)
		}
		if plan[0].Settle {
			t.Fatalf("%s->%s: single step must not settle-wait", tc.from, tc.to)
		}
	}
}

func TestPlanTransferStandardUnsupported(t *testing.T) {
	pairs := [][2]domain.Segment{
		{domain.SegmentMargin, domain.SegmentInverse},
		{domain.SegmentLinear, domain.SegmentInverse},
		{domain.SegmentSpot, domain.SegmentOption},
		{domain.SegmentSpot, domain.SegmentSpot},
		{domain.SegmentLinear, domain.SegmentSwap}, // same wallet
	}
	for _, p := range pairs {
		_, err := PlanTransfer(domain.ModeStandard, p[0], p[1])
		var un *UnsupportedTransferError
		if !errors.As(err, &un) {
			t.Fatalf("%s->%s: want UnsupportedTransferError, got %v", p[0], p[1], err)
		}
	}
}

func TestPlanTransferUnifiedSpotToFuture(t *testing.T) {
	plan, err := PlanTransfer(domain.ModeUnified, domain.SegmentSpot, domain.SegmentLinear)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	// margin collateral is immediately usable for derivatives, one step
	if len(plan) != 1 || plan[0].Type != "MAIN_MARGIN" {
		t.Fatalf("plan = %v, want single MAIN_MARGIN", planTypes(plan))
	}
}

func TestPlanTransferUnifiedFutureToSpot(t *testing.T) {
	plan, err := PlanTransfer(domain.ModeUnified, domain.SegmentLinear, domain.SegmentSpot)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan) != 2 {
		t.Fatalf("want two steps, got %v", planTypes(plan))
	}
	if plan[0].Type != "UMFUTURE_MARGIN" || plan[1].Type != "MARGIN_MAIN" {
		t.Fatalf("step order wrong: %v", planTypes(plan))
	}
	if plan[0].Settle || !plan[1].Settle {
		t.Fatalf("second step must wait for settlement: %+v", plan)
	}
}

func TestPlanTransferUnifiedDeclaredPairs(t *testing.T) {
	cases := []struct {
		from, to domain.Segment
		want     string
	}{
		{domain.SegmentSpot, domain.SegmentMargin, "MAIN_MARGIN"},
		{domain.SegmentMargin, domain.SegmentSpot, "MARGIN_MAIN"},
		{domain.SegmentMargin, domain.SegmentLinear, "MARGIN_UMFUTURE"},
		{domain.SegmentLinear, domain.SegmentMargin, "UMFUTURE_MARGIN"},
	}
	for _, tc := range cases {
		plan, err := PlanTransfer(domain.ModeUnified, tc.from, tc.to)
		if err != nil || len(plan) != 1 || plan[0].Type != tc.want {
			t.Fatalf("%s->%s: plan %v err %v, want single %s", tc.from, tc.to, planTypes(plan), err, tc.want)
		}
	}
}

func TestPlanTransferUnifiedUnsupported(t *testing.T) {
	pairs := [][2]domain.Segment{
		{domain.SegmentSpot, domain.SegmentInverse},
		{domain.SegmentInverse, domain.SegmentSpot},
		{domain.SegmentOption, domain.SegmentSpot},
	}
	for _, p := range pairs {
		_, err := PlanTransfer(domain.ModeUnified, p[0], p[1])
		var un *UnsupportedTransferError
		if !errors.As(err, &un) {
			t.Fatalf("%s->%s: want UnsupportedTransferError, got %v", p[0], p[1], err)
		}
		if un.From != p[0] || un.To != p[1] {
			t.Fatalf("error must name the pair: %+v", un)
		}
	}
}

func TestTransferExecutesTwoStepsInOrder(t *testing.T) {
	ex := &fakeExchange{name: "pm", unified: true}
	d, _ := newTestDispatcher(map[string]*fakeExchange{"pm": ex})

	var slept int
	d.sleep = func(ctx context.Context, _ time.Duration) error { slept++; return nil }

	res, err := d.Transfer(context.Background(), "pm", "USDT", decimal.RequireFromString("100"), domain.SegmentLinear, domain.SegmentSpot)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if len(ex.transfers) != 2 || ex.transfers[0] != "UMFUTURE_MARGIN" || ex.transfers[1] != "MARGIN_MAIN" {
		t.Fatalf("calls wrong: %v", ex.transfers)
	}
	if slept != 1 {
		t.Fatalf("settle pause count = %d, want 1", slept)
	}
	if len(res.Steps) != 2 || res.Steps[0].TranID == 0 || res.Steps[1].TranID == 0 {
		t.Fatalf("result steps wrong: %+v", res.Steps)
	}
}

func TestTransferSingleStep(t *testing.T) {
	ex := &fakeExchange{name: "pm", unified: true}
	d, _ := newTestDispatcher(map[string]*fakeExchange{"pm": ex})

	res, err := d.Transfer(context.Background(), "pm", "USDT", decimal.RequireFromString("50"), domain.SegmentSpot, domain.SegmentLinear)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if len(ex.transfers) != 1 || ex.transfers[0] != "MAIN_MARGIN" {
		t.Fatalf("calls wrong: %v", ex.transfers)
	}
	if len(res.Steps) != 1 {
		t.Fatalf("result wrong: %+v", res)
	}
}

func TestTransferFirstStepFailurePropagates(t *testing.T) {
	boom := errors.New("insufficient balance")
	ex := &fakeExchange{
		name:     "pm",
		unified:  true,
		tranErrs: map[string]error{"UMFUTURE_MARGIN": boom},
	}
	d, _ := newTestDispatcher(map[string]*fakeExchange{"pm": ex})

	_, err := d.Transfer(context.Background(), "pm", "USDT", decimal.RequireFromString("10"), domain.SegmentLinear, domain.SegmentSpot)
	if !errors.Is(err, boom) {
		t.Fatalf("first-step failure must propagate as-is, got %v", err)
	}
	var partial *PartialTransferError
	if errors.As(err, &partial) {
		t.Fatal("nothing moved, must not be a partial failure")
	}
	if len(ex.transfers) != 0 {
		t.Fatalf("second step must not run: %v", ex.transfers)
	}
}

func TestTransferSecondStepFailureIsPartial(t *testing.T) {
	boom := errors.New("system busy")
	ex := &fakeExchange{
		name:     "pm",
		unified:  true,
		tranErrs: map[string]error{"MARGIN_MAIN": boom},
	}
	d, _ := newTestDispatcher(map[string]*fakeExchange{"pm": ex})

	_, err := d.Transfer(context.Background(), "pm", "USDT", decimal.RequireFromString("10"), domain.SegmentLinear, domain.SegmentSpot)
	var partial *PartialTransferError
	if !errors.As(err, &partial) {
		t.Fatalf("want PartialTransferError, got %v", err)
	}
	if len(partial.Completed) != 1 || partial.Completed[0].Step.Type != "UMFUTURE_MARGIN" {
		t.Fatalf("completed steps wrong: %+v", partial.Completed)
	}
	if partial.Failed.Type != "MARGIN_MAIN" {
		t.Fatalf("failed step wrong: %+v", partial.Failed)
	}
	if !errors.Is(err, boom) {
		t.Fatal("cause must be reachable through the partial error")
	}
}

func TestTransferUnknownPair(t *testing.T) {
	ex := &fakeExchange{name: "main"}
	d, _ := newTestDispatcher(map[string]*fakeExchange{"main": ex})

	_, err := d.Transfer(context.Background(), "main", "BTC", decimal.RequireFromString("1"), domain.SegmentMargin, domain.SegmentInverse)
	var un *UnsupportedTransferError
	if !errors.As(err, &un) {
		t.Fatalf("want UnsupportedTransferError, got %v", err)
	}
	if len(ex.transfers) != 0 {
		t.Fatal("no remote call for an unsupported pair")
	}
}
