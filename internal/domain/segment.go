package domain

import (
	"fmt"
	"strings"
)

// Segment is a market type an account can trade in. The set is closed:
// routing switches over it exhaustively, so adding a segment is a
// compile-time-visible change.
type Segment string

const (
	SegmentSpot    Segment = "spot"
	SegmentMargin  Segment = "margin"
	SegmentLinear  Segment = "linear"  // USD-M futures
	SegmentInverse Segment = "inverse" // COIN-M delivery
	SegmentSwap    Segment = "swap"    // perpetual, served by the USD-M surface
	SegmentOption  Segment = "option"
)

// Segments lists every supported segment in a stable order.
func Segments() []Segment {
	return []Segment{
		SegmentSpot,
		SegmentMargin,
		SegmentLinear,
		SegmentInverse,
		SegmentSwap,
		SegmentOption,
	}
}

// ParseSegment accepts canonical names plus the aliases the original agent
// tools used ("future", "delivery").
func ParseSegment(s string) (Segment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "spot":
		return SegmentSpot, nil
	case "margin":
		return SegmentMargin, nil
	case "linear", "future", "futures", "um":
		return SegmentLinear, nil
	case "inverse", "delivery", "coin", "cm":
		return SegmentInverse, nil
	case "swap", "perp", "perpetual":
		return SegmentSwap, nil
	case "option", "options":
		return SegmentOption, nil
	}
	return "", fmt.Errorf("unknown market segment %q", s)
}

// Derivative reports whether the segment settles against a margin pool rather
// than spot wallets.
func (s Segment) Derivative() bool {
	switch s {
	case SegmentLinear, SegmentInverse, SegmentSwap, SegmentOption:
		return true
	}
	return false
}

// AccountMode distinguishes standard accounts (independent per-segment
// balances) from unified portfolio-margin accounts (shared collateral pool).
type AccountMode string

const (
	ModeStandard AccountMode = "standard"
	ModeUnified  AccountMode = "unified"
)

func ModeFor(portfolioMargin bool) AccountMode {
	if portfolioMargin {
		return ModeUnified
	}
	return ModeStandard
}
