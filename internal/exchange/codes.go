package exchange

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/betbot/binance-vault/internal/domain"
)

// maxClientOrderIDLen is the venue's limit on newClientOrderId.
const maxClientOrderIDLen = 36

// canonicalPartnerCodes is the partner program's broker ID per segment.
// Spot and margin share one code, all derivatives share another.
var canonicalPartnerCodes = map[domain.Segment]string{
	domain.SegmentSpot:    "C96E9MGA",
	domain.SegmentMargin:  "C96E9MGA",
	domain.SegmentLinear:  "eFC56vBf",
	domain.SegmentInverse: "eFC56vBf",
	domain.SegmentSwap:    "eFC56vBf",
	domain.SegmentOption:  "eFC56vBf",
}

// PartnerCodes maps segments to the broker ID injected into client order IDs.
type PartnerCodes map[domain.Segment]string

// DefaultPartnerCodes returns a copy of the canonical table.
func DefaultPartnerCodes() PartnerCodes {
	out := make(PartnerCodes, len(canonicalPartnerCodes))
	for seg, code := range canonicalPartnerCodes {
		out[seg] = code
	}
	return out
}

// For returns the code for a segment, falling back to the canonical table for
// segments the override map does not mention.
func (p PartnerCodes) For(seg domain.Segment) string {
	if code, ok := p[seg]; ok {
		return code
	}
	return canonicalPartnerCodes[seg]
}

// CodeMismatch records one segment whose configured code differs from the
// canonical one.
type CodeMismatch struct {
	Segment domain.Segment
	Want    string
	Got     string
}

func (m CodeMismatch) String() string {
	return fmt.Sprintf("%s: have %q, expected %q", m.Segment, m.Got, m.Want)
}

// Verify compares the effective codes against the canonical table. Mismatches
// are reported, never enforced: an operator may run a different partner
// program on purpose.
func (p PartnerCodes) Verify() []CodeMismatch {
	var out []CodeMismatch
	for _, seg := range domain.Segments() {
		want := canonicalPartnerCodes[seg]
		if got := p.For(seg); got != want {
			out = append(out, CodeMismatch{Segment: seg, Want: want, Got: got})
		}
	}
	return out
}

// NewClientOrderID builds a tagged order ID: "x-" + code + "-" + random
// suffix, truncated to the venue limit. The x- prefix is what attributes the
// order to the partner program.
func NewClientOrderID(code string) string {
	id := "x-" + code + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if len(id) > maxClientOrderIDLen {
		id = id[:maxClientOrderIDLen]
	}
	return id
}
