package exchange

import (
	"strings"
	"testing"

	"github.com/betbot/binance-vault/internal/domain"
)

func TestPartnerCodeTable(t *testing.T) {
	codes := DefaultPartnerCodes()
	if codes.For(domain.SegmentSpot) != "C96E9MGA" {
		t.Fatalf("spot code = %s", codes.For(domain.SegmentSpot))
	}
	if codes.For(domain.SegmentMargin) != "C96E9MGA" {
		t.Fatalf("margin code = %s", codes.For(domain.SegmentMargin))
	}
	for _, seg := range []domain.Segment{domain.SegmentLinear, domain.SegmentInverse, domain.SegmentSwap, domain.SegmentOption} {
		if codes.For(seg) != "eFC56vBf" {
			t.Fatalf("%s code = %s", seg, codes.For(seg))
		}
	}
}

func TestPartnerCodeOverrideFallsBack(t *testing.T) {
	codes := PartnerCodes{domain.SegmentSpot: "CUSTOM01"}
	if codes.For(domain.SegmentSpot) != "CUSTOM01" {
		t.Fatal("override not applied")
	}
	if codes.For(domain.SegmentLinear) != "eFC56vBf" {
		t.Fatal("missing segment must fall back to canonical code")
	}
}

func TestVerifyPartnerCodes(t *testing.T) {
	if got := DefaultPartnerCodes().Verify(); len(got) != 0 {
		t.Fatalf("canonical table must verify clean, got %v", got)
	}

	codes := PartnerCodes{domain.SegmentSpot: "WRONG", domain.SegmentSwap: "ALSOBAD"}
	mismatches := codes.Verify()
	if len(mismatches) != 2 {
		t.Fatalf("want 2 mismatches, got %v", mismatches)
	}
	// order follows the segment listing, spot before swap
	if mismatches[0].Segment != domain.SegmentSpot || mismatches[0].Got != "WRONG" {
		t.Fatalf("first mismatch wrong: %+v", mismatches[0])
	}
	if mismatches[1].Segment != domain.SegmentSwap || mismatches[1].Want != "eFC56vBf" {
		t.Fatalf("second mismatch wrong: %+v", mismatches[1])
	}
}

func TestNewClientOrderID(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewClientOrderID("C96E9MGA")
		if !strings.HasPrefix(id, "x-C96E9MGA-") {
			t.Fatalf("prefix wrong: %s", id)
		}
		if len(id) > maxClientOrderIDLen {
			t.Fatalf("id too long: %d", len(id))
		}
		if seen[id] {
			t.Fatalf("duplicate id: %s", id)
		}
		seen[id] = true
	}
}
