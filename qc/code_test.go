package qc

import (
	"errors"
	"testing"
)

func TestTierLadder(t *testing.T) {
	if TierRank(TierMissing) != 0 || TierRank(TierExcellent) != 5 {
		t.Fatalf("ladder ranks wrong: %d, %d", TierRank(TierMissing), TierRank(TierExcellent))
	}
	if TierRank(Tier(450)) != -1 {
		t.Fatalf("450 must not be on the ladder")
	}
	if got := StepDown(TierExcellent, 1); got != TierGood {
		t.Fatalf("expected 600 to step to 500, got %d", got)
	}
	if got := StepDown(TierUnverified, 3); got != TierMissing {
		t.Fatalf("expected clamp at 0, got %d", got)
	}
	if got := StepDown(TierGood, 0); got != TierGood {
		t.Fatalf("zero steps must be identity, got %d", got)
	}
	if _, err := ParseTier(700); err == nil {
		t.Fatalf("expected error for tier 700")
	}
	if tier, err := ParseTier(400); err != nil || tier != TierFair {
		t.Fatalf("expected 400 to parse, got %d, %v", tier, err)
	}
}

func TestParseReasonUnknown(t *testing.T) {
	if r, err := ParseReason(" chk "); err != nil || r != ReasonCHK {
		t.Fatalf("expected CHK, got %q, %v", r, err)
	}
	_, err := ParseReason("BOGUS")
	var unknown *UnknownReasonError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownReasonError, got %v", err)
	}
	if unknown.Token != "BOGUS" {
		t.Fatalf("error must carry the token, got %q", unknown.Token)
	}
}

func TestCombineNeverRaisesOrDrops(t *testing.T) {
	a := NewCode(TierGood, ReasonCHK)
	b := NewCode(TierSynthetic, ReasonSYN, ReasonGAP)
	got := Combine(a, b)
	if got.Tier != TierSynthetic {
		t.Fatalf("expected min tier 300, got %d", got.Tier)
	}
	for _, r := range []Reason{ReasonGAP, ReasonSYN, ReasonCHK} {
		if !got.Has(r) {
			t.Fatalf("combine dropped reason %s: %s", r, got)
		}
	}
	// Symmetric.
	if !Combine(b, a).Equal(got) {
		t.Fatalf("combine must be symmetric: %s vs %s", Combine(b, a), got)
	}
	// Idempotent.
	if !Combine(got, got).Equal(got) {
		t.Fatalf("combine must be idempotent: %s", Combine(got, got))
	}
}

func TestCodeReasonOrderStable(t *testing.T) {
	a := NewCode(TierGood, ReasonOOV, ReasonCHK, ReasonOOV)
	if a.String() != "500 CHK,OOV" {
		t.Fatalf("expected canonical order CHK,OOV, got %q", a.String())
	}
	b := NewCode(TierGood, ReasonCHK).With(ReasonOOV)
	if !a.Equal(b) {
		t.Fatalf("construction order must not matter: %s vs %s", a, b)
	}
}

func TestDescribe(t *testing.T) {
	c := NewCode(TierFair, ReasonCHK, ReasonLIM)
	got := Describe(c)
	want := "400 (fair): field check, site cap"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	bare := Describe(NewCode(TierExcellent))
	if bare != "600 (excellent)" {
		t.Fatalf("expected bare rendering, got %q", bare)
	}
}

func TestSourceTrustCeilings(t *testing.T) {
	if SourceInspection.TrustCeiling() != TierExcellent {
		t.Fatalf("INS must reach 600")
	}
	if SourceDepthProfile.TrustCeiling() != TierFair {
		t.Fatalf("DPF must cap at 400")
	}
	if Source("XYZ").TrustCeiling() != TierUnverified {
		t.Fatalf("unknown sources must cap at the unverified floor")
	}
	if Source("XYZ").Valid() {
		t.Fatalf("unknown source must not validate")
	}
}
