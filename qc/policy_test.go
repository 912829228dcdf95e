package qc

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultPolicyValidates(t *testing.T) {
	p := DefaultPolicy().normalized()
	if err := p.Validate(); err != nil {
		t.Fatalf("default policy must validate: %v", err)
	}
}

func TestPolicyValidateNamesField(t *testing.T) {
	cases := []struct {
		name  string
		mut   func(*Policy)
		field string
	}{
		{"delta", func(p *Policy) { p.Delta = 0 }, "delta"},
		{"multiplier", func(p *Policy) { p.DeltaMultiplier = 0.5 }, "delta_multiplier"},
		{"clip", func(p *Policy) { p.LowClip, p.HighClip = 10, 5 }, "low_clip"},
		{"spikespan", func(p *Policy) { p.SpikeDelta, p.SpikeSpan = 2, 1 }, "spike_span"},
		{"flatline", func(p *Policy) { p.FlatlineRun = 1 }, "flatline_run"},
		{"maxqc", func(p *Policy) { p.MaxQC = TierSynthetic }, "max_qc"},
		{"percentpair", func(p *Policy) { p.QC600Percent = 2 }, "qc500_percent"},
		{"percentorder", func(p *Policy) { p.QC600Percent, p.QC500Percent, p.LimitPercentThreshold = 10, 5, 40 }, "qc600_percent"},
		{"cap", func(p *Policy) { p.Cap = Tier(450) }, "cap"},
	}
	for _, tc := range cases {
		p := DefaultPolicy()
		p.Family = "wt"
		tc.mut(&p)
		err := p.Validate()
		var perr *PolicyError
		if !errors.As(err, &perr) {
			t.Fatalf("%s: expected PolicyError, got %v", tc.name, err)
		}
		if perr.Field != tc.field {
			t.Fatalf("%s: expected field %q named, got %q", tc.name, tc.field, perr.Field)
		}
		if perr.Family != "wt" {
			t.Fatalf("%s: expected family named, got %q", tc.name, perr.Family)
		}
	}
}

func TestPolicyExpirySchedule(t *testing.T) {
	p := DefaultPolicy()
	p.Expiry = map[Tier]time.Duration{
		TierExcellent: 90 * 24 * time.Hour,
		TierGood:      30 * 24 * time.Hour, // lower tier expiring faster is incoherent
	}
	if err := p.Validate(); err == nil {
		t.Fatalf("expected inverted schedule to fail")
	}
	p.Expiry = map[Tier]time.Duration{Tier(450): time.Hour}
	if err := p.Validate(); err == nil {
		t.Fatalf("expected off-ladder tier to fail")
	}
	p.Expiry = map[Tier]time.Duration{TierExcellent: -time.Hour}
	if err := p.Validate(); err == nil {
		t.Fatalf("expected negative duration to fail")
	}
}

func TestPolicyNormalizedDefaults(t *testing.T) {
	p := Policy{Delta: 2}.normalized()
	if p.DeltaMultiplier != defaultDeltaMultiplier {
		t.Fatalf("expected multiplier default, got %g", p.DeltaMultiplier)
	}
	if p.MaxQC != TierExcellent {
		t.Fatalf("expected max_qc default 600, got %d", p.MaxQC)
	}
	if p.clipEnabled() {
		t.Fatalf("unset clips must disable clipping")
	}
	if p.AlignTolerance != defaultAlignTolerance {
		t.Fatalf("expected align tolerance default, got %s", p.AlignTolerance)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("normalized minimal policy must validate: %v", err)
	}
}

func TestAlignToleranceWidensWithCadence(t *testing.T) {
	p := DefaultPolicy()
	if got := p.alignTolerance(time.Hour); got != time.Hour {
		t.Fatalf("expected tolerance widened to the cadence, got %s", got)
	}
	if got := p.alignTolerance(time.Minute); got != defaultAlignTolerance {
		t.Fatalf("expected configured tolerance for fast cadences, got %s", got)
	}
}
