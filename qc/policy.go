package qc

import (
	"math"
	"time"
)

// Default tuning shared by every family until config overrides it.
const (
	defaultDeltaMultiplier = 2.0
	defaultGapLimit        = 12
	defaultSpikeSpan       = 10
	defaultAlignTolerance  = 15 * time.Minute
	defaultDecayStep       = 1
)

// Policy is the compiled per-family tuning the passes run under. Config
// builds one per measurement family and applies per-site overrides before
// handing it to the engine.
type Policy struct {
	Family string // label for error messages

	// Check reconciliation.
	Delta           float64 // agreement threshold in measurement units
	DeltaMultiplier float64 // admissible band is Delta * DeltaMultiplier
	CheckShift      float64 // constant additive shift applied to check values

	// Percent mode for accumulating measurements: above the threshold the
	// deviation is judged as a percentage of the check value instead of an
	// absolute difference.
	QC600Percent          float64
	QC500Percent          float64
	LimitPercentThreshold float64

	// Screening.
	GapLimit    int     // longest missing run that may be interpolated, in samples
	LowClip     float64 // physical plausibility bounds; -Inf/+Inf disable
	HighClip    float64
	SpikeSpan   int     // FBEWMA span; spike pass disabled when SpikeDelta <= 0
	SpikeDelta  float64
	FlatlineRun int // identical-value run length that flags a flatline; 0 disables

	// Ceilings and staleness.
	MaxQC          Tier
	AlignTolerance time.Duration
	Expiry         map[Tier]time.Duration // staleness schedule; absent tiers never decay
	DecayStep      int                    // ladder steps per expiry crossing

	// Caps.
	Cap               Tier    // site cap; 0 disables
	ValueCapThreshold float64 // values above it cap the tier; NaN disables
	ValueCapTier      Tier
}

// DefaultPolicy returns the baseline tuning. Delta is a unitless
// placeholder; config always sets it per family.
func DefaultPolicy() Policy {
	return Policy{
		Delta:           1,
		DeltaMultiplier: defaultDeltaMultiplier,
		GapLimit:        defaultGapLimit,
		LowClip:         math.Inf(-1),
		HighClip:        math.Inf(1),
		SpikeSpan:       defaultSpikeSpan,
		MaxQC:           TierExcellent,
		AlignTolerance:  defaultAlignTolerance,
		Expiry: map[Tier]time.Duration{
			TierExcellent: 60 * 24 * time.Hour,
			TierGood:      120 * 24 * time.Hour,
		},
		DecayStep:         defaultDecayStep,
		ValueCapThreshold: math.NaN(),
		ValueCapTier:      TierGood,
	}
}

// normalized fills unset fields with defaults without touching the
// receiver. Clip bounds both at zero are treated as unset.
func (p Policy) normalized() Policy {
	if p.DeltaMultiplier <= 0 {
		p.DeltaMultiplier = defaultDeltaMultiplier
	}
	if p.GapLimit < 0 {
		p.GapLimit = 0
	}
	if p.LowClip == 0 && p.HighClip == 0 {
		p.LowClip = math.Inf(-1)
		p.HighClip = math.Inf(1)
	}
	if p.SpikeSpan <= 0 {
		p.SpikeSpan = defaultSpikeSpan
	}
	if TierRank(p.MaxQC) < 0 || p.MaxQC == TierMissing {
		p.MaxQC = TierExcellent
	}
	if p.AlignTolerance <= 0 {
		p.AlignTolerance = defaultAlignTolerance
	}
	if p.DecayStep <= 0 {
		p.DecayStep = defaultDecayStep
	}
	if p.ValueCapThreshold == 0 {
		p.ValueCapThreshold = math.NaN()
	}
	if TierRank(p.ValueCapTier) < 0 || p.ValueCapTier == TierMissing {
		p.ValueCapTier = TierGood
	}
	return p
}

// Validate rejects tunings the passes cannot run under. Errors name the
// family and field.
func (p Policy) Validate() error {
	fail := func(field, reason string) error {
		return &PolicyError{Family: p.Family, Field: field, Reason: reason}
	}
	if p.Delta <= 0 {
		return fail("delta", "must be positive")
	}
	if p.DeltaMultiplier < 1 {
		return fail("delta_multiplier", "must be at least 1")
	}
	if p.LowClip >= p.HighClip {
		return fail("low_clip", "must be below high_clip")
	}
	if p.SpikeDelta < 0 {
		return fail("spike_delta", "must not be negative")
	}
	if p.SpikeDelta > 0 && p.SpikeSpan < 2 {
		return fail("spike_span", "must be at least 2 when spike_delta is set")
	}
	if p.FlatlineRun == 1 {
		return fail("flatline_run", "must be at least 2 when set")
	}
	if p.FlatlineRun < 0 {
		return fail("flatline_run", "must not be negative")
	}
	if TierRank(p.MaxQC) < TierRank(TierFair) {
		return fail("max_qc", "must be 400 or higher")
	}
	if p.QC600Percent < 0 || p.QC500Percent < 0 {
		return fail("qc600_percent", "percent limits must not be negative")
	}
	if p.QC600Percent > 0 || p.QC500Percent > 0 {
		if p.QC600Percent <= 0 || p.QC500Percent <= 0 {
			return fail("qc500_percent", "both percent limits must be set together")
		}
		if p.QC600Percent >= p.QC500Percent {
			return fail("qc600_percent", "must be below qc500_percent")
		}
		if p.LimitPercentThreshold <= 0 {
			return fail("limit_percent_threshold", "must be positive when percent limits are set")
		}
	}
	if err := p.validateExpiry(); err != nil {
		return err
	}
	if p.Cap != 0 && TierRank(p.Cap) < 0 {
		return fail("cap", "not an admissible tier")
	}
	if !math.IsNaN(p.ValueCapThreshold) && TierRank(p.ValueCapTier) <= 0 {
		return fail("value_cap_tier", "not an admissible tier")
	}
	return nil
}

// validateExpiry enforces a coherent staleness schedule: positive
// durations, admissible tiers, and higher tiers must not outlive lower
// ones.
func (p Policy) validateExpiry() error {
	prev := time.Duration(-1)
	for i := len(tierLadder) - 1; i >= 0; i-- {
		tier := tierLadder[i]
		d, ok := p.Expiry[tier]
		if !ok {
			continue
		}
		if d <= 0 {
			return &PolicyError{Family: p.Family, Field: "inspection_expiry", Reason: "durations must be positive"}
		}
		if prev > 0 && d < prev {
			return &PolicyError{Family: p.Family, Field: "inspection_expiry", Reason: "a lower tier must not expire before a higher one"}
		}
		prev = d
	}
	for tier := range p.Expiry {
		if TierRank(tier) < 0 {
			return &PolicyError{Family: p.Family, Field: "inspection_expiry", Reason: "schedule names a tier off the ladder"}
		}
	}
	return nil
}

// alignTolerance returns the effective check alignment window for a series:
// the configured tolerance, widened to the cadence when the series samples
// slower than the tolerance.
func (p Policy) alignTolerance(cadence time.Duration) time.Duration {
	tol := p.AlignTolerance
	if tol <= 0 {
		tol = defaultAlignTolerance
	}
	if cadence > tol {
		tol = cadence
	}
	return tol
}

// clipEnabled reports whether either plausibility bound is active.
func (p Policy) clipEnabled() bool {
	return !math.IsInf(p.LowClip, -1) || !math.IsInf(p.HighClip, 1)
}
