// Package qc implements tiered quality coding for environmental time series:
// the code vocabulary, half-open coded intervals, and the screening passes
// that derive codes from field checks, gaps, spikes, staleness decay and
// cross-parameter dependencies.
package qc

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Tier is a NEMS-style quality tier. Higher is better. The ladder is the
// ordered set {0, 200, 300, 400, 500, 600}; stepping between tiers always
// goes through the ladder index so the gaps in the numbering never matter.
type Tier int

const (
	TierMissing    Tier = 0   // no usable data
	TierUnverified Tier = 200 // data present but never verified
	TierSynthetic  Tier = 300 // synthetic or known-poor data
	TierFair       Tier = 400 // failed or marginal verification
	TierGood       Tier = 500 // verified within the wide tolerance
	TierExcellent  Tier = 600 // verified within the tight tolerance
)

// tierLadder lists the admissible tiers in ascending order.
var tierLadder = []Tier{TierMissing, TierUnverified, TierSynthetic, TierFair, TierGood, TierExcellent}

// TierRank returns the ladder index of t (0 for TierMissing, 5 for
// TierExcellent), or -1 when t is not an admissible tier.
func TierRank(t Tier) int {
	for i, v := range tierLadder {
		if v == t {
			return i
		}
	}
	return -1
}

// ParseTier validates a numeric quality tier.
func ParseTier(v int) (Tier, error) {
	t := Tier(v)
	if TierRank(t) < 0 {
		return 0, fmt.Errorf("qc: tier %d is not on the ladder", v)
	}
	return t, nil
}

// StepDown returns the tier steps rungs below t on the ladder, clamping at
// TierMissing. A non-positive steps returns t unchanged.
func StepDown(t Tier, steps int) Tier {
	rank := TierRank(t)
	if rank < 0 || steps <= 0 {
		return t
	}
	rank -= steps
	if rank < 0 {
		rank = 0
	}
	return tierLadder[rank]
}

// MinTier returns the lower of a and b by ladder rank. Tiers off the ladder
// are treated as TierMissing.
func MinTier(a, b Tier) Tier {
	ra, rb := TierRank(a), TierRank(b)
	if ra < 0 {
		return TierMissing
	}
	if rb < 0 {
		return TierMissing
	}
	if ra <= rb {
		return a
	}
	return b
}

// tierWord is the short label used by Describe and log lines.
func tierWord(t Tier) string {
	switch t {
	case TierMissing:
		return "missing"
	case TierUnverified:
		return "unverified"
	case TierSynthetic:
		return "synthetic"
	case TierFair:
		return "fair"
	case TierGood:
		return "good"
	case TierExcellent:
		return "excellent"
	default:
		return "invalid"
	}
}

// Reason annotates why a span carries its tier. A span accumulates every
// reason that touched it; reasons are never dropped by later passes.
type Reason string

const (
	ReasonINI Reason = "INI" // initial placeholder before any pass has run
	ReasonGAP Reason = "GAP" // missing-data run exceeded the gap limit
	ReasonCAP Reason = "CAP" // value clipped or tier capped by a bound
	ReasonSYN Reason = "SYN" // synthetic fill over an interpolated gap
	ReasonCHK Reason = "CHK" // verified against a field check
	ReasonUCK Reason = "UCK" // no check covers the span
	ReasonOOV Reason = "OOV" // out of validation: the governing check went stale
	ReasonAPD Reason = "APD" // atmospheric pressure series governed the tier
	ReasonWTD Reason = "WTD" // water temperature series governed the tier
	ReasonLIM Reason = "LIM" // site cap lowered the tier
)

// reasonRank fixes the vocabulary order reasons are rendered in.
var reasonRank = map[Reason]int{
	ReasonINI: 0,
	ReasonGAP: 1,
	ReasonCAP: 2,
	ReasonSYN: 3,
	ReasonCHK: 4,
	ReasonUCK: 5,
	ReasonOOV: 6,
	ReasonAPD: 7,
	ReasonWTD: 8,
	ReasonLIM: 9,
}

var reasonText = map[Reason]string{
	ReasonINI: "awaiting coding",
	ReasonGAP: "gap over limit",
	ReasonCAP: "clipped or capped",
	ReasonSYN: "synthetic fill",
	ReasonCHK: "field check",
	ReasonUCK: "unchecked",
	ReasonOOV: "check stale",
	ReasonAPD: "air pressure dependency",
	ReasonWTD: "water temperature dependency",
	ReasonLIM: "site cap",
}

// ParseReason validates a reason token (case-insensitive). Unknown tokens
// return an UnknownReasonError carrying the offending input.
func ParseReason(tok string) (Reason, error) {
	r := Reason(strings.ToUpper(strings.TrimSpace(tok)))
	if _, ok := reasonRank[r]; !ok {
		return "", &UnknownReasonError{Token: tok}
	}
	return r, nil
}

// Source identifies where a check event came from. Every source carries a
// trust ceiling: a check can never assign a tier above its source's ceiling,
// whatever the measured deviation says.
type Source string

const (
	SourceHilltop      Source = "HTP" // check series fetched from the data server
	SourceInspection   Source = "INS" // field inspection with a calibrated meter
	SourceSoE          Source = "SOE" // state-of-environment sample result
	SourceRainfallZero Source = "RFZ" // manual rainfall zero reading
	SourceDepthProfile Source = "DPF" // depth profile cast
	SourceManual       Source = "MAN" // analyst override entered by hand
)

var sourceCeiling = map[Source]Tier{
	SourceHilltop:      TierGood,
	SourceInspection:   TierExcellent,
	SourceSoE:          TierGood,
	SourceRainfallZero: TierGood,
	SourceDepthProfile: TierFair,
	SourceManual:       TierExcellent,
}

// TrustCeiling returns the highest tier a check from s may assign. Unknown
// sources are capped at the unverified floor.
func (s Source) TrustCeiling() Tier {
	if t, ok := sourceCeiling[s]; ok {
		return t
	}
	return TierUnverified
}

// Valid reports whether s is a known check source.
func (s Source) Valid() bool {
	_, ok := sourceCeiling[s]
	return ok
}

// Code is a quality tier plus the set of reasons that produced it. Reasons
// are kept unique and in vocabulary order so codes compare and render
// deterministically.
type Code struct {
	Tier    Tier
	Reasons []Reason
}

// NewCode builds a code, normalizing the reason set.
func NewCode(t Tier, reasons ...Reason) Code {
	return Code{Tier: t, Reasons: normalizeReasons(reasons)}
}

// With returns a copy of c with r added to the reason set.
func (c Code) With(r Reason) Code {
	if c.Has(r) {
		return c
	}
	out := Code{Tier: c.Tier, Reasons: make([]Reason, 0, len(c.Reasons)+1)}
	out.Reasons = append(out.Reasons, c.Reasons...)
	out.Reasons = append(out.Reasons, r)
	out.Reasons = normalizeReasons(out.Reasons)
	return out
}

// Has reports whether r is in the reason set.
func (c Code) Has(r Reason) bool {
	for _, v := range c.Reasons {
		if v == r {
			return true
		}
	}
	return false
}

// Equal reports whether two codes have the same tier and reason set.
func (c Code) Equal(o Code) bool {
	if c.Tier != o.Tier || len(c.Reasons) != len(o.Reasons) {
		return false
	}
	for i := range c.Reasons {
		if c.Reasons[i] != o.Reasons[i] {
			return false
		}
	}
	return true
}

// Combine folds two codes into one: the lower tier wins and the reason sets
// union. Combining never raises a tier and never drops a reason.
func Combine(a, b Code) Code {
	out := Code{Tier: MinTier(a.Tier, b.Tier)}
	out.Reasons = make([]Reason, 0, len(a.Reasons)+len(b.Reasons))
	out.Reasons = append(out.Reasons, a.Reasons...)
	out.Reasons = append(out.Reasons, b.Reasons...)
	out.Reasons = normalizeReasons(out.Reasons)
	return out
}

// String renders the compact form used in logs and exports, for example
// "500 CHK,OOV". A bare tier renders as just the number.
func (c Code) String() string {
	if len(c.Reasons) == 0 {
		return strconv.Itoa(int(c.Tier))
	}
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(int(c.Tier)))
	sb.WriteByte(' ')
	for i, r := range c.Reasons {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(string(r))
	}
	return sb.String()
}

// Describe renders a stable long form for reports, for example
// "500 (good): field check, check stale".
func Describe(c Code) string {
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(int(c.Tier)))
	sb.WriteString(" (")
	sb.WriteString(tierWord(c.Tier))
	sb.WriteByte(')')
	if len(c.Reasons) == 0 {
		return sb.String()
	}
	sb.WriteString(": ")
	for i, r := range c.Reasons {
		if i > 0 {
			sb.WriteString(", ")
		}
		if txt, ok := reasonText[r]; ok {
			sb.WriteString(txt)
		} else {
			sb.WriteString(string(r))
		}
	}
	return sb.String()
}

// normalizeReasons sorts by vocabulary order and drops duplicates and
// unknown tokens. The input slice is not modified.
func normalizeReasons(in []Reason) []Reason {
	if len(in) == 0 {
		return nil
	}
	out := make([]Reason, 0, len(in))
	seen := make(map[Reason]struct{}, len(in))
	for _, r := range in {
		if _, ok := reasonRank[r]; !ok {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return reasonRank[out[i]] < reasonRank[out[j]] })
	if len(out) == 0 {
		return nil
	}
	return out
}
