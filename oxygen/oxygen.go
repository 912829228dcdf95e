// Package oxygen implements the dissolved-oxygen supplement: pressure
// correction of percent-saturation readings against a nearby barometer.
// The corrected series then runs through the usual pipeline, where the
// atmospheric pressure and water temperature quality traces overlay it
// and the family value cap grades supersaturated stretches.
package oxygen

import (
	"math"

	"hydroqc/qc"
)

// Sea-level standard pressure in hPa, and the pressure change per metre
// of altitude difference between the two sensors.
const (
	seaLevel      = 1013.25
	lapsePerMetre = 0.1222
)

// Altitudes positions the two sensors against the same datum, in
// metres. The barometer reading is translated to the oxygen sensor's
// altitude before correcting.
type Altitudes struct {
	Sensor    float64
	Barometer float64
}

// Correct scales percent-saturation readings by the local atmospheric
// pressure: corrected = reading × 1013.25 / pressure-at-sensor. The
// barometer series is stepped forward to each oxygen instant, so a
// slower pressure cadence still covers every reading. Readings before
// the first usable pressure sample have no correction available and
// become holes.
func Correct(do, pressure []qc.Sample, alt Altitudes) []qc.Sample {
	offset := (alt.Barometer - alt.Sensor) * lapsePerMetre
	out := make([]qc.Sample, len(do))
	pi := 0
	last := math.NaN()
	for i, s := range do {
		for pi < len(pressure) && !pressure[pi].At.After(s.At) {
			if !pressure[pi].Missing() {
				last = pressure[pi].Value
			}
			pi++
		}
		if s.Missing() || math.IsNaN(last) {
			out[i] = qc.Sample{At: s.At, Value: math.NaN()}
			continue
		}
		out[i] = qc.Sample{At: s.At, Value: s.Value * seaLevel / (last + offset)}
	}
	return out
}
