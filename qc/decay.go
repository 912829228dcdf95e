package qc

import "fmt"

// decay is the fourth pass: walk forward from every applied check and step
// the tier down each time the elapsed span crosses the expiry for the tier
// currently in force. The clock restarts at each step edge, so a long
// unchecked span decays repeatedly until it reaches a tier with no
// schedule entry. Already-lower spans (gaps, earlier decays) are never
// raised and never re-tagged.
func (r *run) decay() {
	if len(r.pol.Expiry) == 0 || len(r.applied) == 0 {
		return
	}
	for i, ac := range r.applied {
		end := r.req.To
		if i+1 < len(r.applied) {
			end = r.applied[i+1].at
		}
		cur := ac.tier
		anchor := ac.at
		for {
			d, ok := r.pol.Expiry[cur]
			if !ok || d <= 0 {
				break
			}
			edge := anchor.Add(d)
			if !edge.Before(end) {
				break
			}
			next := StepDown(cur, r.pol.DecayStep)
			if next == cur {
				break
			}
			if r.seq.Lower(edge, end, next, ReasonOOV) {
				r.stats.Decays++
				r.decide("decay", edge, edge, end, next, []Reason{ReasonOOV},
					fmt.Sprintf("check of %s stale after %s", ac.at.UTC().Format("2006-01-02"), d))
			}
			cur = next
			anchor = edge
		}
	}
}
