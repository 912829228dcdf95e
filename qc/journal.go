package qc

import "time"

// Decision records one coding action with its inputs, for the audit trail.
// Every stamp, decay, overlay and cap the engine takes emits one.
type Decision struct {
	Pass        string
	Site        string
	Measurement string
	At          time.Time // anchor: check time, decay edge, cap application
	From        time.Time // affected span
	To          time.Time
	Tier        Tier
	Reasons     []Reason
	Detail      string
}

// Journal receives decisions and issues as the engine produces them.
// Implementations must not block: the engine calls these inline on the
// processing path.
type Journal interface {
	Decision(Decision)
	Issue(Issue)
}

// noopJournal is used when no journal is configured.
type noopJournal struct{}

func (noopJournal) Decision(Decision) {}
func (noopJournal) Issue(Issue) {}
