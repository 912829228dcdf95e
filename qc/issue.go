package qc

import (
	"fmt"
	"time"
)

// IssueKind classifies a recovered processing anomaly. Issues never abort a
// run; they are reported alongside the coded output and journaled.
type IssueKind string

const (
	IssueMissingStandard IssueKind = "MSD" // no raw sample near a check timestamp
	IssueMissingCheck    IssueKind = "MCD" // check event carried no usable value
	IssueFlatline        IssueKind = "FLT" // identical-value run flagged as suspect
	IssueReview          IssueKind = "RVW" // check deviation beyond the admissible band
	IssueSpikeBurst      IssueKind = "SPB" // spike removals clustered beyond the gap limit
	IssueManualTips      IssueKind = "RMT" // manual tip removal needs verification
)

// Issue is a non-fatal annotation attached to a processing run.
type Issue struct {
	Kind        IssueKind
	Site        string
	Measurement string
	At          time.Time
	Detail      string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s %s/%s %s: %s", i.Kind, i.Site, i.Measurement,
		i.At.UTC().Format(time.RFC3339), i.Detail)
}
