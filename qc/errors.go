package qc

import (
	"fmt"
	"time"
)

// UnknownReasonError is returned when a reason token is not in the
// vocabulary.
type UnknownReasonError struct {
	Token string
}

func (e *UnknownReasonError) Error() string {
	return fmt.Sprintf("qc: unknown reason code %q", e.Token)
}

// OutOfOrderCheckError is fatal: check events must arrive in strictly
// increasing time order, and a violation means the extraction upstream is
// broken rather than the data.
type OutOfOrderCheckError struct {
	Site        string
	Measurement string
	At          time.Time
	Previous    time.Time
}

func (e *OutOfOrderCheckError) Error() string {
	return fmt.Sprintf("qc: %s/%s: check at %s not after previous check at %s",
		e.Site, e.Measurement, e.At.UTC().Format(time.RFC3339), e.Previous.UTC().Format(time.RFC3339))
}

// PolicyError is fatal: a policy field failed validation for a family or
// site. It names the field so a bad YAML block is findable without a stack
// trace.
type PolicyError struct {
	Family string
	Field  string
	Reason string
}

func (e *PolicyError) Error() string {
	if e.Family == "" {
		return fmt.Sprintf("qc: policy %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("qc: policy %s: %s: %s", e.Family, e.Field, e.Reason)
}

// SeriesError is fatal: the raw series is structurally unusable (unordered
// timestamps, empty identity). It carries the offending timestamp when one
// exists.
type SeriesError struct {
	Site        string
	Measurement string
	At          time.Time
	Reason      string
}

func (e *SeriesError) Error() string {
	if e.At.IsZero() {
		return fmt.Sprintf("qc: %s/%s: %s", e.Site, e.Measurement, e.Reason)
	}
	return fmt.Sprintf("qc: %s/%s: %s at %s", e.Site, e.Measurement, e.Reason, e.At.UTC().Format(time.RFC3339))
}
