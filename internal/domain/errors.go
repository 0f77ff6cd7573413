package domain

import (
	"errors"
	"fmt"
)

// FailureClass partitions pipeline failures by whether redelivering the same
// message could ever succeed.
type FailureClass string

const (
	// FailurePoison marks permanent failures. The transport must acknowledge
	// the message or it will redeliver forever.
	FailurePoison FailureClass = "poison"
	// FailureTransient marks failures worth a redelivery, such as an
	// unreachable warehouse.
	FailureTransient FailureClass = "transient"
)

// MalformedRecordError reports an input record that cannot be normalized.
type MalformedRecordError struct {
	Index  int
	Field  string
	Reason string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("record %d: field %q: %s", e.Index, e.Field, e.Reason)
}

// DanglingReferenceError reports a child row whose foreign key matches no
// parent row. Only raised under strict reference checking; the default
// policy lets such rows through with null ancestor features.
type DanglingReferenceError struct {
	Relationship string
	Key          string
	Value        string
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("%s: no parent row for %s=%q", e.Relationship, e.Key, e.Value)
}

// MissingFeatureError reports a selected feature the derivation did not
// produce. It means the schema's relationships and feature list disagree.
type MissingFeatureError struct {
	Feature string
}

func (e *MissingFeatureError) Error() string {
	return fmt.Sprintf("derived output has no feature %q", e.Feature)
}

// SinkWriteError reports a failed warehouse append for one table.
type SinkWriteError struct {
	Table string
	Err   error
}

func (e *SinkWriteError) Error() string {
	return fmt.Sprintf("append to %s: %v", e.Table, e.Err)
}

func (e *SinkWriteError) Unwrap() error { return e.Err }

// Classify maps a pipeline error to its failure class. Bad input and
// misconfiguration are poison. Sink failures and anything unrecognized are
// transient: the sink is idempotent per message, so an unnecessary retry is
// harmless while a wrongly dropped message is not.
func Classify(err error) FailureClass {
	var malformed *MalformedRecordError
	var dangling *DanglingReferenceError
	var missing *MissingFeatureError
	switch {
	case errors.As(err, &malformed), errors.As(err, &dangling), errors.As(err, &missing):
		return FailurePoison
	default:
		return FailureTransient
	}
}
