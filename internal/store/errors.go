package store

import (
	"errors"
	"fmt"
)

// DuplicateKeyError reports a reference-data load that repeated a key,
// either within the batch or against a row already stored.
type DuplicateKeyError struct {
	Table string
	Key   string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key %q in %s", e.Key, e.Table)
}

// ConstraintError reports a malformed or out-of-range field value.
type ConstraintError struct {
	Table  string
	Field  string
	Reason string
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("constraint violation on %s.%s: %s", e.Table, e.Field, e.Reason)
}

// ReferentialIntegrityError reports an incident insert whose foreign key
// does not resolve to a reference row.
type ReferentialIntegrityError struct {
	Column string
	Value  string
}

func (e *ReferentialIntegrityError) Error() string {
	return fmt.Sprintf("unresolved reference: incidents.%s = %q", e.Column, e.Value)
}

// RestrictError reports a rejected delete of a reference row that is still
// referenced by incidents. The delete is rejected, never cascaded.
type RestrictError struct {
	Table      string
	Key        string
	Dependents int64
}

func (e *RestrictError) Error() string {
	return fmt.Sprintf("cannot delete %s %q: referenced by %d incident(s)", e.Table, e.Key, e.Dependents)
}

// IsDuplicateKey reports whether err (or its chain) is a DuplicateKeyError.
func IsDuplicateKey(err error) bool {
	var e *DuplicateKeyError
	return errors.As(err, &e)
}

// IsConstraint reports whether err (or its chain) is a ConstraintError.
func IsConstraint(err error) bool {
	var e *ConstraintError
	return errors.As(err, &e)
}

// IsReferentialIntegrity reports whether err (or its chain) is a
// ReferentialIntegrityError.
func IsReferentialIntegrity(err error) bool {
	var e *ReferentialIntegrityError
	return errors.As(err, &e)
}

// IsRestrict reports whether err (or its chain) is a RestrictError.
func IsRestrict(err error) bool {
	var e *RestrictError
	return errors.As(err, &e)
}
