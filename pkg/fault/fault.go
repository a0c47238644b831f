// Package fault defines the structured error surface of the guard engine.
// Business-rule guard failures are never expressed as errors; they travel as
// CheckResult data. Errors here cover structural failures only: missing
// records, lost transition races, settlement faults, unreadable history.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for callers that switch on error category.
type Kind string

const (
	// KindPolicyViolation: a blocking guard failed; carries guard id + reason.
	KindPolicyViolation Kind = "policy_violation"
	// KindMissingConfiguration: a guard is enabled but lacks required config.
	// Non-fatal at evaluation time; surfaced so operators can repair the rule.
	KindMissingConfiguration Kind = "missing_configuration"
	// KindConflict: a concurrent caller already advanced the intent. The loser
	// must re-fetch state, not retry blindly.
	KindConflict Kind = "concurrent_transition_conflict"
	// KindSettlementFailure: the external settlement collaborator failed.
	KindSettlementFailure Kind = "settlement_failure"
	// KindNotFound: referenced intent, guard, agent, or ledger entry is absent.
	KindNotFound Kind = "not_found"
	// KindHistoryUnavailable: transaction history could not be read, so the
	// evaluation as a whole fails rather than treating missing data as zero.
	KindHistoryUnavailable Kind = "history_unavailable"
)

// Error is a typed failure with an optional wrapped cause.
type Error struct {
	Kind    Kind
	GuardID string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches two faults by kind, so callers can use errors.Is with a bare
// kind sentinel such as fault.Conflict("").
func (e *Error) Is(target error) bool {
	var fe *Error
	if errors.As(target, &fe) {
		return e.Kind == fe.Kind
	}
	return false
}

// New builds a fault of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a fault wrapping an underlying cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// NotFound reports a missing entity.
func NotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %q not found", entity, id)}
}

// Conflict reports a lost transition race on an intent.
func Conflict(intentID string) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf("intent %q was advanced by a concurrent caller", intentID)}
}

// PolicyViolation reports a blocking guard failure.
func PolicyViolation(guardID, reason string) *Error {
	return &Error{Kind: KindPolicyViolation, GuardID: guardID, Message: reason}
}

// KindOf extracts the kind of err, or "" when err is not a fault.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsKind reports whether err is a fault of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
