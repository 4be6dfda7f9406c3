package types

import (
	"errors"
	"fmt"
)

// ErrorCode identifies the failure class returned to clients. Codes are
// part of the wire protocol: clients branch on them, so values are stable.
type ErrorCode string

const (
	CodeValidation             ErrorCode = "validation"
	CodeVersionConflict        ErrorCode = "version_conflict"
	CodeNotFound               ErrorCode = "not_found"
	CodeAccessDenied           ErrorCode = "access_denied"
	CodeInvalidStateTransition ErrorCode = "invalid_state_transition"
	CodeUnknownMessageType     ErrorCode = "unknown_message_type"
	CodeInternal               ErrorCode = "internal"
)

// FieldViolation describes one failed validation check
type FieldViolation struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// Error is the coded error carried across the handler boundary. Details
// holds code-specific payloads: field violations for validation errors,
// the current version and snapshot for version conflicts, the from/to
// pair for state transition errors.
type Error struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewValidationError wraps a list of field violations
func NewValidationError(violations []FieldViolation) *Error {
	return &Error{
		Code:    CodeValidation,
		Message: "payload failed validation",
		Details: map[string]any{"violations": violations},
	}
}

// NewVersionConflict reports a failed compare-and-swap. The current
// snapshot lets the loser rebase without a follow-up read.
func NewVersionConflict(currentVersion int64, snapshot any) *Error {
	return &Error{
		Code:    CodeVersionConflict,
		Message: fmt.Sprintf("expected_version does not match current version %d", currentVersion),
		Details: map[string]any{
			"current_version":  currentVersion,
			"current_snapshot": snapshot,
		},
	}
}

// NewNotFound reports a missing entity
func NewNotFound(entityType EntityType, id string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s %s not found", entityType, id),
		Details: map[string]any{"entity_type": entityType, "id": id},
	}
}

// NewAccessDenied reports an authorization failure. The message is
// deliberately uniform: it must not reveal whether the target exists.
func NewAccessDenied() *Error {
	return &Error{
		Code:    CodeAccessDenied,
		Message: "access denied",
	}
}

// NewInvalidStateTransition reports an illegal sprint status change
func NewInvalidStateTransition(from, to SprintStatus) *Error {
	return &Error{
		Code:    CodeInvalidStateTransition,
		Message: fmt.Sprintf("cannot transition sprint from %s to %s", from, to),
		Details: map[string]any{"from": from, "to": to},
	}
}

// NewUnknownMessageType reports an unroutable message type tag
func NewUnknownMessageType(tag string) *Error {
	return &Error{
		Code:    CodeUnknownMessageType,
		Message: fmt.Sprintf("unknown message type: %s", tag),
		Details: map[string]any{"type": tag},
	}
}

// NewInternal wraps an unexpected failure. The underlying error is for
// the server log only and never crosses the wire.
func NewInternal() *Error {
	return &Error{
		Code:    CodeInternal,
		Message: "internal error",
	}
}

// AsCoded extracts a coded error, or nil if err carries no code
func AsCoded(err error) *Error {
	var coded *Error
	if errors.As(err, &coded) {
		return coded
	}
	return nil
}

// CodeOf returns the error's code, mapping uncoded errors to internal
func CodeOf(err error) ErrorCode {
	if coded := AsCoded(err); coded != nil {
		return coded.Code
	}
	return CodeInternal
}
