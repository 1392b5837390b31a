package debate

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrActionNotAllowed = errors.New("action not allowed")
	ErrContentTooLarge  = errors.New("content too large")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrStoreBusy        = errors.New("store busy")
)

const (
	CodeNotFound         = "NOT_FOUND"
	CodeDebateNotFound   = "DEBATE_NOT_FOUND"
	CodeArgumentNotFound = "ARGUMENT_NOT_FOUND"
	CodeInvalidInput     = "INVALID_INPUT"
	CodeActionNotAllowed = "ACTION_NOT_ALLOWED"
	CodeContentTooLarge  = "CONTENT_TOO_LARGE"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeStoreBusy        = "STORE_BUSY"
	CodeInternal         = "INTERNAL_ERROR"
)

// Error is a caller-facing failure. Kind is one of the sentinel errors above
// so callers can branch with errors.Is.
type Error struct {
	Kind       error
	Code       string
	Message    string
	Suggestion string
	Fields     map[string]any
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

// Payload renders the flat error body: code, message, optional suggestion and
// any structured context fields side by side.
func (e *Error) Payload() map[string]any {
	payload := map[string]any{
		"code":    e.Code,
		"message": e.Message,
	}
	if e.Suggestion != "" {
		payload["suggestion"] = e.Suggestion
	}
	for key, value := range e.Fields {
		if _, reserved := payload[key]; reserved {
			continue
		}
		payload[key] = value
	}
	return payload
}

func debateNotFound(debateID string) *Error {
	return &Error{
		Kind:    ErrNotFound,
		Code:    CodeDebateNotFound,
		Message: fmt.Sprintf("Debate %s not found", debateID),
		Fields:  map[string]any{"debate_id": debateID},
	}
}

func argumentNotFound(argumentID string) *Error {
	return &Error{
		Kind:    ErrNotFound,
		Code:    CodeArgumentNotFound,
		Message: fmt.Sprintf("Argument %s not found", argumentID),
		Fields:  map[string]any{"argument_id": argumentID},
	}
}

func invalidInput(format string, args ...any) *Error {
	return &Error{
		Kind:    ErrInvalidInput,
		Code:    CodeInvalidInput,
		Message: fmt.Sprintf(format, args...),
	}
}

func actionNotAllowed(state State, role Role, action Action) *Error {
	roles := AllowedRoles(state)
	return &Error{
		Kind:       ErrActionNotAllowed,
		Code:       CodeActionNotAllowed,
		Message:    fmt.Sprintf("Role '%s' cannot perform '%s' in state '%s'", role, action, state),
		Suggestion: suggestionFor(state, roles),
		Fields: map[string]any{
			"current_state": state,
			"allowed_roles": roles,
		},
	}
}

func contentTooLarge(maxLength int) *Error {
	return &Error{
		Kind:    ErrContentTooLarge,
		Code:    CodeContentTooLarge,
		Message: fmt.Sprintf("Content exceeds maximum length of %d characters", maxLength),
		Fields:  map[string]any{"max_length": maxLength},
	}
}

func storeBusy() *Error {
	return &Error{
		Kind:    ErrStoreBusy,
		Code:    CodeStoreBusy,
		Message: "Debate store is temporarily unavailable, retry shortly",
	}
}

// Unauthorized is raised at the transport boundary.
func Unauthorized(message string) *Error {
	if message == "" {
		message = "Unauthorized"
	}
	return &Error{Kind: ErrUnauthorized, Code: CodeUnauthorized, Message: message}
}

// InvalidInput lets the transport layer report request-shape failures with
// the same code the service uses.
func InvalidInput(message string) *Error {
	return invalidInput("%s", message)
}

func suggestionFor(state State, roles []Role) string {
	if state == StateClosed || len(roles) == 0 {
		return "This debate is closed"
	}
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, string(role))
	}
	return "Wait for " + strings.Join(names, " or ") + " to submit"
}
