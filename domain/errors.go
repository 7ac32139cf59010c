package domain

import "errors"

// Sentinel domain errors. Store and service layers wrap these with
// fmt.Errorf("%s: %w", op, err); callers compare with errors.Is.
var (
	ErrNotFound             = errors.New("resource not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrAgentNotFound        = errors.New("agent not found")
	ErrListingNotFound      = errors.New("listing not found")

	ErrConversationDeleted = errors.New("conversation is deleted")
	ErrNotAMember          = errors.New("user is not a member of this conversation")
	ErrBlocked             = errors.New("sender is blocked by recipient")

	ErrInvalidInput   = errors.New("invalid input")
	ErrEmptyContent   = errors.New("content cannot be empty")
	ErrStreamActive   = errors.New("a stream is already active for this conversation and agent")

	ErrAgentNotConnected = errors.New("agent is not connected")
	ErrStreamTimeout     = errors.New("timed out waiting for agent response")

	// Billing errors. Messages match the rejection reasons a client needs
	// to render verbatim.
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrPriceNotPositive    = errors.New("price must be positive")
	ErrPaymentFailed       = errors.New("payment failed")
)

// DomainError wraps a sentinel error with human-facing context and an
// optional machine-readable code for the client-facing Error frame.
type DomainError struct {
	Err     error
	Message string
	Code    string
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func NewDomainError(err error, message string) *DomainError {
	return &DomainError{Err: err, Message: message}
}

func NewDomainErrorWithCode(err error, message, code string) *DomainError {
	return &DomainError{Err: err, Message: message, Code: code}
}
