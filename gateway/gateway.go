// Package gateway is the payment-rail boundary: the collection workflow
// debits barbers through one of these clients and never talks to a rail
// directly. Every implementation must honor the caller's idempotency key so a
// retried debit that already executed on the rail does not execute twice.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

type Gateway interface {
	// Debit pulls Amount from the barber's instrument into the platform's.
	// Implementations return ErrKind-tagged errors so the workflow can branch
	// on retryability without string matching.
	Debit(ctx context.Context, req DebitRequest) (*DebitResult, error)
}

type DebitRequest struct {
	// SourceInstrument is the barber's stored instrument reference: a Dwolla
	// funding source URL or a Stripe payment method id.
	SourceInstrument string
	// DestinationInstrument is the platform's receiving instrument.
	DestinationInstrument string
	Amount                decimal.Decimal
	Currency              string
	// IdempotencyKey is stable per collection attempt chain (collection id),
	// not per attempt.
	IdempotencyKey string
	Description    string
}

type DebitStatus string

const (
	// DebitCompleted means the rail settled synchronously (card).
	DebitCompleted DebitStatus = "completed"
	// DebitProcessing means the rail accepted the transfer but settlement is
	// asynchronous (ACH); a webhook delivers the final status.
	DebitProcessing DebitStatus = "processing"
)

type DebitResult struct {
	TransactionId string
	Status        DebitStatus
	ProcessingFee decimal.Decimal
	NetAmount     decimal.Decimal
}

type ErrKind int

const (
	// ErrKindValidation: the request can never succeed as-is (bad instrument,
	// unsupported currency). Not retryable.
	ErrKindValidation ErrKind = iota
	// ErrKindTransient: timeouts, rail 5xx, rate limiting. Retryable.
	ErrKindTransient
	// ErrKindDeclined: the rail processed the request and said no
	// (insufficient funds, closed account). Retryable on the collection
	// backoff schedule; funds may be available later.
	ErrKindDeclined
)

type Error struct {
	Kind    ErrKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(kind ErrKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func WrapError(kind ErrKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Retryable reports whether an error from a Gateway call may succeed on a
// later attempt. Unknown errors (network failures surfaced raw) count as
// retryable; only explicit validation errors are terminal.
func Retryable(err error) bool {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind != ErrKindValidation
	}
	return true
}

func kindForHTTPStatus(status int) ErrKind {
	switch {
	case status == 429 || status >= 500:
		return ErrKindTransient
	case status == 402:
		return ErrKindDeclined
	default:
		return ErrKindValidation
	}
}
