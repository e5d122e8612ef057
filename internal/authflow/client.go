package authflow

import (
	"context"
	"errors"

	"taoo-rewards/internal/models"
)

var (
	ErrIncompletePhone = errors.New("phone number must have 12 digits")
	ErrIncompleteCode  = errors.New("enter all 4 digits of the code")
	ErrInvalidCode     = errors.New("invalid code")
	ErrNameRequired    = errors.New("first and last name are required")
	ErrCooldown        = errors.New("resend not available yet")
	ErrWrongStep       = errors.New("action not available at this step")
	ErrBusy            = errors.New("a request is already in flight")
	// ErrStale is returned when a completion arrives after the flow was
	// cancelled or moved on; the result is discarded.
	ErrStale = errors.New("stale response discarded")
)

// FieldError ties a validation failure to the input that caused it.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Err.Error()
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

type SendResult struct {
	Existing bool `json:"existing"`
}

// VerifyResult carries the user for a returning account, or NeedsProfile
// for a first-time registrant.
type VerifyResult struct {
	User         *models.User
	NeedsProfile bool
}

// AuthClient is the backend the flow talks to. Implementations must honor
// ctx cancellation and report a wrong code as ErrInvalidCode.
type AuthClient interface {
	SendCode(ctx context.Context, phone string) (SendResult, error)
	VerifyCode(ctx context.Context, phone, code string) (VerifyResult, error)
	Register(ctx context.Context, phone, firstName, lastName string) (*models.User, error)
}
