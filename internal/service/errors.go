package service

import (
	"errors"
	"fmt"

	"github.com/SinaHo/phone-auth-backend/internal/repository"
)

var (
	// ErrInvalidCredential covers every failed verification. It never says
	// whether the phone or the code was wrong.
	ErrInvalidCredential = errors.New("invalid phone or code")
	ErrInviteNotFound    = errors.New("invite code not found")
	ErrAlreadyReferred   = errors.New("referral code already used")
	ErrSelfReferral      = errors.New("cannot use your own invite code")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrUserNotFound      = errors.New("user not found")
)

// ValidationError reports a malformed request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// referralError translates store errors raised while redeeming an invite code
// and returns the metrics label for the outcome.
func referralError(err error) (string, error) {
	switch {
	case err == nil:
		return "success", nil
	case errors.Is(err, repository.ErrInviteCodeNotFound):
		return "not_found", ErrInviteNotFound
	case errors.Is(err, repository.ErrAlreadyReferred):
		return "already_referred", ErrAlreadyReferred
	case errors.Is(err, repository.ErrSelfReferral):
		return "self_referral", ErrSelfReferral
	case errors.Is(err, repository.ErrUserNotFound):
		return "user_not_found", ErrUserNotFound
	default:
		return "error", fmt.Errorf("set referral: %w", err)
	}
}
