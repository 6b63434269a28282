package goLink

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEngineNotReady is an exported constant or variable used by the link engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrAccountNotFound is an exported constant or variable used by the link engine.
	ErrAccountNotFound = errors.New("account not found")
	// ErrNoActiveAccount is an exported constant or variable used by the link engine.
	ErrNoActiveAccount = errors.New("owner has no active account")
	// ErrNotAccountOwner is an exported constant or variable used by the link engine.
	ErrNotAccountOwner = errors.New("account does not belong to owner")
	// ErrProtectedAccount is an exported constant or variable used by the link engine.
	ErrProtectedAccount = errors.New("operation not permitted on protected account")
	// ErrAccountBroadcasting is an exported constant or variable used by the link engine.
	ErrAccountBroadcasting = errors.New("account is busy broadcasting")
	// ErrInvalidPhone is an exported constant or variable used by the link engine.
	ErrInvalidPhone = errors.New("invalid phone number")
	// ErrInvalidCode is an exported constant or variable used by the link engine.
	ErrInvalidCode = errors.New("invalid confirmation code")
	// ErrCodeExpired is an exported constant or variable used by the link engine.
	ErrCodeExpired = errors.New("confirmation code expired")
	// ErrNoPendingChallenge is an exported constant or variable used by the link engine.
	ErrNoPendingChallenge = errors.New("no pending code challenge")
	// ErrLinkInProgress is an exported constant or variable used by the link engine.
	ErrLinkInProgress = errors.New("link request already in progress")
	// ErrLinkUnavailable is an exported constant or variable used by the link engine.
	ErrLinkUnavailable = errors.New("link request failed")
	// ErrSignUpRequired is an exported constant or variable used by the link engine.
	ErrSignUpRequired = errors.New("phone has no account on the remote platform")
	// ErrPasswordNeeded is an exported constant or variable used by the link engine.
	ErrPasswordNeeded = errors.New("second-factor password required")
	// ErrNoPendingPassword is an exported constant or variable used by the link engine.
	ErrNoPendingPassword = errors.New("no pending password challenge")
	// ErrPasswordEmpty is an exported constant or variable used by the link engine.
	ErrPasswordEmpty = errors.New("password must not be empty")
	// ErrPasswordInvalid is an exported constant or variable used by the link engine.
	ErrPasswordInvalid = errors.New("invalid second-factor password")
	// ErrPasswordAttemptsExceeded is an exported constant or variable used by the link engine.
	ErrPasswordAttemptsExceeded = errors.New("password attempts exceeded")
	// ErrWebLoginExpired is an exported constant or variable used by the link engine.
	ErrWebLoginExpired = errors.New("web login token expired")
	// ErrWebLoginCancelled is an exported constant or variable used by the link engine.
	ErrWebLoginCancelled = errors.New("web login cancelled")
	// ErrNoPendingWebLogin is an exported constant or variable used by the link engine.
	ErrNoPendingWebLogin = errors.New("no pending web login")
	// ErrSessionRevoked is an exported constant or variable used by the link engine.
	ErrSessionRevoked = errors.New("session revoked by remote platform")
	// ErrConnectFailed is an exported constant or variable used by the link engine.
	ErrConnectFailed = errors.New("connect failed")
	// ErrUserCancelled is an exported constant or variable used by the link engine.
	ErrUserCancelled = errors.New("login cancelled by user")
	// ErrAuthPending is an exported constant or variable used by the link engine.
	ErrAuthPending = errors.New("login token not yet authorized")
	// ErrPhoneInvalid is returned by client implementations when the remote
	// platform rejects the phone number. Distinct from ErrInvalidPhone, which
	// is the local validation failure surfaced to callers.
	ErrPhoneInvalid = errors.New("phone number rejected by remote platform")
	// ErrStoreUnavailable is an exported constant or variable used by the link engine.
	ErrStoreUnavailable = errors.New("credential store unavailable")
)

// FloodWaitError is returned by client implementations when the remote
// platform signals a flood / rate-limit condition. Wait is the mandatory
// back-off the platform demands before the operation may be repeated.
type FloodWaitError struct {
	Wait time.Duration
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("flood wait %s", e.Wait)
}

// CooldownError is returned by the Engine when an owner is under a recorded
// cooldown (platform flood wait or password lockout). Remaining is the time
// left before the owner may retry.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("cooldown active, retry in %s", e.Remaining.Round(time.Second))
}

// AttemptsError wraps ErrPasswordInvalid with the number of attempts the
// owner has left before lockout.
type AttemptsError struct {
	Remaining int
}

func (e *AttemptsError) Error() string {
	return fmt.Sprintf("invalid second-factor password, %d attempts remaining", e.Remaining)
}

func (e *AttemptsError) Unwrap() error {
	return ErrPasswordInvalid
}
