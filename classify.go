package goLink

import (
	"errors"
	"strings"
	"time"
)

// ErrorKind is the centralized taxonomy of platform errors. Every call into
// a [Client] is followed by Classify on the returned error; no call site
// inspects raw error text on its own.
type ErrorKind uint8

const (
	// KindNone is an exported constant or variable used by the link engine.
	KindNone ErrorKind = iota
	// KindInvalidPhone is an exported constant or variable used by the link engine.
	KindInvalidPhone
	// KindInvalidCode is an exported constant or variable used by the link engine.
	KindInvalidCode
	// KindCodeExpired is an exported constant or variable used by the link engine.
	KindCodeExpired
	// KindPasswordNeeded is an exported constant or variable used by the link engine.
	KindPasswordNeeded
	// KindInvalidPassword is an exported constant or variable used by the link engine.
	KindInvalidPassword
	// KindFloodWait is an exported constant or variable used by the link engine.
	KindFloodWait
	// KindSessionRevoked is an exported constant or variable used by the link engine.
	KindSessionRevoked
	// KindSignUpRequired is an exported constant or variable used by the link engine.
	KindSignUpRequired
	// KindUserCancelled is an exported constant or variable used by the link engine.
	KindUserCancelled
	// KindAuthPending is an exported constant or variable used by the link engine.
	KindAuthPending
	// KindNetwork is an exported constant or variable used by the link engine.
	KindNetwork
)

// revokedMarkers are message fragments that identify revocation-class errors
// coming out of raw transports that do not wrap ErrSessionRevoked.
var revokedMarkers = []string{
	"auth_key_duplicated",
	"duplicated-key",
	"session_revoked",
	"auth_key_unregistered",
	"unregistered",
	"user_deactivated",
}

// Classify maps an error returned by a [Client] onto the [ErrorKind]
// taxonomy. Typed errors win; a message-substring fallback catches
// revocation strings from transports that only surface text.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	var flood *FloodWaitError
	if errors.As(err, &flood) {
		return KindFloodWait
	}

	switch {
	case errors.Is(err, ErrPhoneInvalid):
		return KindInvalidPhone
	case errors.Is(err, ErrInvalidCode):
		return KindInvalidCode
	case errors.Is(err, ErrCodeExpired):
		return KindCodeExpired
	case errors.Is(err, ErrPasswordNeeded):
		return KindPasswordNeeded
	case errors.Is(err, ErrPasswordInvalid):
		return KindInvalidPassword
	case errors.Is(err, ErrSessionRevoked):
		return KindSessionRevoked
	case errors.Is(err, ErrSignUpRequired):
		return KindSignUpRequired
	case errors.Is(err, ErrUserCancelled):
		return KindUserCancelled
	case errors.Is(err, ErrAuthPending):
		return KindAuthPending
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range revokedMarkers {
		if strings.Contains(msg, marker) {
			return KindSessionRevoked
		}
	}

	return KindNetwork
}

// floodWait extracts the platform-mandated wait from a flood-class error.
// Returns zero when err is not a flood wait.
func floodWait(err error) (waitFor time.Duration, ok bool) {
	var flood *FloodWaitError
	if errors.As(err, &flood) {
		return flood.Wait, true
	}
	return 0, false
}
