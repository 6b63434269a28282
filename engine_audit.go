package goLink

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goLink/internal"
)

// AuditErrorCode defines a public type used by goLink APIs.
//
// AuditErrorCode instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditErrorCode string

const (
	auditErrAccountNotFound   AuditErrorCode = "account_not_found"
	auditErrNotOwner          AuditErrorCode = "not_account_owner"
	auditErrProtected         AuditErrorCode = "protected_account"
	auditErrBroadcasting      AuditErrorCode = "account_broadcasting"
	auditErrInvalidPhone      AuditErrorCode = "invalid_phone"
	auditErrInvalidCode       AuditErrorCode = "invalid_code"
	auditErrCodeExpired       AuditErrorCode = "code_expired"
	auditErrNoPending         AuditErrorCode = "no_pending_challenge"
	auditErrDuplicateRequest  AuditErrorCode = "duplicate_request"
	auditErrSignUpRequired    AuditErrorCode = "sign_up_required"
	auditErrPasswordNeeded    AuditErrorCode = "password_needed"
	auditErrPasswordInvalid   AuditErrorCode = "password_invalid"
	auditErrAttemptsExceeded  AuditErrorCode = "attempts_exceeded"
	auditErrCooldown          AuditErrorCode = "cooldown_active"
	auditErrWebLoginExpired   AuditErrorCode = "web_login_expired"
	auditErrWebLoginCancelled AuditErrorCode = "web_login_cancelled"
	auditErrSessionRevoked    AuditErrorCode = "session_revoked"
	auditErrConnectFailed     AuditErrorCode = "connect_failed"
	auditErrUserCancelled     AuditErrorCode = "user_cancelled"
	auditErrStoreUnavailable  AuditErrorCode = "store_unavailable"
	auditErrInternal          AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	owner OwnerID,
	accountID AccountID,
	phone string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		OwnerID:   int64(owner),
		AccountID: int64(accountID),
		Success:   success,
		Metadata:  metadata,
	}
	if phone != "" {
		event.Phone = internal.MaskPhone(phone)
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

// emitAlert is emitAudit for severity-critical operational events:
// revocations and protected-account violations are always surfaced to the
// sink with the alert flag set, in addition to the error return.
func (e *Engine) emitAlert(
	ctx context.Context,
	eventType string,
	owner OwnerID,
	accountID AccountID,
	phone string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		OwnerID:   int64(owner),
		AccountID: int64(accountID),
		Success:   false,
		Alert:     true,
		Metadata:  metadata,
	}
	if phone != "" {
		event.Phone = internal.MaskPhone(phone)
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	var cooldown *CooldownError
	if errors.As(err, &cooldown) {
		return auditErrCooldown
	}

	switch {
	case errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrNoActiveAccount):
		return auditErrAccountNotFound
	case errors.Is(err, ErrNotAccountOwner):
		return auditErrNotOwner
	case errors.Is(err, ErrProtectedAccount):
		return auditErrProtected
	case errors.Is(err, ErrAccountBroadcasting):
		return auditErrBroadcasting
	case errors.Is(err, ErrInvalidPhone),
		errors.Is(err, ErrPhoneInvalid):
		return auditErrInvalidPhone
	case errors.Is(err, ErrInvalidCode):
		return auditErrInvalidCode
	case errors.Is(err, ErrCodeExpired):
		return auditErrCodeExpired
	case errors.Is(err, ErrNoPendingChallenge),
		errors.Is(err, ErrNoPendingPassword),
		errors.Is(err, ErrNoPendingWebLogin):
		return auditErrNoPending
	case errors.Is(err, ErrLinkInProgress):
		return auditErrDuplicateRequest
	case errors.Is(err, ErrSignUpRequired):
		return auditErrSignUpRequired
	case errors.Is(err, ErrPasswordNeeded):
		return auditErrPasswordNeeded
	case errors.Is(err, ErrPasswordInvalid),
		errors.Is(err, ErrPasswordEmpty):
		return auditErrPasswordInvalid
	case errors.Is(err, ErrPasswordAttemptsExceeded):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrWebLoginExpired):
		return auditErrWebLoginExpired
	case errors.Is(err, ErrWebLoginCancelled):
		return auditErrWebLoginCancelled
	case errors.Is(err, ErrSessionRevoked):
		return auditErrSessionRevoked
	case errors.Is(err, ErrConnectFailed):
		return auditErrConnectFailed
	case errors.Is(err, ErrUserCancelled):
		return auditErrUserCancelled
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrStoreUnavailable
	default:
		return auditErrInternal
	}
}
