package goLink

import (
	"context"

	"go.uber.org/zap"
)

// SubmitPassword completes a pending second-factor challenge carried over
// from the code or web flow. The password is pulled through the supplied
// callback; returning an error from it cancels the sign-in without counting
// an attempt.
func (e *Engine) SubmitPassword(ctx context.Context, owner OwnerID, password PasswordFunc) (*LinkResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if password == nil {
		return nil, ErrPasswordEmpty
	}

	now := e.now()

	e.mu.Lock()
	// Cooldown first: after a lockout the challenge is gone, and the owner
	// must learn the remaining wait, not that nothing is pending.
	if remaining, active := e.ownerCooldownLocked(owner, now); active {
		e.mu.Unlock()
		return nil, &CooldownError{Remaining: remaining}
	}
	pp, ok := e.pendingPasswords[owner]
	if !ok {
		e.mu.Unlock()
		return nil, ErrNoPendingPassword
	}
	client := pp.client
	phone := pp.phone
	e.mu.Unlock()

	var cancelErr error
	guarded := func(attempt int, lastErr error) (string, error) {
		pw, err := password(attempt, lastErr)
		if err != nil {
			cancelErr = ErrUserCancelled
			return "", ErrUserCancelled
		}
		if pw == "" {
			cancelErr = ErrPasswordEmpty
			return "", ErrPasswordEmpty
		}
		return pw, nil
	}

	err := client.SignInWithPassword(ctx, guarded)
	if err != nil {
		if cancelErr != nil || Classify(err) == KindUserCancelled {
			// Explicit cancel or empty input: no attempt is counted and the
			// pending state is cleared quietly.
			e.mu.Lock()
			gone := e.dropPendingPasswordLocked(owner, true)
			e.mu.Unlock()
			if gone != nil {
				_ = gone.Disconnect()
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			e.logger.Info("password entry cancelled", ownerField(owner))
			if cancelErr != nil {
				return nil, cancelErr
			}
			return nil, ErrUserCancelled
		}
		return nil, e.handlePasswordError(ctx, owner, phone, err)
	}

	result, err := e.completeLogin(ctx, owner, phone, client)
	if err != nil {
		e.mu.Lock()
		gone := e.dropPendingPasswordLocked(owner, true)
		e.mu.Unlock()
		if gone != nil {
			_ = gone.Disconnect()
		}
		return nil, err
	}

	e.mu.Lock()
	isWeb := pp.isWebFlow
	delete(e.pendingPasswords, owner)
	if isWeb {
		if pw, ok := e.pendingWeb[owner]; ok {
			pw.state = WebLoginAuthorized
			pw.accountID = result.AccountID
		}
	}
	e.mu.Unlock()

	return result, nil
}

func (e *Engine) handlePasswordError(ctx context.Context, owner OwnerID, phone string, err error) error {
	switch Classify(err) {
	case KindInvalidPassword:
		now := e.now()
		e.mu.Lock()
		remaining := e.recordPasswordFailureLocked(owner, now)
		if remaining <= 0 {
			// Limit hit: the lockout is armed and the challenge is destroyed.
			// The owner restarts from phone entry after the cooldown.
			gone := e.dropPendingPasswordLocked(owner, true)
			cooldown, _ := e.ownerCooldownLocked(owner, now)
			e.mu.Unlock()
			if gone != nil {
				_ = gone.Disconnect()
			}
			e.metricInc(MetricPasswordLockout)
			e.emitAudit(ctx, auditEventPasswordLockout, false, owner, 0, phone, ErrPasswordAttemptsExceeded, nil)
			e.logger.Warn("password attempts exhausted",
				ownerField(owner), zap.Duration("cooldown", cooldown))
			return ErrPasswordAttemptsExceeded
		}
		e.mu.Unlock()
		e.metricInc(MetricPasswordRejected)
		e.emitAudit(ctx, auditEventPasswordRejected, false, owner, 0, phone, ErrPasswordInvalid, nil)
		return &AttemptsError{Remaining: remaining}

	case KindFloodWait:
		wait, _ := floodWait(err)
		e.mu.Lock()
		e.recordFloodWaitLocked(owner, wait, e.now())
		gone := e.dropPendingPasswordLocked(owner, true)
		e.mu.Unlock()
		if gone != nil {
			_ = gone.Disconnect()
		}
		e.metricInc(MetricFloodCooldown)
		e.emitAudit(ctx, auditEventFloodCooldown, false, owner, 0, phone, err, func() map[string]string {
			return map[string]string{"wait": wait.String()}
		})
		return &CooldownError{Remaining: wait}

	default:
		e.mu.Lock()
		gone := e.dropPendingPasswordLocked(owner, true)
		e.mu.Unlock()
		if gone != nil {
			_ = gone.Disconnect()
		}
		e.metricInc(MetricLinkFailed)
		e.emitAudit(ctx, auditEventLinkFailed, false, owner, 0, phone, err, nil)
		e.logger.Warn("password sign-in failed", ownerField(owner), errField(err))
		return ErrLinkUnavailable
	}
}

// dropPendingPasswordLocked removes the owner's second-factor challenge.
// Called with e.mu held. When disconnect is true the handle is returned so
// the caller can disconnect it after releasing the lock.
func (e *Engine) dropPendingPasswordLocked(owner OwnerID, disconnect bool) Client {
	pp, ok := e.pendingPasswords[owner]
	if !ok {
		return nil
	}
	delete(e.pendingPasswords, owner)
	if disconnect {
		return pp.client
	}
	return nil
}

// IsPasswordRequired reports whether the owner has a second-factor challenge
// waiting for SubmitPassword.
func (e *Engine) IsPasswordRequired(owner OwnerID) bool {
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.pendingPasswords[owner]
	return ok
}
