package goLink

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// connectAttempt is the per-account connect lock: an in-flight future that
// concurrent EnsureConnected callers await instead of dialing again. The
// underlying client is not safe for concurrent Connect, so this is a
// correctness requirement, not an optimization.
type connectAttempt struct {
	done   chan struct{}
	client Client
	err    error
}

// EnsureConnected returns a connected client handle for the account,
// dialing at most once regardless of concurrent callers. Fails with
// [ErrAccountNotFound] when no such account exists and [ErrProtectedAccount]
// when the account is the protected identity.
func (e *Engine) EnsureConnected(ctx context.Context, id AccountID) (Client, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	e.mu.Lock()
	acct, ok := e.registry.get(id)
	if !ok {
		e.mu.Unlock()
		return nil, ErrAccountNotFound
	}
	if acct.row.IsProtected {
		e.mu.Unlock()
		e.protectedViolation(ctx, "connect", acct)
		return nil, ErrProtectedAccount
	}

	// Fast path: already connected, no network call.
	if acct.connected() {
		acct.row.LastUsedAt = e.now()
		client := acct.client
		e.mu.Unlock()
		e.metricInc(MetricConnectFastPath)
		return client, nil
	}

	// A connect is already in flight: await its outcome.
	if attempt, ok := e.connectLocks[id]; ok {
		e.mu.Unlock()
		e.metricInc(MetricConnectCoalesced)
		select {
		case <-attempt.done:
			return attempt.client, attempt.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	client := acct.client
	if client == nil {
		var err error
		client, err = e.factory.NewClient(acct.row.SessionToken)
		if err != nil {
			e.mu.Unlock()
			return nil, fmt.Errorf("%w: %v", ErrConnectFailed, err)
		}
	}

	attempt := &connectAttempt{done: make(chan struct{})}
	e.connectLocks[id] = attempt
	owner := acct.row.OwnerID
	phone := acct.row.Phone
	e.mu.Unlock()

	resultClient, err := e.dial(ctx, id, owner, phone, client)

	// The lock is cleared on every path: success, failure, revocation.
	e.mu.Lock()
	attempt.client = resultClient
	attempt.err = err
	delete(e.connectLocks, id)
	if err == nil {
		acct.client = resultClient
		acct.row.LastUsedAt = e.now()
	}
	e.mu.Unlock()
	close(attempt.done)

	return resultClient, err
}

// dial performs the bounded retry loop. Revocation-class errors abort
// immediately and trigger the recovery path.
func (e *Engine) dial(ctx context.Context, id AccountID, owner OwnerID, phone string, client Client) (Client, error) {
	backoff := e.config.Connect.InitialBackoff

	var lastErr error
	for i := 1; i <= e.config.Connect.MaxAttempts; i++ {
		err := client.Connect(ctx)
		if err == nil {
			e.metricInc(MetricConnectSuccess)
			e.emitAudit(ctx, auditEventConnect, true, owner, id, phone, nil, nil)
			return client, nil
		}

		if Classify(err) == KindSessionRevoked {
			e.logger.Warn("session revoked during connect", acctField(id), errField(err))
			e.handleRevocation(ctx, id)
			return nil, fmt.Errorf("%w: %v", ErrSessionRevoked, err)
		}

		lastErr = err
		if i < e.config.Connect.MaxAttempts {
			e.metricInc(MetricConnectRetry)
			e.logger.Debug("connect attempt failed, backing off",
				acctField(id), zap.Int("attempt", i), zap.Duration("backoff", backoff), errField(err))
			if serr := e.sleep(ctx, backoff); serr != nil {
				lastErr = serr
				break
			}
			backoff *= time.Duration(e.config.Connect.BackoffFactor)
		}
	}

	e.metricInc(MetricConnectFailure)
	e.emitAudit(ctx, auditEventConnectFailed, false, owner, id, phone, ErrConnectFailed, nil)
	e.logger.Warn("connect attempts exhausted", acctField(id), errField(lastErr))
	return nil, fmt.Errorf("%w: %v", ErrConnectFailed, lastErr)
}

// GetClientAndConnect resolves the target account, either an explicit id or
// the owner's active account when id is zero, verifies ownership and the
// protected rule, then delegates to [Engine.EnsureConnected].
func (e *Engine) GetClientAndConnect(ctx context.Context, owner OwnerID, id AccountID) (Client, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	e.mu.Lock()
	acct, err := e.resolveAccountLocked(owner, id)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if acct.row.IsProtected {
		e.mu.Unlock()
		e.protectedViolation(ctx, "connect", acct)
		return nil, ErrProtectedAccount
	}
	target := acct.row.AccountID
	e.mu.Unlock()

	return e.EnsureConnected(ctx, target)
}

// Invoke ensures the target account is connected, forwards the request, and
// routes revocation-class failures through the recovery path before
// propagating them.
func (e *Engine) Invoke(ctx context.Context, owner OwnerID, id AccountID, request any) (any, error) {
	client, err := e.GetClientAndConnect(ctx, owner, id)
	if err != nil {
		return nil, err
	}

	resp, err := client.Invoke(ctx, request)
	if err != nil && Classify(err) == KindSessionRevoked {
		e.mu.Lock()
		acct, rerr := e.resolveAccountLocked(owner, id)
		var target AccountID
		if rerr == nil {
			target = acct.row.AccountID
		}
		e.mu.Unlock()
		if rerr == nil {
			e.logger.Warn("session revoked during invoke", acctField(target), errField(err))
			e.handleRevocation(ctx, target)
		}
		return nil, fmt.Errorf("%w: %v", ErrSessionRevoked, err)
	}
	return resp, err
}

// Disconnect tears down the connection handle for the owner's account (the
// active one when id is zero). Disconnecting an account that is not
// connected is a no-op.
func (e *Engine) Disconnect(ctx context.Context, owner OwnerID, id AccountID) error {
	if e == nil {
		return ErrEngineNotReady
	}

	e.mu.Lock()
	acct, err := e.resolveAccountLocked(owner, id)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	client := acct.client
	acct.client = nil
	e.mu.Unlock()

	if client != nil {
		if derr := client.Disconnect(); derr != nil {
			e.logger.Warn("disconnect failed", acctField(acct.row.AccountID), errField(derr))
		}
	}
	return nil
}

// handleRevocation is the single recovery path for revocation-class errors.
// For a normal account: disconnect, drop from the index, clear the persisted
// session token and deactivate. The row itself is kept so historical data
// survives for re-linking. For the protected account: state is never
// touched, only a critical alert is raised.
func (e *Engine) handleRevocation(ctx context.Context, id AccountID) {
	e.mu.Lock()
	acct, ok := e.registry.get(id)
	if !ok {
		e.mu.Unlock()
		return
	}

	if acct.row.IsProtected {
		e.mu.Unlock()
		e.metricInc(MetricSessionRevoked)
		e.logger.Error("protected account session revoked, manual recovery required",
			acctField(id), phoneField(acct.row.Phone))
		e.emitAlert(ctx, auditEventSessionRevoked, acct.row.OwnerID, id, acct.row.Phone,
			ErrSessionRevoked, func() map[string]string {
				return map[string]string{"protected": "true"}
			})
		return
	}

	client := acct.client
	acct.client = nil
	delete(e.connectLocks, id)
	e.registry.remove(id)
	owner := acct.row.OwnerID
	phone := acct.row.Phone
	e.mu.Unlock()

	if client != nil && client.Connected() {
		_ = client.Disconnect()
	}

	if err := e.store.ClearSession(ctx, id); err != nil {
		e.logger.Error("revocation: session clear failed", acctField(id), errField(err))
	}
	if err := e.store.SetAccountActive(ctx, id, false); err != nil {
		e.logger.Error("revocation: deactivate failed", acctField(id), errField(err))
	}

	e.metricInc(MetricSessionRevoked)
	e.logger.Warn("session revoked, account needs re-authentication",
		acctField(id), ownerField(owner), phoneField(phone))
	e.emitAlert(ctx, auditEventSessionRevoked, owner, id, phone, ErrSessionRevoked, nil)
}

// protectedViolation logs and audits an attempt to use the protected
// account. Always an operational alert in addition to the returned error.
func (e *Engine) protectedViolation(ctx context.Context, op string, acct *linkedAccount) {
	e.metricInc(MetricProtectedViolation)
	e.logger.Error("operation attempted on protected account",
		zap.String("op", op), acctField(acct.row.AccountID), phoneField(acct.row.Phone))
	e.emitAlert(ctx, auditEventProtectedViolation, acct.row.OwnerID, acct.row.AccountID,
		acct.row.Phone, ErrProtectedAccount, func() map[string]string {
			return map[string]string{"op": op}
		})
}

// resolveAccountLocked maps (owner, optional id) to an account. Called with
// e.mu held.
func (e *Engine) resolveAccountLocked(owner OwnerID, id AccountID) (*linkedAccount, error) {
	if id != 0 {
		acct, ok := e.registry.get(id)
		if !ok {
			return nil, ErrAccountNotFound
		}
		if acct.row.OwnerID != owner {
			return nil, ErrNotAccountOwner
		}
		return acct, nil
	}

	acct := e.registry.activeOf(owner)
	if acct == nil {
		return nil, ErrNoActiveAccount
	}
	return acct, nil
}
