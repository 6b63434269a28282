package goLink

import (
	"context"
	"regexp"

	"go.uber.org/zap"

	"github.com/MrEthical07/goLink/internal"
)

var codePattern = regexp.MustCompile(`^\d{5}$`)

// InitiateLink starts a code login for the owner: normalizes the phone,
// opens a fresh anonymous client, and requests a code challenge from the
// platform. The pending challenge is mirrored best-effort to the credential
// store so a restarted process can report it.
func (e *Engine) InitiateLink(ctx context.Context, owner OwnerID, rawPhone string) (*LinkStart, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	phone, err := internal.NormalizePhone(rawPhone)
	if err != nil {
		e.metricInc(MetricLinkFailed)
		return nil, ErrInvalidPhone
	}

	now := e.now()

	e.mu.Lock()
	if remaining, active := e.ownerCooldownLocked(owner, now); active {
		e.mu.Unlock()
		e.metricInc(MetricFloodCooldown)
		return nil, &CooldownError{Remaining: remaining}
	}
	if pc, ok := e.pendingCodes[owner]; ok && now.Sub(pc.createdAt) < e.config.Link.DuplicateGuard {
		e.mu.Unlock()
		e.metricInc(MetricLinkDuplicate)
		return nil, ErrLinkInProgress
	}

	// Respect the pending-map bound before adding a new entry.
	var (
		evicted []OwnerID
		stale   []Client
	)
	if len(e.pendingCodes) >= e.config.Link.MaxPending {
		evicted, stale = e.evictStalePending(now)
		if len(e.pendingCodes) >= e.config.Link.MaxPending {
			e.mu.Unlock()
			for _, c := range stale {
				_ = c.Disconnect()
			}
			for _, ev := range evicted {
				e.clearPendingMirror(ctx, ev)
			}
			e.logger.Warn("pending challenge map full", ownerField(owner))
			return nil, ErrLinkUnavailable
		}
	}
	// A stale (past the duplicate guard) challenge for this owner is
	// replaced outright, as is any abandoned password challenge.
	if gone := e.dropPendingCodeLocked(owner, true); gone != nil {
		stale = append(stale, gone)
	}
	if gone := e.dropPendingPasswordLocked(owner, true); gone != nil {
		stale = append(stale, gone)
	}
	e.mu.Unlock()

	for _, c := range stale {
		_ = c.Disconnect()
	}
	for _, ev := range evicted {
		e.metricInc(MetricPendingEvicted)
		e.clearPendingMirror(ctx, ev)
	}

	client, err := e.factory.NewClient("")
	if err != nil {
		e.metricInc(MetricLinkFailed)
		e.logger.Error("anonymous client construction failed", ownerField(owner), errField(err))
		return nil, ErrLinkUnavailable
	}

	if err := client.Connect(ctx); err != nil {
		_ = client.Disconnect()
		return nil, e.classifyLinkError(ctx, owner, phone, err)
	}

	challengeID, err := client.SendCode(ctx, phone)
	if err != nil {
		_ = client.Disconnect()
		return nil, e.classifyLinkError(ctx, owner, phone, err)
	}

	created := e.now()
	e.mu.Lock()
	e.pendingCodes[owner] = &pendingCode{
		phone:       phone,
		challengeID: challengeID,
		client:      client,
		createdAt:   created,
	}
	// A fresh code phase resets the password lockout counter.
	e.resetPasswordAttemptsLocked(owner)
	e.mu.Unlock()

	// Durable mirror is best effort: a store failure must not fail the link.
	if err := e.store.SavePendingChallenge(ctx, PendingChallengeRow{
		OwnerID:     owner,
		Phone:       phone,
		ChallengeID: challengeID,
		CreatedAt:   created,
	}); err != nil {
		e.logger.Warn("pending challenge mirror save failed", ownerField(owner), errField(err))
	}

	e.metricInc(MetricLinkStarted)
	e.emitAudit(ctx, auditEventLinkStarted, true, owner, 0, phone, nil, nil)
	e.logger.Info("code challenge issued", ownerField(owner), phoneField(phone))

	return &LinkStart{Phone: phone, ChallengeID: challengeID}, nil
}

// classifyLinkError maps a platform failure during InitiateLink onto the
// caller-safe error set. Raw platform text is logged, never returned.
func (e *Engine) classifyLinkError(ctx context.Context, owner OwnerID, phone string, err error) error {
	switch Classify(err) {
	case KindFloodWait:
		wait, _ := floodWait(err)
		e.mu.Lock()
		e.recordFloodWaitLocked(owner, wait, e.now())
		e.mu.Unlock()
		e.metricInc(MetricFloodCooldown)
		e.emitAudit(ctx, auditEventFloodCooldown, false, owner, 0, phone, err, func() map[string]string {
			return map[string]string{"wait": wait.String()}
		})
		e.logger.Warn("platform flood wait during link", ownerField(owner), zap.Duration("wait", wait))
		return &CooldownError{Remaining: wait}
	case KindInvalidPhone:
		e.metricInc(MetricLinkFailed)
		e.logger.Info("platform rejected phone", ownerField(owner), phoneField(phone))
		return ErrInvalidPhone
	default:
		e.metricInc(MetricLinkFailed)
		e.emitAudit(ctx, auditEventLinkFailed, false, owner, 0, phone, err, nil)
		e.logger.Warn("code challenge request failed", ownerField(owner), phoneField(phone), errField(err))
		return ErrLinkUnavailable
	}
}

// SubmitCode completes (or advances) a pending code challenge. A wrong code
// keeps the challenge alive for another try; expiry and terminal platform
// errors destroy it.
func (e *Engine) SubmitCode(ctx context.Context, owner OwnerID, rawCode string) (*LinkResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	if !codePattern.MatchString(rawCode) {
		e.metricInc(MetricCodeRejected)
		return nil, ErrInvalidCode
	}

	now := e.now()

	e.mu.Lock()
	pc, ok := e.pendingCodes[owner]
	if !ok {
		e.mu.Unlock()
		return nil, ErrNoPendingChallenge
	}
	if now.Sub(pc.createdAt) > e.config.Link.CodeTTL {
		gone := e.dropPendingCodeLocked(owner, true)
		e.mu.Unlock()
		if gone != nil {
			_ = gone.Disconnect()
		}
		e.clearPendingMirror(ctx, owner)
		e.metricInc(MetricCodeExpired)
		return nil, ErrCodeExpired
	}
	client := pc.client
	phone := pc.phone
	challengeID := pc.challengeID
	e.mu.Unlock()

	err := client.SignIn(ctx, phone, challengeID, rawCode)
	if err != nil {
		if Classify(err) == KindPasswordNeeded {
			// Mid-handshake: the client handle moves to the password
			// challenge and stays connected.
			e.mu.Lock()
			if pc := e.pendingCodes[owner]; pc != nil {
				e.pendingPasswords[owner] = &pendingPassword{
					phone:     pc.phone,
					client:    pc.client,
					createdAt: e.now(),
				}
				e.dropPendingCodeLocked(owner, false)
			}
			e.mu.Unlock()
			e.clearPendingMirror(ctx, owner)
			e.metricInc(MetricPasswordRequired)
			e.emitAudit(ctx, auditEventPasswordRequired, true, owner, 0, phone, nil, nil)
			return &LinkResult{PasswordNeeded: true}, nil
		}
		return nil, e.handleSignInError(ctx, owner, phone, err)
	}

	result, err := e.completeLogin(ctx, owner, phone, client)
	if err != nil {
		// The code is consumed; the challenge cannot be retried.
		e.destroyPendingCode(ctx, owner)
		return nil, err
	}

	e.mu.Lock()
	// The handle now belongs to the linked account; do not disconnect it.
	e.dropPendingCodeLocked(owner, false)
	e.mu.Unlock()
	e.clearPendingMirror(ctx, owner)

	return result, nil
}

// handleSignInError dispatches the failure outcomes of a code sign-in. The
// password-needed transition is not an error and is handled by SubmitCode
// itself.
func (e *Engine) handleSignInError(ctx context.Context, owner OwnerID, phone string, err error) error {
	switch Classify(err) {
	case KindSignUpRequired:
		// Terminal: the phone has no account on the remote platform.
		e.destroyPendingCode(ctx, owner)
		e.metricInc(MetricLinkFailed)
		e.emitAudit(ctx, auditEventLinkFailed, false, owner, 0, phone, ErrSignUpRequired, nil)
		return ErrSignUpRequired

	case KindInvalidCode:
		// Deliberate: the challenge survives a wrong guess. Only expiry and
		// terminal platform errors destroy it.
		e.metricInc(MetricCodeRejected)
		e.emitAudit(ctx, auditEventCodeRejected, false, owner, 0, phone, ErrInvalidCode, nil)
		return ErrInvalidCode

	case KindCodeExpired:
		e.destroyPendingCode(ctx, owner)
		e.metricInc(MetricCodeExpired)
		return ErrCodeExpired

	case KindFloodWait:
		wait, _ := floodWait(err)
		e.destroyPendingCode(ctx, owner)
		e.mu.Lock()
		e.recordFloodWaitLocked(owner, wait, e.now())
		e.mu.Unlock()
		e.metricInc(MetricFloodCooldown)
		e.emitAudit(ctx, auditEventFloodCooldown, false, owner, 0, phone, err, func() map[string]string {
			return map[string]string{"wait": wait.String()}
		})
		return &CooldownError{Remaining: wait}

	default:
		e.destroyPendingCode(ctx, owner)
		e.metricInc(MetricLinkFailed)
		e.emitAudit(ctx, auditEventLinkFailed, false, owner, 0, phone, err, nil)
		e.logger.Warn("sign-in failed", ownerField(owner), phoneField(phone), errField(err))
		return ErrLinkUnavailable
	}
}

func (e *Engine) destroyPendingCode(ctx context.Context, owner OwnerID) {
	e.mu.Lock()
	gone := e.dropPendingCodeLocked(owner, true)
	e.mu.Unlock()
	if gone != nil {
		_ = gone.Disconnect()
	}
	e.clearPendingMirror(ctx, owner)
}

// completeLogin serializes the authorized session, persists the account, and
// schedules post-link setup. Shared by the code, password, and web flows.
func (e *Engine) completeLogin(ctx context.Context, owner OwnerID, phone string, client Client) (*LinkResult, error) {
	token, err := client.SaveSession()
	if err != nil {
		e.metricInc(MetricLinkFailed)
		e.logger.Error("session serialization failed", ownerField(owner), phoneField(phone), errField(err))
		return nil, ErrLinkUnavailable
	}

	displayName := ""
	if identity, ierr := client.Identity(ctx); ierr == nil && identity != nil {
		displayName = identity.DisplayName
		if identity.Phone != "" {
			phone = identity.Phone
		}
	}

	result, err := e.persistAccount(ctx, owner, phone, token, client, displayName)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.resetPasswordAttemptsLocked(owner)
	e.mu.Unlock()

	e.schedulePostLink(result.AccountID, client)

	e.metricInc(MetricLinkSucceeded)
	e.emitAudit(ctx, auditEventLinkSucceeded, true, owner, result.AccountID, phone, nil, nil)
	e.logger.Info("account linked", ownerField(owner), acctField(result.AccountID), phoneField(phone))

	return result, nil
}

// schedulePostLink hands the post-link setup (profile tagging, channel join,
// group enumeration) to the supervised runner. Failures are logged and
// audited, never returned to the login caller.
func (e *Engine) schedulePostLink(id AccountID, client Client) {
	if e.postLink == nil {
		return
	}

	e.mu.Lock()
	acct, ok := e.registry.get(id)
	var info AccountInfo
	if ok {
		info = acct.info()
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	e.tasks.Go("post_link", func(ctx context.Context) error {
		if err := e.postLink(ctx, info, client); err != nil {
			e.metricInc(MetricPostLinkFailed)
			e.emitAudit(ctx, auditEventPostLinkFailed, false, info.OwnerID, info.AccountID, info.Phone, err, nil)
			return err
		}
		return nil
	})
}

// RestorePendingChallenge reports a code challenge that was in flight before
// a restart, from the durable mirror. The live client handle cannot be
// restored; callers use this to tell the owner to restart from phone entry
// when the mirror is stale, or to surface continuity when it is fresh.
func (e *Engine) RestorePendingChallenge(ctx context.Context, owner OwnerID) (*PendingChallengeRow, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	row, err := e.store.LoadPendingChallenge(ctx, owner)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrNoPendingChallenge
	}
	if e.now().Sub(row.CreatedAt) > e.config.Link.CodeTTL {
		e.clearPendingMirror(ctx, owner)
		return nil, ErrCodeExpired
	}
	return row, nil
}

func (e *Engine) pendingCodeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pendingCodes)
}
