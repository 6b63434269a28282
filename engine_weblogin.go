package goLink

import (
	"context"
	"encoding/base64"

	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

// InitiateWebLogin starts (or returns) a QR/token login for the owner. The
// call is idempotent while the current token is live: repeated calls return
// the same QR image and deep link instead of burning a new token. A poll loop
// on the supervised runner watches for the remote confirmation.
func (e *Engine) InitiateWebLogin(ctx context.Context, owner OwnerID) (*WebLoginInfo, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	now := e.now()

	var replaced Client
	e.mu.Lock()
	if remaining, active := e.ownerCooldownLocked(owner, now); active {
		e.mu.Unlock()
		return nil, &CooldownError{Remaining: remaining}
	}
	if pw, ok := e.pendingWeb[owner]; ok {
		switch pw.state {
		case WebLoginPolling, WebLoginPasswordNeeded:
			if now.Before(pw.expiresAt) {
				info := pw.snapshot()
				e.mu.Unlock()
				return info, nil
			}
		}
		// Terminal or expired entry: replaced by a fresh token below.
		replaced = e.teardownWebLocked(owner, true)
	}
	e.mu.Unlock()
	if replaced != nil {
		_ = replaced.Disconnect()
	}

	client, err := e.factory.NewClient("")
	if err != nil {
		e.logger.Error("anonymous client construction failed", ownerField(owner), errField(err))
		return nil, ErrLinkUnavailable
	}
	if err := client.Connect(ctx); err != nil {
		_ = client.Disconnect()
		return nil, e.classifyLinkError(ctx, owner, "", err)
	}

	token, expiresAt, err := client.ExportLoginToken(ctx)
	if err != nil {
		_ = client.Disconnect()
		return nil, e.classifyLinkError(ctx, owner, "", err)
	}

	created := e.now()
	if deadline := created.Add(e.config.WebLogin.TokenTTL); expiresAt.IsZero() || expiresAt.After(deadline) {
		expiresAt = deadline
	}

	deepLink := e.config.WebLogin.DeepLinkScheme + base64.RawURLEncoding.EncodeToString(token)
	qrImage, err := qrcode.Encode(deepLink, qrcode.Medium, e.config.WebLogin.QRSize)
	if err != nil {
		_ = client.Disconnect()
		e.logger.Error("qr rendering failed", ownerField(owner), errField(err))
		return nil, ErrLinkUnavailable
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	entry := &pendingWeb{
		client:    client,
		token:     token,
		deepLink:  deepLink,
		qrImage:   qrImage,
		createdAt: created,
		expiresAt: expiresAt,
		state:     WebLoginPolling,
		cancel:    cancel,
	}

	e.mu.Lock()
	e.pendingWeb[owner] = entry
	info := entry.snapshot()
	e.mu.Unlock()

	taskName := "web_login_poll_" + uuid.NewString()
	if !e.tasks.Go(taskName, func(runCtx context.Context) error {
		// Engine close cancels the runner context; fold it into the poll
		// context so Close never waits out a live token.
		stop := context.AfterFunc(runCtx, cancel)
		defer stop()
		return e.pollWebLogin(pollCtx, owner, entry)
	}) {
		cancel()
		e.mu.Lock()
		gone := e.teardownWebLocked(owner, true)
		e.mu.Unlock()
		if gone != nil {
			_ = gone.Disconnect()
		}
		return nil, ErrEngineNotReady
	}

	e.metricInc(MetricWebLoginStarted)
	e.emitAudit(ctx, auditEventWebLoginStarted, true, owner, 0, "", nil, nil)
	e.logger.Info("web login started", ownerField(owner), zap.Time("expires_at", expiresAt))

	return info, nil
}

func (p *pendingWeb) snapshot() *WebLoginInfo {
	return &WebLoginInfo{
		State:     p.state,
		QRImage:   p.qrImage,
		DeepLink:  p.deepLink,
		ExpiresAt: p.expiresAt,
		AccountID: p.accountID,
	}
}

// pollWebLogin drives one QR login to a terminal state. It runs on the
// supervised runner; entry state transitions happen under e.mu.
func (e *Engine) pollWebLogin(ctx context.Context, owner OwnerID, entry *pendingWeb) error {
	ticks := 0
	for {
		if err := e.sleep(ctx, e.config.WebLogin.PollInterval); err != nil {
			// Cooperative cancel via CancelWebLogin or engine close.
			e.finishWebLogin(owner, entry, WebLoginCancelled, true)
			return nil
		}
		ticks++
		e.metricInc(MetricWebLoginTicks)

		if !e.now().Before(entry.expiresAt) {
			e.finishWebLogin(owner, entry, WebLoginExpired, true)
			e.metricInc(MetricWebLoginExpired)
			e.emitAudit(ctx, auditEventWebLoginExpired, false, owner, 0, "", ErrWebLoginExpired, nil)
			e.logger.Info("web login expired", ownerField(owner))
			return nil
		}

		identity, err := entry.client.Identity(ctx)
		if err == nil && identity != nil {
			result, cerr := e.completeLogin(ctx, owner, identity.Phone, entry.client)
			if cerr != nil {
				e.finishWebLogin(owner, entry, WebLoginExpired, true)
				return cerr
			}
			e.mu.Lock()
			entry.state = WebLoginAuthorized
			entry.accountID = result.AccountID
			e.mu.Unlock()
			if entry.cancel != nil {
				entry.cancel()
			}
			e.metricInc(MetricWebLoginAuthorized)
			e.logger.Info("web login authorized", ownerField(owner), acctField(result.AccountID))
			return nil
		}

		switch Classify(err) {
		case KindAuthPending:
			continue

		case KindPasswordNeeded:
			// The handle moves to the password challenge; polling stops but
			// the web entry stays visible so status calls can report it.
			e.mu.Lock()
			entry.state = WebLoginPasswordNeeded
			e.pendingPasswords[owner] = &pendingPassword{
				phone:     "",
				client:    entry.client,
				createdAt: e.now(),
				isWebFlow: true,
			}
			e.mu.Unlock()
			if entry.cancel != nil {
				entry.cancel()
			}
			e.metricInc(MetricPasswordRequired)
			e.emitAudit(ctx, auditEventPasswordRequired, true, owner, 0, "", nil, nil)
			return nil

		case KindFloodWait:
			wait, _ := floodWait(err)
			e.mu.Lock()
			e.recordFloodWaitLocked(owner, wait, e.now())
			e.mu.Unlock()
			e.finishWebLogin(owner, entry, WebLoginExpired, true)
			e.metricInc(MetricFloodCooldown)
			return nil

		default:
			// Transient: keep polling until the token expires, with throttled
			// logging so a flapping transport does not flood the log.
			if ticks%e.config.WebLogin.LogEveryNTicks == 0 {
				e.logger.Warn("web login poll error",
					ownerField(owner), zap.Int("ticks", ticks), errField(err))
			}
		}
	}
}

// finishWebLogin moves the entry to a terminal state, releases its poll
// context, and optionally disconnects its handle. The entry stays in the map
// so CheckWebLoginStatus can report the terminal state once; InitiateWebLogin
// replaces it.
func (e *Engine) finishWebLogin(owner OwnerID, entry *pendingWeb, state WebLoginState, disconnect bool) {
	e.mu.Lock()
	entry.state = state
	e.mu.Unlock()
	if entry.cancel != nil {
		entry.cancel()
	}
	if disconnect {
		_ = entry.client.Disconnect()
	}
}

// teardownWebLocked removes the owner's web entry, stopping its poll loop.
// Called with e.mu held; the returned handle, if any, must be disconnected
// by the caller after releasing the lock.
func (e *Engine) teardownWebLocked(owner OwnerID, disconnect bool) Client {
	pw, ok := e.pendingWeb[owner]
	if !ok {
		return nil
	}
	delete(e.pendingWeb, owner)
	if pw.cancel != nil {
		pw.cancel()
	}
	if disconnect && pw.state != WebLoginAuthorized && pw.state != WebLoginPasswordNeeded {
		return pw.client
	}
	return nil
}

// CancelWebLogin cooperatively stops the owner's QR login. The poll loop
// observes the cancel on its next tick.
func (e *Engine) CancelWebLogin(ctx context.Context, owner OwnerID) error {
	if e == nil {
		return ErrEngineNotReady
	}

	e.mu.Lock()
	pw, ok := e.pendingWeb[owner]
	if !ok {
		e.mu.Unlock()
		return ErrNoPendingWebLogin
	}
	switch pw.state {
	case WebLoginPolling, WebLoginPasswordNeeded:
	default:
		e.mu.Unlock()
		return ErrNoPendingWebLogin
	}
	if pw.state == WebLoginPasswordNeeded {
		e.dropPendingPasswordLocked(owner, false)
	}
	pw.state = WebLoginCancelled
	if pw.cancel != nil {
		pw.cancel()
	}
	e.mu.Unlock()
	_ = pw.client.Disconnect()

	e.metricInc(MetricWebLoginCancelled)
	e.emitAudit(ctx, auditEventWebLoginCancelled, true, owner, 0, "", nil, nil)
	e.logger.Info("web login cancelled", ownerField(owner))
	return nil
}

// CheckWebLoginStatus reports the current state of the owner's QR login.
func (e *Engine) CheckWebLoginStatus(owner OwnerID) (*WebLoginInfo, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	pw, ok := e.pendingWeb[owner]
	if !ok {
		return nil, ErrNoPendingWebLogin
	}
	if pw.state == WebLoginPolling && !e.now().Before(pw.expiresAt) {
		pw.state = WebLoginExpired
	}
	return pw.snapshot(), nil
}
