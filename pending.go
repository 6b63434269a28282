package goLink

import (
	"context"
	"time"
)

// pendingCode is an in-flight code challenge, keyed by owner. The client
// handle is live and mid-handshake; it must not be disconnected until the
// challenge is consumed, expired, or evicted.
type pendingCode struct {
	phone       string
	challengeID string
	client      Client
	createdAt   time.Time
}

// pendingPassword is an in-flight second-factor challenge. The client handle
// is carried over from the code or web flow mid-handshake.
type pendingPassword struct {
	phone     string
	client    Client
	createdAt time.Time
	isWebFlow bool
	notified  bool
}

// pendingWeb is an in-flight QR/token login with its poll loop.
type pendingWeb struct {
	client    Client
	token     []byte
	deepLink  string
	qrImage   []byte
	createdAt time.Time
	expiresAt time.Time

	state     WebLoginState
	accountID AccountID
	cancel    context.CancelFunc
}

// evictStalePending removes code challenges past the GC horizon or with a
// disconnected handle. Called with e.mu held. Returns the evicted owners and
// their handles so callers outside the lock can disconnect them and clean up
// the durable mirrors.
func (e *Engine) evictStalePending(now time.Time) (evicted []OwnerID, stale []Client) {
	horizon := e.config.Link.PendingGCHorizon
	for owner, pc := range e.pendingCodes {
		if now.Sub(pc.createdAt) > horizon || !pc.client.Connected() {
			delete(e.pendingCodes, owner)
			evicted = append(evicted, owner)
			stale = append(stale, pc.client)
		}
	}
	return evicted, stale
}

// dropPendingCodeLocked removes the owner's code challenge. Called with
// e.mu held. When disconnect is true (false when the handle moved into a
// password challenge) the handle is returned so the caller can disconnect
// it after releasing the lock.
func (e *Engine) dropPendingCodeLocked(owner OwnerID, disconnect bool) Client {
	pc, ok := e.pendingCodes[owner]
	if !ok {
		return nil
	}
	delete(e.pendingCodes, owner)
	if disconnect {
		return pc.client
	}
	return nil
}

// clearPendingMirror deletes the durable challenge mirror. Best effort: a
// failure is logged, never surfaced.
func (e *Engine) clearPendingMirror(ctx context.Context, owner OwnerID) {
	if err := e.store.DeletePendingChallenge(ctx, owner); err != nil {
		e.logger.Warn("pending challenge mirror delete failed",
			ownerField(owner), errField(err))
	}
}
