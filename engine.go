package goLink

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/goLink/internal"
)

// Engine defines a public type used by goLink APIs.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Engine struct {
	config       Config
	store        CredentialStore
	factory      ClientFactory
	logger       *zap.Logger
	audit        *auditDispatcher
	metrics      *Metrics
	tasks        *taskRunner
	postLink     PostLinkFunc
	broadcasting BroadcastChecker

	// mu guards the registry, the pending maps, the cooldown maps, and the
	// connect-lock map. No network call happens while it is held.
	mu               sync.Mutex
	registry         *accountRegistry
	pendingCodes     map[OwnerID]*pendingCode
	pendingPasswords map[OwnerID]*pendingPassword
	pendingWeb       map[OwnerID]*pendingWeb
	passwordState    map[OwnerID]*passwordAttempts
	floodState       map[OwnerID]*floodCooldown
	connectLocks     map[AccountID]*connectAttempt

	// now and sleep are indirected so tests can simulate clocks and skip
	// real backoff delays. Production always uses the defaults.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Close stops background tasks, drains the audit dispatcher, and
// disconnects every live client handle. The engine is unusable afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.tasks != nil {
		e.tasks.Close()
	}

	e.mu.Lock()
	var handles []Client
	for owner, pc := range e.pendingCodes {
		handles = append(handles, pc.client)
		delete(e.pendingCodes, owner)
	}
	for owner, pp := range e.pendingPasswords {
		handles = append(handles, pp.client)
		delete(e.pendingPasswords, owner)
	}
	for owner, pw := range e.pendingWeb {
		if pw.cancel != nil {
			pw.cancel()
		}
		handles = append(handles, pw.client)
		delete(e.pendingWeb, owner)
	}
	for _, acct := range e.registry.byID {
		if acct.client != nil {
			handles = append(handles, acct.client)
			acct.client = nil
		}
	}
	e.mu.Unlock()

	for _, h := range handles {
		_ = h.Disconnect()
	}

	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// TaskFailures reports how many supervised background tasks failed or
// panicked since the engine was built.
func (e *Engine) TaskFailures() uint64 {
	if e == nil || e.tasks == nil {
		return 0
	}
	return e.tasks.Failures()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot may return an error when input validation, dependency calls, or security checks fail.
// MetricsSnapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Reload rebuilds the in-memory index from the credential store. The store
// is the single source of truth: existing in-memory entries are discarded,
// live connection handles for accounts that survive the reload are carried
// over. Duplicate-active anomalies are repaired: extras are deactivated, and
// an owner with no active account gets the first by insertion order.
func (e *Engine) Reload(ctx context.Context) error {
	if e == nil {
		return ErrEngineNotReady
	}

	rows, err := e.store.LoadAccounts(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	oldClients := make(map[AccountID]Client, len(e.registry.byID))
	for id, acct := range e.registry.byID {
		if acct.client != nil {
			oldClients[id] = acct.client
		}
	}
	e.registry.reset()

	type repair struct {
		id     AccountID
		active bool
	}
	var repairs []repair

	seen := make(map[OwnerID]bool)
	for _, row := range rows {
		acct := &linkedAccount{row: row}
		if !row.IsProtected {
			acct.client = oldClients[row.AccountID]
		}
		if row.IsActive {
			if seen[row.OwnerID] {
				// Duplicate active: deactivate the later one.
				acct.row.IsActive = false
				repairs = append(repairs, repair{id: row.AccountID, active: false})
			}
			seen[row.OwnerID] = true
		}
		e.registry.add(acct)
	}

	for owner, accts := range e.registry.byOwner {
		if !seen[owner] && len(accts) > 0 {
			accts[0].row.IsActive = true
			repairs = append(repairs, repair{id: accts[0].row.AccountID, active: true})
		}
	}
	e.mu.Unlock()

	for _, rep := range repairs {
		if err := e.store.SetAccountActive(ctx, rep.id, rep.active); err != nil {
			e.logger.Error("active-account repair persist failed",
				acctField(rep.id), errField(err))
		} else {
			e.logger.Warn("repaired active-account anomaly",
				acctField(rep.id), zap.Bool("active", rep.active))
		}
	}

	e.logger.Info("account index reloaded", zap.Int("accounts", len(rows)),
		zap.Int("repairs", len(repairs)))
	return nil
}

// zap field helpers keep key names consistent across the engine.

func ownerField(owner OwnerID) zap.Field {
	return zap.Int64("owner_id", int64(owner))
}

func acctField(id AccountID) zap.Field {
	return zap.Int64("account_id", int64(id))
}

func phoneField(phone string) zap.Field {
	return zap.String("phone", internal.MaskPhone(phone))
}

func errField(err error) zap.Field {
	return zap.Error(err)
}
