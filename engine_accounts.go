package goLink

import (
	"context"
	"strconv"

	"go.uber.org/zap"
)

// persistAccount registers a freshly authorized session under the owner,
// resolving phone-ownership conflicts. Conflicts transfer the existing row
// (downstream state keyed by account id survives); a row is never deleted
// and recreated for a re-link.
func (e *Engine) persistAccount(ctx context.Context, owner OwnerID, phone, token string, client Client, displayName string) (*LinkResult, error) {
	now := e.now()

	e.mu.Lock()
	if e.config.Protected.Phone != "" && phone == e.config.Protected.Phone {
		e.mu.Unlock()
		e.metricInc(MetricProtectedViolation)
		e.logger.Error("link attempted against protected phone", ownerField(owner), phoneField(phone))
		e.emitAlert(ctx, auditEventProtectedViolation, owner, 0, phone, ErrProtectedAccount, func() map[string]string {
			return map[string]string{"op": "persist_account"}
		})
		return nil, ErrProtectedAccount
	}

	existing, found := e.registry.byPhoneNumber(phone)

	// Re-link by the same owner: refresh the session token in place.
	if found && existing.row.OwnerID == owner {
		old := existing.client
		existing.row.SessionToken = token
		if displayName != "" {
			existing.row.DisplayName = displayName
		}
		existing.row.LastUsedAt = now
		existing.client = client
		row := existing.row
		e.mu.Unlock()

		if old != nil && old != client {
			_ = old.Disconnect()
		}
		if _, err := e.store.UpsertAccount(ctx, row); err != nil {
			e.logger.Error("account update failed", acctField(row.AccountID), errField(err))
			return nil, ErrStoreUnavailable
		}
		return &LinkResult{AccountID: row.AccountID, IsActive: row.IsActive}, nil
	}

	// Phone owned by a different owner: transfer, never delete-and-recreate.
	if found {
		if existing.row.IsProtected {
			acct := existing
			e.mu.Unlock()
			e.protectedViolation(ctx, "persist_account", acct)
			return nil, ErrProtectedAccount
		}
		if e.broadcasting != nil && e.broadcasting(existing.row.AccountID) {
			e.mu.Unlock()
			return nil, ErrAccountBroadcasting
		}

		fromOwner := existing.row.OwnerID
		e.registry.transfer(existing, owner)
		old := existing.client
		existing.client = client
		existing.row.SessionToken = token
		if displayName != "" {
			existing.row.DisplayName = displayName
		}
		existing.row.LastUsedAt = now
		existing.row.IsActive = e.registry.activeOf(owner) == nil
		row := existing.row
		e.mu.Unlock()

		if old != nil && old != client {
			_ = old.Disconnect()
		}
		if err := e.store.SetAccountOwner(ctx, row.AccountID, owner); err != nil {
			e.logger.Error("ownership transfer persist failed", acctField(row.AccountID), errField(err))
			return nil, ErrStoreUnavailable
		}
		if _, err := e.store.UpsertAccount(ctx, row); err != nil {
			e.logger.Error("account update failed", acctField(row.AccountID), errField(err))
			return nil, ErrStoreUnavailable
		}

		e.metricInc(MetricOwnershipTransfer)
		e.emitAudit(ctx, auditEventOwnershipTransfer, true, owner, row.AccountID, phone, nil, func() map[string]string {
			return map[string]string{"from_owner": strconv.FormatInt(int64(fromOwner), 10)}
		})
		e.logger.Info("account ownership transferred",
			acctField(row.AccountID), ownerField(owner), zap.Int64("from_owner", int64(fromOwner)))

		return &LinkResult{AccountID: row.AccountID, IsActive: row.IsActive}, nil
	}

	// New account: it becomes the active one, deactivating any current
	// active so the single-active invariant holds.
	var deactivate []AccountID
	for _, acct := range e.registry.accountsOf(owner) {
		if acct.row.IsActive {
			acct.row.IsActive = false
			deactivate = append(deactivate, acct.row.AccountID)
		}
	}
	row := AccountRow{
		OwnerID:      owner,
		Phone:        phone,
		SessionToken: token,
		DisplayName:  displayName,
		IsActive:     true,
		CreatedAt:    now,
		LastUsedAt:   now,
	}
	e.mu.Unlock()

	for _, id := range deactivate {
		if err := e.store.SetAccountActive(ctx, id, false); err != nil {
			e.logger.Error("account deactivation persist failed", acctField(id), errField(err))
		}
	}

	id, err := e.store.UpsertAccount(ctx, row)
	if err != nil {
		e.logger.Error("account insert failed", ownerField(owner), phoneField(phone), errField(err))
		return nil, ErrStoreUnavailable
	}
	row.AccountID = id

	e.mu.Lock()
	e.registry.add(&linkedAccount{row: row, client: client})
	e.mu.Unlock()

	return &LinkResult{AccountID: id, IsActive: true}, nil
}

// GetAccounts returns snapshots of the owner's linked accounts in insertion
// order.
func (e *Engine) GetAccounts(owner OwnerID) []AccountInfo {
	if e == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	accts := e.registry.accountsOf(owner)
	infos := make([]AccountInfo, 0, len(accts))
	for _, acct := range accts {
		infos = append(infos, acct.info())
	}
	return infos
}

// SwitchActiveAccount makes the given account the owner's active one, both
// in memory and in storage. Exactly one of the owner's accounts is active
// afterwards; a violated post-condition is logged as an integrity error but
// does not fail the call.
func (e *Engine) SwitchActiveAccount(ctx context.Context, owner OwnerID, id AccountID) error {
	if e == nil {
		return ErrEngineNotReady
	}

	e.mu.Lock()
	target, ok := e.registry.get(id)
	if !ok {
		e.mu.Unlock()
		return ErrAccountNotFound
	}
	if target.row.OwnerID != owner {
		e.mu.Unlock()
		return ErrNotAccountOwner
	}
	if target.row.IsActive {
		e.mu.Unlock()
		return nil
	}

	var deactivate []AccountID
	for _, acct := range e.registry.accountsOf(owner) {
		if acct.row.IsActive && acct.row.AccountID != id {
			acct.row.IsActive = false
			deactivate = append(deactivate, acct.row.AccountID)
		}
	}
	target.row.IsActive = true
	active := e.registry.activeCount(owner)
	e.mu.Unlock()

	if active != 1 {
		e.logger.Error("active-account invariant violated after switch",
			ownerField(owner), zap.Int("active", active))
	}

	for _, did := range deactivate {
		if err := e.store.SetAccountActive(ctx, did, false); err != nil {
			e.logger.Error("account deactivation persist failed", acctField(did), errField(err))
		}
	}
	if err := e.store.SetAccountActive(ctx, id, true); err != nil {
		e.logger.Error("account activation persist failed", acctField(id), errField(err))
		return ErrStoreUnavailable
	}

	e.metricInc(MetricActiveSwitched)
	e.emitAudit(ctx, auditEventActiveSwitched, true, owner, id, "", nil, nil)
	return nil
}

// DeleteAccount unlinks an account for good: disconnects its handle, removes
// it from the index, and deletes the persisted row. Refused for protected
// and broadcasting accounts. If the deleted account was active, the owner's
// first remaining account becomes active.
func (e *Engine) DeleteAccount(ctx context.Context, owner OwnerID, id AccountID) error {
	if e == nil {
		return ErrEngineNotReady
	}

	e.mu.Lock()
	acct, ok := e.registry.get(id)
	if !ok {
		e.mu.Unlock()
		return ErrAccountNotFound
	}
	if acct.row.OwnerID != owner {
		e.mu.Unlock()
		return ErrNotAccountOwner
	}
	if acct.row.IsProtected {
		e.mu.Unlock()
		e.protectedViolation(ctx, "delete_account", acct)
		return ErrProtectedAccount
	}
	if e.broadcasting != nil && e.broadcasting(id) {
		e.mu.Unlock()
		return ErrAccountBroadcasting
	}

	wasActive := acct.row.IsActive
	client := acct.client
	acct.client = nil
	phone := acct.row.Phone
	e.registry.remove(id)

	var promote AccountID
	if wasActive {
		if rest := e.registry.accountsOf(owner); len(rest) > 0 {
			rest[0].row.IsActive = true
			promote = rest[0].row.AccountID
		}
	}
	e.mu.Unlock()

	if client != nil {
		_ = client.Disconnect()
	}

	if err := e.store.DeleteAccount(ctx, id); err != nil {
		e.logger.Error("account delete persist failed", acctField(id), errField(err))
		return ErrStoreUnavailable
	}
	if promote != 0 {
		if err := e.store.SetAccountActive(ctx, promote, true); err != nil {
			e.logger.Error("account activation persist failed", acctField(promote), errField(err))
		}
	}

	e.metricInc(MetricAccountDeleted)
	e.emitAudit(ctx, auditEventAccountDeleted, true, owner, id, phone, nil, nil)
	e.logger.Info("account deleted", ownerField(owner), acctField(id), phoneField(phone))
	return nil
}
