package goLink

// linkedAccount is the in-memory representation of a linked account. The
// client field is the connection handle owned by the lifecycle manager; it is
// nil when disconnected and always nil for the protected account.
type linkedAccount struct {
	row    AccountRow
	client Client
}

func (a *linkedAccount) connected() bool {
	return a.client != nil && a.client.Connected()
}

func (a *linkedAccount) info() AccountInfo {
	return AccountInfo{
		AccountID:   a.row.AccountID,
		OwnerID:     a.row.OwnerID,
		Phone:       a.row.Phone,
		DisplayName: a.row.DisplayName,
		IsActive:    a.row.IsActive,
		IsProtected: a.row.IsProtected,
		Connected:   a.connected(),
		CreatedAt:   a.row.CreatedAt,
		LastUsedAt:  a.row.LastUsedAt,
	}
}

// accountRegistry is the in-memory index of linked accounts, keyed by account
// id and by owning user. It is a plain data structure: the Engine's mutex
// guards every method, and no other component mutates it.
type accountRegistry struct {
	byID    map[AccountID]*linkedAccount
	byOwner map[OwnerID][]*linkedAccount
	byPhone map[string]*linkedAccount
}

func newAccountRegistry() *accountRegistry {
	return &accountRegistry{
		byID:    make(map[AccountID]*linkedAccount),
		byOwner: make(map[OwnerID][]*linkedAccount),
		byPhone: make(map[string]*linkedAccount),
	}
}

func (r *accountRegistry) get(id AccountID) (*linkedAccount, bool) {
	acct, ok := r.byID[id]
	return acct, ok
}

func (r *accountRegistry) byPhoneNumber(phone string) (*linkedAccount, bool) {
	acct, ok := r.byPhone[phone]
	return acct, ok
}

// accountsOf returns the owner's accounts in insertion order. The returned
// slice is the registry's own; callers must not retain it across unlocks.
func (r *accountRegistry) accountsOf(owner OwnerID) []*linkedAccount {
	return r.byOwner[owner]
}

// activeOf returns the owner's active account, nil when none is marked.
func (r *accountRegistry) activeOf(owner OwnerID) *linkedAccount {
	for _, acct := range r.byOwner[owner] {
		if acct.row.IsActive {
			return acct
		}
	}
	return nil
}

func (r *accountRegistry) add(acct *linkedAccount) {
	r.byID[acct.row.AccountID] = acct
	r.byOwner[acct.row.OwnerID] = append(r.byOwner[acct.row.OwnerID], acct)
	r.byPhone[acct.row.Phone] = acct
}

// remove drops the account from every index. Idempotent.
func (r *accountRegistry) remove(id AccountID) {
	acct, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	if cur, ok := r.byPhone[acct.row.Phone]; ok && cur == acct {
		delete(r.byPhone, acct.row.Phone)
	}
	owned := r.byOwner[acct.row.OwnerID]
	for i, a := range owned {
		if a == acct {
			r.byOwner[acct.row.OwnerID] = append(owned[:i], owned[i+1:]...)
			break
		}
	}
	if len(r.byOwner[acct.row.OwnerID]) == 0 {
		delete(r.byOwner, acct.row.OwnerID)
	}
}

// transfer moves the account to a new owner, purging it from the old owner's
// index. The new owner's slice picks it up immediately; persisted ownership
// is the caller's responsibility.
func (r *accountRegistry) transfer(acct *linkedAccount, newOwner OwnerID) {
	oldOwner := acct.row.OwnerID
	owned := r.byOwner[oldOwner]
	for i, a := range owned {
		if a == acct {
			r.byOwner[oldOwner] = append(owned[:i], owned[i+1:]...)
			break
		}
	}
	if len(r.byOwner[oldOwner]) == 0 {
		delete(r.byOwner, oldOwner)
	}
	acct.row.OwnerID = newOwner
	acct.row.IsActive = false
	r.byOwner[newOwner] = append(r.byOwner[newOwner], acct)
}

// activeCount reports how many of the owner's accounts are marked active.
// Used for the post-switch integrity check.
func (r *accountRegistry) activeCount(owner OwnerID) int {
	n := 0
	for _, acct := range r.byOwner[owner] {
		if acct.row.IsActive {
			n++
		}
	}
	return n
}

func (r *accountRegistry) reset() {
	r.byID = make(map[AccountID]*linkedAccount)
	r.byOwner = make(map[OwnerID][]*linkedAccount)
	r.byPhone = make(map[string]*linkedAccount)
}
