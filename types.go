package goLink

import (
	"context"
	"time"
)

// OwnerID identifies the controlling user who links accounts.
type OwnerID int64

// AccountID is the primary identity of a linked account, assigned by the
// credential store on first insert. Always positive for stored accounts.
type AccountID int64

// PasswordFunc supplies the second-factor password to the client handle on
// demand. attempt starts at 0; lastErr carries the platform error from the
// previous attempt, nil on the first call. Returning a non-nil error cancels
// the sign-in instead of retrying.
type PasswordFunc func(attempt int, lastErr error) (string, error)

// RemoteIdentity is the platform-reported identity of an authorized session.
type RemoteIdentity struct {
	Phone       string
	DisplayName string
}

// Client is the opaque per-account handle produced by [ClientFactory]. It
// wraps the remote platform's session object. Implementations are not
// required to be safe for concurrent Connect calls; the Engine serializes
// them per account.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Connected() bool
	Invoke(ctx context.Context, request any) (any, error)
	SaveSession() (string, error)

	SendCode(ctx context.Context, phone string) (challengeID string, err error)
	SignIn(ctx context.Context, phone, challengeID, code string) error
	SignInWithPassword(ctx context.Context, password PasswordFunc) error
	ExportLoginToken(ctx context.Context) (token []byte, expiresAt time.Time, err error)
	Identity(ctx context.Context) (*RemoteIdentity, error)
}

// ClientFactory constructs one [Client] per account or per in-flight login
// attempt. An empty session produces an anonymous (unauthenticated) client.
type ClientFactory interface {
	NewClient(session string) (Client, error)
}

// AccountRow is the persisted shape of a linked account, exchanged with the
// [CredentialStore]. SessionToken is opaque and never logged in full.
type AccountRow struct {
	AccountID    AccountID
	OwnerID      OwnerID
	Phone        string
	SessionToken string
	DisplayName  string
	IsActive     bool
	IsProtected  bool
	CreatedAt    time.Time
	LastUsedAt   time.Time
}

// PendingChallengeRow is the durable best-effort mirror of an in-flight code
// challenge, keyed by owner. It exists so a restarted process can tell the
// owner a challenge was in flight; it cannot carry the live client handle.
type PendingChallengeRow struct {
	OwnerID     OwnerID
	Phone       string
	ChallengeID string
	CreatedAt   time.Time
}

// CredentialStore is the persistence interface callers must implement to
// integrate goLink with their database. The [credstore] sub-package ships a
// Redis-backed reference implementation. All methods must be safe for
// concurrent use; row-level transactionality is assumed.
type CredentialStore interface {
	LoadAccounts(ctx context.Context) ([]AccountRow, error)
	UpsertAccount(ctx context.Context, row AccountRow) (AccountID, error)
	SetAccountOwner(ctx context.Context, id AccountID, owner OwnerID) error
	SetAccountActive(ctx context.Context, id AccountID, active bool) error
	ClearSession(ctx context.Context, id AccountID) error
	DeleteAccount(ctx context.Context, id AccountID) error

	SavePendingChallenge(ctx context.Context, row PendingChallengeRow) error
	LoadPendingChallenge(ctx context.Context, owner OwnerID) (*PendingChallengeRow, error)
	DeletePendingChallenge(ctx context.Context, owner OwnerID) error
}

// AccountInfo is the caller-facing snapshot of a linked account. It never
// exposes the session token or the live connection handle.
type AccountInfo struct {
	AccountID   AccountID
	OwnerID     OwnerID
	Phone       string
	DisplayName string
	IsActive    bool
	IsProtected bool
	Connected   bool
	CreatedAt   time.Time
	LastUsedAt  time.Time
}

// LinkResult is returned by [Engine.SubmitCode] and [Engine.SubmitPassword].
// When PasswordNeeded is set the login is mid-flight and the caller must
// follow up with SubmitPassword; AccountID is only valid on full success.
type LinkResult struct {
	AccountID      AccountID
	IsActive       bool
	PasswordNeeded bool
}

// LinkStart is returned by [Engine.InitiateLink].
type LinkStart struct {
	Phone       string
	ChallengeID string
}

// WebLoginState enumerates the QR/token login lifecycle.
type WebLoginState uint8

const (
	// WebLoginNone is an exported constant or variable used by the link engine.
	WebLoginNone WebLoginState = iota
	// WebLoginPolling is an exported constant or variable used by the link engine.
	WebLoginPolling
	// WebLoginPasswordNeeded is an exported constant or variable used by the link engine.
	WebLoginPasswordNeeded
	// WebLoginAuthorized is an exported constant or variable used by the link engine.
	WebLoginAuthorized
	// WebLoginExpired is an exported constant or variable used by the link engine.
	WebLoginExpired
	// WebLoginCancelled is an exported constant or variable used by the link engine.
	WebLoginCancelled
)

// String returns the lowercase name of the state for logs and callers.
func (s WebLoginState) String() string {
	switch s {
	case WebLoginNone:
		return "none"
	case WebLoginPolling:
		return "polling"
	case WebLoginPasswordNeeded:
		return "password_needed"
	case WebLoginAuthorized:
		return "authorized"
	case WebLoginExpired:
		return "expired"
	case WebLoginCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// WebLoginInfo is returned by [Engine.InitiateWebLogin] and
// [Engine.CheckWebLoginStatus]. QRImage is a PNG rendering of the platform
// deep link; AccountID is set once the state reaches WebLoginAuthorized.
type WebLoginInfo struct {
	State     WebLoginState
	QRImage   []byte
	DeepLink  string
	ExpiresAt time.Time
	AccountID AccountID
}

// PostLinkFunc runs after a successful link (profile tagging, channel join,
// group enumeration, whatever the integration needs). It executes on the
// engine's supervised task runner: errors are logged and audited, never
// returned to the login caller.
type PostLinkFunc func(ctx context.Context, acct AccountInfo, client Client) error

// BroadcastChecker reports whether an account is currently busy with an
// outbound broadcast. Ownership transfer is refused for busy accounts. A nil
// checker means no account is ever considered busy.
type BroadcastChecker func(id AccountID) bool
