package goLink

import (
	"errors"
	"time"
)

// Config defines a public type used by goLink APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Link      LinkConfig
	Password  PasswordConfig
	WebLogin  WebLoginConfig
	Connect   ConnectConfig
	Protected ProtectedConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
LINK CONFIG
====================================
*/

// LinkConfig defines a public type used by goLink APIs.
//
// LinkConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type LinkConfig struct {
	// DuplicateGuard rejects a second InitiateLink for the same owner while a
	// pending challenge is younger than this.
	DuplicateGuard time.Duration
	// CodeTTL is the strict expiry of a code challenge.
	CodeTTL time.Duration
	// PendingGCHorizon is the age past which pending entries are collected.
	PendingGCHorizon time.Duration
	// MaxPending bounds the in-memory pending-challenge map. When the bound
	// is hit, stale or disconnected entries are evicted first.
	MaxPending int
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig defines a public type used by goLink APIs.
//
// PasswordConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type PasswordConfig struct {
	MaxAttempts     int
	LockoutCooldown time.Duration
}

/*
====================================
WEB LOGIN CONFIG
====================================
*/

// WebLoginConfig defines a public type used by goLink APIs.
//
// WebLoginConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type WebLoginConfig struct {
	TokenTTL     time.Duration
	PollInterval time.Duration
	// DeepLinkScheme prefixes the exported login token, e.g. "tg://login?token=".
	DeepLinkScheme string
	// QRSize is the side length in pixels of the rendered QR image.
	QRSize int
	// LogEveryNTicks throttles transient poll-error logging.
	LogEveryNTicks int
}

/*
====================================
CONNECT CONFIG
====================================
*/

// ConnectConfig defines a public type used by goLink APIs.
//
// ConnectConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type ConnectConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	// BackoffFactor multiplies the delay between successive attempts.
	BackoffFactor int
}

/*
====================================
PROTECTED CONFIG
====================================
*/

// ProtectedConfig designates the single controller identity that must never
// be connected, transferred, deleted, or used for outbound activity.
type ProtectedConfig struct {
	// Phone is the E.164 number of the protected account. Empty disables the
	// protected-account rules.
	Phone string
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig defines a public type used by goLink APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig defines a public type used by goLink APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled bool
}

func defaultConfig() Config {
	return Config{
		Link: LinkConfig{
			DuplicateGuard:   60 * time.Second,
			CodeTTL:          10 * time.Minute,
			PendingGCHorizon: 30 * time.Minute,
			MaxPending:       100,
		},
		Password: PasswordConfig{
			MaxAttempts:     3,
			LockoutCooldown: 5 * time.Minute,
		},
		WebLogin: WebLoginConfig{
			TokenTTL:       5 * time.Minute,
			PollInterval:   2 * time.Second,
			DeepLinkScheme: "tg://login?token=",
			QRSize:         256,
			LogEveryNTicks: 10,
		},
		Connect: ConnectConfig{
			MaxAttempts:    2,
			InitialBackoff: 3 * time.Second,
			BackoffFactor:  2,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	// All fields are value types; a shallow copy is a deep copy.
	return cfg
}

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c Config) Validate() error {
	if c.Link.DuplicateGuard <= 0 {
		return errors.New("Link.DuplicateGuard must be positive")
	}
	if c.Link.CodeTTL <= 0 {
		return errors.New("Link.CodeTTL must be positive")
	}
	if c.Link.PendingGCHorizon < c.Link.CodeTTL {
		return errors.New("Link.PendingGCHorizon must not be shorter than Link.CodeTTL")
	}
	if c.Link.MaxPending <= 0 {
		return errors.New("Link.MaxPending must be positive")
	}
	if c.Password.MaxAttempts <= 0 {
		return errors.New("Password.MaxAttempts must be positive")
	}
	if c.Password.LockoutCooldown <= 0 {
		return errors.New("Password.LockoutCooldown must be positive")
	}
	if c.WebLogin.TokenTTL <= 0 {
		return errors.New("WebLogin.TokenTTL must be positive")
	}
	if c.WebLogin.PollInterval <= 0 {
		return errors.New("WebLogin.PollInterval must be positive")
	}
	if c.WebLogin.QRSize <= 0 {
		return errors.New("WebLogin.QRSize must be positive")
	}
	if c.WebLogin.LogEveryNTicks <= 0 {
		return errors.New("WebLogin.LogEveryNTicks must be positive")
	}
	if c.Connect.MaxAttempts <= 0 {
		return errors.New("Connect.MaxAttempts must be positive")
	}
	if c.Connect.InitialBackoff < 0 {
		return errors.New("Connect.InitialBackoff must not be negative")
	}
	if c.Connect.BackoffFactor <= 0 {
		return errors.New("Connect.BackoffFactor must be positive")
	}
	return nil
}
