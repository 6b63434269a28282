package goLink

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Builder defines a public type used by goLink APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config

	store        CredentialStore
	factory      ClientFactory
	logger       *zap.Logger
	auditSink    AuditSink
	postLink     PostLinkFunc
	broadcasting BroadcastChecker

	built bool
}

// New describes the new operation and its observable behavior.
//
// New may return an error when input validation, dependency calls, or security checks fail.
// New does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
//
// WithConfig may return an error when input validation, dependency calls, or security checks fail.
// WithConfig does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore describes the withstore operation and its observable behavior.
//
// WithStore may return an error when input validation, dependency calls, or security checks fail.
// WithStore does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithStore(store CredentialStore) *Builder {
	b.store = store
	return b
}

// WithClientFactory describes the withclientfactory operation and its observable behavior.
//
// WithClientFactory may return an error when input validation, dependency calls, or security checks fail.
// WithClientFactory does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithClientFactory(factory ClientFactory) *Builder {
	b.factory = factory
	return b
}

// WithLogger describes the withlogger operation and its observable behavior.
//
// WithLogger may return an error when input validation, dependency calls, or security checks fail.
// WithLogger does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
//
// WithAuditSink may return an error when input validation, dependency calls, or security checks fail.
// WithAuditSink does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithPostLinkHook describes the withpostlinkhook operation and its observable behavior.
//
// WithPostLinkHook may return an error when input validation, dependency calls, or security checks fail.
// WithPostLinkHook does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithPostLinkHook(hook PostLinkFunc) *Builder {
	b.postLink = hook
	return b
}

// WithBroadcastChecker describes the withbroadcastchecker operation and its observable behavior.
//
// WithBroadcastChecker may return an error when input validation, dependency calls, or security checks fail.
// WithBroadcastChecker does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithBroadcastChecker(checker BroadcastChecker) *Builder {
	b.broadcasting = checker
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build may return an error when input validation, dependency calls, or security checks fail.
// Build does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.store == nil {
		return nil, errors.New("credential store required")
	}
	if b.factory == nil {
		return nil, errors.New("client factory required")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	engine := &Engine{
		config:           cfg,
		store:            b.store,
		factory:          b.factory,
		logger:           logger,
		postLink:         b.postLink,
		broadcasting:     b.broadcasting,
		registry:         newAccountRegistry(),
		pendingCodes:     make(map[OwnerID]*pendingCode),
		pendingPasswords: make(map[OwnerID]*pendingPassword),
		pendingWeb:       make(map[OwnerID]*pendingWeb),
		passwordState:    make(map[OwnerID]*passwordAttempts),
		floodState:       make(map[OwnerID]*floodCooldown),
		connectLocks:     make(map[AccountID]*connectAttempt),
		now:              time.Now,
	}
	engine.sleep = func(ctx context.Context, d time.Duration) error {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)
	engine.tasks = newTaskRunner(logger)

	b.built = true

	return engine, nil
}
