package goLink

import (
	"context"
	"errors"
	"testing"
	"time"
)

// startPasswordChallenge walks the code flow into the second-factor state.
func startPasswordChallenge(t *testing.T, engine *Engine, factory *fakeFactory, owner OwnerID, phone string) {
	t.Helper()

	factory.script(&fakeClient{
		signInFn:      func(string) error { return ErrPasswordNeeded },
		passwordCheck: "hunter2",
		identityFn: func() (*RemoteIdentity, error) {
			return &RemoteIdentity{Phone: phone}, nil
		},
	})
	if _, err := engine.InitiateLink(context.Background(), owner, phone); err != nil {
		t.Fatalf("InitiateLink failed: %v", err)
	}
	result, err := engine.SubmitCode(context.Background(), owner, "12345")
	if err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}
	if !result.PasswordNeeded {
		t.Fatalf("expected password-needed result, got %+v", result)
	}
	if !engine.IsPasswordRequired(owner) {
		t.Fatal("expected a pending password challenge")
	}
}

func staticPassword(pw string) PasswordFunc {
	return func(int, error) (string, error) { return pw, nil }
}

func TestSubmitPasswordSuccess(t *testing.T) {
	engine, store, factory, _ := newTestEngine(t, nil)

	startPasswordChallenge(t, engine, factory, 42, "+15550100001")

	result, err := engine.SubmitPassword(context.Background(), 42, staticPassword("hunter2"))
	if err != nil {
		t.Fatalf("SubmitPassword failed: %v", err)
	}
	if result.AccountID == 0 || !result.IsActive {
		t.Fatalf("unexpected result: %+v", result)
	}
	if engine.IsPasswordRequired(42) {
		t.Fatal("expected password challenge to be consumed")
	}
	if row := store.row(t, result.AccountID); row.SessionToken == "" {
		t.Fatal("expected persisted session token")
	}
}

func TestSubmitPasswordWithoutChallenge(t *testing.T) {
	engine, _, _, _ := newTestEngine(t, nil)

	if _, err := engine.SubmitPassword(context.Background(), 42, staticPassword("x")); !errors.Is(err, ErrNoPendingPassword) {
		t.Fatalf("expected ErrNoPendingPassword, got %v", err)
	}
}

func TestSubmitPasswordLockout(t *testing.T) {
	engine, _, factory, clock := newTestEngine(t, nil)

	startPasswordChallenge(t, engine, factory, 42, "+15550100001")

	var attempts *AttemptsError
	if _, err := engine.SubmitPassword(context.Background(), 42, staticPassword("wrong")); !errors.As(err, &attempts) || attempts.Remaining != 2 {
		t.Fatalf("expected 2 attempts remaining, got %v", err)
	}
	if _, err := engine.SubmitPassword(context.Background(), 42, staticPassword("wrong")); !errors.As(err, &attempts) || attempts.Remaining != 1 {
		t.Fatalf("expected 1 attempt remaining, got %v", err)
	}
	if _, err := engine.SubmitPassword(context.Background(), 42, staticPassword("wrong")); !errors.Is(err, ErrPasswordAttemptsExceeded) {
		t.Fatalf("expected ErrPasswordAttemptsExceeded, got %v", err)
	}
	if engine.IsPasswordRequired(42) {
		t.Fatal("expected challenge to be destroyed at lockout")
	}

	// The lockout also gates new link attempts until the cooldown elapses.
	var cooldown *CooldownError
	if _, err := engine.InitiateLink(context.Background(), 42, "+15550100001"); !errors.As(err, &cooldown) {
		t.Fatalf("expected CooldownError during lockout, got %v", err)
	}
	clock.Advance(5*time.Minute + time.Second)
	if _, err := engine.InitiateLink(context.Background(), 42, "+15550100001"); err != nil {
		t.Fatalf("InitiateLink after lockout failed: %v", err)
	}
}

func TestSubmitPasswordCancelClearsChallenge(t *testing.T) {
	engine, _, factory, _ := newTestEngine(t, nil)

	startPasswordChallenge(t, engine, factory, 42, "+15550100001")

	cancel := func(int, error) (string, error) { return "", errors.New("user backed out") }
	if _, err := engine.SubmitPassword(context.Background(), 42, cancel); !errors.Is(err, ErrUserCancelled) {
		t.Fatalf("expected ErrUserCancelled, got %v", err)
	}
	if engine.IsPasswordRequired(42) {
		t.Fatal("expected cancel to clear the pending challenge")
	}
	if factory.last(t).Connected() {
		t.Fatal("expected the cancelled handle to be disconnected")
	}

	// A cancel burns no attempts and arms no cooldown: the owner can start
	// over immediately with the full guess budget.
	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricPasswordRejected] != 0 || snap.Counters[MetricPasswordLockout] != 0 {
		t.Fatalf("expected no attempt metrics after cancel, got %+v", snap.Counters)
	}
	startPasswordChallenge(t, engine, factory, 42, "+15550100001")
	var attempts *AttemptsError
	if _, err := engine.SubmitPassword(context.Background(), 42, staticPassword("wrong")); !errors.As(err, &attempts) || attempts.Remaining != 2 {
		t.Fatalf("expected full attempt budget after cancel, got %v", err)
	}
}

func TestSubmitPasswordEmptyClearsChallenge(t *testing.T) {
	engine, _, factory, _ := newTestEngine(t, nil)

	startPasswordChallenge(t, engine, factory, 42, "+15550100001")

	if _, err := engine.SubmitPassword(context.Background(), 42, staticPassword("")); !errors.Is(err, ErrPasswordEmpty) {
		t.Fatalf("expected ErrPasswordEmpty, got %v", err)
	}
	if engine.IsPasswordRequired(42) {
		t.Fatal("expected empty input to clear the pending challenge")
	}
}

func TestSubmitPasswordPlatformCancelClearsQuietly(t *testing.T) {
	engine, _, factory, _ := newTestEngine(t, nil)

	startPasswordChallenge(t, engine, factory, 42, "+15550100001")
	factory.last(t).passwordErr = ErrUserCancelled

	if _, err := engine.SubmitPassword(context.Background(), 42, staticPassword("hunter2")); !errors.Is(err, ErrUserCancelled) {
		t.Fatalf("expected ErrUserCancelled, got %v", err)
	}
	if engine.IsPasswordRequired(42) {
		t.Fatal("expected platform cancel to clear the pending challenge")
	}
	if factory.last(t).Connected() {
		t.Fatal("expected the cancelled handle to be disconnected")
	}
	if got := engine.MetricsSnapshot().Counters[MetricLinkFailed]; got != 0 {
		t.Fatalf("expected no link failure recorded for a cancel, got %d", got)
	}
}

func TestSubmitPasswordDuringLockoutReportsCooldown(t *testing.T) {
	engine, _, factory, clock := newTestEngine(t, nil)

	startPasswordChallenge(t, engine, factory, 42, "+15550100001")

	for i := 0; i < 2; i++ {
		if _, err := engine.SubmitPassword(context.Background(), 42, staticPassword("wrong")); err == nil {
			t.Fatal("expected wrong password to fail")
		}
	}
	if _, err := engine.SubmitPassword(context.Background(), 42, staticPassword("wrong")); !errors.Is(err, ErrPasswordAttemptsExceeded) {
		t.Fatalf("expected ErrPasswordAttemptsExceeded, got %v", err)
	}

	// The next submission reports the remaining lockout, not a missing
	// challenge.
	var cooldown *CooldownError
	if _, err := engine.SubmitPassword(context.Background(), 42, staticPassword("wrong")); !errors.As(err, &cooldown) {
		t.Fatalf("expected CooldownError during lockout, got %v", err)
	}
	if cooldown.Remaining <= 0 {
		t.Fatalf("expected a positive remaining cooldown, got %v", cooldown.Remaining)
	}

	clock.Advance(5*time.Minute + time.Second)
	if _, err := engine.SubmitPassword(context.Background(), 42, staticPassword("wrong")); !errors.Is(err, ErrNoPendingPassword) {
		t.Fatalf("expected ErrNoPendingPassword once the cooldown lapses, got %v", err)
	}
}

func TestSubmitPasswordFloodDestroysChallenge(t *testing.T) {
	engine, _, factory, _ := newTestEngine(t, nil)

	startPasswordChallenge(t, engine, factory, 42, "+15550100001")
	factory.last(t).passwordErr = &FloodWaitError{Wait: time.Minute}

	var cooldown *CooldownError
	if _, err := engine.SubmitPassword(context.Background(), 42, staticPassword("hunter2")); !errors.As(err, &cooldown) {
		t.Fatalf("expected CooldownError, got %v", err)
	}
	if engine.IsPasswordRequired(42) {
		t.Fatal("expected flood wait to destroy the challenge")
	}
}

func TestNewCodePhaseResetsAttempts(t *testing.T) {
	engine, _, factory, clock := newTestEngine(t, nil)

	startPasswordChallenge(t, engine, factory, 42, "+15550100001")

	var attempts *AttemptsError
	if _, err := engine.SubmitPassword(context.Background(), 42, staticPassword("wrong")); !errors.As(err, &attempts) || attempts.Remaining != 2 {
		t.Fatalf("expected 2 attempts remaining, got %v", err)
	}
	if _, err := engine.SubmitPassword(context.Background(), 42, staticPassword("wrong")); !errors.As(err, &attempts) || attempts.Remaining != 1 {
		t.Fatalf("expected 1 attempt remaining, got %v", err)
	}

	// Starting over from phone entry resets the counter.
	clock.Advance(61 * time.Second)
	startPasswordChallenge(t, engine, factory, 42, "+15550100001")
	if _, err := engine.SubmitPassword(context.Background(), 42, staticPassword("wrong")); !errors.As(err, &attempts) || attempts.Remaining != 2 {
		t.Fatalf("expected counter reset on new code phase, got %v", err)
	}
}
