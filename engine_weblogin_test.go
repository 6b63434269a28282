package goLink

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestWebLoginAuthorizedAfterPolling(t *testing.T) {
	engine, store, factory, _ := newTestEngine(t, nil)

	var polls atomic.Int32
	factory.script(&fakeClient{identityFn: func() (*RemoteIdentity, error) {
		if polls.Add(1) <= 5 {
			return nil, ErrAuthPending
		}
		return &RemoteIdentity{Phone: "+15550100007"}, nil
	}})

	info, err := engine.InitiateWebLogin(context.Background(), 7)
	if err != nil {
		t.Fatalf("InitiateWebLogin failed: %v", err)
	}
	if info.State != WebLoginPolling {
		t.Fatalf("expected polling state, got %s", info.State)
	}
	if len(info.QRImage) == 0 || !bytes.HasPrefix(info.QRImage, []byte("\x89PNG")) {
		t.Fatal("expected a PNG QR image")
	}
	if !strings.HasPrefix(info.DeepLink, "tg://login?token=") {
		t.Fatalf("unexpected deep link %q", info.DeepLink)
	}

	waitFor(t, 2*time.Second, func() bool {
		status, err := engine.CheckWebLoginStatus(7)
		return err == nil && status.State == WebLoginAuthorized
	})

	status, err := engine.CheckWebLoginStatus(7)
	if err != nil {
		t.Fatalf("CheckWebLoginStatus failed: %v", err)
	}
	if status.AccountID == 0 {
		t.Fatal("expected account id on authorized login")
	}
	if got := int(polls.Load()); got < 6 {
		t.Fatalf("expected at least 6 identity polls, got %d", got)
	}
	if row := store.row(t, status.AccountID); row.Phone != "+15550100007" || !row.IsActive {
		t.Fatalf("unexpected stored row: %+v", row)
	}
}

func TestWebLoginIdempotentWhilePolling(t *testing.T) {
	engine, _, factory, _ := newTestEngine(t, nil)

	gate := make(chan struct{})
	factory.script(&fakeClient{identityFn: func() (*RemoteIdentity, error) {
		<-gate
		return &RemoteIdentity{Phone: "+15550100007"}, nil
	}})

	first, err := engine.InitiateWebLogin(context.Background(), 7)
	if err != nil {
		t.Fatalf("InitiateWebLogin failed: %v", err)
	}
	second, err := engine.InitiateWebLogin(context.Background(), 7)
	if err != nil {
		t.Fatalf("repeat InitiateWebLogin failed: %v", err)
	}
	if second.DeepLink != first.DeepLink || !bytes.Equal(second.QRImage, first.QRImage) {
		t.Fatal("expected the cached token to be reused")
	}
	if got := engine.MetricsSnapshot().Counters[MetricWebLoginStarted]; got != 1 {
		t.Fatalf("expected a single started login, got %d", got)
	}

	close(gate)
	waitFor(t, 2*time.Second, func() bool {
		status, err := engine.CheckWebLoginStatus(7)
		return err == nil && status.State == WebLoginAuthorized
	})
}

func TestWebLoginCancelIsCooperative(t *testing.T) {
	engine, _, factory, _ := newTestEngine(t, nil)

	gate := make(chan struct{})
	defer close(gate)
	factory.script(&fakeClient{identityFn: func() (*RemoteIdentity, error) {
		<-gate
		return nil, ErrAuthPending
	}})

	if _, err := engine.InitiateWebLogin(context.Background(), 7); err != nil {
		t.Fatalf("InitiateWebLogin failed: %v", err)
	}

	if err := engine.CancelWebLogin(context.Background(), 7); err != nil {
		t.Fatalf("CancelWebLogin failed: %v", err)
	}
	status, err := engine.CheckWebLoginStatus(7)
	if err != nil {
		t.Fatalf("CheckWebLoginStatus failed: %v", err)
	}
	if status.State != WebLoginCancelled {
		t.Fatalf("expected cancelled state, got %s", status.State)
	}
	if factory.last(t).Connected() {
		t.Fatal("expected the client handle to be disconnected on cancel")
	}

	if err := engine.CancelWebLogin(context.Background(), 7); !errors.Is(err, ErrNoPendingWebLogin) {
		t.Fatalf("expected ErrNoPendingWebLogin on repeat cancel, got %v", err)
	}
}

func TestWebLoginExpires(t *testing.T) {
	engine, _, factory, _ := newTestEngine(t, func(cfg *Config) {
		cfg.WebLogin.TokenTTL = 10 * time.Second
	})

	factory.script(&fakeClient{identityFn: func() (*RemoteIdentity, error) {
		return nil, ErrAuthPending
	}})

	if _, err := engine.InitiateWebLogin(context.Background(), 7); err != nil {
		t.Fatalf("InitiateWebLogin failed: %v", err)
	}

	// Each simulated tick advances the clock 2s; the 10s token runs out.
	waitFor(t, 2*time.Second, func() bool {
		return engine.MetricsSnapshot().Counters[MetricWebLoginExpired] == 1
	})
	status, err := engine.CheckWebLoginStatus(7)
	if err != nil {
		t.Fatalf("CheckWebLoginStatus failed: %v", err)
	}
	if status.State != WebLoginExpired {
		t.Fatalf("expected expired state, got %s", status.State)
	}
}

func TestWebLoginPasswordHandoff(t *testing.T) {
	engine, _, factory, _ := newTestEngine(t, nil)

	factory.script(&fakeClient{
		identityFn: func() (*RemoteIdentity, error) {
			return nil, ErrPasswordNeeded
		},
		passwordCheck: "hunter2",
	})

	if _, err := engine.InitiateWebLogin(context.Background(), 7); err != nil {
		t.Fatalf("InitiateWebLogin failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return engine.IsPasswordRequired(7)
	})
	status, err := engine.CheckWebLoginStatus(7)
	if err != nil {
		t.Fatalf("CheckWebLoginStatus failed: %v", err)
	}
	if status.State != WebLoginPasswordNeeded {
		t.Fatalf("expected password-needed state, got %s", status.State)
	}

	// The password challenge completes through the ordinary path. The
	// identity poll now reports the authorized session.
	factory.last(t).mu.Lock()
	factory.last(t).identityFn = func() (*RemoteIdentity, error) {
		return &RemoteIdentity{Phone: "+15550100007"}, nil
	}
	factory.last(t).mu.Unlock()

	result, err := engine.SubmitPassword(context.Background(), 7, staticPassword("hunter2"))
	if err != nil {
		t.Fatalf("SubmitPassword failed: %v", err)
	}
	status, err = engine.CheckWebLoginStatus(7)
	if err != nil {
		t.Fatalf("CheckWebLoginStatus failed: %v", err)
	}
	if status.State != WebLoginAuthorized || status.AccountID != result.AccountID {
		t.Fatalf("expected authorized web state for account %d, got %+v", result.AccountID, status)
	}
}

func TestWebLoginStatusWithoutLogin(t *testing.T) {
	engine, _, _, _ := newTestEngine(t, nil)

	if _, err := engine.CheckWebLoginStatus(7); !errors.Is(err, ErrNoPendingWebLogin) {
		t.Fatalf("expected ErrNoPendingWebLogin, got %v", err)
	}
}

func TestCloseStopsWebLoginPoll(t *testing.T) {
	engine, _, factory, _ := newTestEngine(t, nil)
	// Block inside the poll sleep until its context is cancelled, as the
	// production timer-based sleeper does on shutdown.
	engine.sleep = func(ctx context.Context, d time.Duration) error {
		<-ctx.Done()
		return ctx.Err()
	}

	factory.script(&fakeClient{identityFn: func() (*RemoteIdentity, error) {
		return nil, ErrAuthPending
	}})
	if _, err := engine.InitiateWebLogin(context.Background(), 7); err != nil {
		t.Fatalf("InitiateWebLogin failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		engine.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not stop the web login poll loop")
	}
}

func TestWebLoginAuthorizeReleasesPollContext(t *testing.T) {
	engine, _, factory, _ := newTestEngine(t, nil)

	gate := make(chan struct{})
	factory.script(&fakeClient{identityFn: func() (*RemoteIdentity, error) {
		<-gate
		return &RemoteIdentity{Phone: "+15550100007"}, nil
	}})

	if _, err := engine.InitiateWebLogin(context.Background(), 7); err != nil {
		t.Fatalf("InitiateWebLogin failed: %v", err)
	}

	var released atomic.Bool
	engine.mu.Lock()
	entry := engine.pendingWeb[7]
	orig := entry.cancel
	entry.cancel = func() {
		released.Store(true)
		orig()
	}
	engine.mu.Unlock()

	close(gate)
	waitFor(t, 2*time.Second, func() bool {
		status, err := engine.CheckWebLoginStatus(7)
		return err == nil && status.State == WebLoginAuthorized
	})
	if !released.Load() {
		t.Fatal("expected the poll context to be released on authorization")
	}
}
