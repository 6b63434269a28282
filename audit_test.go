package goLink

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestAuditDispatcherDeliversInOrder(t *testing.T) {
	sink := NewChannelSink(16)
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 16, DropIfFull: true}, sink)

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: auditEventLinkStarted, OwnerID: int64(i)})
	}
	d.Close()

	for i := 0; i < 5; i++ {
		select {
		case event := <-sink.Events():
			if event.OwnerID != int64(i) {
				t.Fatalf("event %d out of order: %+v", i, event)
			}
		case <-time.After(time.Second):
			t.Fatalf("event %d never delivered", i)
		}
	}
}

func TestAuditDispatcherDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	sink := &blockingSink{release: block}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	// First event occupies the worker, second fills the buffer, the rest drop.
	for i := 0; i < 8; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: auditEventLinkStarted})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected dropped events")
	}
	close(block)
	d.Close()
}

type blockingSink struct {
	release chan struct{}
	once    sync.Once
}

func (s *blockingSink) Emit(ctx context.Context, event AuditEvent) {
	s.once.Do(func() { <-s.release })
}

func TestAuditEventsMaskPhone(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex

	sink := NewJSONWriterSink(&lockedWriter{buf: &buf, mu: &mu})

	store := newMemStore()
	factory := &fakeFactory{}
	engine, err := New().
		WithStore(store).
		WithClientFactory(factory).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	linkAccount(t, engine, factory, 42, "+15550100001")
	engine.audit.Close()

	mu.Lock()
	out := buf.String()
	mu.Unlock()
	if out == "" {
		t.Fatal("expected audit output")
	}
	if strings.Contains(out, "+15550100001") {
		t.Fatal("audit output leaks the raw phone number")
	}
	if !strings.Contains(out, "+155•••••001") {
		t.Fatalf("expected masked phone in output:\n%s", out)
	}

	var event AuditEvent
	if err := json.Unmarshal([]byte(out[:strings.IndexByte(out, '\n')]), &event); err != nil {
		t.Fatalf("audit line is not valid JSON: %v", err)
	}
	if event.EventType != auditEventLinkStarted {
		t.Fatalf("expected %s first, got %s", auditEventLinkStarted, event.EventType)
	}
}

type lockedWriter struct {
	buf *bytes.Buffer
	mu  *sync.Mutex
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}
