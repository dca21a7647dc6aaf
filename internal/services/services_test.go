package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"paghetta/internal/core"
	"paghetta/internal/log"
	"paghetta/internal/storage/memory"
)

func testLogger() *log.Logger {
	return log.New(log.Config{Handler: slog.NewTextHandler(io.Discard, nil)})
}

// recordingNotifier captures state-changed events for assertions.
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) ChildStateChanged(ctx context.Context, childID, tenantID, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, message)
	return nil
}

func (n *recordingNotifier) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

// testEnv wires the full service stack over the memory store with a
// controllable clock.
type testEnv struct {
	store     *memory.Store
	notifier  *recordingNotifier
	ledger    *LedgerService
	children  *ChildService
	tenants   *TenantService
	processor *AccrualProcessor

	mu    sync.Mutex
	clock time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		store:    memory.New(),
		notifier: &recordingNotifier{},
		clock:    time.Date(2026, 2, 24, 12, 0, 0, 0, time.UTC),
	}
	logger := testLogger()

	env.ledger = NewLedgerService(env.store, env.notifier, logger)
	env.children = NewChildService(env.store, env.ledger, env.notifier, logger)
	env.tenants = NewTenantService(env.store, env.children, 16, time.Minute, logger)
	env.processor = NewAccrualProcessor(env.tenants, env.children, env.ledger, env.notifier, logger)

	now := env.now
	env.ledger.now = now
	env.children.now = now
	env.tenants.now = now

	return env
}

func (e *testEnv) now() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clock
}

func (e *testEnv) setClock(t time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clock = t
}

func (e *testEnv) advanceDays(days int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clock = e.clock.AddDate(0, 0, days)
}

func (e *testEnv) addTenant(t *testing.T, name, suffix string) core.Tenant {
	t.Helper()
	tenant, err := e.tenants.AddTenant(context.Background(), core.Tenant{Name: name, URLSuffix: suffix})
	if err != nil {
		t.Fatalf("AddTenant(%q) error: %v", name, err)
	}
	return tenant
}

func (e *testEnv) addChild(t *testing.T, child core.Child) core.Child {
	t.Helper()
	created, err := e.children.AddChild(context.Background(), child)
	if err != nil {
		t.Fatalf("AddChild(%q) error: %v", child.FirstName, err)
	}
	return created
}
