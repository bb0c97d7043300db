package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-auth-service/internal/event"
	"go-auth-service/internal/model"
	"go-auth-service/pkg/apierror"
)

type memoryAudit struct {
	mu      sync.Mutex
	entries []model.AuditEntry
	logErr  error
	queried bool
}

func (m *memoryAudit) Log(_ context.Context, entry model.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.logErr != nil {
		return m.logErr
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memoryAudit) Query(context.Context, model.AuditQuery) ([]model.AuditEntry, model.Meta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queried = true
	return append([]model.AuditEntry(nil), m.entries...), model.Meta{Page: 1, Limit: 50, Total: len(m.entries)}, nil
}

func (m *memoryAudit) snapshot() []model.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.AuditEntry(nil), m.entries...)
}

func TestAuditService_RecordMapsEvents(t *testing.T) {
	t.Parallel()

	store := &memoryAudit{}
	svc := NewAuditService(store)

	ok := event.New(event.TypeSignedIn, "user-1", "u1@test.com")
	ok.IP = "192.0.2.1"
	svc.Record(context.Background(), ok)
	svc.Record(context.Background(), event.New(event.TypeSignInFailed, "", "u1@test.com").Failed(apierror.Unauthorized("Invalid credentials")))

	entries := store.snapshot()
	require.Len(t, entries, 2)

	assert.Equal(t, ok.ID, entries[0].ID)
	assert.Equal(t, "auth.signed_in", entries[0].Action)
	assert.Equal(t, "success", entries[0].Status)
	assert.Equal(t, model.AuditActor{UserID: "user-1", IP: "192.0.2.1"}, entries[0].Actor)

	assert.Equal(t, "failure", entries[1].Status)
	assert.Equal(t, "UNAUTHORIZED: Invalid credentials", entries[1].Error)
}

func TestAuditService_RecordSwallowsStoreErrors(t *testing.T) {
	t.Parallel()

	svc := NewAuditService(&memoryAudit{logErr: errors.New("db down")})
	assert.NotPanics(t, func() {
		svc.Record(context.Background(), event.New(event.TypeSignedOut, "user-1", ""))
	})
}

func TestAuditService_RunConsumesBus(t *testing.T) {
	t.Parallel()

	store := &memoryAudit{}
	bus := event.NewBus()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		NewAuditService(store).Run(ctx, bus)
		close(done)
	}()

	require.Eventually(t, func() bool {
		bus.Publish(event.New(event.TypeTokenRefreshed, "user-1", ""))
		return len(store.snapshot()) > 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestAuditService_QueryValidatesRange(t *testing.T) {
	t.Parallel()

	store := &memoryAudit{}
	svc := NewAuditService(store)

	_, _, err := svc.Query(context.Background(), model.AuditQuery{From: "yesterday"})
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.CodeBadRequest))
	assert.False(t, store.queried)

	_, meta, err := svc.Query(context.Background(), model.AuditQuery{From: "2026-01-01T00:00:00Z", To: "2026-01-02T00:00:00.5Z"})
	require.NoError(t, err)
	assert.True(t, store.queried)
	assert.Equal(t, 1, meta.Page)
}
