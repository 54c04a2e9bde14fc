package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/escalation-engine/internal/model"
)

func newTestStore(t *testing.T) *SQLiteExecutionStore {
	t.Helper()
	store, err := NewSQLiteExecutionStore(zap.NewNop(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func activeExecution(id string, startedAt time.Time) *model.EscalationExecution {
	return &model.EscalationExecution{
		ID:           id,
		ChainID:      "chain-1",
		TicketID:     "ticket-1",
		AlertID:      "alert-1",
		CurrentLevel: 0,
		Status:       model.ExecutionActive,
		LevelHistory: []model.LevelRecord{
			{Level: 0, Assignee: "tech-1", AssignedAt: startedAt},
		},
		Metadata: model.ExecutionMetadata{
			TriggerReason: "cpu over threshold",
			Severity:      model.AlertSeverityCritical,
			DeviceID:      "device-1",
		},
		StartedAt: startedAt,
	}
}

func TestExecutionStore_StoreAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	exec := activeExecution("exec-1", started)
	require.NoError(t, store.Store(ctx, exec))

	got, err := store.Get(ctx, "exec-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "chain-1", got.ChainID)
	require.Equal(t, "ticket-1", got.TicketID)
	require.Equal(t, model.ExecutionActive, got.Status)
	require.Len(t, got.LevelHistory, 1)
	require.Equal(t, "tech-1", got.LevelHistory[0].Assignee)
	require.Equal(t, "cpu over threshold", got.Metadata.TriggerReason)
	require.WithinDuration(t, started, got.StartedAt, time.Second)
	require.Nil(t, got.CompletedAt)
}

func TestExecutionStore_GetMissing(t *testing.T) {
	store := newTestStore(t)

	got, err := store.Get(context.Background(), "nope")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestExecutionStore_UpdateRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	exec := activeExecution("exec-1", started)
	require.NoError(t, store.Store(ctx, exec))

	completed := started.Add(20 * time.Minute)
	exec.Status = model.ExecutionCompleted
	exec.CompletedAt = &completed
	exec.ResolvedBy = "tech-1"
	exec.ResolutionNotes = "restarted the service"
	exec.LevelHistory[0].Outcome = model.LevelResolved
	exec.LevelHistory[0].CompletedAt = &completed
	require.NoError(t, store.Update(ctx, exec))

	got, err := store.Get(ctx, "exec-1")
	require.NoError(t, err)
	require.Equal(t, model.ExecutionCompleted, got.Status)
	require.Equal(t, "tech-1", got.ResolvedBy)
	require.Equal(t, "restarted the service", got.ResolutionNotes)
	require.NotNil(t, got.CompletedAt)
	require.Equal(t, model.LevelResolved, got.LevelHistory[0].Outcome)
}

func TestExecutionStore_ListActive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Store(ctx, activeExecution("exec-2", base.Add(time.Hour))))
	require.NoError(t, store.Store(ctx, activeExecution("exec-1", base)))

	done := activeExecution("exec-3", base)
	require.NoError(t, store.Store(ctx, done))
	completed := base.Add(time.Minute)
	done.Status = model.ExecutionFailed
	done.CompletedAt = &completed
	require.NoError(t, store.Update(ctx, done))

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	require.Equal(t, "exec-1", active[0].ID, "ordered by start time")
	require.Equal(t, "exec-2", active[1].ID)
}

func TestExecutionStore_History(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendHistory(ctx, "chain-1", model.EscalationHistoryEntry{
			TicketID:  "ticket-1",
			ToUser:    "tech-1",
			Level:     i,
			Reason:    "assigned",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Success:   true,
		}))
	}
	require.NoError(t, store.AppendHistory(ctx, "chain-other", model.EscalationHistoryEntry{
		TicketID:  "ticket-9",
		Level:     0,
		Reason:    "assigned",
		Timestamp: base,
	}))

	entries, err := store.History(ctx, "chain-1", 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, 4, entries[0].Level, "newest first")
	require.Equal(t, 2, entries[2].Level)
	for _, entry := range entries {
		require.Equal(t, "ticket-1", entry.TicketID)
	}
}

func TestExecutionStore_DeleteBeforeKeepsActive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	old := activeExecution("exec-old", base.Add(-48*time.Hour))
	require.NoError(t, store.Store(ctx, old))
	completed := base.Add(-47 * time.Hour)
	old.Status = model.ExecutionCompleted
	old.CompletedAt = &completed
	require.NoError(t, store.Update(ctx, old))

	stillActive := activeExecution("exec-active", base.Add(-48*time.Hour))
	require.NoError(t, store.Store(ctx, stillActive))

	recent := activeExecution("exec-recent", base)
	require.NoError(t, store.Store(ctx, recent))

	require.NoError(t, store.DeleteBefore(ctx, base.Add(-24*time.Hour)))

	got, err := store.Get(ctx, "exec-old")
	require.NoError(t, err)
	require.Nil(t, got, "old terminal execution is purged")

	got, err = store.Get(ctx, "exec-active")
	require.NoError(t, err)
	require.NotNil(t, got, "active executions survive retention no matter their age")

	got, err = store.Get(ctx, "exec-recent")
	require.NoError(t, err)
	require.NotNil(t, got)
}
