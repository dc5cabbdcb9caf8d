package queue

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cryptodefiza-create/content-machine/internal/models"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "queue.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testDraft() *models.Draft {
	return &models.Draft{
		RunID:   "run-abc123",
		Persona: "pro",
		Topic:   models.NewTopic("Chainlink x SWIFT pilot goes live", "news", "test"),
		Content: "Banks settling on-chain through the SWIFT pilot. Who moves first?",
		Issues:  []string{"Weak CTA: no question to the reader"},
	}
}

func TestEnqueueAndPending(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, testDraft())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	items, err := store.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, id, items[0].ID)
	assert.Equal(t, string(models.StateQueued), items[0].Status)
	assert.Equal(t, "pro", items[0].Persona)
	assert.Equal(t, []string{"Weak CTA: no question to the reader"}, items[0].Issues())
}

func TestApproveThenExport(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, testDraft())
	require.NoError(t, err)

	require.NoError(t, store.Approve(ctx, id, "alice"))

	record, err := store.Export(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, record.QueueID)
	assert.Equal(t, "alice", record.ApprovedBy)
	assert.NotEmpty(t, record.Content)
	assert.NotEmpty(t, record.ExportedAt)

	// Re-export of an already exported item returns the record again.
	again, err := store.Export(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, record.QueueID, again.QueueID)
}

func TestFirstDecisionWins(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	t.Run("repeat approve", func(t *testing.T) {
		id, err := store.Enqueue(ctx, testDraft())
		require.NoError(t, err)
		require.NoError(t, store.Approve(ctx, id, "alice"))
		assert.ErrorIs(t, store.Approve(ctx, id, "alice"), ErrAlreadyDecided)
	})

	t.Run("opposite decision", func(t *testing.T) {
		id, err := store.Enqueue(ctx, testDraft())
		require.NoError(t, err)
		require.NoError(t, store.Approve(ctx, id, "alice"))
		assert.ErrorIs(t, store.Reject(ctx, id, "bob", "changed my mind"), ErrAlreadyDecided)

		item, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, string(models.StateApproved), item.Status, "first decision must survive")
		assert.Equal(t, "alice", item.DecidedBy)
	})

	t.Run("reject then approve", func(t *testing.T) {
		id, err := store.Enqueue(ctx, testDraft())
		require.NoError(t, err)
		require.NoError(t, store.Reject(ctx, id, "bob", "off brand"))
		assert.ErrorIs(t, store.Approve(ctx, id, "alice"), ErrAlreadyDecided)
	})
}

func TestExportPreconditions(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	t.Run("queued item", func(t *testing.T) {
		id, err := store.Enqueue(ctx, testDraft())
		require.NoError(t, err)
		_, err = store.Export(ctx, id)
		assert.ErrorIs(t, err, ErrNotApproved)
	})

	t.Run("rejected item", func(t *testing.T) {
		id, err := store.Enqueue(ctx, testDraft())
		require.NoError(t, err)
		require.NoError(t, store.Reject(ctx, id, "bob", "off brand"))
		_, err = store.Export(ctx, id)
		assert.ErrorIs(t, err, ErrNotApproved)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := store.Export(ctx, "no-such-id")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestNotFound(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, store.Approve(ctx, "no-such-id", "alice"), ErrNotFound)
	assert.ErrorIs(t, store.Reject(ctx, "no-such-id", "alice", "why"), ErrNotFound)
	_, err := store.Get(ctx, "no-such-id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentDecisionsLinearized(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, testDraft())
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if n%2 == 0 {
				results[n] = store.Approve(ctx, id, "alice")
			} else {
				results[n] = store.Reject(ctx, id, "bob", "race")
			}
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyDecided)
		}
	}
	assert.Equal(t, 1, wins, "exactly one decision may win")
}

func TestExpireOldPending(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, testDraft())
	require.NoError(t, err)

	count, err := store.ExpireOldPending(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	item, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, string(models.StateExpired), item.Status)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Expired)
	assert.Equal(t, 1, stats.Total)
}

func TestExportRunSweepsApprovedOnly(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	approved1, err := store.Enqueue(ctx, testDraft())
	require.NoError(t, err)
	approved2, err := store.Enqueue(ctx, testDraft())
	require.NoError(t, err)
	rejected, err := store.Enqueue(ctx, testDraft())
	require.NoError(t, err)
	pending, err := store.Enqueue(ctx, testDraft())
	require.NoError(t, err)

	otherRun := testDraft()
	otherRun.RunID = "run-other"
	otherID, err := store.Enqueue(ctx, otherRun)
	require.NoError(t, err)
	require.NoError(t, store.Approve(ctx, otherID, "alice"))

	require.NoError(t, store.Approve(ctx, approved1, "alice"))
	require.NoError(t, store.Approve(ctx, approved2, "bob"))
	require.NoError(t, store.Reject(ctx, rejected, "alice", "off brand"))

	records, err := store.ExportRun(ctx, "run-abc123")
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, record := range records {
		assert.Equal(t, "run-abc123", record.RunID)
		assert.NotEmpty(t, record.ExportedAt)
	}

	// Pending and rejected items are untouched.
	item, err := store.Get(ctx, pending)
	require.NoError(t, err)
	assert.Equal(t, string(models.StateQueued), item.Status)
	item, err = store.Get(ctx, rejected)
	require.NoError(t, err)
	assert.Equal(t, string(models.StateRejected), item.Status)

	// Re-running the sweep returns the same records again.
	records, err = store.ExportRun(ctx, "run-abc123")
	require.NoError(t, err)
	assert.Len(t, records, 2)
}
