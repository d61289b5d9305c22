package checkpoint

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curately/atsync/common"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:", 5000)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGetWatermark_NoRowIsNotAnError(t *testing.T) {
	store := newTestStore(t)

	wm, err := store.GetWatermark(context.Background(), "acme", "Candidate")
	require.NoError(t, err)
	assert.Nil(t, wm)
}

func TestSaveWatermark_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.SaveWatermark(ctx, common.Watermark{
		Tenant:     "acme",
		EntityType: "Candidate",
		Cursor:     42,
		Processed:  7,
	})
	require.NoError(t, err)

	wm, err := store.GetWatermark(ctx, "acme", "Candidate")
	require.NoError(t, err)
	require.NotNil(t, wm)
	assert.Equal(t, uint64(42), wm.Cursor)
	assert.Equal(t, int64(7), wm.Processed)
	assert.True(t, wm.ActivityTime.IsZero())
	assert.False(t, wm.UpdatedAt.IsZero())
}

func TestSaveWatermark_CursorNeverRegresses(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveWatermark(ctx, common.Watermark{
		Tenant: "acme", EntityType: "Candidate", Cursor: 100,
	}))

	// A stale writer trying to move the cursor backwards is a no-op.
	require.NoError(t, store.SaveWatermark(ctx, common.Watermark{
		Tenant: "acme", EntityType: "Candidate", Cursor: 50,
	}))

	wm, err := store.GetWatermark(ctx, "acme", "Candidate")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), wm.Cursor)
}

func TestSaveWatermark_ZeroEventCycleKeepsCursor(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveWatermark(ctx, common.Watermark{
		Tenant: "acme", EntityType: "Candidate", Cursor: 100, Processed: 5,
	}))

	// An empty cycle re-saves the same cursor with zero processed.
	require.NoError(t, store.SaveWatermark(ctx, common.Watermark{
		Tenant: "acme", EntityType: "Candidate", Cursor: 100,
	}))

	wm, err := store.GetWatermark(ctx, "acme", "Candidate")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), wm.Cursor)
	assert.Equal(t, int64(5), wm.Processed)
}

func TestSaveWatermark_ActivityTimeMonotonic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	later := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	earlier := later.Add(-time.Hour)

	require.NoError(t, store.SaveWatermark(ctx, common.Watermark{
		Tenant: "acme", EntityType: "Candidate", ActivityTime: later,
	}))
	require.NoError(t, store.SaveWatermark(ctx, common.Watermark{
		Tenant: "acme", EntityType: "Candidate", ActivityTime: earlier,
	}))

	wm, err := store.GetWatermark(ctx, "acme", "Candidate")
	require.NoError(t, err)
	assert.Equal(t, later.UnixMilli(), wm.ActivityTime.UnixMilli())
}

func TestWatermarks_IsolatedPerTenantAndEntity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveWatermark(ctx, common.Watermark{Tenant: "acme", EntityType: "Candidate", Cursor: 1}))
	require.NoError(t, store.SaveWatermark(ctx, common.Watermark{Tenant: "acme", EntityType: "JobOrder", Cursor: 2}))
	require.NoError(t, store.SaveWatermark(ctx, common.Watermark{Tenant: "globex", EntityType: "Candidate", Cursor: 3}))

	wm, err := store.GetWatermark(ctx, "acme", "Candidate")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), wm.Cursor)

	list, err := store.ListWatermarks(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Candidate", list[0].EntityType)
	assert.Equal(t, "JobOrder", list[1].EntityType)
}

func TestKnownValues(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordValues(ctx, "acme", "Candidate", []string{"1", "2"}))
	// Duplicate inserts are ignored.
	require.NoError(t, store.RecordValues(ctx, "acme", "Candidate", []string{"2", "3"}))

	known, err := store.FindKnownValues(ctx, "acme", "Candidate", []string{"1", "3", "9"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "3"}, known)

	// Same values under another entity type are unknown.
	known, err = store.FindKnownValues(ctx, "acme", "JobOrder", []string{"1"})
	require.NoError(t, err)
	assert.Empty(t, known)
}

func TestContacts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordContact(ctx, "acme", "bh-55", "contact-1"))
	require.NoError(t, store.RecordContact(ctx, "acme", "bh-55", "contact-2")) // remap wins

	out, err := store.ContactIDsByAtsValues(ctx, "acme", []string{"bh-55", "bh-99"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"bh-55": "contact-2"}, out)
}

func TestCycleLog_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	started := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.AppendCycleLog(ctx, common.CycleSummary{
			Tenant:     "acme",
			Provider:   "bullhorn",
			EntityType: "Candidate",
			RawEvents:  10 + i,
			Published:  5,
			Cursor:     uint64(100 + i),
			StartedAt:  started.Add(time.Duration(i) * time.Minute),
			Duration:   1200,
		}))
	}

	cycles, err := store.RecentCycles(ctx, "acme", 2)
	require.NoError(t, err)
	require.Len(t, cycles, 2)
	// Newest first.
	assert.Equal(t, 12, cycles[0].RawEvents)
	assert.Equal(t, uint64(102), cycles[0].Cursor)
	assert.Equal(t, 11, cycles[1].RawEvents)
}

func TestNewSQLiteStore_FileBacked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	store, err := NewSQLiteStore(path, 5000)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.SaveWatermark(ctx, common.Watermark{Tenant: "acme", EntityType: "Candidate", Cursor: 9}))

	wm, err := store.GetWatermark(ctx, "acme", "Candidate")
	require.NoError(t, err)
	assert.Equal(t, uint64(9), wm.Cursor)
}

func TestSeenFilter_NoFalseNegativesAfterAdd(t *testing.T) {
	seen := NewSeenFilter()

	seen.Add("acme", "Candidate", []string{"1", "2", "3"})

	for _, id := range []string{"1", "2", "3"} {
		assert.True(t, seen.MightContain("acme", "Candidate", id))
	}
}

func TestSeenFilter_KeyedByTenantAndEntity(t *testing.T) {
	seen := NewSeenFilter()

	seen.Add("acme", "Candidate", []string{"1"})

	// Different tenant or entity type hashes to a different fingerprint, so a
	// miss is the overwhelmingly likely outcome for a fresh filter.
	assert.False(t, seen.MightContain("globex", "Candidate", "99"))
}

func TestWarmSeenFilter_RecoversRecordedValuesAfterRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "checkpoints.db")

	store, err := NewSQLiteStore(path, 5000)
	require.NoError(t, err)
	require.NoError(t, store.RecordValues(ctx, "acme", "Candidate", []string{"42", "43"}))
	require.NoError(t, store.Close())

	// A new process opens the same database; the warmed filter must cover
	// every value recorded before the restart while a cold one covers none.
	reopened, err := NewSQLiteStore(path, 5000)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	warmed, err := WarmSeenFilter(ctx, reopened)
	require.NoError(t, err)
	assert.True(t, warmed.MightContain("acme", "Candidate", "42"))
	assert.True(t, warmed.MightContain("acme", "Candidate", "43"))
	assert.False(t, warmed.MightContain("acme", "Candidate", "99"))
}

func TestEachKnownValue_StreamsEveryRow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordValues(ctx, "acme", "Candidate", []string{"1", "2"}))
	require.NoError(t, store.RecordValues(ctx, "globex", "JobOrder", []string{"7"}))

	got := make(map[string]struct{})
	err := store.EachKnownValue(ctx, func(tenant, entityType, value string) error {
		got[tenant+"/"+entityType+"/"+value] = struct{}{}
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Contains(t, got, "globex/JobOrder/7")
}
