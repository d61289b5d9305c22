package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curately/atsync/common"
)

func TestCoalesce_UnionOfUpdatedFields(t *testing.T) {
	events := []common.RawChangeEvent{
		{EntityType: common.EntityCandidate, EntityID: "12", Kind: common.KindUpdated, ChangedFields: []string{"email", "firstName"}},
		{EntityType: common.EntityCandidate, EntityID: "12", Kind: common.KindUpdated, ChangedFields: []string{"email", "status"}},
	}

	result := Coalesce(events)

	require.Len(t, result.Changes, 1)
	change := result.Changes["12"]
	assert.Equal(t, common.KindUpdated, change.Kind)
	assert.Equal(t, []string{"email", "firstName", "status"}, change.ChangedFields)
	assert.Equal(t, 2, result.TotalEntries)
	assert.Equal(t, 1, result.MergedCount)
	assert.Equal(t, 1, result.DroppedCount)
}

func TestCoalesce_InsertWinsTheGroup(t *testing.T) {
	// An UPDATED event arriving alongside an INSERTED one in the same cycle
	// must not shrink the field set: an insert makes every field new.
	events := []common.RawChangeEvent{
		{EntityType: common.EntityCandidate, EntityID: "44", Kind: common.KindUpdated, ChangedFields: []string{"email"}},
		{EntityType: common.EntityCandidate, EntityID: "44", Kind: common.KindInserted},
	}

	result := Coalesce(events)

	require.Len(t, result.Changes, 1)
	change := result.Changes["44"]
	assert.Equal(t, common.KindInserted, change.Kind)
	assert.Equal(t, common.FieldManifest(common.EntityCandidate), change.ChangedFields)
}

func TestCoalesce_SingletonPassesThrough(t *testing.T) {
	events := []common.RawChangeEvent{
		{EntityType: common.EntityJobOrder, EntityID: "7", Kind: common.KindUpdated, ChangedFields: []string{"title"}},
	}

	result := Coalesce(events)

	require.Len(t, result.Changes, 1)
	assert.Equal(t, []string{"title"}, result.Changes["7"].ChangedFields)
	assert.Zero(t, result.DroppedCount)
}

func TestCoalesce_OneChangePerEntity(t *testing.T) {
	events := []common.RawChangeEvent{
		{EntityType: common.EntityCandidate, EntityID: "1", Kind: common.KindUpdated, ChangedFields: []string{"email"}},
		{EntityType: common.EntityCandidate, EntityID: "2", Kind: common.KindUpdated, ChangedFields: []string{"email"}},
		{EntityType: common.EntityCandidate, EntityID: "1", Kind: common.KindUpdated, ChangedFields: []string{"status"}},
		{EntityType: common.EntityCandidate, EntityID: "3", Kind: common.KindDeleted},
	}

	result := Coalesce(events)

	assert.Len(t, result.Changes, 3)
	assert.Equal(t, []string{"1", "2", "3"}, result.OrderedIDs())
	assert.Equal(t, common.KindDeleted, result.Changes["3"].Kind)
}

func TestCoalesce_SkipsInvalidEvents(t *testing.T) {
	events := []common.RawChangeEvent{
		{EntityType: common.EntityCandidate, EntityID: "", Kind: common.KindUpdated},
		{EntityType: "", EntityID: "5", Kind: common.KindUpdated},
		{EntityType: common.EntityCandidate, EntityID: "5", Kind: "MUTATED"},
		{EntityType: common.EntityCandidate, EntityID: "5", Kind: common.KindUpdated, ChangedFields: []string{"email"}},
	}

	result := Coalesce(events)

	assert.Len(t, result.Changes, 1)
	assert.Equal(t, 1, result.TotalEntries)
}

func TestCoalesce_Deterministic(t *testing.T) {
	events := []common.RawChangeEvent{
		{EntityType: common.EntityCandidate, EntityID: "9", Kind: common.KindUpdated, ChangedFields: []string{"status", "email"}},
		{EntityType: common.EntityCandidate, EntityID: "9", Kind: common.KindUpdated, ChangedFields: []string{"address", "email"}},
	}
	reversed := []common.RawChangeEvent{events[1], events[0]}

	first := Coalesce(events)
	second := Coalesce(reversed)

	assert.Equal(t, first.Changes["9"].ChangedFields, second.Changes["9"].ChangedFields)
	assert.Equal(t, []string{"address", "email", "status"}, first.Changes["9"].ChangedFields)
}

func TestMergeDeltas_UnionsMembershipChanges(t *testing.T) {
	events := []common.RawChangeEvent{
		{EntityType: common.EntityTearsheet, EntityID: "3", Kind: common.KindUpdated, AddedIDs: []string{"7", "9"}},
		{EntityType: common.EntityTearsheet, EntityID: "3", Kind: common.KindUpdated, AddedIDs: []string{"9", "11"}, RemovedIDs: []string{"2", ""}},
	}

	delta := MergeDeltas(events)

	assert.Equal(t, []string{"11", "7", "9"}, delta.AddedIDs)
	assert.Equal(t, []string{"2"}, delta.RemovedIDs)
}

func TestCoalesce_DeltasOnlyWhenPresent(t *testing.T) {
	events := []common.RawChangeEvent{
		{EntityType: common.EntityTearsheet, EntityID: "3", Kind: common.KindUpdated, ChangedFields: []string{"candidates"}, AddedIDs: []string{"7"}},
		{EntityType: common.EntityCandidate, EntityID: "5", Kind: common.KindUpdated, ChangedFields: []string{"email"}},
	}

	result := Coalesce(events)

	require.Contains(t, result.Deltas, "3")
	assert.NotContains(t, result.Deltas, "5")
}

func TestMaxSeqID(t *testing.T) {
	events := []common.RawChangeEvent{
		{SeqID: 10}, {SeqID: 42}, {SeqID: 7},
	}
	assert.Equal(t, uint64(42), MaxSeqID(events))
	assert.Zero(t, MaxSeqID(nil))
}

func TestMaxTimestamp(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	events := []common.RawChangeEvent{
		{Timestamp: base},
		{Timestamp: base.Add(2 * time.Hour)},
		{Timestamp: base.Add(time.Hour)},
	}
	assert.Equal(t, base.Add(2*time.Hour), MaxTimestamp(events))
	assert.True(t, MaxTimestamp(nil).IsZero())
}
