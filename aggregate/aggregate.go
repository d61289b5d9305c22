package aggregate

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/curately/atsync/common"
	"github.com/curately/atsync/telemetry"
)

// Result contains the coalesced output for one cycle.
type Result struct {
	Changes      map[string]common.EffectiveChange  // entity id -> effective change
	Deltas       map[string]common.AssociationDelta // entity id -> association delta
	TotalEntries int                                // input count
	MergedCount  int                                // output count (after coalescing)
	DroppedCount int                                // raw events folded into an existing change
}

// OrderedIDs returns the entity ids of the result in sorted order so callers
// iterate deterministically.
func (r *Result) OrderedIDs() []string {
	ids := make([]string, 0, len(r.Changes))
	for id := range r.Changes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ValidateEvent checks a raw event for required fields.
func ValidateEvent(ev common.RawChangeEvent) error {
	if ev.EntityType == "" {
		return fmt.Errorf("entity type is required for all raw events")
	}
	if ev.EntityID == "" {
		return fmt.Errorf("entity id is required for all raw events")
	}
	switch ev.Kind {
	case common.KindInserted, common.KindUpdated, common.KindDeleted:
	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
	return nil
}

// GroupByEntityID groups raw events by entity id.
func GroupByEntityID(events []common.RawChangeEvent) map[string][]common.RawChangeEvent {
	groups := make(map[string][]common.RawChangeEvent)

	for _, ev := range events {
		groups[ev.EntityID] = append(groups[ev.EntityID], ev)
	}

	return groups
}

// MergeGroup collapses all raw events for one entity into one effective
// change.
//
// Rules:
//   - A single event passes through unchanged (an insert still expands its
//     field set to the full manifest).
//   - Any INSERTED event wins the group: kind=INSERTED, fields = the full
//     field manifest for the type. An insert makes every field new no matter
//     which subset the provider reported alongside it.
//   - Otherwise one representative carries the union of all UPDATED field
//     sets.
func MergeGroup(events []common.RawChangeEvent) (common.EffectiveChange, bool) {
	if len(events) == 0 {
		return common.EffectiveChange{}, false
	}

	var inserted *common.RawChangeEvent
	fieldSet := make(map[string]struct{})
	for i := range events {
		ev := &events[i]
		if ev.Kind == common.KindInserted && inserted == nil {
			inserted = ev
		}
		if ev.Kind == common.KindUpdated {
			for _, f := range ev.ChangedFields {
				fieldSet[f] = struct{}{}
			}
		}
	}

	if inserted != nil {
		return common.EffectiveChange{
			EntityID:      inserted.EntityID,
			EntityType:    inserted.EntityType,
			Kind:          common.KindInserted,
			ChangedFields: common.FieldManifest(inserted.EntityType),
		}, true
	}

	rep := events[0]
	fields := make([]string, 0, len(fieldSet))
	for f := range fieldSet {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	return common.EffectiveChange{
		EntityID:      rep.EntityID,
		EntityType:    rep.EntityType,
		Kind:          rep.Kind,
		ChangedFields: fields,
	}, true
}

// MergeDeltas unions the association-delta id lists across all events of one
// group. Both lists come back sorted and de-duplicated. An entity whose
// membership changed twice in one cycle (two separate add operations, say)
// reports the combined set.
func MergeDeltas(events []common.RawChangeEvent) common.AssociationDelta {
	added := make(map[string]struct{})
	removed := make(map[string]struct{})
	for _, ev := range events {
		for _, id := range ev.AddedIDs {
			if id != "" {
				added[id] = struct{}{}
			}
		}
		for _, id := range ev.RemovedIDs {
			if id != "" {
				removed[id] = struct{}{}
			}
		}
	}
	return common.AssociationDelta{
		AddedIDs:   sortedKeys(added),
		RemovedIDs: sortedKeys(removed),
	}
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Coalesce processes one cycle's raw events into at most one effective
// change per entity id. Invalid events are logged and skipped rather than
// failing the cycle.
func Coalesce(events []common.RawChangeEvent) *Result {
	valid := events[:0:0]
	for _, ev := range events {
		if err := ValidateEvent(ev); err != nil {
			log.Warn().Err(err).
				Str("entity", ev.EntityType).
				Str("id", ev.EntityID).
				Msg("Skipping invalid raw event")
			continue
		}
		valid = append(valid, ev)
	}

	groups := GroupByEntityID(valid)

	result := &Result{
		Changes:      make(map[string]common.EffectiveChange, len(groups)),
		Deltas:       make(map[string]common.AssociationDelta, len(groups)),
		TotalEntries: len(valid),
	}

	// Sort ids so merge order (and any logging) is deterministic.
	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		group := groups[id]
		change, ok := MergeGroup(group)
		if !ok {
			continue
		}
		result.Changes[id] = change

		delta := MergeDeltas(group)
		if len(delta.AddedIDs) > 0 || len(delta.RemovedIDs) > 0 {
			result.Deltas[id] = delta
		}

		result.DroppedCount += len(group) - 1
	}
	result.MergedCount = len(result.Changes)

	if result.DroppedCount > 0 {
		telemetry.CoalescedDropsTotal.Add(float64(result.DroppedCount))
	}

	return result
}

// MaxSeqID returns the highest sequence id observed across the raw events,
// which becomes the cycle's candidate cursor.
func MaxSeqID(events []common.RawChangeEvent) uint64 {
	var max uint64
	for _, ev := range events {
		if ev.SeqID > max {
			max = ev.SeqID
		}
	}
	return max
}

// MaxTimestamp returns the latest source timestamp observed across the raw
// events, for timestamp-cursor providers.
func MaxTimestamp(events []common.RawChangeEvent) time.Time {
	var latest time.Time
	for _, ev := range events {
		if ev.Timestamp.After(latest) {
			latest = ev.Timestamp
		}
	}
	return latest
}
