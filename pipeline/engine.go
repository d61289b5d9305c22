// Package pipeline orchestrates sync cycles: watermark read, change listing,
// coalescing, eligibility, concurrent enrichment and envelope build, batched
// publish, and the single watermark advance after the join barrier.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/jizhuozhi/go-future"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"

	"github.com/curately/atsync/aggregate"
	"github.com/curately/atsync/checkpoint"
	"github.com/curately/atsync/common"
	"github.com/curately/atsync/eligibility"
	"github.com/curately/atsync/enrich"
	"github.com/curately/atsync/envelope"
	"github.com/curately/atsync/gateway"
	"github.com/curately/atsync/publisher"
	"github.com/curately/atsync/scheduler"
	"github.com/curately/atsync/telemetry"
)

// referenceTimeZone is the fixed zone for timestamp-cursor providers.
const referenceTimeZone = "America/New_York"

// defaultLookback bounds the first window when no watermark exists yet.
const defaultLookback = 24 * time.Hour

// Engine runs sync cycles against a set of provider gateways.
type Engine struct {
	store     checkpoint.Store
	bus       *publisher.Bus
	pool      *scheduler.Pool
	gateways  map[string]gateway.Gateway
	filters   map[string]*eligibility.Filter
	enrichers map[string]*enrich.Enricher
	inflight  *xsync.MapOf[string, struct{}]
	refZone   *time.Location
	now       func() time.Time
}

// New creates an engine over the given gateways. One eligibility filter and
// one enricher exist per provider, all sharing the checkpoint store and one
// seen-value prefilter warmed from the store's recorded values.
func New(ctx context.Context, store checkpoint.Store, bus *publisher.Bus, pool *scheduler.Pool, gateways map[string]gateway.Gateway, chunkSize, contactCacheSize int) (*Engine, error) {
	zone, err := time.LoadLocation(referenceTimeZone)
	if err != nil {
		return nil, fmt.Errorf("failed to load reference time zone: %w", err)
	}

	seen, err := checkpoint.WarmSeenFilter(ctx, store)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		store:     store,
		bus:       bus,
		pool:      pool,
		gateways:  gateways,
		filters:   make(map[string]*eligibility.Filter, len(gateways)),
		enrichers: make(map[string]*enrich.Enricher, len(gateways)),
		inflight:  xsync.NewMapOf[string, struct{}](),
		refZone:   zone,
		now:       time.Now,
	}
	for name, gw := range gateways {
		e.filters[name] = eligibility.New(gw, store, seen)
		en, err := enrich.New(gw, store, chunkSize, contactCacheSize)
		if err != nil {
			return nil, err
		}
		e.enrichers[name] = en
	}
	return e, nil
}

// Filter exposes the per-provider eligibility filter for the match flow.
func (e *Engine) Filter(provider string) *eligibility.Filter {
	return e.filters[provider]
}

func cycleKey(t common.Trigger) string {
	return t.Tenant + "|" + t.Provider + "|" + t.EntityType
}

// RunCycle executes one full sync cycle for a trigger. Cycles for the same
// (tenant, provider, entity-type) are serialized: a trigger arriving while
// one is in flight is dropped, which keeps the watermark write unconcurrent
// per key. The watermark is written once, after the join barrier, regardless
// of publish outcome; a rejected batch relies on downstream idempotency and
// operator replay rather than stalling the cursor.
func (e *Engine) RunCycle(ctx context.Context, trig common.Trigger) error {
	gw, ok := e.gateways[trig.Provider]
	if !ok {
		return fmt.Errorf("unknown provider %q", trig.Provider)
	}

	key := cycleKey(trig)
	if _, loaded := e.inflight.LoadOrStore(key, struct{}{}); loaded {
		log.Warn().Str("cycle", key).Msg("Cycle already in flight, dropping trigger")
		telemetry.CyclesTotal.With(trig.Provider, trig.EntityType, "skipped_inflight").Inc()
		return nil
	}
	defer e.inflight.Delete(key)

	started := e.now()
	defer func() {
		telemetry.CycleDurationSeconds.With(trig.Provider).Observe(e.now().Sub(started).Seconds())
	}()

	wm, err := e.store.GetWatermark(ctx, trig.Tenant, trig.EntityType)
	if err != nil {
		return err
	}

	since := e.windowFor(trig, wm)
	events, err := gw.ListChanges(ctx, trig.Tenant, trig.EntityType, since)
	if err != nil {
		log.Error().Err(err).Str("cycle", key).Msg("Change listing failed, watermark untouched")
		telemetry.CyclesTotal.With(trig.Provider, trig.EntityType, "upstream_error").Inc()
		return err
	}

	events = e.clampToWatermark(trig, events, wm)
	if len(events) == 0 {
		log.Debug().Str("cycle", key).Msg("No changes in window")
		telemetry.CyclesTotal.With(trig.Provider, trig.EntityType, "empty").Inc()
		return nil
	}
	telemetry.RawEventsTotal.With(trig.Provider, trig.EntityType).Add(float64(len(events)))

	result := aggregate.Coalesce(events)
	summary := common.CycleSummary{
		Tenant:     trig.Tenant,
		Provider:   trig.Provider,
		EntityType: trig.EntityType,
		RawEvents:  result.TotalEntries,
		Coalesced:  result.MergedCount,
		StartedAt:  started,
	}

	ids, err := e.dedupInserted(ctx, trig, result)
	if err != nil {
		return err
	}
	summary.Filtered = result.MergedCount - len(ids)

	buffer := e.bus.NewBuffer(trig.Provider, trig.EntityType)
	skipped, err := e.dispatch(ctx, trig, result, ids, buffer)
	if err != nil {
		return err
	}
	summary.Skipped = skipped

	// Join barrier has passed inside dispatch; flush the remainder.
	buffer.Drain()
	summary.Published = buffer.Published()

	if err := e.advance(ctx, trig, events, wm); err != nil {
		return err
	}
	if err := e.markPublished(ctx, trig, result, ids); err != nil {
		return err
	}

	summary.Cursor = aggregate.MaxSeqID(events)
	summary.ActivityTime = aggregate.MaxTimestamp(events)
	summary.Duration = e.now().Sub(started).Milliseconds()
	if err := e.store.AppendCycleLog(ctx, summary); err != nil {
		log.Warn().Err(err).Str("cycle", key).Msg("Failed to append cycle log")
	}

	log.Info().
		Str("cycle", key).
		Int("raw", summary.RawEvents).
		Int("coalesced", summary.Coalesced).
		Int("filtered", summary.Filtered).
		Int("published", summary.Published).
		Msg("Cycle complete")
	telemetry.CyclesTotal.With(trig.Provider, trig.EntityType, "success").Inc()
	return nil
}

// windowFor derives the listing window from the watermark and any explicit
// trigger override. Sequence-cursor providers pass the stored sequence id;
// timestamp providers pass a date range in the reference time zone.
func (e *Engine) windowFor(trig common.Trigger, wm *common.Watermark) gateway.Since {
	if !trig.WindowStart.IsZero() {
		return gateway.Since{From: trig.WindowStart, To: trig.WindowEnd}
	}

	switch trig.Provider {
	case common.ProviderBullhorn:
		var cursor uint64
		if wm != nil {
			cursor = wm.Cursor
		}
		return gateway.Since{SeqID: cursor}
	default:
		now := e.now().In(e.refZone)
		from := now.Add(-defaultLookback)
		if wm != nil && !wm.ActivityTime.IsZero() {
			from = wm.ActivityTime.In(e.refZone)
		}
		return gateway.Since{From: from, To: now}
	}
}

// clampToWatermark drops events at or before the stored activity time for
// timestamp-cursor providers. Providers with inclusive date filtering return
// the boundary row again; without this the same change republishes forever.
// An explicit replay window bypasses the clamp, otherwise replaying a range
// older than the watermark would drop every listed event.
func (e *Engine) clampToWatermark(trig common.Trigger, events []common.RawChangeEvent, wm *common.Watermark) []common.RawChangeEvent {
	if !trig.WindowStart.IsZero() {
		return events
	}
	if trig.Provider == common.ProviderBullhorn || wm == nil || wm.ActivityTime.IsZero() {
		return events
	}
	out := events[:0]
	for _, ev := range events {
		if ev.Timestamp.After(wm.ActivityTime) {
			out = append(out, ev)
		}
	}
	return out
}

// dedupInserted removes INSERTED entities whose ats value was already
// recorded in a previous cycle. Updates always pass; republishing an update
// is harmless downstream, republishing an insert creates duplicates.
func (e *Engine) dedupInserted(ctx context.Context, trig common.Trigger, result *aggregate.Result) ([]string, error) {
	filter := e.filters[trig.Provider]

	var inserted []string
	for _, id := range result.OrderedIDs() {
		if result.Changes[id].Kind == common.KindInserted {
			inserted = append(inserted, id)
		}
	}

	fresh, err := filter.FilterSeen(ctx, trig.Tenant, trig.EntityType, inserted)
	if err != nil {
		return nil, err
	}
	freshSet := make(map[string]struct{}, len(fresh))
	for _, id := range fresh {
		freshSet[id] = struct{}{}
	}

	out := make([]string, 0, len(result.Changes))
	for _, id := range result.OrderedIDs() {
		if result.Changes[id].Kind == common.KindInserted {
			if _, ok := freshSet[id]; !ok {
				continue
			}
		}
		out = append(out, id)
	}
	return out, nil
}

// dispatch fetches payloads in bulk, runs the shared enrichment passes, then
// fans out one task per entity for per-entity enrichment, envelope build and
// buffer append. It returns after the join barrier with the count of
// entities skipped by per-entity failures.
func (e *Engine) dispatch(ctx context.Context, trig common.Trigger, result *aggregate.Result, ids []string, buffer *publisher.Buffer) (int, error) {
	enricher := e.enrichers[trig.Provider]

	var fetchIDs []string
	for _, id := range ids {
		if result.Changes[id].Kind != common.KindDeleted {
			fetchIDs = append(fetchIDs, id)
		}
	}

	records, err := enricher.FetchRecords(ctx, trig.Tenant, trig.EntityType, fetchIDs,
		common.FieldManifest(trig.EntityType))
	if err != nil {
		log.Error().Err(err).Str("cycle", cycleKey(trig)).Msg("Bulk fetch failed, abandoning cycle")
		telemetry.CyclesTotal.With(trig.Provider, trig.EntityType, "upstream_error").Inc()
		return 0, err
	}

	// Shared enrichment passes run once over the whole record set.
	switch trig.EntityType {
	case common.EntityJobOrder:
		if err := enricher.AttachContacts(ctx, trig.Tenant, records); err != nil {
			return 0, err
		}
	case common.EntityCandidate:
		if trig.Provider == common.ProviderJobDiva {
			if err := enricher.AttachResumes(ctx, trig.Tenant, records); err != nil {
				return 0, err
			}
		}
	}

	futures := make([]*future.Future[error], 0, len(ids))
	for _, id := range ids {
		id := id
		change := result.Changes[id]
		delta := result.Deltas[id]
		payload := records[id]

		futures = append(futures, e.pool.Submit(func() error {
			return e.buildAndBuffer(ctx, trig, enricher, change, delta, payload, buffer)
		}))
	}

	skipped := 0
	for i, taskErr := range scheduler.Join(futures) {
		if taskErr != nil {
			log.Error().Err(taskErr).
				Str("entity", trig.EntityType).
				Str("id", ids[i]).
				Msg("Entity task failed, siblings unaffected")
			skipped++
		}
	}
	return skipped, nil
}

// buildAndBuffer is the per-entity fan-out task.
func (e *Engine) buildAndBuffer(ctx context.Context, trig common.Trigger, enricher *enrich.Enricher, change common.EffectiveChange, delta common.AssociationDelta, payload map[string]any, buffer *publisher.Buffer) error {
	if change.Kind != common.KindDeleted && payload == nil {
		return common.EmptyOrInvalidResponse(trig.Provider, "getEntities "+change.EntityID)
	}

	if payload != nil {
		if err := enricher.RebuildAssociation(ctx, trig.Tenant, payload, change, delta); err != nil {
			return err
		}
	}

	rec := common.EnrichedRecord{
		EntityID:      change.EntityID,
		Payload:       payload,
		Kind:          change.Kind,
		ChangedFields: change.ChangedFields,
	}
	env, err := envelope.Build(trig.Tenant, trig.Provider, rec, change, delta)
	if err != nil {
		telemetry.EnvelopesSkippedTotal.With("serialization").Inc()
		return err
	}

	buffer.Append(env)
	telemetry.EnvelopesBuiltTotal.With(trig.Provider).Inc()
	return nil
}

// advance writes the cycle's watermark once. The store upsert is monotonic,
// so even a misordered write can only move the cursor forward.
func (e *Engine) advance(ctx context.Context, trig common.Trigger, events []common.RawChangeEvent, prev *common.Watermark) error {
	wm := common.Watermark{
		Tenant:     trig.Tenant,
		EntityType: trig.EntityType,
		Processed:  int64(len(events)),
	}
	if trig.Provider == common.ProviderBullhorn {
		wm.Cursor = aggregate.MaxSeqID(events)
		if prev != nil && prev.Cursor > wm.Cursor {
			wm.Cursor = prev.Cursor
		}
		telemetry.WatermarkCursor.With(trig.Provider, trig.EntityType).Set(float64(wm.Cursor))
	} else {
		wm.ActivityTime = aggregate.MaxTimestamp(events)
		if prev != nil && prev.ActivityTime.After(wm.ActivityTime) {
			wm.ActivityTime = prev.ActivityTime
		}
	}
	return e.store.SaveWatermark(ctx, wm)
}

// markPublished records the cycle's inserted ids so later cycles dedup
// against them.
func (e *Engine) markPublished(ctx context.Context, trig common.Trigger, result *aggregate.Result, ids []string) error {
	filter := e.filters[trig.Provider]
	var inserted []string
	for _, id := range ids {
		if result.Changes[id].Kind == common.KindInserted {
			inserted = append(inserted, id)
		}
	}
	return filter.MarkSeen(ctx, trig.Tenant, trig.EntityType, inserted)
}

// WithNow overrides the clock, for tests.
func (e *Engine) WithNow(now func() time.Time) *Engine {
	e.now = now
	return e
}
