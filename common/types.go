package common

import "time"

// EventKind classifies what happened to an entity upstream.
type EventKind string

const (
	KindInserted EventKind = "INSERTED"
	KindUpdated  EventKind = "UPDATED"
	KindDeleted  EventKind = "DELETED"
)

// Provider names for the supported upstream ATS systems.
const (
	ProviderBullhorn = "bullhorn"
	ProviderJobDiva  = "jobdiva"
	ProviderAgileOne = "agileone"
)

// Entity type names as reported by the upstream providers.
const (
	EntityCandidate     = "Candidate"
	EntityJobOrder      = "JobOrder"
	EntityTearsheet     = "Tearsheet"
	EntityJobSubmission = "JobSubmission"
	EntityClientContact = "ClientContact"
	EntityPlacement     = "Placement"
)

// RawChangeEvent is a single change notification as reported by a provider.
// Several raw events may reference the same entity within one sync cycle;
// the aggregate package collapses them into one EffectiveChange. Raw events
// are never persisted.
type RawChangeEvent struct {
	EntityType    string
	EntityID      string
	Kind          EventKind
	ChangedFields []string // may be empty for inserts/deletes
	AddedIDs      []string // association members added by this event
	RemovedIDs    []string // association members removed by this event
	SeqID         uint64   // monotonic per-tenant sequence id (0 for timestamp providers)
	Timestamp     time.Time
}

// EffectiveChange is the coalesced representation of all raw events for one
// entity within one cycle. At most one exists per entity id per cycle.
type EffectiveChange struct {
	EntityID      string
	EntityType    string
	Kind          EventKind
	ChangedFields []string
}

// AssociationDelta carries the net membership change of a many-to-many
// association across one cycle. Both lists are sorted and de-duplicated.
type AssociationDelta struct {
	AddedIDs   []string
	RemovedIDs []string
}

// Watermark is the durable cursor for one (tenant, entity-type) pair.
// Cursor holds the max sequence id for event-driven providers; ActivityTime
// holds the max activity timestamp for timestamp-driven providers. A pair
// uses one or the other, never both.
type Watermark struct {
	Tenant       string
	EntityType   string
	Cursor       uint64
	ActivityTime time.Time
	Processed    int64
	UpdatedAt    time.Time
}

// EnrichedRecord is a fully hydrated entity payload ready for envelope build.
type EnrichedRecord struct {
	EntityID      string
	Payload       map[string]any
	Kind          EventKind
	ChangedFields []string
}

// EventEnvelope is the unit published to the event bus. Immutable once built.
type EventEnvelope struct {
	TenantID      string `json:"tenantId"`
	Provider      string `json:"provider"`
	EntityType    string `json:"entityType"`
	EntityID      string `json:"entityId"`
	EventKind     string `json:"eventKind"`
	Payload       string `json:"payload,omitempty"`
	ChangedFields string `json:"changedFields,omitempty"`
	AddedIDs      string `json:"addedIds,omitempty"`
	RemovedIDs    string `json:"removedIds,omitempty"`
	RecruiterID   string `json:"recruiterId,omitempty"`
}

// Trigger starts one pipeline cycle for a (tenant, provider, entity-type).
// WindowStart/WindowEnd override the stored watermark when set (explicit
// date-window replays requested through the API).
type Trigger struct {
	Tenant      string
	Provider    string
	EntityType  string
	WindowStart time.Time
	WindowEnd   time.Time
}

// CycleSummary is the audit record written after every cycle.
type CycleSummary struct {
	Tenant       string    `msgpack:"tenant"`
	Provider     string    `msgpack:"provider"`
	EntityType   string    `msgpack:"entity"`
	RawEvents    int       `msgpack:"raw"`
	Coalesced    int       `msgpack:"coalesced"`
	Filtered     int       `msgpack:"filtered"`
	Published    int       `msgpack:"published"`
	Skipped      int       `msgpack:"skipped"`
	Cursor       uint64    `msgpack:"cursor"`
	ActivityTime time.Time `msgpack:"activity"`
	StartedAt    time.Time `msgpack:"started"`
	Duration     int64     `msgpack:"duration_ms"`
}
