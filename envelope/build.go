// Package envelope turns enriched records into the wire envelopes published
// to the event bus.
package envelope

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/curately/atsync/common"
)

// Build assembles the publish envelope for one entity. The payload is JSON
// with empty leaves pruned. A marshalling error is a per-entity
// SerializationFailure; the caller skips the entity and moves on.
func Build(tenant, provider string, rec common.EnrichedRecord, change common.EffectiveChange, delta common.AssociationDelta) (common.EventEnvelope, error) {
	recruiterID := ""
	payload := ""
	if rec.Payload != nil {
		recruiterID = ownerID(rec.Payload)
		data, err := json.Marshal(pruneEmpty(rec.Payload))
		if err != nil {
			return common.EventEnvelope{}, common.SerializationFailure(change.EntityType, change.EntityID, err)
		}
		payload = string(data)
	}

	return common.EventEnvelope{
		TenantID:      tenant,
		Provider:      provider,
		EntityType:    change.EntityType,
		EntityID:      change.EntityID,
		EventKind:     string(change.Kind),
		Payload:       payload,
		ChangedFields: strings.Join(rec.ChangedFields, ","),
		AddedIDs:      strings.Join(delta.AddedIDs, ","),
		RemovedIDs:    strings.Join(delta.RemovedIDs, ","),
		RecruiterID:   recruiterID,
	}, nil
}

// Encode serializes the envelope itself for the wire.
func Encode(env common.EventEnvelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, common.SerializationFailure(env.EntityType, env.EntityID, err)
	}
	return data, nil
}

// pruneEmpty drops empty strings, nils, and empty containers recursively so
// the wire payload carries only populated fields.
func pruneEmpty(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			pruned := pruneEmpty(val)
			if isEmpty(pruned) {
				continue
			}
			out[k] = pruned
		}
		return out
	case []any:
		out := make([]any, 0, len(t))
		for _, val := range t {
			pruned := pruneEmpty(val)
			if isEmpty(pruned) {
				continue
			}
			out = append(out, pruned)
		}
		return out
	default:
		return v
	}
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	default:
		return false
	}
}

func ownerID(payload map[string]any) string {
	owner, _ := payload["owner"].(map[string]any)
	if owner == nil {
		return ""
	}
	switch id := owner["id"].(type) {
	case string:
		return id
	case float64:
		return strconv.FormatInt(int64(id), 10)
	default:
		return ""
	}
}
