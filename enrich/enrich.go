// Package enrich hydrates surviving entities into publish-ready records:
// bulk payload fetch, delta-only association rebuild for talent pools,
// resume/contact/recruiter hydration, and mandatory-field resolution for
// manual-flow jobs.
package enrich

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/curately/atsync/checkpoint"
	"github.com/curately/atsync/common"
	"github.com/curately/atsync/gateway"
)

// Enricher fetches and hydrates full entity payloads.
type Enricher struct {
	gw        gateway.Gateway
	store     checkpoint.Store
	contacts  *lru.Cache[string, map[string]any]
	chunkSize int
}

// New creates an enricher. cacheSize bounds the hot-contact cache.
func New(gw gateway.Gateway, store checkpoint.Store, chunkSize, cacheSize int) (*Enricher, error) {
	cache, err := lru.New[string, map[string]any](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create contact cache: %w", err)
	}
	return &Enricher{
		gw:        gw,
		store:     store,
		contacts:  cache,
		chunkSize: chunkSize,
	}, nil
}

// FetchRecords bulk-fetches payloads for ids, chunking requests so a large
// cycle never exceeds the provider's id-list limit. Results are keyed by the
// payload's own id field.
func (e *Enricher) FetchRecords(ctx context.Context, tenant, entityType string, ids, fields []string) (map[string]map[string]any, error) {
	out := make(map[string]map[string]any, len(ids))
	for start := 0; start < len(ids); start += e.chunkSize {
		end := start + e.chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		payloads, err := e.gw.GetEntities(ctx, tenant, entityType, ids[start:end], fields)
		if err != nil {
			return nil, err
		}
		for _, p := range payloads {
			if id := payloadID(p); id != "" {
				out[id] = p
			}
		}
	}
	return out, nil
}

// RebuildAssociation replaces a talent pool's member sub-object with the
// cycle's delta instead of the full current membership. Added members are
// fetched in full and become the entire sub-object with total = their count;
// a removal-only change yields an empty sub-object with total = 0. Prior
// membership state never matters. Only UPDATED changes carry a membership
// delta; an inserted pool publishes the full fetched payload as-is.
func (e *Enricher) RebuildAssociation(ctx context.Context, tenant string, payload map[string]any, change common.EffectiveChange, delta common.AssociationDelta) error {
	if change.Kind != common.KindUpdated {
		return nil
	}
	field, ok := common.AssociationField[change.EntityType]
	if !ok {
		return nil
	}
	if !containsField(change.ChangedFields, field) {
		return nil
	}

	if len(delta.AddedIDs) == 0 {
		payload[field] = map[string]any{
			"total": 0,
			"data":  []map[string]any{},
		}
		return nil
	}

	members, err := e.FetchRecords(ctx, tenant, common.EntityCandidate, delta.AddedIDs,
		common.FieldManifest(common.EntityCandidate))
	if err != nil {
		return err
	}

	data := make([]map[string]any, 0, len(delta.AddedIDs))
	for _, id := range delta.AddedIDs {
		if m, ok := members[id]; ok {
			data = append(data, m)
		}
	}
	payload[field] = map[string]any{
		"total": len(delta.AddedIDs),
		"data":  data,
	}
	return nil
}

// AttachResumes fetches each candidate's resumes in id chunks and attaches
// the latest one (by dateUpdated) to its payload under "latestResume".
func (e *Enricher) AttachResumes(ctx context.Context, tenant string, records map[string]map[string]any) error {
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}

	for start := 0; start < len(ids); start += e.chunkSize {
		end := start + e.chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		resumes, err := e.gw.ResumesByCandidates(ctx, tenant, ids[start:end])
		if err != nil {
			return err
		}

		latest := make(map[string]gateway.Resume)
		for _, r := range resumes {
			cur, ok := latest[r.CandidateID]
			if !ok || r.DateUpdated.After(cur.DateUpdated) {
				latest[r.CandidateID] = r
			}
		}
		for candidateID, r := range latest {
			rec, ok := records[candidateID]
			if !ok {
				continue
			}
			rec["latestResume"] = map[string]any{
				"resumeId":    r.ResumeID,
				"fileName":    r.FileName,
				"content":     r.Content,
				"dateUpdated": r.DateUpdated.UnixMilli(),
			}
		}
	}
	return nil
}

// AttachContacts resolves each job's client contact. Ids of "0" or blank are
// skipped; ids already mapped in the checkpoint store resolve to the internal
// contact id without an upstream call; unmapped ids are fetched, attached and
// recorded. The LRU keeps hot contacts from being re-fetched across cycles.
func (e *Enricher) AttachContacts(ctx context.Context, tenant string, records map[string]map[string]any) error {
	wanted := make(map[string][]string) // contact ats id -> record ids
	for recID, rec := range records {
		contactID := contactAtsID(rec)
		if contactID == "" || contactID == "0" {
			continue
		}
		wanted[contactID] = append(wanted[contactID], recID)
	}
	if len(wanted) == 0 {
		return nil
	}

	atsIDs := make([]string, 0, len(wanted))
	for id := range wanted {
		atsIDs = append(atsIDs, id)
	}
	mapped, err := e.store.ContactIDsByAtsValues(ctx, tenant, atsIDs)
	if err != nil {
		return err
	}

	for atsID, recIDs := range wanted {
		if internal, ok := mapped[atsID]; ok {
			for _, recID := range recIDs {
				setContactInfo(records[recID], map[string]any{"id": internal})
			}
			continue
		}

		contact, ok := e.contacts.Get(atsID)
		if !ok {
			contact, err = e.gw.ContactByID(ctx, tenant, atsID)
			if err != nil {
				return err
			}
			if contact == nil {
				log.Debug().Str("contact", atsID).Msg("Contact not found upstream")
				continue
			}
			e.contacts.Add(atsID, contact)
			if internal := payloadID(contact); internal != "" {
				if err := e.store.RecordContact(ctx, tenant, atsID, internal); err != nil {
					return err
				}
			}
		}
		for _, recID := range recIDs {
			setContactInfo(records[recID], contact)
		}
	}
	return nil
}

// RecruiterID extracts the owning recruiter id from a payload's owner
// sub-object, or "" when absent.
func RecruiterID(payload map[string]any) string {
	owner, _ := payload["owner"].(map[string]any)
	if owner == nil {
		return ""
	}
	return anyToID(owner["id"])
}

func payloadID(p map[string]any) string {
	return anyToID(p["id"])
}

func anyToID(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%.0f", t)
	case int:
		return fmt.Sprintf("%d", t)
	case int64:
		return fmt.Sprintf("%d", t)
	default:
		return ""
	}
}

func contactAtsID(rec map[string]any) string {
	contact, _ := rec["clientContact"].(map[string]any)
	if contact == nil {
		return ""
	}
	return anyToID(contact["id"])
}

func setContactInfo(rec map[string]any, contact map[string]any) {
	if rec == nil {
		return
	}
	rec["clientContactInfo"] = contact
}

func containsField(fields []string, name string) bool {
	for _, f := range fields {
		if f == name {
			return true
		}
	}
	return false
}
