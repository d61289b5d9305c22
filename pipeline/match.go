package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/curately/atsync/common"
	"github.com/curately/atsync/eligibility"
	"github.com/curately/atsync/enrich"
	"github.com/curately/atsync/envelope"
	"github.com/curately/atsync/gateway"
	"github.com/curately/atsync/telemetry"
)

// MatchRequest asks for candidates to be matched and published against one
// job through the manual validated flow. Overrides supply values for
// mandatory job fields the payload is missing.
type MatchRequest struct {
	Tenant    string
	Provider  string
	JobID     string
	Overrides map[string]string
}

// MatchResult reports what the match flow did.
type MatchResult struct {
	JobID          string            `json:"jobId"`
	ResolvedFields map[string]string `json:"resolvedFields"`
	CandidateIDs   []string          `json:"candidateIds"`
	Published      int               `json:"published"`
}

// RunMatch executes the manual job flow: fetch the job, resolve its
// mandatory fields (stopping with a ValidationError and the missing-field
// map when resolution fails), gather the window's new candidates, filter
// them against the job, enrich with resumes, and publish. Nothing is
// published for an invalid job.
func (e *Engine) RunMatch(ctx context.Context, req MatchRequest) (*MatchResult, error) {
	gw, ok := e.gateways[req.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", req.Provider)
	}
	enricher := e.enrichers[req.Provider]
	filter := e.filters[req.Provider]

	jobs, err := gw.GetEntities(ctx, req.Tenant, common.EntityJobOrder,
		[]string{req.JobID}, common.FieldManifest(common.EntityJobOrder))
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, common.EmptyOrInvalidResponse(req.Provider, "getEntities job "+req.JobID)
	}
	job := jobs[0]

	resolution := enrich.ResolveMandatory(common.EntityJobOrder, job, req.Overrides)
	if !resolution.Valid {
		telemetry.EnvelopesSkippedTotal.With("validation").Inc()
		return nil, resolution.ValidationError(common.EntityJobOrder, req.JobID)
	}

	candidates, err := e.windowCandidates(ctx, req.Tenant, req.Provider, gw)
	if err != nil {
		return nil, err
	}

	jobCtx := eligibility.JobContext{
		JobID:      req.JobID,
		EmployerID: employerID(job),
	}
	eligible, err := filter.Eligible(ctx, req.Tenant, candidates, jobCtx)
	if err != nil {
		return nil, err
	}

	result := &MatchResult{
		JobID:          req.JobID,
		ResolvedFields: resolution.Fields,
		CandidateIDs:   eligible,
	}
	if len(eligible) == 0 {
		log.Info().Str("job", req.JobID).Msg("No eligible candidates for job")
		return result, nil
	}

	records, err := enricher.FetchRecords(ctx, req.Tenant, common.EntityCandidate,
		eligible, common.FieldManifest(common.EntityCandidate))
	if err != nil {
		return nil, err
	}
	if err := enricher.AttachResumes(ctx, req.Tenant, records); err != nil {
		return nil, err
	}

	buffer := e.bus.NewBuffer(req.Provider, common.EntityCandidate)
	for _, id := range eligible {
		payload, ok := records[id]
		if !ok {
			continue
		}
		payload["matchedJob"] = map[string]any{
			"id":    req.JobID,
			"title": resolution.Fields["title"],
		}

		change := common.EffectiveChange{
			EntityID:      id,
			EntityType:    common.EntityCandidate,
			Kind:          common.KindUpdated,
			ChangedFields: []string{"matchedJob"},
		}
		rec := common.EnrichedRecord{
			EntityID:      id,
			Payload:       payload,
			Kind:          change.Kind,
			ChangedFields: change.ChangedFields,
		}
		env, err := envelope.Build(req.Tenant, req.Provider, rec, change, common.AssociationDelta{})
		if err != nil {
			log.Error().Err(err).Str("candidate", id).Msg("Skipping candidate that failed to serialize")
			telemetry.EnvelopesSkippedTotal.With("serialization").Inc()
			continue
		}
		buffer.Append(env)
	}
	buffer.Drain()

	result.Published = buffer.Published()
	log.Info().
		Str("job", req.JobID).
		Int("candidates", len(eligible)).
		Int("published", result.Published).
		Msg("Match flow complete")
	return result, nil
}

// windowCandidates lists candidate changes since the stored watermark and
// returns their coalesced ids.
func (e *Engine) windowCandidates(ctx context.Context, tenant, provider string, gw gateway.Gateway) ([]string, error) {
	wm, err := e.store.GetWatermark(ctx, tenant, common.EntityCandidate)
	if err != nil {
		return nil, err
	}
	since := e.windowFor(common.Trigger{Tenant: tenant, Provider: provider, EntityType: common.EntityCandidate}, wm)

	events, err := gw.ListChanges(ctx, tenant, common.EntityCandidate, since)
	if err != nil {
		return nil, err
	}

	ids := make(map[string]struct{}, len(events))
	for _, ev := range events {
		if ev.Kind != common.KindDeleted {
			ids[ev.EntityID] = struct{}{}
		}
	}
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	return out, nil
}

func employerID(job map[string]any) string {
	corp, _ := job["clientCorporation"].(map[string]any)
	if corp == nil {
		return ""
	}
	switch id := corp["id"].(type) {
	case string:
		return id
	case float64:
		return fmt.Sprintf("%.0f", id)
	default:
		return ""
	}
}
