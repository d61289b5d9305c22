// Package eligibility decides which candidates may be (re-)published against
// a job, and performs identity dedup for entity types without a job context.
package eligibility

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/curately/atsync/checkpoint"
	"github.com/curately/atsync/gateway"
	"github.com/curately/atsync/telemetry"
)

// submittalTimeLayout matches the provider's local date-time format.
const submittalTimeLayout = "2006-01-02T15:04:05"

// JobContext identifies the job a candidate set is being filtered against.
type JobContext struct {
	JobID      string
	EmployerID string
}

// Filter applies the candidate-to-job publish rules.
type Filter struct {
	gw    gateway.Gateway
	store checkpoint.Store
	seen  *checkpoint.SeenFilter
	now   func() time.Time
}

// New creates a filter. seen may be nil to disable the prefilter.
func New(gw gateway.Gateway, store checkpoint.Store, seen *checkpoint.SeenFilter) *Filter {
	return &Filter{
		gw:    gw,
		store: store,
		seen:  seen,
		now:   time.Now,
	}
}

// Eligible returns the candidate ids that may be published against the job.
//
// The notes check runs first against the full input set; the submittal and
// do-not-submit checks run against the remainder only, so a candidate dropped
// for an existing note never costs a submittal lookup.
func (f *Filter) Eligible(ctx context.Context, tenant string, candidateIDs []string, job JobContext) ([]string, error) {
	if len(candidateIDs) == 0 {
		return nil, nil
	}

	remaining, err := f.dropNoted(ctx, tenant, candidateIDs, job.JobID)
	if err != nil {
		return nil, err
	}
	if len(remaining) == 0 {
		return nil, nil
	}

	submittals, err := f.gw.SubmittalsByCandidates(ctx, tenant, remaining)
	if err != nil {
		return nil, err
	}
	dns, err := f.gw.DoNotSubmitByCandidates(ctx, tenant, remaining)
	if err != nil {
		return nil, err
	}

	engaged := f.engagedCandidates(submittals, job.JobID)
	banned := bannedCandidates(dns, job.EmployerID)

	out := make([]string, 0, len(remaining))
	for _, id := range remaining {
		if _, ok := engaged[id]; ok {
			telemetry.EligibilityExclusionsTotal.With("active_submittal").Inc()
			continue
		}
		if _, ok := banned[id]; ok {
			telemetry.EligibilityExclusionsTotal.With("do_not_submit").Inc()
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// dropNoted removes candidates that already have a note referencing the job.
func (f *Filter) dropNoted(ctx context.Context, tenant string, candidateIDs []string, jobID string) ([]string, error) {
	notes, err := f.gw.NotesByCandidates(ctx, tenant, candidateIDs)
	if err != nil {
		return nil, err
	}

	noted := make(map[string]struct{})
	for _, n := range notes {
		if n.JobID == jobID {
			noted[n.CandidateID] = struct{}{}
		}
	}
	if len(noted) == 0 {
		return candidateIDs, nil
	}

	out := make([]string, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		if _, ok := noted[id]; ok {
			telemetry.EligibilityExclusionsTotal.With("notes").Inc()
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// engagedCandidates collects candidates with a submittal for the same job or
// any submittal still judged active.
func (f *Filter) engagedCandidates(submittals []gateway.Submittal, jobID string) map[string]struct{} {
	now := f.now()
	engaged := make(map[string]struct{})
	for _, s := range submittals {
		if s.JobID == jobID || f.isActive(s, now) {
			engaged[s.CandidateID] = struct{}{}
		}
	}
	return engaged
}

// isActive reports whether a submittal is ongoing: it has started, and either
// has no termination date or terminates strictly after now. An unparseable
// termination date counts as active rather than silently releasing the
// candidate.
func (f *Filter) isActive(s gateway.Submittal, now time.Time) bool {
	if s.StartDate == "" {
		return false
	}
	if s.TerminationDate == "" {
		return true
	}
	term, err := time.Parse(submittalTimeLayout, s.TerminationDate)
	if err != nil {
		log.Warn().
			Str("candidate", s.CandidateID).
			Str("termination_date", s.TerminationDate).
			Msg("Unparseable termination date, treating submittal as active")
		return true
	}
	return term.After(now)
}

// bannedCandidates collects candidates with a do-not-submit record for
// company "0" (global ban) or the job's employer.
func bannedCandidates(dns []gateway.DoNotSubmit, employerID string) map[string]struct{} {
	banned := make(map[string]struct{})
	for _, d := range dns {
		if d.CompanyID == "0" || (employerID != "" && d.CompanyID == employerID) {
			banned[d.CandidateID] = struct{}{}
		}
	}
	return banned
}

// FilterSeen is the identity dedup used for entity types with no job context:
// ids whose ats value is already recorded in the checkpoint store are
// removed. The cuckoo prefilter shortcuts values that were definitely never
// recorded.
func (f *Filter) FilterSeen(ctx context.Context, tenant, entityType string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	probe := ids
	passthrough := make([]string, 0, len(ids))
	if f.seen != nil {
		probe = probe[:0:0]
		for _, id := range ids {
			if f.seen.MightContain(tenant, entityType, id) {
				probe = append(probe, id)
			} else {
				passthrough = append(passthrough, id)
			}
		}
	}

	known := map[string]struct{}{}
	if len(probe) > 0 {
		knownList, err := f.store.FindKnownValues(ctx, tenant, entityType, probe)
		if err != nil {
			return nil, err
		}
		for _, v := range knownList {
			known[v] = struct{}{}
		}
	}

	out := passthrough
	for _, id := range probe {
		if _, ok := known[id]; ok {
			telemetry.EligibilityExclusionsTotal.With("seen_value").Inc()
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// MarkSeen records ids as published so future cycles dedup against them.
func (f *Filter) MarkSeen(ctx context.Context, tenant, entityType string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := f.store.RecordValues(ctx, tenant, entityType, ids); err != nil {
		return err
	}
	if f.seen != nil {
		f.seen.Add(tenant, entityType, ids)
	}
	return nil
}

// WithNow overrides the clock, for tests.
func (f *Filter) WithNow(now func() time.Time) *Filter {
	f.now = now
	return f
}
