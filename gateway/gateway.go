// Package gateway defines the upstream ATS access surface consumed by the
// pipeline. Each provider exposes the same operations behind one interface;
// wire differences stay inside the HTTP client.
package gateway

import (
	"context"
	"time"

	"github.com/curately/atsync/common"
)

// Since bounds a change listing. Event-driven providers use SeqID; timestamp
// providers use From/To.
type Since struct {
	SeqID uint64
	From  time.Time
	To    time.Time
}

// Submittal is a candidate-to-job submission record.
type Submittal struct {
	CandidateID     string
	JobID           string
	StartDate       string // provider-formatted, empty when absent
	TerminationDate string // provider-formatted, empty when absent
}

// DoNotSubmit is a candidate ban scoped to one company, or global when
// CompanyID is "0".
type DoNotSubmit struct {
	CandidateID string
	CompanyID   string
}

// Note is a recruiter note linking a candidate to a job.
type Note struct {
	CandidateID string
	JobID       string
}

// Resume is one stored resume for a candidate.
type Resume struct {
	CandidateID string
	ResumeID    string
	FileName    string
	Content     string
	DateUpdated time.Time
}

// Gateway is the full access surface for one provider.
type Gateway interface {
	// Provider returns the provider name this gateway talks to.
	Provider() string

	// ListChanges returns the raw change events after the given cursor.
	// Pagination is handled internally; the full window comes back in one
	// slice.
	ListChanges(ctx context.Context, tenant, entityType string, since Since) ([]common.RawChangeEvent, error)

	// GetEntities bulk-fetches full payloads by id. Ids are joined into as
	// few requests as the provider allows.
	GetEntities(ctx context.Context, tenant, entityType string, ids, fields []string) ([]map[string]any, error)

	SubmittalsByCandidates(ctx context.Context, tenant string, candidateIDs []string) ([]Submittal, error)
	DoNotSubmitByCandidates(ctx context.Context, tenant string, candidateIDs []string) ([]DoNotSubmit, error)
	NotesByCandidates(ctx context.Context, tenant string, candidateIDs []string) ([]Note, error)
	ContactByID(ctx context.Context, tenant, contactID string) (map[string]any, error)
	ResumesByCandidates(ctx context.Context, tenant string, candidateIDs []string) ([]Resume, error)
	UsersByIDs(ctx context.Context, tenant string, userIDs []string) ([]map[string]any, error)
}
