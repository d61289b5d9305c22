package gateway

import (
	"context"
	"sync"

	"github.com/curately/atsync/common"
)

// Mock is a scriptable Gateway for tests. Zero value is usable; unset
// responses return empty results.
type Mock struct {
	Name string

	Changes     []common.RawChangeEvent
	ChangesErr  error
	Entities    map[string]map[string]any // entity id -> payload
	EntitiesErr error
	Submittals  []Submittal
	DNS         []DoNotSubmit
	Notes       []Note
	Resumes     []Resume
	Contacts    map[string]map[string]any // contact id -> payload
	Users       []map[string]any

	mu            sync.Mutex
	GetEntityIDs  [][]string // ids of every GetEntities call, in order
	ListCallCount int
}

var _ Gateway = (*Mock)(nil)

func (m *Mock) Provider() string {
	if m.Name == "" {
		return "mock"
	}
	return m.Name
}

func (m *Mock) ListChanges(ctx context.Context, tenant, entityType string, since Since) ([]common.RawChangeEvent, error) {
	m.mu.Lock()
	m.ListCallCount++
	m.mu.Unlock()

	if m.ChangesErr != nil {
		return nil, m.ChangesErr
	}
	var out []common.RawChangeEvent
	for _, ev := range m.Changes {
		if ev.EntityType != entityType {
			continue
		}
		if since.SeqID > 0 && ev.SeqID <= since.SeqID {
			continue
		}
		if !since.From.IsZero() && !ev.Timestamp.After(since.From) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (m *Mock) GetEntities(ctx context.Context, tenant, entityType string, ids, fields []string) ([]map[string]any, error) {
	m.mu.Lock()
	m.GetEntityIDs = append(m.GetEntityIDs, append([]string(nil), ids...))
	m.mu.Unlock()

	if m.EntitiesErr != nil {
		return nil, m.EntitiesErr
	}
	var out []map[string]any
	for _, id := range ids {
		if p, ok := m.Entities[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Mock) SubmittalsByCandidates(ctx context.Context, tenant string, candidateIDs []string) ([]Submittal, error) {
	var out []Submittal
	for _, s := range m.Submittals {
		if containsID(candidateIDs, s.CandidateID) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Mock) DoNotSubmitByCandidates(ctx context.Context, tenant string, candidateIDs []string) ([]DoNotSubmit, error) {
	var out []DoNotSubmit
	for _, d := range m.DNS {
		if containsID(candidateIDs, d.CandidateID) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *Mock) NotesByCandidates(ctx context.Context, tenant string, candidateIDs []string) ([]Note, error) {
	var out []Note
	for _, n := range m.Notes {
		if containsID(candidateIDs, n.CandidateID) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *Mock) ContactByID(ctx context.Context, tenant, contactID string) (map[string]any, error) {
	if p, ok := m.Contacts[contactID]; ok {
		return p, nil
	}
	return nil, nil
}

func (m *Mock) ResumesByCandidates(ctx context.Context, tenant string, candidateIDs []string) ([]Resume, error) {
	var out []Resume
	for _, r := range m.Resumes {
		if containsID(candidateIDs, r.CandidateID) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Mock) UsersByIDs(ctx context.Context, tenant string, userIDs []string) ([]map[string]any, error) {
	return m.Users, nil
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
