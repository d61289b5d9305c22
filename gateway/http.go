package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/curately/atsync/cfg"
	"github.com/curately/atsync/common"
	"github.com/curately/atsync/telemetry"
)

// HTTPGateway talks to one provider's REST API. All list endpoints paginate
// with start/count parameters; the gateway loops until a short page.
type HTTPGateway struct {
	provider string
	baseURL  string
	token    string
	pageSize int
	client   *http.Client
}

var _ Gateway = (*HTTPGateway)(nil)

// NewHTTPGateway builds a gateway for one configured provider.
func NewHTTPGateway(provider string, conf *cfg.ProviderConfiguration) *HTTPGateway {
	return &HTTPGateway{
		provider: provider,
		baseURL:  strings.TrimRight(conf.BaseURL, "/"),
		token:    conf.Token,
		pageSize: conf.PageSize,
		client: &http.Client{
			Timeout: time.Duration(conf.TimeoutMS) * time.Millisecond,
		},
	}
}

func (g *HTTPGateway) Provider() string { return g.provider }

// get performs one GET and decodes the JSON body into out. A transport or
// non-2xx failure maps to UpstreamUnavailable; a 2xx with an undecodable or
// empty body maps to EmptyOrInvalidResponse.
func (g *HTTPGateway) get(ctx context.Context, op, path string, params url.Values, out any) error {
	started := time.Now()
	defer func() {
		telemetry.GatewayCallSeconds.With(g.provider, op).Observe(time.Since(started).Seconds())
	}()

	u := g.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return common.UpstreamUnavailable(g.provider, op, err)
	}
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return common.UpstreamUnavailable(g.provider, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return common.UpstreamUnavailable(g.provider, op,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return common.UpstreamUnavailable(g.provider, op, err)
	}
	if len(body) == 0 {
		return common.EmptyOrInvalidResponse(g.provider, op)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return common.EmptyOrInvalidResponse(g.provider, op)
	}
	return nil
}

type changePage struct {
	Events []struct {
		EntityType        string   `json:"entityName"`
		EntityID          string   `json:"entityId"`
		EventType         string   `json:"entityEventType"`
		UpdatedProperties []string `json:"updatedProperties"`
		AddedIDs          string   `json:"addedIds"`   // comma-joined
		RemovedIDs        string   `json:"deletedIds"` // comma-joined
		SeqID             uint64   `json:"eventId"`
		Timestamp         int64    `json:"eventTimestamp"` // unix millis
	} `json:"events"`
}

// ListChanges pages through the provider's change feed. Sequence providers
// pass since.SeqID; timestamp providers pass the window bounds.
func (g *HTTPGateway) ListChanges(ctx context.Context, tenant, entityType string, since Since) ([]common.RawChangeEvent, error) {
	var events []common.RawChangeEvent

	for start := 0; ; start += g.pageSize {
		params := url.Values{}
		params.Set("tenant", tenant)
		params.Set("entityType", entityType)
		params.Set("start", strconv.Itoa(start))
		params.Set("count", strconv.Itoa(g.pageSize))
		if since.SeqID > 0 {
			params.Set("sinceEventId", strconv.FormatUint(since.SeqID, 10))
		}
		if !since.From.IsZero() {
			params.Set("fromDate", since.From.Format(time.RFC3339))
		}
		if !since.To.IsZero() {
			params.Set("toDate", since.To.Format(time.RFC3339))
		}

		var page changePage
		if err := g.get(ctx, "listChanges", "/changes", params, &page); err != nil {
			return nil, err
		}

		for _, raw := range page.Events {
			events = append(events, common.RawChangeEvent{
				EntityType:    raw.EntityType,
				EntityID:      raw.EntityID,
				Kind:          common.EventKind(raw.EventType),
				ChangedFields: raw.UpdatedProperties,
				AddedIDs:      splitIDs(raw.AddedIDs),
				RemovedIDs:    splitIDs(raw.RemovedIDs),
				SeqID:         raw.SeqID,
				Timestamp:     time.UnixMilli(raw.Timestamp),
			})
		}

		if len(page.Events) < g.pageSize {
			break
		}
	}

	log.Debug().
		Str("provider", g.provider).
		Str("entity", entityType).
		Int("events", len(events)).
		Msg("Listed changes")
	return events, nil
}

type entityPage struct {
	Data []map[string]any `json:"data"`
}

// GetEntities fetches full payloads for a comma-joined id list in one call.
func (g *HTTPGateway) GetEntities(ctx context.Context, tenant, entityType string, ids, fields []string) ([]map[string]any, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	params := url.Values{}
	params.Set("tenant", tenant)
	params.Set("entityType", entityType)
	params.Set("ids", strings.Join(ids, ","))
	if len(fields) > 0 {
		params.Set("fields", strings.Join(fields, ","))
	}

	var page entityPage
	if err := g.get(ctx, "getEntities", "/entities", params, &page); err != nil {
		return nil, err
	}
	return page.Data, nil
}

func (g *HTTPGateway) SubmittalsByCandidates(ctx context.Context, tenant string, candidateIDs []string) ([]Submittal, error) {
	if len(candidateIDs) == 0 {
		return nil, nil
	}

	params := url.Values{}
	params.Set("tenant", tenant)
	params.Set("candidateIds", strings.Join(candidateIDs, ","))

	var page struct {
		Data []struct {
			CandidateID     string `json:"candidateId"`
			JobID           string `json:"jobId"`
			StartDate       string `json:"startDate"`
			TerminationDate string `json:"terminationDate"`
		} `json:"data"`
	}
	if err := g.get(ctx, "submittals", "/submittals", params, &page); err != nil {
		return nil, err
	}

	out := make([]Submittal, 0, len(page.Data))
	for _, s := range page.Data {
		out = append(out, Submittal(s))
	}
	return out, nil
}

func (g *HTTPGateway) DoNotSubmitByCandidates(ctx context.Context, tenant string, candidateIDs []string) ([]DoNotSubmit, error) {
	if len(candidateIDs) == 0 {
		return nil, nil
	}

	params := url.Values{}
	params.Set("tenant", tenant)
	params.Set("candidateIds", strings.Join(candidateIDs, ","))

	var page struct {
		Data []struct {
			CandidateID string `json:"candidateId"`
			CompanyID   string `json:"companyId"`
		} `json:"data"`
	}
	if err := g.get(ctx, "doNotSubmit", "/do-not-submit", params, &page); err != nil {
		return nil, err
	}

	out := make([]DoNotSubmit, 0, len(page.Data))
	for _, d := range page.Data {
		out = append(out, DoNotSubmit(d))
	}
	return out, nil
}

func (g *HTTPGateway) NotesByCandidates(ctx context.Context, tenant string, candidateIDs []string) ([]Note, error) {
	if len(candidateIDs) == 0 {
		return nil, nil
	}

	params := url.Values{}
	params.Set("tenant", tenant)
	params.Set("candidateIds", strings.Join(candidateIDs, ","))

	var page struct {
		Data []struct {
			CandidateID string `json:"candidateId"`
			JobID       string `json:"jobId"`
		} `json:"data"`
	}
	if err := g.get(ctx, "notes", "/notes", params, &page); err != nil {
		return nil, err
	}

	out := make([]Note, 0, len(page.Data))
	for _, n := range page.Data {
		out = append(out, Note(n))
	}
	return out, nil
}

func (g *HTTPGateway) ContactByID(ctx context.Context, tenant, contactID string) (map[string]any, error) {
	params := url.Values{}
	params.Set("tenant", tenant)

	var page struct {
		Data map[string]any `json:"data"`
	}
	if err := g.get(ctx, "contact", "/contacts/"+url.PathEscape(contactID), params, &page); err != nil {
		return nil, err
	}
	return page.Data, nil
}

func (g *HTTPGateway) ResumesByCandidates(ctx context.Context, tenant string, candidateIDs []string) ([]Resume, error) {
	if len(candidateIDs) == 0 {
		return nil, nil
	}

	params := url.Values{}
	params.Set("tenant", tenant)
	params.Set("candidateIds", strings.Join(candidateIDs, ","))

	var page struct {
		Data []struct {
			CandidateID string `json:"candidateId"`
			ResumeID    string `json:"resumeId"`
			FileName    string `json:"fileName"`
			Content     string `json:"content"`
			DateUpdated int64  `json:"dateUpdated"` // unix millis
		} `json:"data"`
	}
	if err := g.get(ctx, "resumes", "/resumes", params, &page); err != nil {
		return nil, err
	}

	out := make([]Resume, 0, len(page.Data))
	for _, r := range page.Data {
		out = append(out, Resume{
			CandidateID: r.CandidateID,
			ResumeID:    r.ResumeID,
			FileName:    r.FileName,
			Content:     r.Content,
			DateUpdated: time.UnixMilli(r.DateUpdated),
		})
	}
	return out, nil
}

func (g *HTTPGateway) UsersByIDs(ctx context.Context, tenant string, userIDs []string) ([]map[string]any, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	params := url.Values{}
	params.Set("tenant", tenant)
	params.Set("ids", strings.Join(userIDs, ","))

	var page entityPage
	if err := g.get(ctx, "users", "/users", params, &page); err != nil {
		return nil, err
	}
	return page.Data, nil
}

// splitIDs breaks a comma-joined id list, dropping blanks.
func splitIDs(csv string) []string {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
