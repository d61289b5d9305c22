package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curately/atsync/cfg"
	"github.com/curately/atsync/common"
)

func newTestGateway(t *testing.T, handler http.Handler, pageSize int) *HTTPGateway {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewHTTPGateway("bullhorn", &cfg.ProviderConfiguration{
		BaseURL:   server.URL,
		Token:     "test-token",
		PageSize:  pageSize,
		TimeoutMS: 5000,
	})
}

func TestListChanges_DecodesEvents(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/changes", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "acme", r.URL.Query().Get("tenant"))
		assert.Equal(t, "Candidate", r.URL.Query().Get("entityType"))
		assert.Equal(t, "42", r.URL.Query().Get("sinceEventId"))

		json.NewEncoder(w).Encode(map[string]any{
			"events": []map[string]any{
				{
					"entityName":        "Candidate",
					"entityId":          "7",
					"entityEventType":   "UPDATED",
					"updatedProperties": []string{"email"},
					"eventId":           43,
					"eventTimestamp":    1717243200000,
				},
				{
					"entityName":      "Candidate",
					"entityId":        "8",
					"entityEventType": "INSERTED",
					"addedIds":        "1, 2,,3",
					"eventId":         44,
				},
			},
		})
	})
	gw := newTestGateway(t, handler, 100)

	events, err := gw.ListChanges(context.Background(), "acme", "Candidate", Since{SeqID: 42})
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, common.KindUpdated, events[0].Kind)
	assert.Equal(t, []string{"email"}, events[0].ChangedFields)
	assert.Equal(t, uint64(43), events[0].SeqID)
	assert.Equal(t, int64(1717243200000), events[0].Timestamp.UnixMilli())

	assert.Equal(t, common.KindInserted, events[1].Kind)
	assert.Equal(t, []string{"1", "2", "3"}, events[1].AddedIDs)
}

func TestListChanges_PaginatesUntilShortPage(t *testing.T) {
	const pageSize = 3
	total := 7

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start, _ := strconv.Atoi(r.URL.Query().Get("start"))
		count, _ := strconv.Atoi(r.URL.Query().Get("count"))
		assert.Equal(t, pageSize, count)

		var events []map[string]any
		for i := start; i < start+count && i < total; i++ {
			events = append(events, map[string]any{
				"entityName":      "Candidate",
				"entityId":        fmt.Sprintf("%d", i),
				"entityEventType": "UPDATED",
				"eventId":         i + 1,
			})
		}
		json.NewEncoder(w).Encode(map[string]any{"events": events})
	})
	gw := newTestGateway(t, handler, pageSize)

	events, err := gw.ListChanges(context.Background(), "acme", "Candidate", Since{})
	require.NoError(t, err)
	assert.Len(t, events, total)
	assert.Equal(t, "6", events[total-1].EntityID)
}

func TestListChanges_TimestampWindowParams(t *testing.T) {
	from := time.Date(2024, 5, 31, 12, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, from.Format(time.RFC3339), r.URL.Query().Get("fromDate"))
		assert.Equal(t, to.Format(time.RFC3339), r.URL.Query().Get("toDate"))
		assert.Empty(t, r.URL.Query().Get("sinceEventId"))
		json.NewEncoder(w).Encode(map[string]any{"events": []map[string]any{}})
	})
	gw := newTestGateway(t, handler, 100)

	_, err := gw.ListChanges(context.Background(), "acme", "Candidate", Since{From: from, To: to})
	require.NoError(t, err)
}

func TestGet_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			wantErr: common.ErrUpstreamUnavailable,
		},
		{
			name: "empty body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			},
			wantErr: common.ErrEmptyOrInvalidResponse,
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("<html>not json</html>"))
			},
			wantErr: common.ErrEmptyOrInvalidResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newTestGateway(t, tt.handler, 100)
			_, err := gw.ListChanges(context.Background(), "acme", "Candidate", Since{})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestGetEntities_JoinsIDsAndFields(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/entities", r.URL.Path)
		assert.Equal(t, "1,2", r.URL.Query().Get("ids"))
		assert.Equal(t, "id,firstName", r.URL.Query().Get("fields"))
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"id": "1", "firstName": "Ada"},
				{"id": "2", "firstName": "Grace"},
			},
		})
	})
	gw := newTestGateway(t, handler, 100)

	payloads, err := gw.GetEntities(context.Background(), "acme", "Candidate", []string{"1", "2"}, []string{"id", "firstName"})
	require.NoError(t, err)
	require.Len(t, payloads, 2)
	assert.Equal(t, "Ada", payloads[0]["firstName"])
}

func TestGetEntities_EmptyIDsSkipsCall(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no HTTP call expected for an empty id list")
	})
	gw := newTestGateway(t, handler, 100)

	payloads, err := gw.GetEntities(context.Background(), "acme", "Candidate", nil, nil)
	require.NoError(t, err)
	assert.Nil(t, payloads)
}

func TestSubmittalsByCandidates(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/submittals", r.URL.Path)
		assert.Equal(t, "10,11", r.URL.Query().Get("candidateIds"))
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"candidateId": "10", "jobId": "500", "startDate": "2024-01-01T00:00:00", "terminationDate": ""},
			},
		})
	})
	gw := newTestGateway(t, handler, 100)

	subs, err := gw.SubmittalsByCandidates(context.Background(), "acme", []string{"10", "11"})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "500", subs[0].JobID)
	assert.Equal(t, "2024-01-01T00:00:00", subs[0].StartDate)
}

func TestResumesByCandidates(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/resumes", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"candidateId": "1", "resumeId": "r1", "fileName": "cv.pdf", "dateUpdated": 1717243200000},
			},
		})
	})
	gw := newTestGateway(t, handler, 100)

	resumes, err := gw.ResumesByCandidates(context.Background(), "acme", []string{"1"})
	require.NoError(t, err)
	require.Len(t, resumes, 1)
	assert.Equal(t, "cv.pdf", resumes[0].FileName)
	assert.Equal(t, int64(1717243200000), resumes[0].DateUpdated.UnixMilli())
}

func TestContactByID(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/contacts/bh-55", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"id": "bh-55", "name": "Pat"},
		})
	})
	gw := newTestGateway(t, handler, 100)

	contact, err := gw.ContactByID(context.Background(), "acme", "bh-55")
	require.NoError(t, err)
	assert.Equal(t, "Pat", contact["name"])
}

func TestSplitIDs(t *testing.T) {
	assert.Nil(t, splitIDs(""))
	assert.Nil(t, splitIDs(" , ,"))
	assert.Equal(t, []string{"1", "2", "3"}, splitIDs("1, 2,3"))
}
