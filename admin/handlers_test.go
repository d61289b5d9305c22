package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curately/atsync/cfg"
	"github.com/curately/atsync/checkpoint"
	"github.com/curately/atsync/common"
	"github.com/curately/atsync/gateway"
	"github.com/curately/atsync/notify"
	"github.com/curately/atsync/pipeline"
	"github.com/curately/atsync/publisher"
	"github.com/curately/atsync/scheduler"
)

func newTestAPI(t *testing.T, gw *gateway.Mock) (*http.ServeMux, checkpoint.Store, *notify.Hub) {
	t.Helper()

	store, err := checkpoint.NewSQLiteStore(":memory:", 5000)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bus, err := publisher.NewBus(cfg.PublisherConfiguration{BatchSize: 10, CompressThreshold: 256 * 1024})
	require.NoError(t, err)

	pool, err := scheduler.NewPool(1, 2, 8)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	engine, err := pipeline.New(context.Background(), store, bus, pool,
		map[string]gateway.Gateway{common.ProviderBullhorn: gw}, 100, 16)
	require.NoError(t, err)

	hub := notify.NewHub()
	mux := http.NewServeMux()
	RegisterRoutes(mux, &Handlers{Engine: engine, Hub: hub, Store: store})
	return mux, store, hub
}

func withAPIToken(t *testing.T, token string) {
	t.Helper()
	saved := cfg.Config.API.Token
	cfg.Config.API.Token = token
	t.Cleanup(func() { cfg.Config.API.Token = saved })
}

func TestHealthIsOpen(t *testing.T) {
	withAPIToken(t, "secret")
	mux, _, _ := newTestAPI(t, &gateway.Mock{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddleware(t *testing.T) {
	withAPIToken(t, "secret")
	mux, _, _ := newTestAPI(t, &gateway.Mock{})

	req := httptest.NewRequest(http.MethodGet, "/admin/watermarks?tenant=acme", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin/watermarks?tenant=acme", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin/watermarks?tenant=acme", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWatermarksEndpoint(t *testing.T) {
	withAPIToken(t, "")
	mux, store, _ := newTestAPI(t, &gateway.Mock{})

	require.NoError(t, store.SaveWatermark(context.Background(), common.Watermark{
		Tenant: "acme", EntityType: "Candidate", Cursor: 42,
	}))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/watermarks?tenant=acme", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Watermarks []common.Watermark `json:"watermarks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Watermarks, 1)
	assert.Equal(t, uint64(42), body.Watermarks[0].Cursor)
}

func TestWatermarksEndpoint_RequiresTenant(t *testing.T) {
	withAPIToken(t, "")
	mux, _, _ := newTestAPI(t, &gateway.Mock{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/watermarks", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerEndpoint_FiresIntoHub(t *testing.T) {
	withAPIToken(t, "")
	mux, _, hub := newTestAPI(t, &gateway.Mock{})

	triggers, cancel := hub.Subscribe("")
	defer cancel()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost,
		"/admin/trigger/bullhorn/Candidate?tenant=acme", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case trig := <-triggers:
		assert.Equal(t, "bullhorn", trig.Provider)
		assert.Equal(t, "Candidate", trig.EntityType)
		assert.Equal(t, "acme", trig.Tenant)
		assert.True(t, trig.WindowStart.IsZero())
	case <-time.After(time.Second):
		t.Fatal("trigger never reached the hub")
	}
}

func TestTriggerEndpoint_ExplicitWindow(t *testing.T) {
	withAPIToken(t, "")
	mux, _, hub := newTestAPI(t, &gateway.Mock{})

	triggers, cancel := hub.Subscribe("")
	defer cancel()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost,
		"/admin/trigger/bullhorn/Candidate?tenant=acme&from=2024-06-01T00:00:00Z&to=2024-06-02T00:00:00Z", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	trig := <-triggers
	assert.Equal(t, 2024, trig.WindowStart.Year())
	assert.Equal(t, time.Duration(24)*time.Hour, trig.WindowEnd.Sub(trig.WindowStart))
}

func TestTriggerEndpoint_BadDates(t *testing.T) {
	withAPIToken(t, "")
	mux, _, _ := newTestAPI(t, &gateway.Mock{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost,
		"/admin/trigger/bullhorn/Candidate?tenant=acme&from=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMatchEndpoint_ValidationFailureReturns422(t *testing.T) {
	withAPIToken(t, "")
	gw := &gateway.Mock{
		Entities: map[string]map[string]any{
			"500": {
				"id":                "500",
				"payRate":           "55",
				"employmentType":    "Contract",
				"clientCorporation": map[string]any{"id": "77"},
				"address":           map[string]any{"city": "Boston", "state": "MA"},
			},
		},
	}
	mux, _, _ := newTestAPI(t, gw)

	req := httptest.NewRequest(http.MethodPost, "/admin/match/bullhorn/500",
		strings.NewReader(`{"tenant":"acme"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var body struct {
		MissingFields map[string]string `json:"missingFields"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.MissingFields, "title")
}

func TestMatchEndpoint_Success(t *testing.T) {
	withAPIToken(t, "")
	gw := &gateway.Mock{
		Entities: map[string]map[string]any{
			"500": {
				"id":                "500",
				"title":             "Engineer",
				"payRate":           "55",
				"employmentType":    "Contract",
				"clientCorporation": map[string]any{"id": "77"},
				"address":           map[string]any{"city": "Boston", "state": "MA"},
			},
		},
	}
	mux, _, _ := newTestAPI(t, gw)

	req := httptest.NewRequest(http.MethodPost, "/admin/match/bullhorn/500",
		strings.NewReader(`{"tenant":"acme","overrides":{"title":"Engineer II"}}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var result pipeline.MatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "500", result.JobID)
	assert.Equal(t, "Engineer II", result.ResolvedFields["title"])
}

func TestMatchEndpoint_RequiresBody(t *testing.T) {
	withAPIToken(t, "")
	mux, _, _ := newTestAPI(t, &gateway.Mock{})

	req := httptest.NewRequest(http.MethodPost, "/admin/match/bullhorn/500",
		strings.NewReader(`not json`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMatchEndpoint_UpstreamErrorReturns502(t *testing.T) {
	withAPIToken(t, "")
	gw := &gateway.Mock{}
	mux, _, _ := newTestAPI(t, gw)

	// Unknown job id yields an empty upstream response.
	req := httptest.NewRequest(http.MethodPost, "/admin/match/bullhorn/404",
		strings.NewReader(`{"tenant":"acme"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
