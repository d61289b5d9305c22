// Package admin exposes the operational HTTP API: manual triggers, the
// synchronous match flow, watermark inspection and metrics.
package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/curately/atsync/cfg"
	"github.com/curately/atsync/checkpoint"
	"github.com/curately/atsync/common"
	"github.com/curately/atsync/notify"
	"github.com/curately/atsync/pipeline"
)

// Handlers carries the pipeline collaborators the API needs.
type Handlers struct {
	Engine *pipeline.Engine
	Hub    *notify.Hub
	Store  checkpoint.Store
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("Failed to write API response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// AuthMiddleware checks the configured bearer token. No token configured
// means the API is open (bind it accordingly).
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := cfg.Config.API.Token
		if token != "" {
			got := r.Header.Get("Authorization")
			want := "Bearer " + token
			if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid or missing token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) handleWatermarks(w http.ResponseWriter, r *http.Request) {
	tenant := r.URL.Query().Get("tenant")
	if tenant == "" {
		writeError(w, http.StatusBadRequest, "tenant is required")
		return
	}

	wms, err := h.Store.ListWatermarks(r.Context(), tenant)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"watermarks": wms})
}

func (h *Handlers) handleCycles(w http.ResponseWriter, r *http.Request) {
	tenant := r.URL.Query().Get("tenant")
	if tenant == "" {
		writeError(w, http.StatusBadRequest, "tenant is required")
		return
	}

	cycles, err := h.Store.RecentCycles(r.Context(), tenant, 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cycles": cycles})
}

// handleTrigger fires a cycle trigger through the hub. Optional from/to
// query parameters (RFC 3339) request an explicit replay window.
func (h *Handlers) handleTrigger(w http.ResponseWriter, r *http.Request, provider, entityType string) {
	trig := common.Trigger{
		Tenant:     r.URL.Query().Get("tenant"),
		Provider:   provider,
		EntityType: entityType,
	}
	if trig.Tenant == "" {
		writeError(w, http.StatusBadRequest, "tenant is required")
		return
	}

	if from := r.URL.Query().Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from date")
			return
		}
		trig.WindowStart = t
	}
	if to := r.URL.Query().Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to date")
			return
		}
		trig.WindowEnd = t
	}

	h.Hub.Fire(trig)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

type matchBody struct {
	Tenant    string            `json:"tenant"`
	Overrides map[string]string `json:"overrides"`
}

// handleMatch runs the synchronous manual job flow. A mandatory-field
// failure returns 422 with the missing-field map.
func (h *Handlers) handleMatch(w http.ResponseWriter, r *http.Request, provider, jobID string) {
	var body matchBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Tenant == "" {
		writeError(w, http.StatusBadRequest, "tenant is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	result, err := h.Engine.RunMatch(ctx, pipeline.MatchRequest{
		Tenant:    body.Tenant,
		Provider:  provider,
		JobID:     jobID,
		Overrides: body.Overrides,
	})
	if err != nil {
		var vErr *common.ValidationError
		if errors.As(err, &vErr) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":         "mandatory field resolution failed",
				"missingFields": vErr.Missing,
			})
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}
