package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"dispatchd.dev/internal/audit"
	"dispatchd.dev/internal/dispatch"
	"dispatchd.dev/internal/identity"
)

type createJobRequest struct {
	AccountID             string           `json:"account_id"`
	Type                  dispatch.JobType `json:"type"`
	Parameters            map[string]any   `json:"parameters"`
	Priority              int              `json:"priority"`
	EarliestExecutionTime time.Time        `json:"earliest_execution_time"`
	TimeoutSeconds        int              `json:"timeout_seconds"`
}

func (a *API) handleControlJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createJob(w, r)
	case http.MethodGet:
		a.listJobs(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (a *API) createJob(w http.ResponseWriter, r *http.Request) {
	if err := requirePermission(r.Context(), identity.PermJobCreate); err != nil {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "insufficient permissions", "request_id": requestIDOf(r)})
		return
	}
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body", "request_id": requestIDOf(r)})
		return
	}
	userID, _ := identity.UserIDFromContext(r.Context())
	job, err := a.dispatch.CreateJob(r.Context(), req.AccountID, userID, req.Type, req.Parameters,
		req.Priority, req.EarliestExecutionTime, req.TimeoutSeconds)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	limit := queryInt(r, "limit", 0)
	jobs, err := a.dispatch.ListJobs(r.Context(), accountID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (a *API) handleControlResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	accountID := r.URL.Query().Get("account_id")
	limit := queryInt(r, "limit", 0)
	results, err := a.dispatch.ListResults(r.Context(), accountID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

type createAccountRequest struct {
	ProfileURL  string `json:"profile_url"`
	DisplayName string `json:"display_name"`
}

func (a *API) handleControlAccounts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req createAccountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body", "request_id": requestIDOf(r)})
			return
		}
		userID, _ := identity.UserIDFromContext(r.Context())
		acc, err := a.accounts.CreateAccount(r.Context(), userID, req.ProfileURL, req.DisplayName)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, acc)
	case http.MethodGet:
		userID, _ := identity.UserIDFromContext(r.Context())
		acc, err := a.accounts.GetByUserID(r.Context(), userID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, acc)
	default:
		http.NotFound(w, r)
	}
}

type pauseAccountRequest struct {
	AccountID string `json:"account_id"`
	Paused    bool   `json:"paused"`
}

func (a *API) handleControlPauseAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req pauseAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body", "request_id": requestIDOf(r)})
		return
	}
	acc, err := a.accounts.SetUserPaused(r.Context(), req.AccountID, req.Paused)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (a *API) handleControlRiskScore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	accountID := r.URL.Query().Get("account_id")
	score, err := a.risk.CalculateRiskScore(r.Context(), accountID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

type acknowledgeRequest struct {
	ViolationID string `json:"violation_id"`
}

func (a *API) handleControlRiskAcknowledge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	if err := requirePermission(r.Context(), identity.PermRiskAcknowledge); err != nil {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "insufficient permissions", "request_id": requestIDOf(r)})
		return
	}
	var req acknowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body", "request_id": requestIDOf(r)})
		return
	}
	if err := a.risk.AcknowledgeViolation(r.Context(), req.ViolationID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "acknowledged"})
}

func (a *API) handleControlAuditQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	f := audit.Filter{
		Domain:     r.URL.Query().Get("domain"),
		EntityType: r.URL.Query().Get("entity_type"),
		EntityID:   r.URL.Query().Get("entity_id"),
	}
	limit := queryInt(r, "limit", 100)
	entries, err := a.auditSink.Query(r.Context(), f, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
