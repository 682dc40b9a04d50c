package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"dispatchd.dev/internal/agentreg"
	"dispatchd.dev/internal/dispatch"
)

type registerRequest struct {
	UserID       string `json:"user_id"`
	AccountID    string `json:"account_id"`
	AgentVersion string `json:"agent_version"`
	Platform     string `json:"platform"`
}

func (a *API) handleAgentRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body", "request_id": requestIDOf(r)})
		return
	}
	result, err := a.agents.Register(r.Context(), req.UserID, req.AccountID, req.AgentVersion, req.Platform)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"agent_token":           result.AgentToken,
		"poll_interval_seconds": result.PollIntervalSeconds,
	})
}

type heartbeatRequest struct {
	Status       agentreg.ReportedStatus `json:"status"`
	CurrentJobID string                  `json:"current_job_id"`
}

func (a *API) handleAgentHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body", "request_id": requestIDOf(r)})
		return
	}
	token, _ := extractBearerToken(r.Header.Get(authHeader))
	verdict, err := a.agents.Heartbeat(r.Context(), token, req.Status, req.CurrentJobID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"allowed": verdict.Allowed, "reason": verdict.Reason})
}

func (a *API) handleAgentControlState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	principal, _ := agentFromContext(r.Context())
	verdict, err := a.agents.ControlState(r.Context(), principal.accountID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"allowed": verdict.Allowed, "reason": verdict.Reason})
}

func (a *API) handleAgentPullJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	principal, _ := agentFromContext(r.Context())
	maxBatch := dispatch.DefaultMaxBatch
	if v := r.URL.Query().Get("max_batch"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			maxBatch = n
		}
	}
	jobs, err := a.dispatch.PullJobs(r.Context(), principal.agentID, principal.accountID, maxBatch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

type submitResultRequest struct {
	JobID         string                  `json:"job_id"`
	Status        dispatch.ResultStatus   `json:"status"`
	FailureReason *dispatch.FailureReason `json:"failure_reason,omitempty"`
	ObservedState *dispatch.ObservedState `json:"observed_state,omitempty"`
}

func (a *API) handleAgentSubmitResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req submitResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body", "request_id": requestIDOf(r)})
		return
	}
	principal, _ := agentFromContext(r.Context())
	result, err := a.dispatch.SubmitResult(r.Context(), principal.agentID, req.JobID, req.Status, req.FailureReason, req.ObservedState)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type eventRequest struct {
	JobID     string             `json:"job_id"`
	EventType dispatch.EventType `json:"event_type"`
	Message   string             `json:"message"`
	Timestamp time.Time          `json:"timestamp"`
}

func (a *API) handleAgentEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body", "request_id": requestIDOf(r)})
		return
	}
	principal, _ := agentFromContext(r.Context())
	if err := a.dispatch.RecordEvent(r.Context(), principal.agentID, req.JobID, req.EventType, req.Message, req.Timestamp); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "recorded"})
}

// handleAgentScreenshot accepts screenshot metadata as an audit event; the
// image bytes themselves are expected to already live in object storage,
// with only the reference recorded here (spec's audit/observability sink
// is metadata-only, never a blob store).
type screenshotRequest struct {
	JobID string         `json:"job_id"`
	URL   string         `json:"url"`
	Meta  map[string]any `json:"metadata"`
}

func (a *API) handleAgentScreenshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req screenshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body", "request_id": requestIDOf(r)})
		return
	}
	principal, _ := agentFromContext(r.Context())
	if a.auditSink != nil {
		payload := map[string]any{"url": req.URL}
		for k, v := range req.Meta {
			payload[k] = v
		}
		if err := a.auditSink.Append(r.Context(), "dispatch", "job.screenshot", "job", req.JobID, "Agent", principal.agentID, payload); err != nil {
			writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "recorded"})
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, err
	}
	return n, nil
}
