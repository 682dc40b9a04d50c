package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"dispatchd.dev/internal/account"
	"dispatchd.dev/internal/agentreg"
	"dispatchd.dev/internal/audit"
	"dispatchd.dev/internal/dispatch"
	"dispatchd.dev/internal/dispatcherr"
	"dispatchd.dev/internal/identity"
	"dispatchd.dev/internal/obs"
	"dispatchd.dev/internal/risk"
)

// ReadyProbe checks whether the service's dependencies (chiefly the
// database) are ready to serve traffic.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP wire layer over the agent plane and control plane
// described by the platform. It owns no state of its own beyond routing:
// every request is validated then delegated to exactly one subsystem
// service.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	dispatch  *dispatch.Service
	agents    *agentreg.Service
	risk      *risk.Service
	accounts  *account.Service
	users     *identity.Service
	auditSink *audit.Sink
}

// Deps bundles every subsystem service the wire layer routes into.
type Deps struct {
	Dispatch *dispatch.Service
	Agents   *agentreg.Service
	Risk     *risk.Service
	Accounts *account.Service
	Users    *identity.Service
	Audit    *audit.Sink
}

func New(rp ReadyProbe, version string, deps Deps) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		dispatch:   deps.Dispatch,
		agents:     deps.Agents,
		risk:       deps.Risk,
		accounts:   deps.Accounts,
		users:      deps.Users,
		auditSink:  deps.Audit,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/agent/register", a.handleAgentRegister)
	a.mux.HandleFunc("/agent/heartbeat", a.withAgentAuth(a.handleAgentHeartbeat))
	a.mux.HandleFunc("/agent/jobs", a.withAgentAuth(a.handleAgentPullJobs))
	a.mux.HandleFunc("/agent/jobs/result", a.withAgentAuth(a.handleAgentSubmitResult))
	a.mux.HandleFunc("/agent/events", a.withAgentAuth(a.handleAgentEvent))
	a.mux.HandleFunc("/agent/screenshots", a.withAgentAuth(a.handleAgentScreenshot))
	a.mux.HandleFunc("/agent/control-state", a.withAgentAuth(a.handleAgentControlState))

	a.mux.HandleFunc("/control/jobs", a.withUserAuth(a.handleControlJobs))
	a.mux.HandleFunc("/control/results", a.withUserAuth(a.handleControlResults))
	a.mux.HandleFunc("/control/accounts", a.withUserAuth(a.handleControlAccounts))
	a.mux.HandleFunc("/control/accounts/pause", a.withUserAuth(a.handleControlPauseAccount))
	a.mux.HandleFunc("/control/risk/score", a.withUserAuth(a.handleControlRiskScore))
	a.mux.HandleFunc("/control/risk/acknowledge", a.withUserAuth(a.handleControlRiskAcknowledge))
	a.mux.HandleFunc("/control/audit", a.withUserAuth(a.handleControlAuditQuery))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler wraps the mux with the ambient middleware stack every request
// passes through, innermost first: request-body limits, security headers,
// metrics, structured logging, and request-id assignment.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, 1<<20)
	h = SecurityHeaders(h)
	h = obs.Instrument(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return h
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "dispatchd-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "dispatchd-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError classifies a subsystem error against the closed set of
// sentinels each package exposes and maps it to a Code from dispatcherr, then
// to the HTTP status spec §6/§7 assigns that code. This is the one place
// that translates per-package sentinels into the shared wire vocabulary.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := classify(err)
	writeJSON(w, statusForCode(code), map[string]any{
		"error":      err.Error(),
		"code":       string(code),
		"request_id": requestIDOf(r),
	})
}

func classify(err error) dispatcherr.Code {
	switch {
	case errors.Is(err, dispatch.ErrNotFound), errors.Is(err, account.ErrNotFound),
		errors.Is(err, agentreg.ErrNotFound), errors.Is(err, risk.ErrNotFound),
		errors.Is(err, identity.ErrNotFound):
		return dispatcherr.CodeNotFound
	case errors.Is(err, dispatch.ErrForbidden), errors.Is(err, agentreg.ErrAccountOwner):
		return dispatcherr.CodeForbidden
	case errors.Is(err, dispatch.ErrInvalidState):
		return dispatcherr.CodeInvalidState
	case errors.Is(err, dispatch.ErrInvalidInput), errors.Is(err, account.ErrInvalidInput),
		errors.Is(err, agentreg.ErrInvalidInput), errors.Is(err, risk.ErrInvalidInput),
		errors.Is(err, identity.ErrInvalidInput):
		return dispatcherr.CodeInvalidRequest
	case errors.Is(err, account.ErrConflict):
		return dispatcherr.CodeInvalidState
	case errors.Is(err, agentreg.ErrInvalidToken), errors.Is(err, identity.ErrInvalidToken):
		return dispatcherr.CodeUnauthorized
	default:
		return dispatcherr.CodeInternal
	}
}

func statusForCode(code dispatcherr.Code) int {
	switch code {
	case dispatcherr.CodeUnauthorized:
		return http.StatusUnauthorized
	case dispatcherr.CodeForbidden:
		return http.StatusForbidden
	case dispatcherr.CodeNotFound:
		return http.StatusNotFound
	case dispatcherr.CodeInvalidRequest, dispatcherr.CodeInvalidState:
		return http.StatusBadRequest
	case dispatcherr.CodeRiskPaused, dispatcherr.CodeSessionInvalid:
		return http.StatusServiceUnavailable
	case dispatcherr.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
