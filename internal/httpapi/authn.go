package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"dispatchd.dev/internal/identity"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

type agentCtxKey struct{}

type agentPrincipal struct {
	agentID   string
	accountID string
}

// withAgentAuth resolves the bearer token on the agent plane to
// (agentId, accountId) via the Agent Registry and attaches it to the
// request context; handlers read it with agentFromContext.
func (a *API) withAgentAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": err.Error(), "request_id": requestIDOf(r)})
			return
		}
		agentID, accountID, err := a.agents.ValidateToken(r.Context(), token)
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), agentCtxKey{}, agentPrincipal{agentID: agentID, accountID: accountID})
		next(w, r.WithContext(ctx))
	}
}

func agentFromContext(ctx context.Context) (agentPrincipal, bool) {
	p, ok := ctx.Value(agentCtxKey{}).(agentPrincipal)
	return p, ok
}

// withUserAuth resolves the bearer token on the control plane to a user id
// and role set via identity.ParseAndValidate and attaches them to the
// request context.
func (a *API) withUserAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": err.Error(), "request_id": requestIDOf(r)})
			return
		}
		claims, err := identity.ParseAndValidate(token)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid token", "request_id": requestIDOf(r)})
			return
		}
		if _, err := a.users.ResolveOrCreate(r.Context(), claims.Subject, ""); err != nil {
			writeError(w, r, err)
			return
		}
		ctx := identity.ContextWithUser(r.Context(), claims.Subject, claims.Roles)
		next(w, r.WithContext(ctx))
	}
}

// requirePermission returns a non-nil error if the user's roles lack perm;
// callers answer such a request with 403 Forbidden.
func requirePermission(ctx context.Context, perm string) error {
	if identity.HasPermission(identity.RolesFromContext(ctx), perm) {
		return nil
	}
	return identity.ErrInvalidToken
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
