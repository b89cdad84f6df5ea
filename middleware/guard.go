// Package middleware provides net/http glue for the engine: a bearer
// token guard that resolves the Actor, and per-route permission checks.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sinarlabs/tenauth"
	"github.com/sinarlabs/tenauth/permission"
)

type actorContextKey struct{}

// ActorFromContext returns the Actor resolved by Guard for this request.
func ActorFromContext(ctx context.Context) (*tenauth.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(*tenauth.Actor)
	return actor, ok
}

// Guard validates the bearer token on every request and stores the
// resolved Actor in the request context. Missing, expired, malformed,
// and revoked tokens are all answered 401 with the same generic body;
// a session-store outage is answered 503 rather than being treated as a
// rejection.
func Guard(engine *tenauth.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			actor, err := engine.Validate(r.Context(), token)
			if err != nil {
				writeFailure(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), actorContextKey{}, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireGrant gates a route on the grant-only fast path: any of the
// actor's roles must grant every bit in required on the feature. It must
// run inside Guard.
func RequireGrant(checker *tenauth.PermissionChecker, featureID string, required permission.Bits) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			allowed, err := checker.HasPermission(r.Context(), actor.Roles, featureID, required)
			if err != nil {
				writeFailure(w, err)
				return
			}
			if !allowed {
				writeError(w, http.StatusForbidden, "Access denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireEffective gates a route on the full evaluation, negation
// included. Heavier than RequireGrant; use it where a feature's negation
// mask may have changed after its grants were written.
func RequireEffective(engine *tenauth.Engine, featureID string, required permission.Bits) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			if err := engine.Authorize(r.Context(), actor, featureID, required); err != nil {
				writeFailure(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

// writeFailure maps the engine error taxonomy onto HTTP statuses.
// Authentication failures share one generic 401 body; the specific
// cause stays in the audit trail only.
func writeFailure(w http.ResponseWriter, err error) {
	switch {
	case tenauth.IsAuthenticationFailure(err):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case tenauth.IsAuthorizationFailure(err):
		writeError(w, http.StatusForbidden, "Access denied")
	case tenauth.IsValidationFailure(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	}
}

// statusFailed is the application-level status code the front end keys
// on; it is independent of the HTTP status.
const statusFailed = 4

type errorBody struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorBody{Status: statusFailed, Message: message})
}
