package tenauth

import (
	"errors"

	"github.com/sinarlabs/tenauth/jwt"
	"github.com/sinarlabs/tenauth/password"
	"github.com/sinarlabs/tenauth/session"
)

// Error taxonomy. The HTTP layer maps these to status codes without
// string matching:
//
//	authentication failures → 401 (generic message, detail logged only)
//	authorization failures  → 403 "Access denied"
//	validation failures     → 400 with a specific message
//	infrastructure failures → 5xx, retryable
//
// A permission check must never silently fail open or closed: storage
// errors surface as ErrStoreUnavailable, distinct from an explicit deny.
var (
	// ErrInvalidCredentials covers unknown identifier, wrong password, and
	// non-active account alike; callers must not distinguish them.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTokenExpired means the signature verified but the token is past
	// its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenMalformed means the token failed structural or signature
	// checks before any storage lookup.
	ErrTokenMalformed = errors.New("token malformed")
	// ErrTokenRevoked means a structurally valid, unexpired token whose
	// jti is on the deny-list.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrRefreshInvalid means the presented refresh token does not match
	// the stored one for its session (or the session no longer exists).
	ErrRefreshInvalid = errors.New("invalid refresh token")

	// ErrAccessDenied is the only authorization failure callers see.
	ErrAccessDenied = errors.New("access denied")

	// ErrOwnerExists rejects a second owner tenant; there is exactly one
	// owner in the structure.
	ErrOwnerExists = errors.New("owner organization already exists")
	// ErrDuplicateUser rejects provisioning when the username or email is
	// taken.
	ErrDuplicateUser = errors.New("username or email already exists")
	// ErrActionNegated rejects granting an action that the caller's tier
	// has negated for the feature.
	ErrActionNegated = errors.New("action not permitted for this tier")
	// ErrUnknownAction rejects a grant toggle for an action name outside
	// the configured bit layout.
	ErrUnknownAction = errors.New("unknown action")
	// ErrOTPInvalid covers a wrong, expired, or absent one-time code.
	ErrOTPInvalid = errors.New("invalid or expired otp")
	// ErrResetTokenInvalid covers a wrong, expired, or absent reset token.
	ErrResetTokenInvalid = errors.New("invalid or expired reset token")

	// ErrNotFound is the shared repository miss sentinel.
	ErrNotFound = errors.New("not found")
	// ErrMalformedRecord marks stored documents that fail strict parsing
	// (for example an unknown authority bit).
	ErrMalformedRecord = errors.New("malformed record")
	// ErrStoreUnavailable wraps document-store transport failures.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// IsAuthenticationFailure reports whether err maps to HTTP 401.
func IsAuthenticationFailure(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenMalformed) ||
		errors.Is(err, ErrTokenRevoked) ||
		errors.Is(err, ErrRefreshInvalid)
}

// IsAuthorizationFailure reports whether err maps to HTTP 403.
func IsAuthorizationFailure(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsValidationFailure reports whether err maps to HTTP 400.
func IsValidationFailure(err error) bool {
	return errors.Is(err, ErrOwnerExists) ||
		errors.Is(err, ErrDuplicateUser) ||
		errors.Is(err, ErrActionNegated) ||
		errors.Is(err, ErrUnknownAction) ||
		errors.Is(err, ErrOTPInvalid) ||
		errors.Is(err, ErrResetTokenInvalid) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, password.ErrPasswordTooShort)
}

// IsInfrastructureFailure reports whether err maps to HTTP 5xx and should
// be retried rather than treated as a decision.
func IsInfrastructureFailure(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, session.ErrRedisUnavailable)
}

// classifyTokenError maps jwt package errors onto the engine taxonomy.
func classifyTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrMalformed):
		return ErrTokenMalformed
	default:
		return err
	}
}
