package tenauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	internalmetrics "github.com/sinarlabs/tenauth/internal/metrics"
	"github.com/sinarlabs/tenauth/jwt"
	"github.com/sinarlabs/tenauth/password"
	"github.com/sinarlabs/tenauth/permission"
	"github.com/sinarlabs/tenauth/session"
)

// Engine is the authentication and authorization core. It owns the token
// manager, the session store, the permission bit layout, and the typed
// repositories; every dependency is injected at construction and the
// engine holds no mutable global state.
type Engine struct {
	cfg      Config
	stores   Stores
	bitset   *permission.Bitset
	tokens   *jwt.Manager
	sessions *session.Store
	hasher   *password.Hasher
	notifier Notifier

	audit   *auditDispatcher
	metrics *internalmetrics.Metrics
	now     func() time.Time
}

// Notifier delivers one-time codes out of band. The engine never logs or
// returns the code itself.
type Notifier interface {
	SendOTP(ctx context.Context, email, code string) error
}

// NoOpNotifier discards codes; useful in tests and single-box setups where
// the code is read straight from the store.
type NoOpNotifier struct{}

// SendOTP drops the code.
func (NoOpNotifier) SendOTP(context.Context, string, string) error { return nil }

type engineOptions struct {
	sink     AuditSink
	notifier Notifier
	now      func() time.Time
}

// Option customizes engine construction.
type Option func(*engineOptions)

// WithAuditSink routes audit events to the given sink.
func WithAuditSink(sink AuditSink) Option {
	return func(o *engineOptions) { o.sink = sink }
}

// WithNotifier sets the OTP delivery channel.
func WithNotifier(n Notifier) Option {
	return func(o *engineOptions) { o.notifier = n }
}

// WithClock overrides the time source for the engine and its token
// manager. Used by expiry tests.
func WithClock(now func() time.Time) Option {
	return func(o *engineOptions) { o.now = now }
}

// New builds an Engine. The action bit layout is loaded from the
// configured ActionStore; when no layout record exists yet the default
// layout is used. ctx bounds the startup reads only.
func New(ctx context.Context, cfg Config, stores Stores, redisClient redis.UniversalClient, opts ...Option) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if stores.Tenants == nil || stores.Roles == nil || stores.Users == nil ||
		stores.Features == nil || stores.Grants == nil {
		return nil, errors.New("all repositories must be provided")
	}
	if redisClient == nil {
		return nil, errors.New("redis client must be provided")
	}

	tokens, err := jwt.NewManager(cfg.JWT)
	if err != nil {
		return nil, err
	}
	hasher, err := password.NewHasher(cfg.Password.Cost)
	if err != nil {
		return nil, err
	}

	bitset, err := loadBitset(ctx, stores.Actions)
	if err != nil {
		return nil, err
	}

	var options engineOptions
	for _, opt := range opts {
		opt(&options)
	}

	e := &Engine{
		cfg:      cfg,
		stores:   stores,
		bitset:   bitset,
		tokens:   tokens,
		sessions: session.NewStore(redisClient),
		hasher:   hasher,
		notifier: options.notifier,
		metrics:  internalmetrics.New(internalmetrics.Config{Enabled: cfg.Metrics.Enabled}),
		now:      time.Now,
	}
	if e.notifier == nil {
		e.notifier = NoOpNotifier{}
	}
	if options.now != nil {
		e.now = options.now
		e.tokens = e.tokens.WithClock(options.now)
	}
	e.audit = newAuditDispatcher(cfg.Audit, options.sink)

	return e, nil
}

func loadBitset(ctx context.Context, actions ActionStore) (*permission.Bitset, error) {
	if actions == nil {
		return permission.MustDefault(), nil
	}
	values, err := actions.RoleActions(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return permission.MustDefault(), nil
		}
		return nil, err
	}
	return permission.NewBitset(values)
}

// Close flushes and stops the audit dispatcher. The engine must not be
// used after Close.
func (e *Engine) Close() {
	e.audit.Close()
}

// Bitset exposes the loaded action bit layout.
func (e *Engine) Bitset() *permission.Bitset {
	return e.bitset
}

// Ping reports session-store availability and round-trip latency.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	return e.sessions.Ping(ctx)
}

// LoginResult is the token pair handed to a successfully authenticated
// client.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    time.Duration
	Actor        *Actor
}

// Login authenticates by username or email. Unknown identifier, wrong
// password, and non-active account or tenant all fail identically with
// ErrInvalidCredentials; the distinction exists only in the audit trail.
//
// The authority tier is read fresh from the tenant record, never from any
// client-supplied state, and the issued tokens embed the effective
// per-feature permission masks for menu rendering.
func (e *Engine) Login(ctx context.Context, identifier, plaintext string) (*LoginResult, error) {
	user, err := e.stores.Users.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, e.failLogin(identifier, "unknown identifier")
		}
		return nil, err
	}
	if user.Status != StatusActive {
		return nil, e.failLogin(identifier, "account not active")
	}
	if !e.hasher.Verify(plaintext, user.PasswordHash) {
		return nil, e.failLogin(identifier, "password mismatch")
	}

	tenant, err := e.stores.Tenants.Find(ctx, user.TenantID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: user %s references missing tenant", ErrMalformedRecord, user.ID)
		}
		return nil, err
	}
	if tenant.Status != StatusActive {
		return nil, e.failLogin(identifier, "tenant not active")
	}

	result, err := e.issueSession(ctx, user, tenant, uuid.NewString())
	if err != nil {
		return nil, err
	}

	e.metrics.Inc(internalmetrics.MetricLoginSuccess)
	e.audit.Emit(AuditEvent{
		EventType: AuditLogin,
		UserID:    user.ID,
		TenantID:  user.TenantID,
		Success:   true,
	})
	return result, nil
}

func (e *Engine) failLogin(identifier, reason string) error {
	e.metrics.Inc(internalmetrics.MetricLoginFailure)
	e.audit.Emit(AuditEvent{
		EventType: AuditLogin,
		Target:    identifier,
		Success:   false,
		Error:     reason,
	})
	return ErrInvalidCredentials
}

// issueSession signs the access/refresh pair for a session and stores the
// refresh token. Login passes a fresh session ID; Refresh reuses the
// existing one.
func (e *Engine) issueSession(ctx context.Context, user *User, tenant *Tenant, sessionID string) (*LoginResult, error) {
	features, err := e.effectiveFeatures(ctx, user.Roles, tenant.Tier)
	if err != nil {
		return nil, err
	}

	jti := uuid.NewString()
	identity := jwt.Identity{
		Subject:   user.Username,
		UserID:    user.ID,
		Roles:     user.Roles,
		Authority: tenant.Tier.Bit(),
		OrgID:     user.TenantID,
		Features:  features,
		Bitws:     e.bitset.Values(),
		SessionID: sessionID,
	}

	access, accessTTL, err := e.tokens.IssueAccess(identity, jti)
	if err != nil {
		return nil, err
	}
	refresh, refreshTTL, err := e.tokens.IssueRefresh(identity)
	if err != nil {
		return nil, err
	}
	if err := e.sessions.SaveRefresh(ctx, user.ID, sessionID, refresh, refreshTTL); err != nil {
		return nil, err
	}

	return &LoginResult{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    accessTTL,
		Actor: &Actor{
			ID:        user.ID,
			Username:  user.Username,
			TenantID:  user.TenantID,
			Roles:     user.Roles,
			Tier:      tenant.Tier,
			Features:  features,
			JTI:       jti,
			SessionID: sessionID,
		},
	}, nil
}

// Refresh exchanges a refresh token for a new access token. The presented
// token must byte-match the one stored for its session; the user, tenant,
// and permission state are re-read so revoked roles or a suspended tenant
// take effect at the next refresh, not at the distant refresh-token
// expiry.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	claims, err := e.tokens.ParseType(refreshToken, jwt.TypeRefresh)
	if err != nil {
		e.metrics.Inc(internalmetrics.MetricRefreshFailure)
		return nil, classifyTokenError(err)
	}

	stored, ok, err := e.sessions.GetRefresh(ctx, claims.UserID, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if !ok || stored != refreshToken {
		e.metrics.Inc(internalmetrics.MetricRefreshFailure)
		e.audit.Emit(AuditEvent{
			EventType: AuditRefresh,
			UserID:    claims.UserID,
			Success:   false,
			Error:     "refresh token not recognized",
		})
		return nil, ErrRefreshInvalid
	}

	user, err := e.stores.Users.Find(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			e.metrics.Inc(internalmetrics.MetricRefreshFailure)
			return nil, ErrRefreshInvalid
		}
		return nil, err
	}
	if user.Status != StatusActive {
		e.metrics.Inc(internalmetrics.MetricRefreshFailure)
		return nil, ErrRefreshInvalid
	}

	tenant, err := e.stores.Tenants.Find(ctx, user.TenantID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: user %s references missing tenant", ErrMalformedRecord, user.ID)
		}
		return nil, err
	}
	if tenant.Status != StatusActive {
		e.metrics.Inc(internalmetrics.MetricRefreshFailure)
		return nil, ErrRefreshInvalid
	}

	result, err := e.issueSession(ctx, user, tenant, claims.SessionID)
	if err != nil {
		return nil, err
	}

	e.metrics.Inc(internalmetrics.MetricRefreshSuccess)
	e.audit.Emit(AuditEvent{
		EventType: AuditRefresh,
		UserID:    user.ID,
		TenantID:  user.TenantID,
		Success:   true,
	})
	return result, nil
}

// Validate checks an access token and resolves the Actor. Signature and
// expiry are verified locally first; only a structurally valid, unexpired
// token triggers the deny-list lookup, so forged tokens never probe the
// store. A store failure is returned as such, never converted into an
// allow or deny.
func (e *Engine) Validate(ctx context.Context, accessToken string) (*Actor, error) {
	start := e.now()

	claims, err := e.tokens.ParseType(accessToken, jwt.TypeAccess)
	if err != nil {
		e.metrics.Inc(internalmetrics.MetricValidateFailure)
		return nil, classifyTokenError(err)
	}

	denied, err := e.sessions.IsDenied(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if denied {
		e.metrics.Inc(internalmetrics.MetricValidateFailure)
		return nil, ErrTokenRevoked
	}

	tier, err := TierFromBit(claims.Authority)
	if err != nil {
		e.metrics.Inc(internalmetrics.MetricValidateFailure)
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}

	e.metrics.Inc(internalmetrics.MetricValidateSuccess)
	e.metrics.ObserveLatency(e.now().Sub(start))

	return &Actor{
		ID:        claims.UserID,
		Username:  claims.Subject,
		TenantID:  claims.OrgID,
		Roles:     claims.Roles,
		Tier:      tier,
		Features:  claims.Features,
		JTI:       claims.ID,
		SessionID: claims.SessionID,
	}, nil
}

// Logout revokes one session: the access token's jti goes on the
// deny-list for exactly its remaining lifetime and the session's refresh
// token is deleted. Other sessions of the same user are untouched.
func (e *Engine) Logout(ctx context.Context, accessToken string) error {
	claims, err := e.tokens.ParseType(accessToken, jwt.TypeAccess)
	if err != nil {
		return classifyTokenError(err)
	}

	if err := e.sessions.Deny(ctx, claims.ID, claims.RemainingTTL(e.now())); err != nil {
		return err
	}
	if err := e.sessions.DeleteRefresh(ctx, claims.UserID, claims.SessionID); err != nil {
		return err
	}

	e.metrics.Inc(internalmetrics.MetricLogout)
	e.metrics.Inc(internalmetrics.MetricTokenRevoked)
	e.audit.Emit(AuditEvent{
		EventType: AuditLogout,
		UserID:    claims.UserID,
		TenantID:  claims.OrgID,
		Success:   true,
	})
	return nil
}

// RevokeToken places an access token on the deny-list without touching
// its refresh session. Subsequent Validate calls on the token fail with
// ErrTokenRevoked until it would have expired anyway.
func (e *Engine) RevokeToken(ctx context.Context, accessToken string) error {
	claims, err := e.tokens.ParseType(accessToken, jwt.TypeAccess)
	if err != nil {
		return classifyTokenError(err)
	}

	if err := e.sessions.Deny(ctx, claims.ID, claims.RemainingTTL(e.now())); err != nil {
		return err
	}

	e.metrics.Inc(internalmetrics.MetricTokenRevoked)
	e.audit.Emit(AuditEvent{
		EventType: AuditTokenRevoked,
		UserID:    claims.UserID,
		TenantID:  claims.OrgID,
		Success:   true,
	})
	return nil
}

// LogoutAll deletes every refresh token the user holds, across all
// devices. Idempotent: a second call removes nothing and succeeds.
// Outstanding access tokens are not individually denied; they age out
// within the access TTL.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int, error) {
	removed, err := e.sessions.DeleteAllRefresh(ctx, userID)
	if err != nil {
		return removed, err
	}

	e.metrics.Inc(internalmetrics.MetricLogoutAll)
	e.audit.Emit(AuditEvent{
		EventType: AuditLogoutAll,
		UserID:    userID,
		Success:   true,
		Metadata:  map[string]string{"sessions_removed": fmt.Sprintf("%d", removed)},
	})
	return removed, nil
}

// ActiveSessions lists the user's sessions that still hold a refresh
// token.
func (e *Engine) ActiveSessions(ctx context.Context, userID string) ([]string, error) {
	return e.sessions.ActiveSessionIDs(ctx, userID)
}

// effectiveFeatures resolves the per-feature effective mask for a set of
// roles at a tier: grants from all roles are ORed per feature, then the
// tier's negation mask is subtracted. Features outside the tier's
// visibility are absent from the result entirely.
func (e *Engine) effectiveFeatures(ctx context.Context, roleIDs []string, tier Tier) (map[string]uint64, error) {
	features, err := e.stores.Features.VisibleTo(ctx, tier)
	if err != nil {
		return nil, err
	}

	granted := make(map[string]permission.Bits)
	if len(roleIDs) > 0 {
		grants, err := e.stores.Grants.ForRoles(ctx, roleIDs)
		if err != nil {
			return nil, err
		}
		for _, g := range grants {
			granted[g.FeatureID] |= g.Permission
		}
	}

	out := make(map[string]uint64, len(features))
	for i := range features {
		f := &features[i]
		out[f.ID] = uint64(permission.Effective(granted[f.ID], f.NegatedFor(tier)))
	}
	return out, nil
}
