// Package jwt signs and verifies the session tokens issued by the engine.
// It wraps github.com/golang-jwt/jwt/v5 with the claim schema consumed by
// the route layer and classifies verification failures into expired vs
// malformed so callers can order the cheap local checks before any
// revocation-store lookup.
package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	// MethodEd25519 signs with EdDSA over Curve25519.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with HMAC-SHA256 using a shared secret.
	MethodHS256 SigningMethod = "hs256"
)

const (
	// TypeAccess marks short-lived bearer tokens carrying a jti.
	TypeAccess = "access"
	// TypeRefresh marks long-lived tokens tracked by storage key; refresh
	// tokens carry no jti because revocation deletes the stored key.
	TypeRefresh = "refresh"
)

var (
	// ErrExpired is returned by Parse when the signature verifies but the
	// token is past its expiry (plus leeway).
	ErrExpired = errors.New("token expired")
	// ErrMalformed is returned by Parse for tokens that fail structural or
	// signature checks. Malformed tokens must never reach the revocation
	// store: a forged token must not reveal whether its jti is denylisted.
	ErrMalformed = errors.New("token malformed")
)

// Claims is the signed payload. The field layout is part of the wire
// contract with the route layer and the front end.
type Claims struct {
	UserID    string            `json:"id"`
	Roles     []string          `json:"roles"`
	Authority int               `json:"authority"`
	OrgID     string            `json:"org_id"`
	Features  map[string]uint64 `json:"features,omitempty"`
	Bitws     map[string]uint64 `json:"bitws,omitempty"`
	TokenType string            `json:"token_type"`

	// SessionID names the refresh-token storage slot
	// (refresh_token:{user}:{session}); it is what makes concurrent
	// multi-device sessions independently revocable.
	SessionID string `json:"sid,omitempty"`

	jwt.RegisteredClaims
}

// Identity is the claim subset supplied by callers at issuance; expiry,
// jti, and token type are filled in by the Manager.
type Identity struct {
	Subject   string
	UserID    string
	Roles     []string
	Authority int
	OrgID     string
	Features  map[string]uint64
	Bitws     map[string]uint64
	SessionID string
}

// Config holds signing material and lifetimes.
type Config struct {
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Leeway        time.Duration
}

// Manager issues and parses tokens. Immutable after construction.
type Manager struct {
	config Config
	now    func() time.Time
}

// NewManager validates the configuration and key material.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
	case MethodEd25519:
		if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
			return nil, err
		}
		if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	return &Manager{config: cfg, now: time.Now}, nil
}

// WithClock overrides the time source. Used by TTL tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	clone := *m
	clone.now = now
	return &clone
}

// IssueAccess signs an access token with a fresh jti and the configured
// access TTL. Returns the token, its jti, and the TTL applied.
func (m *Manager) IssueAccess(id Identity, jti string) (string, time.Duration, error) {
	ttl := m.config.AccessTTL
	token, err := m.sign(id, TypeAccess, jti, ttl)
	return token, ttl, err
}

// IssueRefresh signs a refresh token with the configured refresh TTL.
func (m *Manager) IssueRefresh(id Identity) (string, time.Duration, error) {
	ttl := m.config.RefreshTTL
	token, err := m.sign(id, TypeRefresh, "", ttl)
	return token, ttl, err
}

func (m *Manager) sign(id Identity, tokenType, jti string, ttl time.Duration) (string, error) {
	now := m.now()
	claims := Claims{
		UserID:    id.UserID,
		Roles:     id.Roles,
		Authority: id.Authority,
		OrgID:     id.OrgID,
		Features:  id.Features,
		Bitws:     id.Bitws,
		TokenType: tokenType,
		SessionID: id.SessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.config.Issuer,
			ID:        jti,
		},
	}

	token := jwt.NewWithClaims(m.method(), claims)
	key, err := m.signKey()
	if err != nil {
		return "", err
	}
	return token.SignedString(key)
}

// Parse verifies the signature and expiry and returns the claims. These
// checks are local and cheap; callers consult the revocation store only
// after Parse succeeds.
func (m *Manager) Parse(tokenStr string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method().Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != m.method().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return m.verifyKey()
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrMalformed
	}
	return claims, nil
}

// ParseType parses and additionally requires the given token_type claim.
func (m *Manager) ParseType(tokenStr, tokenType string) (*Claims, error) {
	claims, err := m.Parse(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != tokenType {
		return nil, fmt.Errorf("%w: wrong token type", ErrMalformed)
	}
	return claims, nil
}

// RemainingTTL returns how long the token is still valid at time now.
// Used to size deny-list entries to exactly the remaining lifetime.
func (c *Claims) RemainingTTL(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	remaining := c.ExpiresAt.Time.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (m *Manager) method() jwt.SigningMethod {
	if m.config.SigningMethod == MethodHS256 {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodEdDSA
}

func (m *Manager) signKey() (interface{}, error) {
	if m.config.SigningMethod == MethodHS256 {
		return m.config.PrivateKey, nil
	}
	return parseEdPrivateKey(m.config.PrivateKey)
}

func (m *Manager) verifyKey() (interface{}, error) {
	if m.config.SigningMethod == MethodHS256 {
		return m.config.PrivateKey, nil
	}
	return parseEdPublicKey(m.config.PublicKey)
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}

// TrimPEM normalizes key material read from configuration files.
func TrimPEM(pemData string) []byte {
	return []byte(strings.TrimSpace(pemData))
}
