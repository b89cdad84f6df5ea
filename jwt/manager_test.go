package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("test-secret-key-material-32-bytes!"),
		Issuer:        "tenauth-test",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func testIdentity() Identity {
	return Identity{
		Subject:   "alice",
		UserID:    "u1",
		Roles:     []string{"r1", "r2"},
		Authority: 2,
		OrgID:     "org1",
		Features:  map[string]uint64{"_organization": 7},
		Bitws:     map[string]uint64{"view": 1, "add": 2},
	}
}

func TestAccessRoundTrip(t *testing.T) {
	m := newTestManager(t)

	token, ttl, err := m.IssueAccess(testIdentity(), "jti-1")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if ttl != 15*time.Minute {
		t.Fatalf("ttl = %v, want 15m", ttl)
	}

	claims, err := m.ParseType(token, TypeAccess)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Subject != "alice" || claims.UserID != "u1" || claims.OrgID != "org1" {
		t.Fatalf("claims identity mismatch: %+v", claims)
	}
	if claims.Authority != 2 {
		t.Fatalf("authority = %d, want 2", claims.Authority)
	}
	if len(claims.Roles) != 2 || claims.Roles[0] != "r1" {
		t.Fatalf("roles mismatch: %v", claims.Roles)
	}
	if claims.Features["_organization"] != 7 {
		t.Fatalf("features mismatch: %v", claims.Features)
	}
	if claims.Bitws["add"] != 2 {
		t.Fatalf("bitws mismatch: %v", claims.Bitws)
	}
	if claims.ID != "jti-1" {
		t.Fatalf("jti = %q, want jti-1", claims.ID)
	}
}

func TestRefreshCarriesNoJTI(t *testing.T) {
	m := newTestManager(t)

	token, _, err := m.IssueRefresh(testIdentity())
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	claims, err := m.ParseType(token, TypeRefresh)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.ID != "" {
		t.Fatalf("refresh token carries jti %q", claims.ID)
	}
}

func TestParseExpired(t *testing.T) {
	m := newTestManager(t)

	token, _, err := m.IssueAccess(testIdentity(), "jti-1")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}

	future := m.WithClock(func() time.Time { return time.Now().Add(16 * time.Minute) })
	if _, err := future.Parse(token); !errors.Is(err, ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
}

func TestParseMalformed(t *testing.T) {
	m := newTestManager(t)

	cases := []string{
		"",
		"not-a-token",
		"aaa.bbb.ccc",
	}
	for _, tc := range cases {
		if _, err := m.Parse(tc); !errors.Is(err, ErrMalformed) {
			t.Fatalf("Parse(%q) err = %v, want ErrMalformed", tc, err)
		}
	}
}

func TestParseRejectsForeignSignature(t *testing.T) {
	m := newTestManager(t)
	other, err := NewManager(Config{
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("a-different-secret-key-material!!"),
		Issuer:        "tenauth-test",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	token, _, err := other.IssueAccess(testIdentity(), "jti-1")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if _, err := m.Parse(token); !errors.Is(err, ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}

func TestParseTypeMismatch(t *testing.T) {
	m := newTestManager(t)

	token, _, err := m.IssueRefresh(testIdentity())
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	if _, err := m.ParseType(token, TypeAccess); !errors.Is(err, ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed for refresh-as-access", err)
	}
}

func TestEd25519RoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	m, err := NewManager(Config{
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	token, _, err := m.IssueAccess(testIdentity(), "jti-ed")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	claims, err := m.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.ID != "jti-ed" {
		t.Fatalf("jti = %q", claims.ID)
	}
}

func TestRemainingTTL(t *testing.T) {
	m := newTestManager(t)

	token, _, err := m.IssueAccess(testIdentity(), "jti-1")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	claims, err := m.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	remaining := claims.RemainingTTL(time.Now())
	if remaining <= 14*time.Minute || remaining > 15*time.Minute {
		t.Fatalf("remaining = %v, want ~15m", remaining)
	}
	if got := claims.RemainingTTL(time.Now().Add(time.Hour)); got != 0 {
		t.Fatalf("remaining after expiry = %v, want 0", got)
	}
}

func TestNewManagerValidation(t *testing.T) {
	if _, err := NewManager(Config{SigningMethod: MethodHS256, AccessTTL: time.Minute, RefreshTTL: time.Hour}); err == nil {
		t.Fatal("missing hs256 key accepted")
	}
	if _, err := NewManager(Config{SigningMethod: "rsa", PrivateKey: []byte("x"), AccessTTL: time.Minute, RefreshTTL: time.Hour}); err == nil {
		t.Fatal("unsupported method accepted")
	}
	if _, err := NewManager(Config{SigningMethod: MethodHS256, PrivateKey: []byte("x"), AccessTTL: 0, RefreshTTL: time.Hour}); err == nil {
		t.Fatal("zero access TTL accepted")
	}
}
