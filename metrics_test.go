package tenauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestMetricsCounters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tenant := f.seedTenant(t, TierPartner)
	f.seedUser(t, tenant.ID, "alice", "open-sesame")

	if _, err := f.engine.Login(ctx, "alice", "open-sesame"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := f.engine.Login(ctx, "alice", "wrong"); err == nil {
		t.Fatal("expected login failure")
	}

	snap := f.engine.MetricsSnapshot()
	if snap.Counters[MetricLoginSuccess] != 1 {
		t.Fatalf("login success = %d, want 1", snap.Counters[MetricLoginSuccess])
	}
	if snap.Counters[MetricLoginFailure] != 1 {
		t.Fatalf("login failure = %d, want 1", snap.Counters[MetricLoginFailure])
	}
}

func TestMetricsHandler(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tenant := f.seedTenant(t, TierPartner)
	f.seedUser(t, tenant.ID, "alice", "open-sesame")

	res, err := f.engine.Login(ctx, "alice", "open-sesame")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := f.engine.Validate(ctx, res.AccessToken); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	rec := httptest.NewRecorder()
	f.engine.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"tenauth_login_success_total 1",
		"tenauth_validate_success_total 1",
		"# TYPE tenauth_validate_duration_seconds histogram",
		"tenauth_audit_dropped_total 0",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("exposition missing %q:\n%s", want, body)
		}
	}
}

func TestMetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = false

	mr := miniredis.RunT(t)
	engine, err := New(context.Background(), cfg, newMemDB().stores(), redisClient(t, mr.Addr()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer engine.Close()

	snap := engine.MetricsSnapshot()
	if len(snap.Counters) != 0 {
		t.Fatalf("disabled metrics counters = %v", snap.Counters)
	}
}
