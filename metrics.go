package tenauth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	internalmetrics "github.com/sinarlabs/tenauth/internal/metrics"
)

// MetricID identifies a counter in the in-process metrics system.
type MetricID = internalmetrics.MetricID

// Counter identifiers re-exported for callers reading snapshots.
const (
	MetricLoginSuccess      = internalmetrics.MetricLoginSuccess
	MetricLoginFailure      = internalmetrics.MetricLoginFailure
	MetricRefreshSuccess    = internalmetrics.MetricRefreshSuccess
	MetricRefreshFailure    = internalmetrics.MetricRefreshFailure
	MetricValidateSuccess   = internalmetrics.MetricValidateSuccess
	MetricValidateFailure   = internalmetrics.MetricValidateFailure
	MetricTokenRevoked      = internalmetrics.MetricTokenRevoked
	MetricLogout            = internalmetrics.MetricLogout
	MetricLogoutAll         = internalmetrics.MetricLogoutAll
	MetricPermissionAllowed = internalmetrics.MetricPermissionAllowed
	MetricPermissionDenied  = internalmetrics.MetricPermissionDenied
	MetricProvisionSuccess  = internalmetrics.MetricProvisionSuccess
	MetricProvisionFailure  = internalmetrics.MetricProvisionFailure
	MetricGrantToggled      = internalmetrics.MetricGrantToggled
	MetricPasswordReset     = internalmetrics.MetricPasswordReset
)

// MetricsSnapshot is a point-in-time deep copy of all metrics.
type MetricsSnapshot = internalmetrics.Snapshot

var counterDefs = []struct {
	id   MetricID
	name string
	help string
}{
	{MetricLoginSuccess, "tenauth_login_success_total", "Successful logins."},
	{MetricLoginFailure, "tenauth_login_failure_total", "Failed logins (credentials or status)."},
	{MetricRefreshSuccess, "tenauth_refresh_success_total", "Successful token refreshes."},
	{MetricRefreshFailure, "tenauth_refresh_failure_total", "Rejected token refreshes."},
	{MetricValidateSuccess, "tenauth_validate_success_total", "Access tokens validated."},
	{MetricValidateFailure, "tenauth_validate_failure_total", "Access tokens rejected (expired, malformed, revoked)."},
	{MetricTokenRevoked, "tenauth_token_revoked_total", "Access tokens placed on the deny-list."},
	{MetricLogout, "tenauth_logout_total", "Single-session logouts."},
	{MetricLogoutAll, "tenauth_logout_all_total", "All-session revocations."},
	{MetricPermissionAllowed, "tenauth_permission_allowed_total", "Permission checks that passed."},
	{MetricPermissionDenied, "tenauth_permission_denied_total", "Permission checks that denied."},
	{MetricProvisionSuccess, "tenauth_provision_success_total", "Tenants provisioned."},
	{MetricProvisionFailure, "tenauth_provision_failure_total", "Tenant provisioning failures."},
	{MetricGrantToggled, "tenauth_grant_toggled_total", "Feature grant bits toggled."},
	{MetricPasswordReset, "tenauth_password_reset_total", "Completed password resets."},
}

// MetricsSnapshot returns the engine's current counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// AuditDropped reports events dropped by the audit dispatcher under
// backpressure.
func (e *Engine) AuditDropped() uint64 {
	return e.audit.Dropped()
}

// MetricsHandler serves the counters in Prometheus text exposition
// format.
func (e *Engine) MetricsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(e.RenderMetrics()))
	})
}

// RenderMetrics renders the current counters in Prometheus text format.
func (e *Engine) RenderMetrics() string {
	snapshot := e.MetricsSnapshot()

	var b strings.Builder
	b.Grow(4096)

	for _, def := range counterDefs {
		writeCounter(&b, def.name, def.help, snapshot.Counters[def.id])
	}

	if len(snapshot.Latency) > 0 {
		writeLatencyHistogram(&b, snapshot.Latency)
	}
	writeCounter(&b, "tenauth_audit_dropped_total",
		"Dropped audit events due to dispatcher backpressure.", e.AuditDropped())

	return b.String()
}

func writeCounter(b *strings.Builder, name, help string, value uint64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s counter\n", name)
	fmt.Fprintf(b, "%s %d\n", name, value)
}

func writeLatencyHistogram(b *strings.Builder, buckets []uint64) {
	const name = "tenauth_validate_duration_seconds"
	fmt.Fprintf(b, "# HELP %s Access-token validation latency.\n", name)
	fmt.Fprintf(b, "# TYPE %s histogram\n", name)

	var cumulative uint64
	for i, bound := range internalmetrics.LatencyBuckets {
		cumulative += buckets[i]
		fmt.Fprintf(b, "%s_bucket{le=%q} %d\n", name, formatSeconds(bound), cumulative)
	}
	cumulative += buckets[len(buckets)-1]
	fmt.Fprintf(b, "%s_bucket{le=\"+Inf\"} %d\n", name, cumulative)
	fmt.Fprintf(b, "%s_count %d\n", name, cumulative)
}

func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%g", d.Seconds())
}
