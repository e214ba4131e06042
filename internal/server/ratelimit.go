package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/deepquery/guardrail/internal/admission"
	"github.com/deepquery/guardrail/internal/audit"
	"github.com/deepquery/guardrail/internal/metrics"
)

// DecisionRecorder receives admission decisions for the audit trail.
// Recording is best effort: failures are logged, never surfaced to the
// client.
type DecisionRecorder interface {
	Record(ctx context.Context, d audit.Decision) error
}

// RateLimitMiddleware throttles requests to protected path prefixes by
// client identity. Unprotected paths bypass the limiter entirely.
//
// The decision is O(1) and never blocks: window pressure answers 429,
// table-capacity pressure answers 503 to previously unseen clients.
// Denied attempts are not recorded against the client's window.
// m and rec may be nil.
func RateLimitMiddleware(table *admission.Table, logger *slog.Logger, m *metrics.Metrics, rec DecisionRecorder) func(http.Handler) http.Handler {
	policy := table.Policy()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !table.Protects(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			key := admission.ResolveClientKey(
				r.RemoteAddr,
				r.Header.Get("X-Forwarded-For"),
				policy.TrustProxyHeaders,
			)
			d := table.Admit(key)
			AddLogField(r.Context(), "client_key", key)

			switch d.Outcome {
			case admission.OutcomeLimited:
				logger.Warn("rate limit exceeded",
					slog.String("client_key", key),
					slog.String("path", r.URL.Path),
				)
				observe(r, logger, m, rec, metrics.OutcomeLimited, key)
				writePlain(w, http.StatusTooManyRequests, "Too Many Requests")

			case admission.OutcomeRejected:
				logger.Warn("request table at capacity, rejecting new client",
					slog.String("client_key", key),
					slog.String("path", r.URL.Path),
				)
				observe(r, logger, m, rec, metrics.OutcomeRejected, key)
				writePlain(w, http.StatusServiceUnavailable, "Server Busy")

			default:
				observe(r, logger, m, rec, metrics.OutcomeAllowed, key)
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(policy.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
				next.ServeHTTP(w, r)
			}
		})
	}
}

func observe(r *http.Request, logger *slog.Logger, m *metrics.Metrics, rec DecisionRecorder, outcome, key string) {
	if m != nil {
		m.Admission(outcome)
	}
	if rec == nil {
		return
	}
	err := rec.Record(r.Context(), audit.Decision{
		Component: "admission",
		Outcome:   outcome,
		ClientKey: key,
		Path:      r.URL.Path,
	})
	if err != nil {
		logger.Error("audit record failed", slog.String("error", err.Error()))
	}
}

func writePlain(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(body))
}
