package metrics

import (
	"time"

	"github.com/tracklens/tracklens/internal/observability"
)

// AI gateway metric names following Prometheus conventions
const (
	AIRequestsTotal     = "ai_requests_total"
	AIRequestDurationMS = "ai_request_duration_ms"
	AICacheHitsTotal    = "ai_cache_hits_total"
	AIRateLimitedTotal  = "ai_rate_limited_total"
	AIProviderFallbacks = "ai_provider_fallbacks_total"
)

// RecordAIRequest records one provider-backed AI operation with its outcome
func RecordAIRequest(endpoint, provider string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}

	if observability.TelemetrySystem != nil {
		labels := map[string]string{
			"endpoint": endpoint,
			"provider": provider,
			"status":   status,
		}
		_ = observability.TelemetrySystem.Counter(AIRequestsTotal, 1, labels)
		_ = observability.TelemetrySystem.Histogram(AIRequestDurationMS, duration, map[string]string{
			"endpoint": endpoint,
			"provider": provider,
		})
	}
}

// RecordAICacheHit records a response served from the cache without a
// provider call
func RecordAICacheHit(endpoint string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			AICacheHitsTotal,
			1,
			map[string]string{"endpoint": endpoint},
		)
	}
}

// RecordAIRateLimited records a request rejected by the per-user quota
func RecordAIRateLimited(endpoint string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			AIRateLimitedTotal,
			1,
			map[string]string{"endpoint": endpoint},
		)
	}
}

// RecordAIProviderFallback records that the preferred provider was skipped
// for lack of credentials
func RecordAIProviderFallback(preferred, active string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			AIProviderFallbacks,
			1,
			map[string]string{
				"preferred": preferred,
				"active":    active,
			},
		)
	}
}
