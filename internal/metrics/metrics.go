// Package metrics holds the Prometheus collectors of the timeline service. Collectors are
// registered on the default registry and served by promhttp at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "timeline"

var (
	OpenConversations = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "open_conversations",
		Help:      "Conversations with a live controller.",
	})

	Subscriptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_subscriptions_total",
		Help:      "Feed subscription attempts by result (ok, error, stale).",
	}, []string{"result"})

	FeedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_events_total",
		Help:      "Trigger events received from the conversation feed.",
	})

	FeedErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_errors_total",
		Help:      "Subscriptions dropped after a transport error.",
	})

	Reloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reloads_total",
		Help:      "Full reloads of both channels by result (ok, error, stale).",
	}, []string{"result"})

	ReloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "reload_duration_seconds",
		Help:      "Time to fetch both channels.",
		Buckets:   prometheus.DefBuckets,
	})

	Sends = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sends_total",
		Help:      "Send and schedule calls by kind, channel and result.",
	}, []string{"kind", "channel", "result"})

	ProviderErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_errors_total",
		Help:      "Provider rejections by error code (0 when the code is unknown).",
	}, []string{"code"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method and status class.",
	}, []string{"method", "status"})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_rate_limited_total",
		Help:      "Requests rejected by the rate limiter.",
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
