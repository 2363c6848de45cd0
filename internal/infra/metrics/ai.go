package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		aiTokensIn,
		aiTokensOut,
		aiTokensTotal,
		aiCallsLatencyMs,
		aiFallbacksTotal,
		aiStreamChunksTotal,
		aiBreakerState,
	)
}

var (
	aiTokensIn = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_in",
			Help: "Sum of prompt (input) tokens per provider/model.",
		},
		[]string{"provider", "model"},
	)

	aiTokensOut = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_out",
			Help: "Sum of completion (output) tokens per provider/model.",
		},
		[]string{"provider", "model"},
	)

	aiTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_total",
			Help: "Sum of total tokens per provider/model.",
		},
		[]string{"provider", "model"},
	)

	aiCallsLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_calls_latency_ms",
			Help:    "AI call latency distribution in milliseconds.",
			Buckets: []float64{10, 25, 50, 100, 200, 400, 800, 1600, 3000, 5000, 10000},
		},
		[]string{"provider", "model", "success"},
	)

	aiFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_fallbacks_total",
			Help: "Count of completions served from the canned fallback per model.",
		},
		[]string{"model"},
	)

	aiStreamChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_stream_chunks_total",
			Help: "Count of streamed completion chunks per provider/model.",
		},
		[]string{"provider", "model"},
	)

	aiBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ai_breaker_state",
			Help: "Provider circuit breaker state (0=closed, 1=half-open, 2=open).",
		},
	)
)

func ObserveChatUsage(provider, model string, tokensIn, tokensOut, tokensTotal int, latencyMs int64, success bool) {
	lbl := []string{norm(provider), norm(model)}
	aiTokensIn.WithLabelValues(lbl...).Add(float64(tokensIn))
	aiTokensOut.WithLabelValues(lbl...).Add(float64(tokensOut))
	aiTokensTotal.WithLabelValues(lbl...).Add(float64(tokensTotal))
	aiCallsLatencyMs.WithLabelValues(norm(provider), norm(model), strconv.FormatBool(success)).
		Observe(float64(latencyMs))
}

func IncStreamChunk(provider, model string) {
	aiStreamChunksTotal.WithLabelValues(norm(provider), norm(model)).Inc()
}

func IncFallback(model string) {
	aiFallbacksTotal.WithLabelValues(norm(model)).Inc()
}

func SetBreakerState(state int) {
	aiBreakerState.Set(float64(state))
}
