// Domain metrics for the orchestrator: turn outcomes by mode, relay
// fragment volume, and per-cache hit/miss/invalidation counters. HTTP-level
// metrics live in the middleware package; these cover what the transport
// cannot see.
package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Label values. Kept as constants so dashboards never chase typos.
const (
	modeBlocking  = "blocking"
	modeStreaming = "streaming"

	outcomeCompleted = "completed"
	outcomeFailed    = "failed"

	cacheHistory  = "history"
	cacheSessions = "sessions"
)

var (
	// chatTurns counts conversational turns by delivery mode and outcome.
	chatTurns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_turns_total",
			Help: "Total number of conversational turns by mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)

	// streamFragments counts fragments forwarded to streaming clients.
	streamFragments = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_stream_fragments_total",
			Help: "Total number of streamed reply fragments forwarded downstream.",
		},
	)

	// cacheHits / cacheMisses / cacheInvalidations track the two result
	// caches by name.
	cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_cache_hits_total",
			Help: "Result cache hits by cache.",
		},
		[]string{"cache"},
	)
	cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_cache_misses_total",
			Help: "Result cache misses by cache.",
		},
		[]string{"cache"},
	)
	cacheInvalidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_cache_invalidations_total",
			Help: "Result cache entries removed by targeted invalidation, by cache.",
		},
		[]string{"cache"},
	)
)

func init() {
	prometheus.MustRegister(chatTurns, streamFragments, cacheHits, cacheMisses, cacheInvalidations)
}
