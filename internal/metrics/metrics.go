package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	gateRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_gate_requests_total",
		Help: "Total number of requests checked by the block gate",
	})
	gateBlockedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_gate_blocked_total",
		Help: "Total number of requests rejected because the caller is blocked",
	})
	detectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_detections_total",
		Help: "Total number of attack signatures detected in user input",
	}, []string{"kind"})
	ledgerDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_ledger_dropped_total",
		Help: "Security events dropped because the ledger write failed on a best-effort path",
	}, []string{"risk"})
	ledgerAppendedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_ledger_appended_total",
		Help: "Security events written to the ledger",
	}, []string{"risk"})
	cacheSyncFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_cache_sync_failures_total",
		Help: "Block cache updates that failed after the store write succeeded",
	})
	autoBlocksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_auto_blocks_total",
		Help: "Addresses blocked automatically after repeated attacks",
	})
	blockCacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "warden_block_cache_entries",
		Help: "Entries currently held by the block cache, expired ones included",
	})
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry *prometheus.Registry) {
	registry.MustRegister(
		gateRequestsTotal,
		gateBlockedTotal,
		detectionsTotal,
		ledgerDroppedTotal,
		ledgerAppendedTotal,
		cacheSyncFailuresTotal,
		autoBlocksTotal,
		blockCacheEntries,
	)
}

// IncGateRequest increments the checked requests counter.
func IncGateRequest() { gateRequestsTotal.Inc() }

// IncGateBlocked increments the rejected requests counter.
func IncGateBlocked() { gateBlockedTotal.Inc() }

// IncDetection counts one detection of the given kind (sql_injection, xss).
func IncDetection(kind string) { detectionsTotal.WithLabelValues(kind).Inc() }

// IncLedgerDropped counts a best-effort event that could not be stored.
func IncLedgerDropped(risk string) { ledgerDroppedTotal.WithLabelValues(risk).Inc() }

// IncLedgerAppended counts a stored event.
func IncLedgerAppended(risk string) { ledgerAppendedTotal.WithLabelValues(risk).Inc() }

// IncCacheSyncFailure counts a cache update that failed after a store write.
func IncCacheSyncFailure() { cacheSyncFailuresTotal.Inc() }

// IncAutoBlock counts an automatic block.
func IncAutoBlock() { autoBlocksTotal.Inc() }

// SetBlockCacheEntries records the current cache size.
func SetBlockCacheEntries(n int) { blockCacheEntries.Set(float64(n)) }
