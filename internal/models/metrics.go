package models

import "time"

// SystemMetrics is a point-in-time digest of the instrumentation counters.
type SystemMetrics struct {
	CacheHitRatio             float64   `json:"cache_hit_ratio"`
	CacheHits                 uint64    `json:"cache_hits"`
	CacheMisses               uint64    `json:"cache_misses"`
	RequestsTotal             uint64    `json:"requests_total"`
	AverageRequestDurationMs  float64   `json:"average_request_duration_ms"`
	AtomicUnitsTotal          uint64    `json:"atomic_units_total"`
	AtomicUnitFailures        uint64    `json:"atomic_unit_failures"`
	AverageAtomicUnitDuration float64   `json:"average_atomic_unit_duration_ms"`
	Goroutines                int       `json:"goroutines"`
	GeneratedAt               time.Time `json:"generated_at"`
}
