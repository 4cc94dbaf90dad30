package ports

import "time"

// Cache lookup results reported to Metrics.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheStale = "stale"
)

// Outcomes reported to Metrics.
const (
	OutcomeOK            = "ok"
	OutcomeUserError     = "user_error"
	OutcomeInternalError = "internal_error"
)

// Metrics records operational measurements of the transform service.
//
//go:generate mockgen -source=metrics.go -destination=mocks/mock_metrics.go -package=mocks
type Metrics interface {
	// CacheLookup counts one artifact cache lookup with the given result.
	CacheLookup(result string)
	// Compilation records one compilation and its duration.
	Compilation(outcome string, d time.Duration)
	// Transform records one transform request and its duration.
	Transform(outcome string, d time.Duration)
}
