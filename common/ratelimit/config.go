package ratelimit

// Limits holds the service-edge rate limits. Per-workflow spawn limits are
// not configured here: each workflow carries its own max_spawns_per_minute
// in its execution constraints.
type Limits struct {
	APIPerMinute    int64 // Total API requests per minute, all callers
	StartsPerMinute int64 // Manual execution starts per workflow per minute
	WindowSeconds   int   // Window for the per-workflow start counter
}

// DefaultLimits protect a single service instance with headroom for bursts.
var DefaultLimits = Limits{
	APIPerMinute:    300,
	StartsPerMinute: 60,
	WindowSeconds:   60,
}
