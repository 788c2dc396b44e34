// Package middleware provides HTTP middleware components for the pagesift API.
package middleware

import (
	"time"

	"github.com/pagesift/pagesift/internal/config"
)

// Config holds rate limiter configuration.
//
// Rate limits specify requests per second (RPS) for three tiers:
//   - Global: Applied to all requests
//   - Per-site: Applied to requests under /api/v1/sites/{siteId}/
//   - Anonymous: Applied to requests outside the site API surface
//
// Burst capacity allows temporary bursts above sustained rate.
// If burst fields are 0, they are computed automatically as 2 × rate.
type Config struct {
	// Rate limits (requests per second)
	GlobalRPS int // Default: 100
	SiteRPS   int // Default: 50
	AnonRPS   int // Default: 10

	// Optional burst capacity overrides (0 = compute automatically as 2 × rate) using computeBurstCapacity()
	GlobalBurst int // Default: 0 (computed as 2 × GlobalRPS = 200)
	SiteBurst   int // Default: 0 (computed as 2 × SiteRPS = 100)
	AnonBurst   int // Default: 0 (computed as 2 × AnonRPS = 20)

	// Memory cleanup configuration
	CleanupInterval time.Duration // Default: 5 minutes
	IdleTimeout     time.Duration // Default: 1 hour
	MaxSites        int           // Default: 10,000
}

// LoadConfig loads middleware config from environment variables with fallback to defaults.
//
// Default burst capacity: 2 × rate (allows 2-second burst)
// Default cleanup: every 5 minutes, removes sites idle >1 hour
// Default max sites: 10,000 (prevents unbounded memory growth).
func LoadConfig() *Config {
	return &Config{
		// Rate limits
		GlobalRPS: config.GetEnvInt("PAGESIFT_GLOBAL_RPS", defaultGlobalRPS),
		SiteRPS:   config.GetEnvInt("PAGESIFT_SITE_RPS", defaultSiteRPS),
		AnonRPS:   config.GetEnvInt("PAGESIFT_ANON_RPS", defaultAnonymousRPS),

		// Burst overrides (0 = auto-compute)
		GlobalBurst: config.GetEnvInt("PAGESIFT_GLOBAL_BURST", 0),
		SiteBurst:   config.GetEnvInt("PAGESIFT_SITE_BURST", 0),
		AnonBurst:   config.GetEnvInt("PAGESIFT_ANON_BURST", 0),

		// Cleanup configuration
		CleanupInterval: config.GetEnvDuration(
			"PAGESIFT_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval,
		),
		IdleTimeout: config.GetEnvDuration("PAGESIFT_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxSites:    config.GetEnvInt("PAGESIFT_RATE_LIMIT_MAX_SITES", maxSites),
	}
}
