// Package middleware provides HTTP middleware components for the pagesift API.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	burstCapacityMultiplier    int     = 2
	maxSites                   int     = 10000
	defaultGlobalRPS           int     = 100
	defaultSiteRPS             int     = 50
	defaultAnonymousRPS        int     = 10
	thresholdMultiplier        float64 = 0.8
	thresholdPercentage        int     = 80
	rateLimiterCleanupInterval         = 5 * time.Minute
	rateLimiterIdleTimeout             = 1 * time.Hour
)

type (
	// RateLimiter provides rate limiting for incoming requests.
	//
	// Implementations may use in-memory token buckets (single-node deployment)
	// or distributed stores like Redis (multi-node deployment).
	//
	// The interface enables zero-downtime migration from in-memory to
	// Redis-backed rate limiting when scaling beyond single-node deployments.
	RateLimiter interface {
		// Allow checks if a request should be allowed based on rate limits.
		// Returns true if allowed, false if rate limited.
		//
		// For site-scoped requests, siteID identifies the site.
		// For requests outside the site API surface, siteID is empty string.
		Allow(siteID string) bool
	}

	// InMemoryRateLimiter implements RateLimiter using golang.org/x/time/rate.
	//
	// Provides three-tier rate limiting:
	// 1. Global limit (applied to all requests)
	// 2. Per-site limit (applied to site-scoped requests)
	// 3. Anonymous limit (applied to requests without a site ID)
	//
	// Uses token bucket algorithm with configurable burst capacity.
	// Burst capacity allows temporary bursts above the sustained rate.
	//
	// Memory cleanup runs periodically to prevent unbounded growth.
	// Sites idle longer than IdleTimeout are removed.
	//
	// Suitable for single-node deployments. For distributed systems a
	// Redis-backed implementation can replace it behind the same interface.
	InMemoryRateLimiter struct {
		global        *rate.Limiter
		perSite       map[string]*siteLimiter
		anonymous     *rate.Limiter
		mu            sync.RWMutex
		cleanupTicker *time.Ticker
		done          chan struct{}

		// Configuration (stored for creating new site limiters and cleanup)
		siteRPS         int
		siteBurst       int
		cleanupInterval time.Duration
		idleTimeout     time.Duration
		maxSites        int
	}

	// siteLimiter tracks rate limit state for a single site.
	// Includes last access time for memory cleanup.
	siteLimiter struct {
		limiter    *rate.Limiter
		lastAccess time.Time
		mu         sync.Mutex
	}
)

// NewInMemoryRateLimiter creates a new in-memory rate limiter with three-tier limits.
//
// Burst capacity is computed automatically as 2 × rate unless overridden in config.
// Cleanup runs periodically to prevent unbounded memory growth.
//
// Example:
//
//	rl := NewInMemoryRateLimiter(&Config{
//	    GlobalRPS: 100,
//	    SiteRPS:   50,
//	    AnonRPS:   10,
//	})
//	defer rl.Close()
func NewInMemoryRateLimiter(config *Config) *InMemoryRateLimiter {
	// Compute burst capacities (use override if provided, otherwise 2 × rate)
	globalBurst := computeBurstCapacity(config.GlobalRPS, config.GlobalBurst)
	siteBurst := computeBurstCapacity(config.SiteRPS, config.SiteBurst)
	anonBurst := computeBurstCapacity(config.AnonRPS, config.AnonBurst)

	rl := &InMemoryRateLimiter{
		global:          rate.NewLimiter(rate.Limit(config.GlobalRPS), globalBurst),
		perSite:         make(map[string]*siteLimiter),
		anonymous:       rate.NewLimiter(rate.Limit(config.AnonRPS), anonBurst),
		done:            make(chan struct{}),
		siteRPS:         config.SiteRPS,
		siteBurst:       siteBurst,
		cleanupInterval: config.CleanupInterval,
		idleTimeout:     config.IdleTimeout,
		maxSites:        config.MaxSites,
	}

	// Start background cleanup goroutine
	rl.startCleanup()

	return rl
}

// computeBurstCapacity computes the burst capacity based on the rate and optional override.
//
// If burstOverride is 0, computes burst automatically as 2 × rate.
// If burstOverride > 0, uses the override value.
func computeBurstCapacity(rate, burstOverride int) int {
	if burstOverride > 0 {
		return burstOverride
	}

	return rate * burstCapacityMultiplier
}

// Allow checks if a request should be allowed based on rate limits.
// Implements the RateLimiter interface.
//
// Rate limiting is enforced in three tiers:
// 1. Global limit (all requests)
// 2. Per-site limit (site-scoped) OR anonymous limit
//
// Parameters:
//   - siteID: empty string for requests outside the site API, site ID otherwise
func (rl *InMemoryRateLimiter) Allow(siteID string) bool {
	// Tier 1: Check global limit first (fail fast)
	if !rl.global.Allow() {
		return false
	}

	// Tier 2: Check site-specific or anonymous limit
	if siteID == "" {
		return rl.anonymous.Allow()
	}

	// Site-scoped request - get or create site limiter
	rl.mu.RLock()
	sl, ok := rl.perSite[siteID]
	rl.mu.RUnlock()

	if !ok {
		// Lazy initialization: create limiter for this site
		rl.mu.Lock()
		// Double-check after acquiring write lock (avoid race)
		if sl, ok = rl.perSite[siteID]; !ok {
			sl = &siteLimiter{
				limiter:    rate.NewLimiter(rate.Limit(rl.siteRPS), rl.siteBurst),
				lastAccess: time.Now(),
			}

			rl.perSite[siteID] = sl

			// Operational monitoring: warn when approaching max sites limit
			// This helps operators detect site ID proliferation before hitting hard limits
			currentCount := len(rl.perSite)
			threshold := int(float64(rl.maxSites) * thresholdMultiplier) // 80% threshold

			if currentCount >= threshold {
				slog.Warn("rate limiter approaching max sites limit",
					"current_sites", currentCount,
					"max_sites", rl.maxSites,
					"threshold_percent", thresholdPercentage,
					"recommendation", "investigate potential site ID proliferation or increase max_sites limit")
			}
		}

		rl.mu.Unlock()
	}

	// Update last access time (for cleanup)
	sl.mu.Lock()
	sl.lastAccess = time.Now()
	sl.mu.Unlock()

	// Check site-specific limit
	return sl.limiter.Allow()
}

// Close stops the cleanup goroutine and releases resources.
// Must be called when the InMemoryRateLimiter is no longer needed.
//
// Note: Close() is not part of the RateLimiter interface to allow
// implementations that don't require cleanup. Use type assertion if cleanup
// is needed:
//
//	if closer, ok := limiter.(io.Closer); ok {
//	    closer.Close()
//	}
func (rl *InMemoryRateLimiter) Close() error {
	if rl.cleanupTicker != nil {
		rl.cleanupTicker.Stop()
	}

	close(rl.done)

	return nil
}

// startCleanup starts a background goroutine that periodically removes
// stale site limiters to prevent memory leaks.
func (rl *InMemoryRateLimiter) startCleanup() {
	// Use config values if set, otherwise use defaults
	cleanupInterval := rl.cleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = rateLimiterCleanupInterval
	}

	rl.cleanupTicker = time.NewTicker(cleanupInterval)

	go func() {
		for {
			select {
			case <-rl.cleanupTicker.C:
				rl.cleanup()
			case <-rl.done:
				return
			}
		}
	}()
}

// cleanup removes site limiters that haven't been accessed recently.
func (rl *InMemoryRateLimiter) cleanup() {
	// Use config value if set, otherwise use default
	idleTimeout := rl.idleTimeout
	if idleTimeout == 0 {
		idleTimeout = rateLimiterIdleTimeout
	}

	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for siteID, sl := range rl.perSite {
		sl.mu.Lock()
		lastAccess := sl.lastAccess
		sl.mu.Unlock()

		if now.Sub(lastAccess) > idleTimeout {
			delete(rl.perSite, siteID)
		}
	}
}

// SiteIDFromPath extracts the site ID from a site-scoped API path
// ("/api/v1/sites/{siteId}/..."). Returns empty string for paths outside
// the site API surface.
func SiteIDFromPath(path string) string {
	const prefix = "/api/v1/sites/"

	rest, ok := strings.CutPrefix(path, prefix)
	if !ok {
		return ""
	}

	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}

	return rest
}

// RateLimit returns a middleware that enforces rate limits on incoming requests.
//
// Rate limiting is applied in three tiers:
//  1. Global limit (all requests)
//  2. Per-site limit (requests under /api/v1/sites/{siteId}/)
//  3. Anonymous limit (requests outside the site API surface)
//
// Public endpoints registered with RegisterPublicEndpoint (health probes)
// bypass rate limiting entirely.
//
// When a request exceeds the rate limit, the middleware returns a 429 (Too
// Many Requests) response with RFC 7807 error format.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if IsPublicEndpoint(r.URL.Path) {
				next.ServeHTTP(w, r)

				return
			}

			// The mux has not routed yet, so path values are unavailable
			// here; parse the site segment from the raw path instead.
			siteID := SiteIDFromPath(r.URL.Path)

			if !limiter.Allow(siteID) {
				correlationID := GetCorrelationID(r.Context())

				detail := "Rate limit exceeded. Please retry after some time."
				if err := writeRFC7807Error(w, r, http.StatusTooManyRequests, detail, correlationID); err != nil {
					logger.Error("failed to write response with RFC 7807 error format",
						slog.String("correlation_id", correlationID),
						slog.String("path", r.URL.Path),
						slog.String("detail", detail),
						slog.String("error", err.Error()),
					)

					// Fallback to plain text if writeRFC7807Error fails
					http.Error(w, detail, http.StatusTooManyRequests)
				}

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
