package main

import (
	"go.uber.org/zap"

	"space-explorer/internal/cache"
	"space-explorer/internal/ratelimit"
)

// Rate Limit Management Functions (Wails-exported)

// ManualRetryRateLimit clears the cool-down of a throttled host
func (a *App) ManualRetryRateLimit(host string) {
	if a.limiter != nil {
		a.limiter.ManualRetry(host)
	}
}

// GetRateLimitStatus returns the current rate limit state for a host
func (a *App) GetRateLimitStatus(host string) *ratelimit.Event {
	if a.limiter != nil {
		return a.limiter.GetCurrentState(host)
	}
	return nil
}

// GetRateLimitedHosts returns every host that is currently throttled
func (a *App) GetRateLimitedHosts() []ratelimit.Event {
	if a.limiter != nil {
		return a.limiter.Limited()
	}
	return []ratelimit.Event{}
}

// SetAutoRetryRateLimit enables or disables cool-down notifications
func (a *App) SetAutoRetryRateLimit(enabled bool) {
	if a.limiter != nil {
		a.limiter.SetAutoRetry(enabled)
	}
}

// Cache Management Functions (Wails-exported)

// CacheStats represents cache statistics for frontend
type CacheStats struct {
	Entries   int     `json:"entries"`
	SizeBytes int64   `json:"sizeBytes"`
	MaxBytes  int64   `json:"maxBytes"`
	SizeMB    float64 `json:"sizeMB"`
	MaxMB     float64 `json:"maxMB"`
	TTLDays   int     `json:"ttlDays"`
	CachePath string  `json:"cachePath"`
}

func newCacheStats(s cache.Stats) CacheStats {
	return CacheStats{
		Entries:   s.Entries,
		SizeBytes: s.SizeBytes,
		MaxBytes:  s.MaxBytes,
		SizeMB:    float64(s.SizeBytes) / 1024 / 1024,
		MaxMB:     float64(s.MaxBytes) / 1024 / 1024,
		TTLDays:   s.TTLDays,
		CachePath: s.Path,
	}
}

// GetCacheStats returns current cache statistics
func (a *App) GetCacheStats() CacheStats {
	if a.tileCache == nil {
		return CacheStats{}
	}
	return newCacheStats(a.tileCache.Stats())
}

// ClearCache removes all cached tiles and forgets discovered matrix sets
func (a *App) ClearCache() error {
	if a.resolver != nil {
		sets := a.resolver.Cache()
		a.logger.Info("clearing matrix set cache", zap.Int("entries", sets.Len()))
		sets.Clear()
	}
	if a.tileCache != nil {
		return a.tileCache.Clear()
	}
	return nil
}

// GetProxyURL returns the base URL of the local tile proxy, or "" when
// requests go straight upstream
func (a *App) GetProxyURL() string {
	if a.proxy == nil {
		return ""
	}
	return a.proxy.URL()
}
