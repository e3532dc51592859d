package cache

import (
	"os"
	"path/filepath"
	goruntime "runtime"
	"time"
)

const appDirName = "space-explorer"

// Config represents cache configuration
type Config struct {
	Dir       string `json:"dir,omitempty"`
	MaxSizeMB int    `json:"maxSizeMB"`
	TTLDays   int    `json:"ttlDays"`
}

// DefaultConfig returns default cache configuration
func DefaultConfig() Config {
	return Config{
		Dir:       GetCacheDir(),
		MaxSizeMB: 500,
		TTLDays:   7, // GIBS republishes daily layers, keep the window short
	}
}

// TTL returns the entry lifetime, zero meaning entries never expire
func (c Config) TTL() time.Duration {
	if c.TTLDays <= 0 {
		return 0
	}
	return time.Duration(c.TTLDays) * 24 * time.Hour
}

// withDefaults fills zero fields
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Dir == "" {
		c.Dir = d.Dir
	}
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = d.MaxSizeMB
	}
	return c
}

// GetCacheDir returns the OS-specific cache directory
func GetCacheDir() string {
	homeDir, _ := os.UserHomeDir()

	switch goruntime.GOOS {
	case "darwin":
		return filepath.Join(homeDir, "Library", "Caches", appDirName, "tiles")
	case "windows":
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			localAppData = filepath.Join(homeDir, "AppData", "Local")
		}
		return filepath.Join(localAppData, appDirName, "cache", "tiles")
	default:
		cacheHome := os.Getenv("XDG_CACHE_HOME")
		if cacheHome == "" {
			cacheHome = filepath.Join(homeDir, ".cache")
		}
		return filepath.Join(cacheHome, appDirName, "tiles")
	}
}
