package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
)

// AppDirName is the directory under the user's home holding app state
const AppDirName = ".space-explorer"

// CapabilitySource is a WMTS capabilities document whose layers are
// imported into a body at startup
type CapabilitySource struct {
	BodyID  string `json:"bodyId"`
	URL     string `json:"url"`
	Enabled bool   `json:"enabled"`
}

// LastView remembers what was on screen when the app closed
type LastView struct {
	BodyID  string `json:"bodyId"`
	LayerID string `json:"layerId"`
	Date    string `json:"date"`
}

// UserSettings represents persistent user preferences
type UserSettings struct {
	// Cache settings
	CacheMaxSizeMB int `json:"cacheMaxSizeMB"`
	CacheTTLDays   int `json:"cacheTTLDays"`

	// Default view
	DefaultBody  string `json:"defaultBody"`
	DefaultLayer string `json:"defaultLayer"`

	// Networking
	ProxyEnabled bool `json:"proxyEnabled"`

	// Annotations
	AnnotationBackend string `json:"annotationBackend"` // "file" or "sqlite"

	// Catalog extension
	CatalogFile         string             `json:"catalogFile"`
	CapabilitySources   []CapabilitySource `json:"capabilitySources"`
	WatchCatalogChanges bool               `json:"watchCatalogChanges"`

	// View loading
	LoadDeadlineSeconds int  `json:"loadDeadlineSeconds"`
	MaxLoadAttempts     int  `json:"maxLoadAttempts"`
	ProbeEnabled        bool `json:"probeEnabled"`

	// Analytics, disabled when empty
	PostHogKey string `json:"posthogKey,omitempty"`

	LastView *LastView `json:"lastView,omitempty"`

	// UI preferences
	Theme           string `json:"theme"` // "light", "dark", "system"
	ShowCoordinates bool   `json:"showCoordinates"`
}

// DefaultSettings returns default user settings
func DefaultSettings() *UserSettings {
	return &UserSettings{
		CacheMaxSizeMB:      500,
		CacheTTLDays:        7,
		DefaultBody:         "earth",
		DefaultLayer:        "VIIRS_SNPP_CorrectedReflectance_TrueColor",
		ProxyEnabled:        true,
		AnnotationBackend:   "file",
		CatalogFile:         filepath.Join(AppDir(), "catalog.yaml"),
		CapabilitySources:   []CapabilitySource{},
		WatchCatalogChanges: true,
		LoadDeadlineSeconds: 60,
		MaxLoadAttempts:     3,
		ProbeEnabled:        true,
		Theme:               "system",
		ShowCoordinates:     true,
	}
}

// AppDir returns ~/.space-explorer
func AppDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, AppDirName)
}

// GetSettingsPath returns the settings file path
func GetSettingsPath() string {
	return filepath.Join(AppDir(), "settings", "settings.json")
}

// LoadSettings loads user settings from the default path
func LoadSettings() (*UserSettings, error) {
	return LoadSettingsFrom(GetSettingsPath())
}

// SaveSettings saves user settings to the default path
func SaveSettings(settings *UserSettings) error {
	return SaveSettingsTo(GetSettingsPath(), settings)
}

// LoadSettingsFrom loads settings from path. A missing file yields the
// defaults.
func LoadSettingsFrom(path string) (*UserSettings, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultSettings(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	var settings UserSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}

	// Merge with defaults for any missing fields
	defaults := DefaultSettings()
	if settings.CacheMaxSizeMB == 0 {
		settings.CacheMaxSizeMB = defaults.CacheMaxSizeMB
	}
	if settings.CacheTTLDays == 0 {
		settings.CacheTTLDays = defaults.CacheTTLDays
	}
	if settings.DefaultBody == "" {
		settings.DefaultBody = defaults.DefaultBody
		settings.DefaultLayer = defaults.DefaultLayer
	}
	if settings.AnnotationBackend == "" {
		settings.AnnotationBackend = defaults.AnnotationBackend
	}
	if settings.CatalogFile == "" {
		settings.CatalogFile = defaults.CatalogFile
	}
	if settings.CapabilitySources == nil {
		settings.CapabilitySources = []CapabilitySource{}
	}
	if settings.LoadDeadlineSeconds == 0 {
		settings.LoadDeadlineSeconds = defaults.LoadDeadlineSeconds
	}
	if settings.MaxLoadAttempts == 0 {
		settings.MaxLoadAttempts = defaults.MaxLoadAttempts
	}
	if settings.Theme == "" {
		settings.Theme = defaults.Theme
	}

	return &settings, nil
}

// SaveSettingsTo writes settings to path through a temp file
func SaveSettingsTo(path string, settings *UserSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace settings file: %w", err)
	}
	return nil
}

// Validate checks value ranges
func (s *UserSettings) Validate() error {
	if s.CacheMaxSizeMB < 0 {
		return fmt.Errorf("cache size must not be negative")
	}
	if s.CacheTTLDays < 0 {
		return fmt.Errorf("cache TTL must not be negative")
	}
	if !slices.Contains([]string{"file", "sqlite"}, s.AnnotationBackend) {
		return fmt.Errorf("invalid annotation backend: %s (must be file or sqlite)", s.AnnotationBackend)
	}
	if s.LoadDeadlineSeconds < 1 || s.LoadDeadlineSeconds > 600 {
		return fmt.Errorf("load deadline must be between 1 and 600 seconds")
	}
	if s.MaxLoadAttempts < 1 || s.MaxLoadAttempts > 10 {
		return fmt.Errorf("max load attempts must be between 1 and 10")
	}
	for _, src := range s.CapabilitySources {
		if err := ValidateCapabilitySource(&src); err != nil {
			return err
		}
	}
	return nil
}

// ValidateCapabilitySource validates a capability import entry
func ValidateCapabilitySource(source *CapabilitySource) error {
	if source.BodyID == "" {
		return fmt.Errorf("capability source body is required")
	}
	if source.URL == "" {
		return fmt.Errorf("capability source URL is required")
	}
	return nil
}

// AnnotationStorePath returns where the annotation backend keeps its data
func (s *UserSettings) AnnotationStorePath() string {
	if s.AnnotationBackend == "sqlite" {
		return filepath.Join(AppDir(), "annotations.db")
	}
	return filepath.Join(AppDir(), "annotations.json")
}
