package main

import (
	"context"
	"fmt"

	wailsRuntime "github.com/wailsapp/wails/v2/pkg/runtime"
	"go.uber.org/zap"

	"space-explorer/internal/catalog"
	"space-explorer/internal/common"
	"space-explorer/internal/config"
	"space-explorer/internal/wmts"
)

// ===================
// Settings Management
// ===================

// GetSettings returns current user settings
func (a *App) GetSettings() (*config.UserSettings, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Return a copy to prevent external modifications
	settingsCopy := *a.settings
	return &settingsCopy, nil
}

// SaveSettings saves user settings to disk and updates app state
func (a *App) SaveSettings(settings *config.UserSettings) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := config.SaveSettings(settings); err != nil {
		return err
	}
	a.settings = settings

	// Cache, proxy and annotation backend settings apply on next start
	a.logger.Info("settings saved", zap.String("path", config.GetSettingsPath()))
	return nil
}

// GetSettingsPath returns the settings file path
func (a *App) GetSettingsPath() string {
	return config.GetSettingsPath()
}

// ===================
// WMTS Integration
// ===================

// importSource is the data source of layers imported from capabilities.
// Imported layers carry a filled XYZ template, which is how Trek layers are
// addressed.
const importSource = common.DataSourceTrek

// ImportCapabilities imports the first layer of each capabilities URL into
// a body and returns the layers that were new
func (a *App) ImportCapabilities(bodyID string, urls []string) ([]catalog.Layer, error) {
	if a.catalog == nil || a.client == nil {
		return nil, ErrNotReady
	}
	return a.importCapabilities(a.ctx, bodyID, urls)
}

func (a *App) importCapabilities(ctx context.Context, bodyID string, urls []string) ([]catalog.Layer, error) {
	if _, err := a.catalog.Body(bodyID); err != nil {
		return nil, err
	}

	layers := wmts.ImportLayers(ctx, a.client, urls, importSource)
	if len(layers) == 0 {
		return nil, fmt.Errorf("no layers could be imported from %d capabilities documents", len(urls))
	}

	existing, _ := a.catalog.LayersForBody(bodyID)
	known := make(map[string]bool, len(existing))
	for _, l := range existing {
		known[l.ID] = true
	}

	added, err := a.catalog.AddLayersToBody(bodyID, layers)
	if err != nil {
		a.logger.Warn("some imported layers were rejected", zap.String("body", bodyID), zap.Error(err))
	}
	fresh := make([]catalog.Layer, 0, added)
	for _, l := range layers {
		if !known[l.ID] {
			fresh = append(fresh, l)
			known[l.ID] = true
		}
	}
	a.logger.Info("imported capabilities",
		zap.String("body", bodyID),
		zap.Int("documents", len(urls)),
		zap.Int("added", added))
	return fresh, nil
}

// PreviewCapabilities lists the layers advertised by a WMTS capabilities
// document without adding anything to the catalog
func (a *App) PreviewCapabilities(capURL string) ([]wmts.LayerInfo, error) {
	if a.client == nil {
		return nil, ErrNotReady
	}
	data, err := a.client.FetchCapabilities(a.ctx, capURL)
	if err != nil {
		return nil, err
	}
	caps, err := wmts.Parse(data)
	if err != nil {
		return nil, err
	}
	return wmts.GetLayers(caps), nil
}

// importConfiguredCapabilities runs the imports listed in the settings
func (a *App) importConfiguredCapabilities(ctx context.Context) {
	a.mu.Lock()
	sources := append([]config.CapabilitySource(nil), a.settings.CapabilitySources...)
	a.mu.Unlock()

	byBody := make(map[string][]string)
	for _, src := range sources {
		if src.Enabled {
			byBody[src.BodyID] = append(byBody[src.BodyID], src.URL)
		}
	}
	for bodyID, urls := range byBody {
		layers, err := a.importCapabilities(ctx, bodyID, urls)
		if err != nil {
			wailsRuntime.LogError(ctx, fmt.Sprintf("Capability import for %s failed: %v", bodyID, err))
			continue
		}
		if len(layers) > 0 {
			wailsRuntime.EventsEmit(ctx, EventCatalogChanged, len(layers))
		}
	}
}
