package common

// DataSource tags the upstream service a layer is served from. The string
// value is the human-readable name shown in the UI and in failure messages.
type DataSource string

const (
	// DataSourceGIBS is NASA's Global Imagery Browse Services (WMTS, Web Mercator)
	DataSourceGIBS DataSource = "NASA GIBS"

	// DataSourceTrek is NASA Solar System Treks (equirectangular XYZ tiles)
	DataSourceTrek DataSource = "NASA Trek"

	// DataSourceHubble is a single static Hubble mosaic image
	DataSourceHubble DataSource = "NASA Hubble"
)

// Provider identifiers used for cache keys, rate limit tracking and analytics
const (
	ProviderGIBS   = "gibs"
	ProviderTrek   = "trek"
	ProviderHubble = "hubble"
)

// Valid reports whether ds is one of the known data sources.
func (ds DataSource) Valid() bool {
	switch ds {
	case DataSourceGIBS, DataSourceTrek, DataSourceHubble:
		return true
	}
	return false
}

// ProviderID returns the short identifier for ds.
func (ds DataSource) ProviderID() string {
	switch ds {
	case DataSourceGIBS:
		return ProviderGIBS
	case DataSourceTrek:
		return ProviderTrek
	case DataSourceHubble:
		return ProviderHubble
	}
	return "unknown"
}
