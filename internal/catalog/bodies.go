package catalog

import "space-explorer/internal/common"

// Body identifiers of the built-in catalog
const (
	BodyEarth     = "earth"
	BodyMoon      = "moon"
	BodyMars      = "mars"
	BodyAndromeda = "andromeda"
)

const (
	gibsA = "https://gibs-a.earthdata.nasa.gov/wmts/epsg3857/best"
	gibsB = "https://gibs-b.earthdata.nasa.gov/wmts/epsg3857/best"
	gibsC = "https://gibs-c.earthdata.nasa.gov/wmts/epsg3857/best"

	trekTiles    = "https://trek.nasa.gov/tiles"
	hubbleAssets = "https://assets.science.nasa.gov/content/dam/science/missions/hubble/galaxies/andromeda"
)

// trekTemplate builds the equirectangular tile template of a Trek product
func trekTemplate(body, product string) string {
	return trekTiles + "/" + body + "/EQ/" + product + "/1.0.0/default/default028mm/{z}/{y}/{x}.jpg"
}

// Default returns a catalog holding the built-in NASA bodies
func Default() *Catalog {
	return New(DefaultBodies()...)
}

// DefaultBodies returns the built-in NASA bodies
func DefaultBodies() []CelestialBody {
	return []CelestialBody{
		{
			ID:          BodyEarth,
			Name:        "Earth",
			Description: "Our home planet with real-time satellite imagery",
			Icon:        "🌍",
			Layers: []Layer{
				{
					ID:          "MODIS_Terra_CorrectedReflectance_TrueColor",
					Name:        "True Color (Terra/MODIS)",
					Description: "True color image of Earth from Terra satellite",
					Resolution:  "250m",
					Category:    "Base Layers",
					DataSource:  common.DataSourceGIBS,
					BaseURL:     gibsA,
					TileFormat:  "jpg",
					MaxZoom:     8,
				},
				{
					ID:          "VIIRS_SNPP_CorrectedReflectance_TrueColor",
					Name:        "True Color (Suomi NPP/VIIRS)",
					Description: "True color image from Suomi NPP satellite",
					Resolution:  "375m",
					Category:    "Base Layers",
					DataSource:  common.DataSourceGIBS,
					BaseURL:     gibsB,
					TileFormat:  "jpg",
					MaxZoom:     8,
				},
				{
					ID:          "MODIS_Terra_CorrectedReflectance_Bands367",
					Name:        "False Color (Terra/MODIS)",
					Description: "False color image emphasizing vegetation",
					Resolution:  "250m",
					Category:    "Base Layers",
					DataSource:  common.DataSourceGIBS,
					BaseURL:     gibsC,
					TileFormat:  "jpg",
					MaxZoom:     8,
				},
				{
					ID:          "MODIS_Terra_Land_Surface_Temp_Day",
					Name:        "Land Surface Temperature (Day)",
					Description: "Daily land surface temperature",
					Resolution:  "1km",
					Category:    "Science Layers",
					DataSource:  common.DataSourceGIBS,
					BaseURL:     gibsA,
					TileFormat:  "png",
					MaxZoom:     8,
				},
			},
		},
		{
			ID:          BodyMoon,
			Name:        "Moon",
			Description: "Lunar Reconnaissance Orbiter high-resolution imagery",
			Icon:        "🌙",
			Layers: []Layer{
				{
					ID:          "LRO_WAC_Mosaic_Global_303ppd",
					Name:        "LRO WAC Global Mosaic",
					Description: "Lunar Reconnaissance Orbiter WAC global mosaic",
					Resolution:  "100m",
					Category:    "Base Layers",
					DataSource:  common.DataSourceTrek,
					BaseURL:     trekTemplate("Moon", "LRO_WAC_Mosaic_Global_303ppd_v02"),
					TileFormat:  "jpg",
					MaxZoom:     9,
					MinLevel:    4,
					Type:        LayerXYZ,
				},
			},
		},
		{
			ID:          BodyMars,
			Name:        "Mars",
			Description: "Mars Reconnaissance Orbiter, Viking, and other Mars missions",
			Icon:        "🔴",
			Layers: []Layer{
				{
					ID:          "Mars_Viking_MDIM21_ClrMosaic_global_232m",
					Name:        "Viking VIS, Global Color Mosaic (232m)",
					Description: "Global color mosaic of Mars (Viking MDIM2.1)",
					Resolution:  "250m",
					Category:    "Base Layers",
					DataSource:  common.DataSourceTrek,
					BaseURL:     trekTemplate("Mars", "Mars_Viking_MDIM21_ClrMosaic_global_232m"),
					TileFormat:  "jpg",
					MaxZoom:     9,
					MinLevel:    4,
					Type:        LayerXYZ,
				},
				{
					ID:          "Mars_MGS_MOLA_ClrShade_merge_global_463m",
					Name:        "MGS MOLA Color Shaded Relief (463m)",
					Description: "Color shaded relief map of Mars from MGS MOLA",
					Resolution:  "463m",
					Category:    "Base Layers",
					DataSource:  common.DataSourceTrek,
					BaseURL:     trekTemplate("Mars", "Mars_MGS_MOLA_ClrShade_merge_global_463m"),
					TileFormat:  "jpg",
					MaxZoom:     15,
					Type:        LayerXYZ,
				},
			},
		},
		{
			ID:          BodyAndromeda,
			Name:        "Andromeda Galaxy",
			Description: "Hubble Space Telescope 2.5-gigapixel image",
			Icon:        "🌌",
			Layers: []Layer{
				{
					ID:          "Hubble_Andromeda",
					Name:        "Hubble Andromeda Galaxy",
					Description: "Hubble M31 mosaic (2025 release)",
					Resolution:  "10552x2468",
					Category:    "Deep Space",
					DataSource:  common.DataSourceHubble,
					BaseURL:     hubbleAssets + "/Hubble_M31Mosaic_2025_10552x2468_STScI-01JGY92V0Z2HJTVH605N4WH9XQ.jpg",
					TileFormat:  "jpg",
					MaxZoom:     8,
					Type:        LayerImage,
					Width:       10552,
					Height:      2468,
				},
				{
					ID:          "Hubble_Andromeda_Compass",
					Name:        "Hubble Andromeda Galaxy (Compass)",
					Description: "Hubble M31 mosaic with compass overlay (7680x4320)",
					Resolution:  "7680x4320",
					Category:    "Deep Space",
					DataSource:  common.DataSourceHubble,
					BaseURL:     hubbleAssets + "/Hubble_M31Mosaic_Compass_7680x4320_STScI-01JGYCFA9BHKB7V0W7SKDKND29.jpg",
					TileFormat:  "jpg",
					MaxZoom:     8,
					Type:        LayerImage,
					Width:       7680,
					Height:      4320,
				},
			},
		},
	}
}
