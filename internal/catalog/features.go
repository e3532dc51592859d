package catalog

import (
	"strings"

	"space-explorer/internal/projection"
)

// Feature is a well-known place that can be searched by name
type Feature struct {
	Name   string  `json:"name"`
	BodyID string  `json:"bodyId"`
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
}

var features = []Feature{
	{Name: "Hurricane", BodyID: BodyEarth, Lat: 25.0, Lon: -70.0},
	{Name: "Volcano", BodyID: BodyEarth, Lat: -16.25, Lon: -71.5},
	{Name: "Deforestation", BodyID: BodyEarth, Lat: -3.4653, Lon: -62.2159},
	{Name: "Ice Sheet", BodyID: BodyEarth, Lat: 82.5, Lon: -62.0},
	{Name: "Ocean Current", BodyID: BodyEarth, Lat: 30.0, Lon: -40.0},
	{Name: "Olympus Mons", BodyID: BodyMars, Lat: 18.65, Lon: 226.2},
}

// LookupFeature finds a feature by case-insensitive name or name prefix
func LookupFeature(name string) (Feature, bool) {
	q := strings.ToLower(strings.TrimSpace(name))
	if q == "" {
		return Feature{}, false
	}
	for _, f := range features {
		if strings.ToLower(f.Name) == q {
			return f, true
		}
	}
	for _, f := range features {
		if strings.HasPrefix(strings.ToLower(f.Name), q) {
			return f, true
		}
	}
	return Feature{}, false
}

// Features returns the searchable features
func Features() []Feature {
	out := make([]Feature, len(features))
	copy(out, features)
	return out
}

// LatLon returns the feature location
func (f Feature) LatLon() projection.LatLon {
	return projection.LatLon{Lat: f.Lat, Lon: f.Lon}
}
