package projection

// LatLon represents WGS84 lat/lon coordinates
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// TileCenter returns the world pixel center of a tile
func TileCenter(t TileXY) Point {
	return Point{
		X: (float64(t.X) + 0.5) * TileSize,
		Y: (float64(t.Y) + 0.5) * TileSize,
	}
}
