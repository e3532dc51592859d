package common

import (
	"strconv"
	"strings"
)

// TileSize is the pixel edge of every tile served by GIBS and Trek
const TileSize = 256

// FillTileTemplate substitutes {z}, {x} and {y} placeholders in a tile URL
// template. Other placeholders are left intact.
func FillTileTemplate(template string, z, x, y int) string {
	r := strings.NewReplacer(
		"{z}", strconv.Itoa(z),
		"{x}", strconv.Itoa(x),
		"{y}", strconv.Itoa(y),
	)
	return r.Replace(template)
}

// NormalizeTileFormat maps format aliases onto the file extensions used in
// tile URLs ("jpg" or "png").
func NormalizeTileFormat(format string) string {
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "jpg", "jpeg", "image/jpeg":
		return "jpg"
	case "png", "image/png":
		return "png"
	case "":
		return "jpg"
	}
	return strings.ToLower(strings.TrimPrefix(format, "."))
}

// SwapImageExtension swaps a trailing .jpg for .png and vice versa. The
// second return value is false when the URL ends in neither.
func SwapImageExtension(url string) (string, bool) {
	switch {
	case strings.HasSuffix(url, ".jpg"):
		return strings.TrimSuffix(url, ".jpg") + ".png", true
	case strings.HasSuffix(url, ".jpeg"):
		return strings.TrimSuffix(url, ".jpeg") + ".png", true
	case strings.HasSuffix(url, ".png"):
		return strings.TrimSuffix(url, ".png") + ".jpg", true
	}
	return url, false
}
