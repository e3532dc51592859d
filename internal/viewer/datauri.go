package viewer

import (
	"encoding/base64"
	"errors"
	"strings"
)

var errNotDataURL = errors.New("viewer: not a base64 data url")

// DataURL embeds data in a base64 data URL
func DataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// IsDataURL reports whether url carries its content inline
func IsDataURL(url string) bool {
	return strings.HasPrefix(url, "data:")
}

// DecodeDataURL returns the payload and media type of a base64 data URL
func DecodeDataURL(url string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(url, "data:")
	if !ok {
		return nil, "", errNotDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", errNotDataURL
	}
	mimeType, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return nil, "", errNotDataURL
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", err
	}
	return data, mimeType, nil
}
