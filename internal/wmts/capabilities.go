// Package wmts parses OGC WMTS capability documents and turns advertised
// layers into catalog entries.
package wmts

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// GoogleMapsCompatible is the substring that marks Web Mercator matrix sets
const GoogleMapsCompatible = "GoogleMapsCompatible"

// WMTS XML structures for parsing capabilities. Element names are matched
// without namespace so ows: and wmts: prefixed documents both decode.
type Capabilities struct {
	XMLName  xml.Name `xml:"Capabilities"`
	Contents Contents `xml:"Contents"`
}

type Contents struct {
	Layers         []Layer         `xml:"Layer"`
	TileMatrixSets []TileMatrixSet `xml:"TileMatrixSet"`
}

type Layer struct {
	Title              string              `xml:"Title"`
	Abstract           string              `xml:"Abstract"`
	Identifier         string              `xml:"Identifier"`
	Styles             []Style             `xml:"Style"`
	Formats            []string            `xml:"Format"`
	Dimensions         []Dimension         `xml:"Dimension"`
	TileMatrixSetLinks []TileMatrixSetLink `xml:"TileMatrixSetLink"`
	ResourceURL        []ResourceURL       `xml:"ResourceURL"`
}

type Style struct {
	Identifier string `xml:"Identifier"`
	IsDefault  bool   `xml:"isDefault,attr"`
}

type Dimension struct {
	Identifier string   `xml:"Identifier"`
	Default    string   `xml:"Default"`
	Values     []string `xml:"Value"`
}

type TileMatrixSetLink struct {
	TileMatrixSet string `xml:"TileMatrixSet"`
}

type ResourceURL struct {
	Format       string `xml:"format,attr"`
	ResourceType string `xml:"resourceType,attr"`
	Template     string `xml:"template,attr"`
}

type TileMatrixSet struct {
	Identifier   string       `xml:"Identifier"`
	TileMatrices []TileMatrix `xml:"TileMatrix"`
}

type TileMatrix struct {
	Identifier string `xml:"Identifier"`
}

// LayerInfo represents parsed WMTS layer information
type LayerInfo struct {
	Name          string `json:"name"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	TileMatrixSet string `json:"tileMatrixSet"`
	TemplateURL   string `json:"templateUrl"`
	Format        string `json:"format"`
	DefaultTime   string `json:"defaultTime,omitempty"`
}

// Parse decodes a capabilities document
func Parse(data []byte) (*Capabilities, error) {
	var caps Capabilities
	if err := xml.Unmarshal(data, &caps); err != nil {
		return nil, fmt.Errorf("failed to parse XML: %w", err)
	}
	return &caps, nil
}

// FindLayer returns the layer with the given identifier
func (c *Capabilities) FindLayer(id string) (*Layer, bool) {
	for i := range c.Contents.Layers {
		if c.Contents.Layers[i].Identifier == id {
			return &c.Contents.Layers[i], true
		}
	}
	return nil, false
}

// FindTileMatrixSet returns the matrix set definition with the given identifier
func (c *Capabilities) FindTileMatrixSet(id string) (*TileMatrixSet, bool) {
	for i := range c.Contents.TileMatrixSets {
		if c.Contents.TileMatrixSets[i].Identifier == id {
			return &c.Contents.TileMatrixSets[i], true
		}
	}
	return nil, false
}

// PreferredMatrixSet picks the matrix set a layer should be requested in.
// Any GoogleMapsCompatible link wins, otherwise the first advertised link.
// It returns "" when the layer advertises none.
func PreferredMatrixSet(layer *Layer) string {
	if layer == nil || len(layer.TileMatrixSetLinks) == 0 {
		return ""
	}
	for _, link := range layer.TileMatrixSetLinks {
		if strings.Contains(link.TileMatrixSet, GoogleMapsCompatible) {
			return strings.TrimSpace(link.TileMatrixSet)
		}
	}
	return strings.TrimSpace(layer.TileMatrixSetLinks[0].TileMatrixSet)
}

// TileTemplate returns the first tile ResourceURL template of the layer
func (l *Layer) TileTemplate() (template, format string) {
	for _, resource := range l.ResourceURL {
		if resource.ResourceType == "tile" {
			return resource.Template, resource.Format
		}
	}
	return "", ""
}

// DefaultStyle returns the default style identifier, or "default"
func (l *Layer) DefaultStyle() string {
	for _, s := range l.Styles {
		if s.IsDefault && s.Identifier != "" {
			return s.Identifier
		}
	}
	if len(l.Styles) > 0 && l.Styles[0].Identifier != "" {
		return l.Styles[0].Identifier
	}
	return "default"
}

// DefaultTime returns the default value of the layer's Time dimension
func (l *Layer) DefaultTime() string {
	for _, d := range l.Dimensions {
		if strings.EqualFold(d.Identifier, "time") {
			return d.Default
		}
	}
	return ""
}

// GetLayers extracts layer information from capabilities
func GetLayers(caps *Capabilities) []LayerInfo {
	var layers []LayerInfo

	for i := range caps.Contents.Layers {
		layer := &caps.Contents.Layers[i]
		template, format := layer.TileTemplate()
		layers = append(layers, LayerInfo{
			Name:          layer.Identifier,
			Title:         layer.Title,
			Description:   layer.Abstract,
			TileMatrixSet: PreferredMatrixSet(layer),
			TemplateURL:   template,
			Format:        format,
			DefaultTime:   layer.DefaultTime(),
		})
	}

	return layers
}

// ConvertTemplateToXYZ converts WMTS template URL to XYZ format
// Example: https://trek.nasa.gov/tiles/Moon/EQ/LRO/1.0.0/{Style}/{TileMatrixSet}/{TileMatrix}/{TileRow}/{TileCol}.jpg
// Becomes: https://trek.nasa.gov/tiles/Moon/EQ/LRO/1.0.0/{Style}/{TileMatrixSet}/{z}/{y}/{x}.jpg
func ConvertTemplateToXYZ(template string) string {
	result := strings.ReplaceAll(template, "{TileMatrix}", "{z}")
	result = strings.ReplaceAll(result, "{TileCol}", "{x}")
	result = strings.ReplaceAll(result, "{TileRow}", "{y}")
	return result
}
