package wmts

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"space-explorer/internal/catalog"
	"space-explorer/internal/common"
)

const gibsCapabilities = `<?xml version="1.0" encoding="UTF-8"?>
<Capabilities xmlns="http://www.opengis.net/wmts/1.0" xmlns:ows="http://www.opengis.net/ows/1.1" version="1.0.0">
  <Contents>
    <Layer>
      <ows:Title>Corrected Reflectance (True Color, Suomi NPP / VIIRS)</ows:Title>
      <ows:Identifier>VIIRS_SNPP_CorrectedReflectance_TrueColor</ows:Identifier>
      <Style isDefault="true"><ows:Identifier>default</ows:Identifier></Style>
      <Format>image/jpeg</Format>
      <Dimension>
        <ows:Identifier>Time</ows:Identifier>
        <Default>2025-10-02</Default>
        <Value>2015-11-24/2025-10-02/P1D</Value>
      </Dimension>
      <TileMatrixSetLink><TileMatrixSet>EPSG3857_250m</TileMatrixSet></TileMatrixSetLink>
      <TileMatrixSetLink><TileMatrixSet>GoogleMapsCompatible_Level8</TileMatrixSet></TileMatrixSetLink>
      <ResourceURL format="image/jpeg" resourceType="tile" template="https://gibs.earthdata.nasa.gov/wmts/epsg3857/best/VIIRS_SNPP_CorrectedReflectance_TrueColor/default/{Time}/{TileMatrixSet}/{TileMatrix}/{TileRow}/{TileCol}.jpg"/>
    </Layer>
    <Layer>
      <ows:Identifier>Coastlines</ows:Identifier>
      <TileMatrixSetLink><TileMatrixSet>EPSG3857_250m</TileMatrixSet></TileMatrixSetLink>
    </Layer>
    <TileMatrixSet>
      <ows:Identifier>GoogleMapsCompatible_Level8</ows:Identifier>
      <TileMatrix><ows:Identifier>0</ows:Identifier></TileMatrix>
      <TileMatrix><ows:Identifier>1</ows:Identifier></TileMatrix>
      <TileMatrix><ows:Identifier>8</ows:Identifier></TileMatrix>
    </TileMatrixSet>
  </Contents>
</Capabilities>`

const trekCapabilities = `<?xml version="1.0" encoding="UTF-8"?>
<Capabilities xmlns="http://www.opengis.net/wmts/1.0" xmlns:ows="http://www.opengis.net/ows/1.1">
  <Contents>
    <Layer>
      <ows:Title>LRO LOLA Shaded Relief</ows:Title>
      <ows:Identifier>LRO_LOLA_Shade_Global_128ppd_v04</ows:Identifier>
      <Style isDefault="true"><ows:Identifier>default</ows:Identifier></Style>
      <TileMatrixSetLink><TileMatrixSet>default028mm</TileMatrixSet></TileMatrixSetLink>
      <ResourceURL format="image/png" resourceType="tile" template="https://trek.nasa.gov/tiles/Moon/EQ/LRO_LOLA_Shade_Global_128ppd_v04/1.0.0/{Style}/{TileMatrixSet}/{TileMatrix}/{TileRow}/{TileCol}.png"/>
    </Layer>
    <TileMatrixSet>
      <ows:Identifier>default028mm</ows:Identifier>
      <TileMatrix><ows:Identifier>2</ows:Identifier></TileMatrix>
      <TileMatrix><ows:Identifier>3</ows:Identifier></TileMatrix>
      <TileMatrix><ows:Identifier>7</ows:Identifier></TileMatrix>
    </TileMatrixSet>
  </Contents>
</Capabilities>`

func TestParseAndPreferredMatrixSet(t *testing.T) {
	caps, err := Parse([]byte(gibsCapabilities))
	require.NoError(t, err)
	require.Len(t, caps.Contents.Layers, 2)

	layer, ok := caps.FindLayer("VIIRS_SNPP_CorrectedReflectance_TrueColor")
	require.True(t, ok)
	assert.Equal(t, "GoogleMapsCompatible_Level8", PreferredMatrixSet(layer))
	assert.Equal(t, "2025-10-02", layer.DefaultTime())
	assert.Equal(t, "default", layer.DefaultStyle())

	coast, ok := caps.FindLayer("Coastlines")
	require.True(t, ok)
	assert.Equal(t, "EPSG3857_250m", PreferredMatrixSet(coast))

	_, ok = caps.FindLayer("missing")
	assert.False(t, ok)
	assert.Equal(t, "", PreferredMatrixSet(nil))
	assert.Equal(t, "", PreferredMatrixSet(&Layer{}))
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse([]byte("<Capabilities><Contents>"))
	assert.Error(t, err)
}

func TestGetLayers(t *testing.T) {
	caps, err := Parse([]byte(gibsCapabilities))
	require.NoError(t, err)

	infos := GetLayers(caps)
	require.Len(t, infos, 2)
	assert.Equal(t, "VIIRS_SNPP_CorrectedReflectance_TrueColor", infos[0].Name)
	assert.Equal(t, "image/jpeg", infos[0].Format)
	assert.Contains(t, infos[0].TemplateURL, "{TileMatrixSet}")
}

func TestConvertTemplateToXYZ(t *testing.T) {
	got := ConvertTemplateToXYZ("https://h/{TileMatrix}/{TileRow}/{TileCol}.png")
	assert.Equal(t, "https://h/{z}/{y}/{x}.png", got)
}

func TestImportLayer(t *testing.T) {
	caps, err := Parse([]byte(trekCapabilities))
	require.NoError(t, err)

	layer, err := ImportLayer(caps, "", common.DataSourceTrek)
	require.NoError(t, err)
	assert.Equal(t, "LRO_LOLA_Shade_Global_128ppd_v04", layer.ID)
	assert.Equal(t, "LRO LOLA Shaded Relief", layer.Name)
	assert.Equal(t, "https://trek.nasa.gov/tiles/Moon/EQ/LRO_LOLA_Shade_Global_128ppd_v04/1.0.0/default/default028mm/{z}/{y}/{x}.png", layer.BaseURL)
	assert.Equal(t, "png", layer.TileFormat)
	assert.Equal(t, 2, layer.MinLevel)
	assert.Equal(t, 7, layer.MaxZoom)
	assert.Equal(t, catalog.LayerXYZ, layer.Type)
	assert.NoError(t, layer.Validate())

	_, err = ImportLayer(caps, "nope", common.DataSourceTrek)
	assert.True(t, errors.Is(err, ErrNoLayer))

	_, err = ImportLayer(&Capabilities{}, "", common.DataSourceTrek)
	assert.True(t, errors.Is(err, ErrNoLayer))
}

func TestImportLayerWithoutMatrixDefinition(t *testing.T) {
	caps, err := Parse([]byte(strings.Replace(trekCapabilities, "default028mm</ows:Identifier>", "other</ows:Identifier>", 1)))
	require.NoError(t, err)

	layer, err := ImportLayer(caps, "", common.DataSourceTrek)
	require.NoError(t, err)
	assert.Equal(t, 0, layer.MinLevel)
	assert.Equal(t, defaultMaxZoom, layer.MaxZoom)
}

type mapFetcher map[string]string

func (m mapFetcher) FetchCapabilities(_ context.Context, url string) ([]byte, error) {
	doc, ok := m[url]
	if !ok {
		return nil, errors.New("not found")
	}
	return []byte(doc), nil
}

func TestImportLayersSkipsFailures(t *testing.T) {
	fetcher := mapFetcher{
		"https://trek/a.xml":   trekCapabilities,
		"https://trek/bad.xml": "<not-xml",
	}
	layers := ImportLayers(context.Background(), fetcher,
		[]string{"https://trek/a.xml", "https://trek/bad.xml", "https://trek/missing.xml"},
		common.DataSourceTrek)
	require.Len(t, layers, 1)
	assert.Equal(t, "LRO_LOLA_Shade_Global_128ppd_v04", layers[0].ID)
}
