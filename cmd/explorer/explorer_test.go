package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const capabilitiesDoc = `<?xml version="1.0" encoding="UTF-8"?>
<Capabilities xmlns="http://www.opengis.net/wmts/1.0" xmlns:ows="http://www.opengis.net/ows/1.1">
  <Contents>
    <Layer>
      <ows:Title>MOLA Shaded Relief</ows:Title>
      <ows:Identifier>Mars_MGS_MOLA_Shade_global_463m</ows:Identifier>
      <Style isDefault="true"><ows:Identifier>default</ows:Identifier></Style>
      <TileMatrixSetLink><TileMatrixSet>default028mm</TileMatrixSet></TileMatrixSetLink>
      <ResourceURL format="image/png" resourceType="tile" template="%s/tiles/{Style}/{TileMatrixSet}/{TileMatrix}/{TileRow}/{TileCol}.png"/>
    </Layer>
  </Contents>
</Capabilities>`

func whitePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 256, 256))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.Set(0, 0, color.Black)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// upstream serves a white tile for every path under /tiles/ except /gone/
func upstream(t *testing.T) *httptest.Server {
	t.Helper()
	tile := whitePNG(t)
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/caps.xml", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, capabilitiesDoc, srv.URL)
	})
	mux.HandleFunc("/tiles/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(tile)
	})
	mux.HandleFunc("/gone/", http.NotFound)
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func catalogFile(t *testing.T, base string) string {
	t.Helper()
	doc := fmt.Sprintf(`bodies:
  - id: moon
    layers:
      - id: TestMoon
        dataSource: NASA Trek
        baseUrl: %[1]s/tiles/{z}/{y}/{x}.png
        tileFormat: png
        maxZoom: 4
      - id: GoneMoon
        dataSource: NASA Trek
        baseUrl: %[1]s/gone/{z}/{y}/{x}.png
        tileFormat: png
        maxZoom: 4
`, base)
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBodies(t *testing.T) {
	srv := upstream(t)
	out, err := run(t, "bodies", "--catalog", catalogFile(t, srv.URL))
	require.NoError(t, err)
	assert.Contains(t, out, "BODY")
	assert.Contains(t, out, "earth")
	assert.Contains(t, out, "TestMoon")

	out, err = run(t, "bodies", "--json")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "["))
}

func TestResolve(t *testing.T) {
	srv := upstream(t)
	out, err := run(t, "resolve", "--catalog", catalogFile(t, srv.URL),
		"--body", "moon", "--layer", "TestMoon", "--date", "2024-03-02", "--validate")
	require.NoError(t, err)
	assert.Contains(t, out, `"url": "`+srv.URL+`/tiles/{z}/{y}/{x}.png"`)
	assert.Contains(t, out, `"date": "2024-03-02"`)
	assert.Contains(t, out, "reachable: true")

	_, err = run(t, "resolve", "--body", "moon", "--layer", "nope")
	assert.Error(t, err)
	_, err = run(t, "resolve", "--body", "moon", "--layer", "TestMoon", "--date", "yesterday")
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	srv := upstream(t)
	out, err := run(t, "load", "--catalog", catalogFile(t, srv.URL),
		"--body", "moon", "--layer", "TestMoon", "--date", "2024-03-02")
	require.NoError(t, err)
	assert.Contains(t, out, "probing")
	assert.Contains(t, out, "succeeded")
	assert.Contains(t, out, "loaded TestMoon via primary after 1 attempt(s)")
}

func TestLoadFailure(t *testing.T) {
	srv := upstream(t)
	out, err := run(t, "load", "--catalog", catalogFile(t, srv.URL),
		"--body", "moon", "--layer", "GoneMoon", "--retry-base", "1ms", "--no-probe")
	require.Error(t, err)
	assert.Equal(t, "Failed to load NASA Trek imagery. Please try a different dataset.", err.Error())
	assert.Contains(t, out, "strategy=alternate-format")
	assert.Contains(t, out, "retrying")
	assert.Contains(t, out, "failed")
}

func TestImport(t *testing.T) {
	srv := upstream(t)
	out, err := run(t, "import", "--body", "mars", "--url", srv.URL+"/caps.xml")
	require.NoError(t, err)
	assert.Contains(t, out, "id: mars")
	assert.Contains(t, out, "id: Mars_MGS_MOLA_Shade_global_463m")
	assert.Contains(t, out, "baseUrl: "+srv.URL+"/tiles/default/default028mm/{z}/{y}/{x}.png")

	_, err = run(t, "import", "--body", "pluto", "--url", srv.URL+"/caps.xml")
	assert.Error(t, err)
	_, err = run(t, "import", "--body", "mars", "--url", srv.URL+"/missing.xml")
	assert.Error(t, err)
}

// syncBuffer is written by the serve goroutine and read by the test
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestServe(t *testing.T) {
	out := &syncBuffer{}
	root := newRootCmd()
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs([]string{"serve", "--addr", "127.0.0.1:0", "--no-cache"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "proxy listening at http://127.0.0.1:")
	}, 5*time.Second, 10*time.Millisecond)

	base := strings.TrimSpace(strings.TrimPrefix(out.String(), "proxy listening at "))
	resp, err := http.Get(base + "/api/wmts/capabilities")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}
