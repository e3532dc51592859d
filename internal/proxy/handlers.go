package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"space-explorer/internal/mosaic"
	"space-explorer/internal/nasa"
)

var errRateLimited = errors.New("upstream host is rate limited")

type upstreamResult struct {
	data        []byte
	contentType string
	status      int
	cached      bool
}

// fetch GETs target, reading through the tile store when useCache is set.
// Only 2xx responses are cached.
func (s *Server) fetch(ctx context.Context, target string, useCache bool) (*upstreamResult, error) {
	if useCache && s.tiles != nil {
		if data, ct, ok := s.tiles.Get(target); ok {
			return &upstreamResult{data: data, contentType: ct, status: http.StatusOK, cached: true}, nil
		}
	}

	host := hostOf(target)
	if s.limiter != nil && s.limiter.IsRateLimited(host) {
		return nil, fmt.Errorf("%w: %s", errRateLimited, host)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", nasa.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if s.limiter != nil {
		s.limiter.CheckResponse(host, resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", target, err)
	}

	res := &upstreamResult{
		data:        data,
		contentType: resp.Header.Get("Content-Type"),
		status:      resp.StatusCode,
	}
	if useCache && s.tiles != nil && res.status >= 200 && res.status <= 299 {
		if err := s.tiles.Set(target, res.contentType, data); err != nil {
			s.logger.Warn("cache write failed", zap.String("url", target), zap.Error(err))
		}
	}
	return res, nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Host
}

// handleCapabilities relays a WMTS capabilities document
// URL format: /api/wmts/capabilities?url={capabilities url}
func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	capURL := r.URL.Query().Get("url")
	if capURL == "" {
		http.Error(w, "Missing url parameter", http.StatusBadRequest)
		return
	}

	if data, ok := s.caps.Get(capURL); ok {
		w.Header().Set("Content-Type", "application/xml")
		w.Header().Set("X-Cache-Status", "HIT")
		w.Write(data)
		return
	}

	res, err := s.fetch(r.Context(), capURL, false)
	if err != nil {
		s.logger.Warn("capabilities fetch failed", zap.String("url", capURL), zap.Error(err))
		http.Error(w, "Failed to fetch WMTS capabilities", http.StatusInternalServerError)
		return
	}
	if res.status < 200 || res.status > 299 {
		s.logger.Warn("capabilities upstream status",
			zap.String("url", capURL), zap.Int("status", res.status))
		http.Error(w, fmt.Sprintf("Failed to fetch WMTS capabilities: upstream status %d", res.status),
			http.StatusInternalServerError)
		return
	}

	s.caps.Add(capURL, res.data)
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("X-Cache-Status", "MISS")
	w.Write(res.data)
}

// handleTile relays a single tile
// URL format: /api/tiles/{host}/{path}?{query}
func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.EscapedPath(), "/api/tiles/")
	if rest == "" || r.PathValue("path") == "" {
		http.Error(w, "Missing tile path", http.StatusBadRequest)
		return
	}

	target := s.scheme + "://" + rest
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	res, err := s.fetch(r.Context(), target, true)
	if err != nil {
		if errors.Is(err, errRateLimited) {
			http.Error(w, err.Error(), http.StatusTooManyRequests)
			return
		}
		s.logger.Debug("tile fetch failed", zap.String("url", target), zap.Error(err))
		http.Error(w, "Failed to fetch tile", http.StatusInternalServerError)
		return
	}

	if res.status < 200 || res.status > 299 {
		w.WriteHeader(res.status)
		w.Write(res.data)
		return
	}

	contentType := res.contentType
	if contentType == "" {
		contentType = "image/png"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	if res.cached {
		w.Header().Set("X-Cache-Status", "HIT")
	} else {
		w.Header().Set("X-Cache-Status", "MISS")
	}
	w.Write(res.data)
}

// MosaicRequest is the body of POST /api/mosaic. Format is accepted for
// compatibility; the response is always PNG.
type MosaicRequest struct {
	TemplateURL string `json:"templateUrl"`
	Z           *int   `json:"z"`
	X           *int   `json:"x"`
	Y           *int   `json:"y"`
	Format      string `json:"format,omitempty"`
}

func (s *Server) handleMosaic(w http.ResponseWriter, r *http.Request) {
	var req MosaicRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.TemplateURL == "" || req.Z == nil || req.X == nil || req.Y == nil {
		http.Error(w, "Missing required fields: templateUrl, z, x, y", http.StatusBadRequest)
		return
	}

	res, err := s.compositor.Composite(r.Context(), req.TemplateURL, *req.Z, *req.X, *req.Y)
	if err != nil {
		if errors.Is(err, mosaic.ErrInvalidTile) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.logger.Warn("mosaic failed", zap.Error(err))
		http.Error(w, "Mosaic generation failed", http.StatusInternalServerError)
		return
	}

	data, err := mosaic.EncodePNG(res.Image)
	if err != nil {
		s.logger.Warn("mosaic encode failed", zap.Error(err))
		http.Error(w, "Mosaic generation failed", http.StatusInternalServerError)
		return
	}

	s.logger.Info("mosaic served",
		zap.Int("z", *req.Z), zap.Int("x", *req.X), zap.Int("y", *req.Y),
		zap.Int("drawn", res.Drawn), zap.Int("attempted", res.Attempted))
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Mosaic-Tiles", fmt.Sprintf("%d/%d", res.Drawn, res.Attempted))
	w.Write(data)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.tiles == nil {
		http.Error(w, "Cache disabled", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.tiles.Stats())
}
