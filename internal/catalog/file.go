package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// File is the on-disk catalog extension format:
//
//	bodies:
//	  - id: mars
//	    layers:
//	      - id: Mars_MRO_CTX_mosaic
//	        dataSource: NASA Trek
//	        baseUrl: https://trek.nasa.gov/tiles/Mars/EQ/.../{z}/{y}/{x}.png
//	        tileFormat: png
//	        maxZoom: 12
//
// Bodies that are not yet registered are created with the given metadata.
type File struct {
	Bodies []CelestialBody `yaml:"bodies"`
}

// LoadFile reads a catalog extension file
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	return &f, nil
}

// Apply merges the file into the catalog and returns the number of layers
// added. Applying the same file twice adds nothing the second time.
func (c *Catalog) Apply(f *File) (int, error) {
	var errs []error
	total := 0
	for _, body := range f.Bodies {
		if body.ID == "" {
			errs = append(errs, errors.New("catalog: body without id"))
			continue
		}
		c.AddBody(CelestialBody{
			ID:          body.ID,
			Name:        body.Name,
			Description: body.Description,
			Icon:        body.Icon,
		})
		n, err := c.AddLayersToBody(body.ID, body.Layers)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// ApplyFile loads path and merges it into the catalog
func (c *Catalog) ApplyFile(path string) (int, error) {
	f, err := LoadFile(path)
	if err != nil {
		return 0, err
	}
	return c.Apply(f)
}

// Watch re-applies the extension file whenever it is written or recreated,
// until ctx is cancelled. onChange, if set, is called after each reload
// that added layers.
func (c *Catalog) Watch(ctx context.Context, path string, logger *zap.Logger, onChange func(added int)) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("catalog: resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("catalog: create watcher: %w", err)
	}
	// Watch the directory so editors that replace the file are seen
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return fmt.Errorf("catalog: watch %s: %w", filepath.Dir(absPath), err)
	}

	go func() {
		defer watcher.Close()

		var debounce *time.Timer
		reload := make(chan struct{}, 1)
		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != absPath {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(200*time.Millisecond, func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})
			case <-reload:
				added, err := c.ApplyFile(absPath)
				if err != nil {
					logger.Warn("catalog reload had errors", zap.String("path", absPath), zap.Error(err))
				}
				logger.Info("catalog file reloaded", zap.String("path", absPath), zap.Int("added", added))
				if added > 0 && onChange != nil {
					onChange(added)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("catalog watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
