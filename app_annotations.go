package main

import (
	"errors"

	"space-explorer/internal/annotation"
)

var errNoAnnotations = errors.New("annotation store is unavailable")

// GetAnnotations returns the annotations of a layer and date, or all of
// them when both are empty
func (a *App) GetAnnotations(layerID, date string) ([]annotation.Annotation, error) {
	if a.annotations == nil {
		return nil, errNoAnnotations
	}
	if layerID == "" && date == "" {
		return a.annotations.All(a.ctx), nil
	}
	return a.annotations.ForLayer(a.ctx, layerID, date), nil
}

// AddAnnotation stores a new annotation
func (a *App) AddAnnotation(draft annotation.Draft) (annotation.Annotation, error) {
	if a.annotations == nil {
		return annotation.Annotation{}, errNoAnnotations
	}
	created, err := a.annotations.Add(a.ctx, draft)
	if err != nil {
		return annotation.Annotation{}, err
	}
	a.TrackEvent("annotation_created", map[string]interface{}{
		"type":  string(created.Type),
		"layer": created.LayerID,
	})
	return created, nil
}

// UpdateAnnotation applies a partial update
func (a *App) UpdateAnnotation(id string, patch annotation.Patch) (annotation.Annotation, error) {
	if a.annotations == nil {
		return annotation.Annotation{}, errNoAnnotations
	}
	return a.annotations.Update(a.ctx, id, patch)
}

// DeleteAnnotation removes an annotation and reports whether it existed
func (a *App) DeleteAnnotation(id string) (bool, error) {
	if a.annotations == nil {
		return false, errNoAnnotations
	}
	return a.annotations.Delete(a.ctx, id)
}

// ExportAnnotations returns every annotation as indented JSON
func (a *App) ExportAnnotations() (string, error) {
	if a.annotations == nil {
		return "", errNoAnnotations
	}
	data, err := a.annotations.Export(a.ctx)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ImportAnnotations replaces every annotation with the given JSON list
func (a *App) ImportAnnotations(data string) (int, error) {
	if a.annotations == nil {
		return 0, errNoAnnotations
	}
	n, err := a.annotations.Import(a.ctx, []byte(data))
	if err != nil {
		return 0, err
	}
	a.TrackEvent("annotations_imported", map[string]interface{}{"count": n})
	return n, nil
}
