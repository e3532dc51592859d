package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileKV keeps every key in one JSON object on disk. Values are stored as
// raw JSON when they are valid JSON, otherwise as strings.
type FileKV struct {
	mu     sync.Mutex
	path   string
	data   map[string]json.RawMessage
	closed bool
}

// NewFileKV opens or creates the JSON file at path
func NewFileKV(path string) (*FileKV, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("storage: create directory: %w", err)
	}

	kv := &FileKV{path: path, data: make(map[string]json.RawMessage)}
	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return kv, nil
	case err != nil:
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	if len(raw) == 0 {
		return kv, nil
	}
	if err := json.Unmarshal(raw, &kv.data); err != nil {
		return nil, fmt.Errorf("storage: parse %s: %w", path, err)
	}
	return kv, nil
}

// Get returns the value of key
func (kv *FileKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if kv.closed {
		return nil, false, ErrClosed
	}
	v, ok := kv.data[key]
	if !ok {
		return nil, false, nil
	}
	return decodeValue(v), true, nil
}

// Set stores value under key and rewrites the file
func (kv *FileKV) Set(_ context.Context, key string, value []byte) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if kv.closed {
		return ErrClosed
	}
	prev, had := kv.data[key]
	kv.data[key] = encodeValue(value)
	if err := kv.flush(); err != nil {
		if had {
			kv.data[key] = prev
		} else {
			delete(kv.data, key)
		}
		return err
	}
	return nil
}

// Delete removes key
func (kv *FileKV) Delete(_ context.Context, key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if kv.closed {
		return ErrClosed
	}
	if _, ok := kv.data[key]; !ok {
		return nil
	}
	delete(kv.data, key)
	return kv.flush()
}

// Close marks the store closed. Every Set is already on disk.
func (kv *FileKV) Close() error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.closed = true
	return nil
}

// flush writes to a temp file and renames it over the store
func (kv *FileKV) flush() error {
	out, err := json.MarshalIndent(kv.data, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: marshal: %w", err)
	}
	tmp := kv.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0644); err != nil {
		return fmt.Errorf("storage: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, kv.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("storage: replace %s: %w", kv.path, err)
	}
	return nil
}

func encodeValue(v []byte) json.RawMessage {
	if json.Valid(v) {
		return json.RawMessage(append([]byte(nil), v...))
	}
	s, _ := json.Marshal(string(v))
	return s
}

func decodeValue(v json.RawMessage) []byte {
	var s string
	if len(v) > 0 && v[0] == '"' && json.Unmarshal(v, &s) == nil {
		return []byte(s)
	}
	return append([]byte(nil), v...)
}
