package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"workshop-deck/internal/models"
)

// Flat keys of the fallback store
const (
	ProgressKey     = "presentation-progress"
	NotesKey        = "presentation-notes"
	WorkshopDataKey = "workshop-data"
)

// KeyValueStore is a string key/value store kept in one JSON file. Notes and
// workshop data are each a single JSON blob under their own key.
type KeyValueStore struct {
	mu       sync.RWMutex
	filePath string
	values   map[string]string
	logger   *zap.Logger
}

// NewKeyValueStore creates a key-value store in dataPath and loads it
func NewKeyValueStore(dataPath string, logger *zap.Logger) (*KeyValueStore, error) {
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store := &KeyValueStore{
		filePath: filepath.Join(dataPath, "fallback-store.json"),
		values:   make(map[string]string),
		logger:   logger.Named("kv"),
	}

	if err := store.Load(); err != nil {
		return nil, fmt.Errorf("failed to load key-value store: %w", err)
	}
	return store, nil
}

// Load reads the backing file. A missing or unparsable file yields an
// empty store.
func (s *KeyValueStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if os.IsNotExist(err) {
		s.values = make(map[string]string)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read key-value file: %w", err)
	}

	values := make(map[string]string)
	if err := json.Unmarshal(data, &values); err != nil {
		s.logger.Warn("Failed to parse key-value file, using empty store",
			zap.String("path", s.filePath), zap.Error(err))
		s.values = make(map[string]string)
		return nil
	}

	s.values = values
	return nil
}

// save atomically writes the backing file (temp file → rename).
// Must be called with lock held.
func (s *KeyValueStore) save() error {
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal key-value store: %w", err)
	}

	tempPath := s.filePath + ".tmp"
	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to open temp file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tempPath, s.filePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Get returns the raw value stored under key
func (s *KeyValueStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores value under key and writes the file
func (s *KeyValueStore) Set(key, value string) error {
	return s.Update(key, func(string, bool) (string, error) { return value, nil })
}

// Update replaces the value under key with fn's result, holding the lock
// across the read-modify-write
func (s *KeyValueStore) Update(key string, fn func(old string, ok bool) (string, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.values[key]
	value, err := fn(old, ok)
	if err != nil {
		return err
	}

	s.values[key] = value
	if err := s.save(); err != nil {
		if ok {
			s.values[key] = old
		} else {
			delete(s.values, key)
		}
		return err
	}
	return nil
}

// Remove deletes keys with a single file write
func (s *KeyValueStore) Remove(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := make(map[string]string)
	for _, key := range keys {
		if v, ok := s.values[key]; ok {
			removed[key] = v
			delete(s.values, key)
		}
	}
	if len(removed) == 0 {
		return nil
	}

	if err := s.save(); err != nil {
		for k, v := range removed {
			s.values[k] = v
		}
		return err
	}
	return nil
}

// Name implements Backend
func (s *KeyValueStore) Name() string { return "keyvalue" }

// PutProgress implements Backend
func (s *KeyValueStore) PutProgress(_ context.Context, snapshot *models.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return s.Set(ProgressKey, string(data))
}

// GetProgress implements Backend. A corrupt value is treated as absent.
func (s *KeyValueStore) GetProgress(_ context.Context) (*models.Snapshot, error) {
	raw, ok := s.Get(ProgressKey)
	if !ok {
		return nil, nil
	}

	var snapshot models.Snapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		s.logger.Warn("Ignoring corrupt progress value", zap.Error(err))
		return nil, nil
	}
	return &snapshot, nil
}

// RemoveProgress deletes only the progress key
func (s *KeyValueStore) RemoveProgress() error {
	return s.Remove(ProgressKey)
}

// PutNote implements Backend
func (s *KeyValueStore) PutNote(_ context.Context, slideID int, text string) error {
	return s.Update(NotesKey, func(old string, ok bool) (string, error) {
		notes := s.decodeNotes(old, ok)
		notes[strconv.Itoa(slideID)] = text
		data, err := json.Marshal(notes)
		if err != nil {
			return "", fmt.Errorf("failed to marshal notes: %w", err)
		}
		return string(data), nil
	})
}

// GetNote implements Backend
func (s *KeyValueStore) GetNote(_ context.Context, slideID int) (string, bool, error) {
	raw, ok := s.Get(NotesKey)
	notes := s.decodeNotes(raw, ok)
	text, found := notes[strconv.Itoa(slideID)]
	return text, found, nil
}

func (s *KeyValueStore) decodeNotes(raw string, ok bool) map[string]string {
	notes := make(map[string]string)
	if !ok {
		return notes
	}
	if err := json.Unmarshal([]byte(raw), &notes); err != nil {
		s.logger.Warn("Ignoring corrupt notes value", zap.Error(err))
		return make(map[string]string)
	}
	return notes
}

// PutWorkshopData implements Backend
func (s *KeyValueStore) PutWorkshopData(_ context.Context, id string, data any) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal workshop data: %w", err)
	}
	return s.Update(WorkshopDataKey, func(old string, ok bool) (string, error) {
		all := s.decodeWorkshopData(old, ok)
		all[id] = encoded
		blob, err := json.Marshal(all)
		if err != nil {
			return "", fmt.Errorf("failed to marshal workshop data: %w", err)
		}
		return string(blob), nil
	})
}

// GetWorkshopData implements Backend
func (s *KeyValueStore) GetWorkshopData(_ context.Context, id string) (any, bool, error) {
	raw, ok := s.Get(WorkshopDataKey)
	all := s.decodeWorkshopData(raw, ok)
	encoded, found := all[id]
	if !found {
		return nil, false, nil
	}

	var data any
	if err := json.Unmarshal(encoded, &data); err != nil {
		return nil, false, fmt.Errorf("failed to decode workshop data %q: %w", id, err)
	}
	return data, true, nil
}

func (s *KeyValueStore) decodeWorkshopData(raw string, ok bool) map[string]json.RawMessage {
	all := make(map[string]json.RawMessage)
	if !ok {
		return all
	}
	if err := json.Unmarshal([]byte(raw), &all); err != nil {
		s.logger.Warn("Ignoring corrupt workshop data value", zap.Error(err))
		return make(map[string]json.RawMessage)
	}
	return all
}

// Clear implements Backend
func (s *KeyValueStore) Clear(_ context.Context) error {
	return s.Remove(ProgressKey, NotesKey, WorkshopDataKey)
}
