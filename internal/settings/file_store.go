package settings

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

type fileDocument struct {
	Favorites []LanguagePair `yaml:"favorites"`
}

// FileStore keeps favorites in a YAML file
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store backed by path
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// LoadFavorites reads the file, returning defaults when it does not exist
func (s *FileStore) LoadFavorites(ctx context.Context) ([]LanguagePair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultFavorites(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read favorites: %w", err)
	}

	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse favorites %s: %w", s.path, err)
	}
	if doc.Favorites == nil {
		doc.Favorites = []LanguagePair{}
	}
	return doc.Favorites, nil
}

// SaveFavorites replaces the file contents atomically
func (s *FileStore) SaveFavorites(ctx context.Context, pairs []LanguagePair) error {
	if err := Validate(pairs); err != nil {
		return err
	}
	if pairs == nil {
		pairs = []LanguagePair{}
	}

	data, err := yaml.Marshal(fileDocument{Favorites: pairs})
	if err != nil {
		return fmt.Errorf("failed to encode favorites: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".favorites-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write favorites: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write favorites: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace favorites: %w", err)
	}
	return nil
}

// Healthy checks that the settings directory is reachable
func (s *FileStore) Healthy(ctx context.Context) error {
	dir := filepath.Dir(s.path)
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}
