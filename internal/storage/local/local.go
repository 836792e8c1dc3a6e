// Package local stores every cart session in one JSON file, keyed by session.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/timbouc/cart/internal/storage"
)

// Driver is the name the local file driver registers under.
const Driver = "local"

// Config configures the local file driver.
type Config struct {
	Path string
}

// Storage is a JSON file of session key to cart snapshot.
type Storage struct {
	mu   sync.Mutex
	path string
}

var _ storage.Storage = (*Storage)(nil)

// New opens the file at path, creating it with an empty object if missing.
func New(path string) (*Storage, error) {
	if path == "" {
		return nil, storage.InvalidConfig("Make sure to define a path for the local storage")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, storage.IO("resolve path", err)
	}
	if _, err := os.Stat(abs); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return nil, storage.IO("create directory", err)
		}
		if err := os.WriteFile(abs, []byte("{}"), 0o644); err != nil {
			return nil, storage.IO("create file", err)
		}
	} else if err != nil {
		return nil, storage.IO("stat file", err)
	}
	return &Storage{path: abs}, nil
}

// Factory builds a local storage from a Config or *Config.
func Factory(config any) (storage.Storage, error) {
	switch c := config.(type) {
	case Config:
		return New(c.Path)
	case *Config:
		if c == nil {
			break
		}
		return New(c.Path)
	}
	return nil, storage.InvalidConfig(fmt.Sprintf("local storage expects local.Config, got %T", config))
}

// Path returns the absolute file path.
func (s *Storage) Path() string {
	return s.path
}

func (s *Storage) Has(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, err := s.read()
	if err != nil {
		return false, err
	}
	_, ok := content[key]
	return ok, nil
}

func (s *Storage) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, err := s.read()
	if err != nil {
		return nil, err
	}
	v, ok := content[key]
	if !ok {
		return nil, storage.KeyNotFound(key)
	}
	return v, nil
}

func (s *Storage) Put(_ context.Context, key string, value []byte) error {
	if !json.Valid(value) {
		return storage.IO("put", fmt.Errorf("value for %s is not valid JSON", key))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	content, err := s.read()
	if err != nil {
		return err
	}
	content[key] = json.RawMessage(value)
	return s.write(content)
}

func (s *Storage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := content[key]; !ok {
		return nil
	}
	delete(content, key)
	return s.write(content)
}

func (s *Storage) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(map[string]json.RawMessage{})
}

func (s *Storage) read() (map[string]json.RawMessage, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, storage.IO("read file", err)
	}
	content := make(map[string]json.RawMessage)
	if len(raw) == 0 {
		return content, nil
	}
	if err := json.Unmarshal(raw, &content); err != nil {
		return nil, storage.IO("decode file", err)
	}
	return content, nil
}

// write replaces the file through a rename so readers never see a partial file.
func (s *Storage) write(content map[string]json.RawMessage) error {
	raw, err := json.Marshal(content)
	if err != nil {
		return storage.IO("encode file", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return storage.IO("create temp file", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return storage.IO("write temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return storage.IO("close temp file", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return storage.IO("replace file", err)
	}
	return nil
}
