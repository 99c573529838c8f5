package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
)

// FileStore keeps the credential record in a JSON file that is replaced
// atomically on every save, so a crash leaves either the old or the new set.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load(_ context.Context) (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *FileStore) read() (*Credentials, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("decode credentials %s: %w", s.path, err)
	}
	if creds.DeviceID == "" {
		return nil, ErrNoCredentials
	}
	return &creds, nil
}

func (s *FileStore) Save(_ context.Context, creds *Credentials) error {
	if creds == nil || creds.DeviceID == "" {
		return errors.New("save credentials: device id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *creds
	if prev, err := s.read(); err == nil && !prev.PairedAt.IsZero() {
		c.PairedAt = prev.PairedAt
	}
	if c.PairedAt.IsZero() {
		c.PairedAt = time.Now()
	}
	c.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(&c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	if err := renameio.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

func (s *FileStore) Wipe(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("wipe credentials: %w", err)
	}
	return nil
}
