package wallet

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AccountCache remembers the last known connected account between runs.
type AccountCache interface {
	Load() (string, error)
	Store(accountID string) error
	Clear() error
}

type MemoryAccountCache struct {
	mu      sync.Mutex
	account string
}

func (m *MemoryAccountCache) Load() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.account, nil
}

func (m *MemoryAccountCache) Store(accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.account = accountID
	return nil
}

func (m *MemoryAccountCache) Clear() error {
	return m.Store("")
}

type cachedAccount struct {
	AccountID string    `json:"accountId"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FileAccountCache keeps the account in a small JSON file.
type FileAccountCache struct {
	path string
	mu   sync.Mutex
}

func NewFileAccountCache(path string) *FileAccountCache {
	return &FileAccountCache{path: path}
}

func (f *FileAccountCache) Load() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	blob, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if len(blob) == 0 {
		return "", nil
	}
	var rec cachedAccount
	if err := json.Unmarshal(blob, &rec); err != nil {
		return "", err
	}
	return rec.AccountID, nil
}

func (f *FileAccountCache) Store(accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	blob, err := json.MarshalIndent(cachedAccount{AccountID: accountID, UpdatedAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, blob, 0o600)
}

func (f *FileAccountCache) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
