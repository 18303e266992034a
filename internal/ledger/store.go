package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"nearminter/internal/mint"
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

const DefaultListLimit = 20

// Record is the receipt of a finished mint run. In-flight runs are never stored.
type Record struct {
	RunID           string    `json:"runId"`
	Status          Status    `json:"status"`
	Kind            mint.Kind `json:"kind,omitempty"`
	Error           string    `json:"error,omitempty"`
	AccountID       string    `json:"accountId"`
	Title           string    `json:"title"`
	TokenID         string    `json:"tokenId,omitempty"`
	TransactionHash string    `json:"transactionHash,omitempty"`
	MediaURL        string    `json:"mediaUrl,omitempty"`
	ReferenceURL    string    `json:"referenceUrl,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// FromOutcome builds the receipt of a successful run.
func FromOutcome(out mint.Outcome) Record {
	return Record{
		RunID:           out.RunID,
		Status:          StatusSucceeded,
		AccountID:       out.AccountID,
		Title:           out.Title,
		TokenID:         out.TokenID,
		TransactionHash: out.TransactionHash,
		MediaURL:        out.Image.URL,
		ReferenceURL:    out.Metadata.URL,
		CreatedAt:       out.CompletedAt,
	}
}

// FromFailure builds the receipt of a failed run. ok is false for errors
// that never started a run, such as validation failures.
func FromFailure(accountID, title string, err error, at time.Time) (Record, bool) {
	var mintErr *mint.Error
	if !errors.As(err, &mintErr) || mintErr.RunID == "" {
		return Record{}, false
	}
	status := StatusFailed
	if mintErr.Kind == mint.KindCancelled {
		status = StatusCancelled
	}
	return Record{
		RunID:     mintErr.RunID,
		Status:    status,
		Kind:      mintErr.Kind,
		Error:     mintErr.Message(),
		AccountID: accountID,
		Title:     title,
		CreatedAt: at,
	}, true
}

// Store abstracts receipt persistence.
type Store interface {
	Get(ctx context.Context, runID string) (*Record, error)
	List(ctx context.Context, limit int) ([]Record, error)
	Save(ctx context.Context, record Record) error
	Ping(ctx context.Context) error
}

// MemoryStore is mostly for testing.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]Record),
	}
}

func (m *MemoryStore) Get(_ context.Context, runID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data[runID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) List(_ context.Context, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newest(m.data, limit), nil
}

func (m *MemoryStore) Save(_ context.Context, record Record) error {
	if record.RunID == "" {
		return errors.New("record has no run id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[record.RunID] = record
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

// FileStore persists receipts to a JSON file. Used by the CLI and local dev.
type FileStore struct {
	path string
	mu   sync.Mutex
	data map[string]Record
}

func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{
		path: path,
		data: make(map[string]Record),
	}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FileStore) load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	blob, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(blob) == 0 {
		return nil
	}
	return json.Unmarshal(blob, &f.data)
}

func (f *FileStore) persist() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	blob, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, blob, 0o600)
}

func (f *FileStore) Get(_ context.Context, runID string) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.data[runID]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (f *FileStore) List(_ context.Context, limit int) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return newest(f.data, limit), nil
}

func (f *FileStore) Save(_ context.Context, record Record) error {
	if record.RunID == "" {
		return errors.New("record has no run id")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[record.RunID] = record
	return f.persist()
}

func (f *FileStore) Ping(context.Context) error {
	_, err := os.Stat(filepath.Dir(f.path))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func newest(data map[string]Record, limit int) []Record {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	out := make([]Record, 0, len(data))
	for _, rec := range data {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RunID < out[j].RunID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
