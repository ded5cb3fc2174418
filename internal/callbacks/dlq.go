package callbacks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DLQStore persists callbacks that exhausted their retries.
type DLQStore interface {
	SaveFailedCallback(ctx context.Context, failed FailedCallback) error
	ListFailedCallbacks(ctx context.Context, limit int) ([]FailedCallback, error)
	DeleteFailedCallback(ctx context.Context, id string) error
}

// FailedCallback is a dead-lettered delivery.
type FailedCallback struct {
	ID          string          `json:"id"`
	EventID     string          `json:"eventId"`
	EventType   string          `json:"eventType"`
	URL         string          `json:"url"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	LastError   string          `json:"lastError"`
	LastAttempt time.Time       `json:"lastAttempt"`
	CreatedAt   time.Time       `json:"createdAt"`
}

func newDLQID() string {
	return "dlq_" + uuid.NewString()
}

// MemoryDLQStore keeps failed callbacks in memory.
type MemoryDLQStore struct {
	mu      sync.RWMutex
	entries map[string]FailedCallback
}

// NewMemoryDLQStore creates an in-memory DLQ.
func NewMemoryDLQStore() *MemoryDLQStore {
	return &MemoryDLQStore{entries: make(map[string]FailedCallback)}
}

func (m *MemoryDLQStore) SaveFailedCallback(_ context.Context, failed FailedCallback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[failed.ID] = failed
	return nil
}

func (m *MemoryDLQStore) ListFailedCallbacks(_ context.Context, limit int) ([]FailedCallback, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return oldestFirst(m.entries, limit), nil
}

func (m *MemoryDLQStore) DeleteFailedCallback(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

// FileDLQStore keeps failed callbacks in a JSON file that survives restarts.
type FileDLQStore struct {
	mu       sync.Mutex
	filePath string
	entries  map[string]FailedCallback
}

// NewFileDLQStore opens or creates the DLQ file at filePath.
func NewFileDLQStore(filePath string) (*FileDLQStore, error) {
	store := &FileDLQStore{
		filePath: filePath,
		entries:  make(map[string]FailedCallback),
	}
	if err := store.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load DLQ file: %w", err)
	}
	return store, nil
}

func (f *FileDLQStore) SaveFailedCallback(_ context.Context, failed FailedCallback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[failed.ID] = failed
	return f.persist()
}

func (f *FileDLQStore) ListFailedCallbacks(_ context.Context, limit int) ([]FailedCallback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return oldestFirst(f.entries, limit), nil
}

func (f *FileDLQStore) DeleteFailedCallback(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entries[id]; !ok {
		return nil
	}
	delete(f.entries, id)
	return f.persist()
}

func (f *FileDLQStore) load() error {
	data, err := os.ReadFile(f.filePath)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	entries := make(map[string]FailedCallback)
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("unmarshal DLQ data: %w", err)
	}
	f.entries = entries
	return nil
}

// persist writes through a temp file and rename.
func (f *FileDLQStore) persist() error {
	data, err := json.MarshalIndent(f.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal DLQ data: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.filePath), 0o700); err != nil {
		return fmt.Errorf("create DLQ dir: %w", err)
	}

	tmpPath := f.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write DLQ file: %w", err)
	}
	if err := os.Rename(tmpPath, f.filePath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename DLQ file: %w", err)
	}
	return nil
}

func oldestFirst(entries map[string]FailedCallback, limit int) []FailedCallback {
	result := make([]FailedCallback, 0, len(entries))
	for _, e := range entries {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}
