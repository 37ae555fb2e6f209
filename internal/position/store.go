package position

import (
	"context"
	"sync"

	"go-canal/internal/binlog"

	"github.com/pingcap/errors"
)

var ErrNotFound = errors.New("position: not found")

// Entry is the resume point saved after each committed transaction.
type Entry struct {
	Position  binlog.LogPosition `json:"position" msgpack:"position"`
	GTID      string             `json:"gtid,omitempty" msgpack:"gtid,omitempty"`
	ServerID  uint32             `json:"server_id,omitempty" msgpack:"server_id,omitempty"`
	Timestamp int64              `json:"timestamp" msgpack:"timestamp"`
}

// Store persists one Entry per destination.
type Store interface {
	// Load returns ErrNotFound when nothing was saved for destination.
	Load(ctx context.Context, destination string) (*Entry, error)
	Save(ctx context.Context, destination string, e Entry) error
}

type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Load(_ context.Context, destination string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[destination]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (s *MemoryStore) Save(_ context.Context, destination string, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[destination] = e
	return nil
}
