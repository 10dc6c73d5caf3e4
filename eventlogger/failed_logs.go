package eventlogger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/flagkit/flagkit-go-client/storage"
)

const (
	DefaultMaxFailedEvents = 500
	DefaultMaxFailedBytes  = 1 << 20
)

// FailedBatch is a batch of events whose upload failed.
type FailedBatch struct {
	ID        string  `json:"id"`
	Events    []Event `json:"events"`
	CreatedAt int64   `json:"createdAt"`
}

// FailedLogStore persists failed batches so they can be retried later,
// possibly by another process sharing the same storage.
type FailedLogStore struct {
	mu        sync.Mutex
	provider  storage.Provider
	key       string
	maxEvents int
	maxBytes  int
	log       *slog.Logger
}

func NewFailedLogStore(provider storage.Provider, sdkKey string, maxEvents, maxBytes int, log *slog.Logger) *FailedLogStore {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxFailedEvents
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFailedBytes
	}
	if log == nil {
		log = slog.Default()
	}
	return &FailedLogStore{
		provider:  provider,
		key:       storage.FailedLogsKey(storage.Fingerprint(sdkKey)),
		maxEvents: maxEvents,
		maxBytes:  maxBytes,
		log:       log,
	}
}

// Load returns the persisted batches, oldest first.
func (s *FailedLogStore) Load(ctx context.Context) ([]FailedBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Add persists batch and evicts the oldest batches until the store fits its bounds.
// It returns the number of events evicted.
func (s *FailedLogStore) Add(ctx context.Context, batch FailedBatch) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batches, err := s.load(ctx)
	if err != nil {
		return 0, err
	}
	batches = append(batches, batch)
	batches, evicted := s.bound(batches)
	return evicted, s.save(ctx, batches)
}

// Remove deletes the batch with the given id.
func (s *FailedLogStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batches, err := s.load(ctx)
	if err != nil {
		return err
	}
	kept := batches[:0]
	for _, b := range batches {
		if b.ID != id {
			kept = append(kept, b)
		}
	}
	return s.save(ctx, kept)
}

// Count returns the number of persisted events.
func (s *FailedLogStore) Count(ctx context.Context) int {
	batches, err := s.Load(ctx)
	if err != nil {
		return 0
	}
	return countEvents(batches)
}

func (s *FailedLogStore) bound(batches []FailedBatch) ([]FailedBatch, int) {
	evicted := 0
	for len(batches) > 0 {
		raw, _ := json.Marshal(batches)
		if countEvents(batches) <= s.maxEvents && len(raw) <= s.maxBytes {
			break
		}
		evicted += len(batches[0].Events)
		batches = batches[1:]
	}
	if evicted > 0 {
		s.log.Warn("evicted failed log events", "count", evicted)
	}
	return batches, evicted
}

func (s *FailedLogStore) load(ctx context.Context) ([]FailedBatch, error) {
	raw, err := s.provider.GetItem(ctx, s.key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var batches []FailedBatch
	if err := json.Unmarshal([]byte(raw), &batches); err != nil {
		s.log.Warn("discarding unreadable failed logs", "error", err)
		return nil, nil
	}
	return batches, nil
}

func (s *FailedLogStore) save(ctx context.Context, batches []FailedBatch) error {
	if len(batches) == 0 {
		return s.provider.RemoveItem(ctx, s.key)
	}
	raw, err := json.Marshal(batches)
	if err != nil {
		return fmt.Errorf("encoding failed logs: %w", err)
	}
	return s.provider.SetItem(ctx, s.key, string(raw))
}

func countEvents(batches []FailedBatch) int {
	n := 0
	for _, b := range batches {
		n += len(b.Events)
	}
	return n
}
