package flagkit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flagkit/flagkit-go-client/storage"
)

// session rotates its id after SessionIdleTimeout without activity or after SessionMaxAge.
type session struct {
	mu       sync.Mutex
	provider storage.Provider
	key      string
	now      func() time.Time
	log      *slog.Logger

	state sessionState
	// persistedActive is the LastActive value last written to the provider.
	persistedActive int64
}

// sessionPersistInterval bounds how stale the persisted activity time may get.
const sessionPersistInterval = time.Minute

type sessionState struct {
	ID         string `json:"id"`
	StartedAt  int64  `json:"startedAt"`
	LastActive int64  `json:"lastActive"`
}

func newSession(ctx context.Context, provider storage.Provider, sdkKey string, now func() time.Time, log *slog.Logger) *session {
	s := &session{
		provider: provider,
		key:      storage.SessionIDKey(storage.Fingerprint(sdkKey)),
		now:      now,
		log:      log,
	}
	if raw, err := provider.GetItem(ctx, s.key); err == nil {
		if err := json.Unmarshal([]byte(raw), &s.state); err != nil {
			log.Debug("ignoring unreadable session", "error", err)
			s.state = sessionState{}
		}
		s.persistedActive = s.state.LastActive
	}
	return s
}

// ID returns the current session id and marks the session active.
func (s *session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rotated := s.expired(now)
	if rotated {
		s.state = sessionState{ID: uuid.NewString(), StartedAt: now.UnixMilli()}
		s.log.Debug("started new session", "session_id", s.state.ID)
	}
	s.state.LastActive = now.UnixMilli()
	if rotated || now.Sub(time.UnixMilli(s.persistedActive)) >= sessionPersistInterval {
		s.persist()
	}
	return s.state.ID
}

func (s *session) expired(now time.Time) bool {
	if s.state.ID == "" {
		return true
	}
	idle := now.Sub(time.UnixMilli(s.state.LastActive))
	age := now.Sub(time.UnixMilli(s.state.StartedAt))
	return idle > SessionIdleTimeout || age > SessionMaxAge
}

func (s *session) persist() {
	raw, err := json.Marshal(s.state)
	if err != nil {
		return
	}
	if err := s.provider.SetItem(context.Background(), s.key, string(raw)); err != nil {
		s.log.Debug("failed to persist session", "error", err)
		return
	}
	s.persistedActive = s.state.LastActive
}

// loadStableID returns the device id persisted for sdkKey, creating one on first use.
func loadStableID(ctx context.Context, provider storage.Provider, sdkKey string) (string, error) {
	key := storage.StableIDKey(storage.Fingerprint(sdkKey))
	id, err := provider.GetItem(ctx, key)
	if err == nil && id != "" {
		return id, nil
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return uuid.NewString(), err
	}
	id = uuid.NewString()
	return id, provider.SetItem(ctx, key, id)
}
