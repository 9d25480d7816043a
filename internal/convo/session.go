package convo

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/Titusvirous/ToxicInfoBot/internal/cache"
)

// SessionStore keeps the active flow of each user.
type SessionStore interface {
	// Get returns nil and no error when the user has no active flow.
	Get(ctx context.Context, userID int64) (*FlowState, error)
	Save(ctx context.Context, userID int64, state FlowState) error
	Delete(ctx context.Context, userID int64) error
}

// MemorySessions is a process-local SessionStore.
type MemorySessions struct {
	mu     sync.Mutex
	states map[int64]FlowState
}

// NewMemorySessions returns an empty in-memory session store.
func NewMemorySessions() *MemorySessions {
	return &MemorySessions{states: make(map[int64]FlowState)}
}

func (m *MemorySessions) Get(_ context.Context, userID int64) (*FlowState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[userID]
	if !ok {
		return nil, nil
	}
	state.Scratch = state.Scratch.Clone()
	return &state, nil
}

func (m *MemorySessions) Save(_ context.Context, userID int64, state FlowState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state.Scratch = state.Scratch.Clone()
	m.states[userID] = state
	return nil
}

func (m *MemorySessions) Delete(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, userID)
	return nil
}

// RedisSessions stores flow state as JSON under flow:<userID>. Keys carry no
// TTL; idle expiry is decided by the engine.
type RedisSessions struct {
	redis *cache.Redis
}

// NewRedisSessions creates a Redis-backed session store.
func NewRedisSessions(redis *cache.Redis) *RedisSessions {
	return &RedisSessions{redis: redis}
}

func (r *RedisSessions) Get(ctx context.Context, userID int64) (*FlowState, error) {
	var state FlowState
	ok, err := r.redis.GetJSON(ctx, sessionKey(userID), &state)
	if err != nil {
		return nil, fmt.Errorf("load flow state: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (r *RedisSessions) Save(ctx context.Context, userID int64, state FlowState) error {
	if err := r.redis.SetJSON(ctx, sessionKey(userID), state, 0); err != nil {
		return fmt.Errorf("save flow state: %w", err)
	}
	return nil
}

func (r *RedisSessions) Delete(ctx context.Context, userID int64) error {
	if err := r.redis.Delete(ctx, sessionKey(userID)); err != nil {
		return fmt.Errorf("delete flow state: %w", err)
	}
	return nil
}

func sessionKey(userID int64) string {
	return "flow:" + strconv.FormatInt(userID, 10)
}
