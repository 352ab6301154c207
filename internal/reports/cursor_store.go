package reports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// CursorState is the paging position of one tab
type CursorState struct {
	FirstMarker string `json:"first_marker,omitempty"`
	LastMarker  string `json:"last_marker,omitempty"`
	Page        int    `json:"page"`
	LastCount   int    `json:"last_count"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// CursorStore holds per-tab cursor state and the liveness ticket that guards it.
//
// Begin issues a fresh ticket for key, superseding every earlier one. Commit stores state only
// while its ticket is still the latest for key and returns ErrStale otherwise. Reset and
// Delete supersede in-flight fetches as well.
type CursorStore interface {
	Load(ctx context.Context, key string) (CursorState, error)
	Begin(ctx context.Context, key string) (uint64, error)
	Commit(ctx context.Context, key string, ticket uint64, state CursorState) error
	Reset(ctx context.Context, key string) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// TabKey builds the cursor key of a (session, project) tab
func TabKey(sessionID, projectID string) string {
	return sessionID + ":" + projectID
}

// ---------------------------------------------------------------------------
// In-memory store
// ---------------------------------------------------------------------------

type memoryEntry struct {
	state   CursorState
	ticket  uint64
	touched time.Time
}

// MemoryCursorStore keeps cursor state in process. Suitable for a single server instance.
type MemoryCursorStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	seq     atomic.Uint64
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryCursorStore creates an in-memory store. Entries idle for longer than ttl are
// dropped by Sweep; a zero ttl keeps them forever.
func NewMemoryCursorStore(ttl time.Duration) *MemoryCursorStore {
	return &MemoryCursorStore{
		entries: make(map[string]*memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryCursorStore) Load(_ context.Context, key string) (CursorState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		return e.state, nil
	}
	return CursorState{}, nil
}

func (s *MemoryCursorStore) Begin(_ context.Context, key string) (uint64, error) {
	ticket := s.seq.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		e = &memoryEntry{}
		s.entries[key] = e
	}
	e.ticket = ticket
	e.touched = s.now()
	return ticket, nil
}

func (s *MemoryCursorStore) Commit(_ context.Context, key string, ticket uint64, state CursorState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || e.ticket != ticket {
		return ErrStale
	}
	e.state = state
	e.touched = s.now()
	return nil
}

func (s *MemoryCursorStore) Reset(_ context.Context, key string) error {
	ticket := s.seq.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &memoryEntry{ticket: ticket, touched: s.now()}
	return nil
}

func (s *MemoryCursorStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// DeletePrefix drops every tab of a session (keys starting with prefix)
func (s *MemoryCursorStore) DeletePrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			delete(s.entries, key)
		}
	}
	return nil
}

// Sweep removes idle entries and returns how many were dropped
func (s *MemoryCursorStore) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, e := range s.entries {
		if e.touched.Before(cutoff) {
			delete(s.entries, key)
			n++
		}
	}
	return n
}

// Len returns the number of tracked tabs
func (s *MemoryCursorStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// ---------------------------------------------------------------------------
// Redis store
// ---------------------------------------------------------------------------

const (
	redisCursorPrefix = "sdb:cursor:"
	redisCursorSeq    = "sdb:cursor-seq"
	fieldState        = "state"
	fieldTicket       = "ticket"
)

// RedisCursorStore keeps cursor state in Redis hashes so any server instance can serve the
// next page of a tab. Commit is a WATCH/MULTI compare-and-set on the ticket field.
type RedisCursorStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisCursorStore creates a Redis-backed store; every write refreshes the key's ttl
func NewRedisCursorStore(client redis.UniversalClient, ttl time.Duration) *RedisCursorStore {
	return &RedisCursorStore{client: client, ttl: ttl}
}

func (s *RedisCursorStore) key(key string) string {
	return redisCursorPrefix + key
}

func (s *RedisCursorStore) Load(ctx context.Context, key string) (CursorState, error) {
	raw, err := s.client.HGet(ctx, s.key(key), fieldState).Bytes()
	if errors.Is(err, redis.Nil) {
		return CursorState{}, nil
	}
	if err != nil {
		return CursorState{}, fmt.Errorf("failed to load cursor state: %w", err)
	}

	var state CursorState
	if err := json.Unmarshal(raw, &state); err != nil {
		return CursorState{}, fmt.Errorf("failed to decode cursor state: %w", err)
	}
	return state, nil
}

// nextTicket draws from a global sequence so a recreated key never reuses a ticket
func (s *RedisCursorStore) nextTicket(ctx context.Context) (uint64, error) {
	n, err := s.client.Incr(ctx, redisCursorSeq).Uint64()
	if err != nil {
		return 0, fmt.Errorf("failed to issue cursor ticket: %w", err)
	}
	return n, nil
}

func (s *RedisCursorStore) Begin(ctx context.Context, key string) (uint64, error) {
	ticket, err := s.nextTicket(ctx)
	if err != nil {
		return 0, err
	}

	k := s.key(key)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, fieldTicket, ticket)
		pipe.Expire(ctx, k, s.ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to begin cursor fetch: %w", err)
	}
	return ticket, nil
}

func (s *RedisCursorStore) Commit(ctx context.Context, key string, ticket uint64, state CursorState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	k := s.key(key)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, k, fieldTicket).Uint64()
		if errors.Is(err, redis.Nil) {
			return ErrStale
		}
		if err != nil {
			return err
		}
		if current != ticket {
			return ErrStale
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, k, fieldState, data)
			pipe.Expire(ctx, k, s.ttl)
			return nil
		})
		return err
	}, k)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStale), errors.Is(err, redis.TxFailedErr):
		return ErrStale
	}
	return fmt.Errorf("failed to commit cursor state: %w", err)
}

func (s *RedisCursorStore) Reset(ctx context.Context, key string) error {
	ticket, err := s.nextTicket(ctx)
	if err != nil {
		return err
	}

	k := s.key(key)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, k, fieldState)
		pipe.HSet(ctx, k, fieldTicket, ticket)
		pipe.Expire(ctx, k, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to reset cursor state: %w", err)
	}
	return nil
}

func (s *RedisCursorStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete cursor state: %w", err)
	}
	return nil
}

// DeletePrefix drops every tab of a session
func (s *RedisCursorStore) DeletePrefix(ctx context.Context, prefix string) error {
	iter := s.client.Scan(ctx, 0, s.key(prefix)+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cursor keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}
