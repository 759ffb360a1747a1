// Copyright 2025, Vidstitch. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// breakGrace is how long a break record outlives its end_pdt.
const breakGrace = 30 * time.Second

// BreakState is the per-break record pinned by the first request that
// observes the break. All later requests, on any variant, read it and
// rewrite identically.
type BreakState struct {
	EventID              string    `json:"event_id"`
	StartPDT             time.Time `json:"start_pdt"`
	EndPDT               time.Time `json:"end_pdt"`
	DurationSec          float64   `json:"duration_sec"`
	PinnedSkipCount      int       `json:"pinned_skip_count"`
	PinnedPodFingerprint string    `json:"pinned_pod_fingerprint"`
	PinnedPod            *Pod      `json:"pinned_pod,omitempty"`
	PinnedResumePDT      string    `json:"pinned_resume_pdt,omitempty"`
}

// BreakStore holds active ad breaks per channel and provides per-break
// mutual exclusion. Writes are idempotent keyed by (channelID, eventID);
// reads may be eventually consistent.
type BreakStore interface {
	// FindActive returns a break whose [start_pdt, end_pdt] contains now.
	FindActive(ctx context.Context, channelID string, now time.Time) (*BreakState, error)
	// Pin initializes the break state at most once. Concurrent callers
	// race; losers get the winner's state. init is only called when the
	// key does not exist yet.
	Pin(ctx context.Context, channelID, eventID string, init func() (*BreakState, error)) (*BreakState, error)
	Invalidate(ctx context.Context, channelID, eventID string) error
}

func breakKey(channelID, eventID string) string {
	return fmt.Sprintf("channel:%s:%s", channelID, eventID)
}

// redisBreakStore implements BreakStore on Redis with SetNX pinning.
type redisBreakStore struct {
	rdb *redis.Client
	now func() time.Time
}

// NewRedisBreakStore connects a break store to the given Redis URL.
func NewRedisBreakStore(redisURL string) (BreakStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	return &redisBreakStore{rdb: redis.NewClient(opt), now: time.Now}, nil
}

func (s *redisBreakStore) FindActive(ctx context.Context, channelID string, now time.Time) (*BreakState, error) {
	pattern := fmt.Sprintf("channel:%s:*", channelID)
	iter := s.rdb.Scan(ctx, 0, pattern, 64).Iterator()
	for iter.Next(ctx) {
		raw, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue // evicted between SCAN and GET
		}
		var st BreakState
		if err := json.Unmarshal(raw, &st); err != nil {
			continue
		}
		if !now.Before(st.StartPDT) && !now.After(st.EndPDT) {
			return &st, nil
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("break scan: %w", err)
	}
	return nil, nil
}

func (s *redisBreakStore) Pin(ctx context.Context, channelID, eventID string,
	init func() (*BreakState, error)) (*BreakState, error) {
	key := breakKey(channelID, eventID)

	// Fast path: someone already pinned it.
	if raw, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
		var st BreakState
		if err := json.Unmarshal(raw, &st); err == nil {
			return &st, nil
		}
	}

	cand, err := init()
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(cand)
	if err != nil {
		return nil, err
	}
	ttl := cand.EndPDT.Add(breakGrace).Sub(s.now())
	if ttl <= 0 {
		ttl = breakGrace
	}
	won, err := s.rdb.SetNX(ctx, key, raw, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("break pin: %w", err)
	}
	if won {
		return cand, nil
	}
	// Lost the race; read the winner's state.
	raw, err = s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, fmt.Errorf("break read after lost pin: %w", err)
	}
	var st BreakState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("break decode: %w", err)
	}
	return &st, nil
}

func (s *redisBreakStore) Invalidate(ctx context.Context, channelID, eventID string) error {
	return s.rdb.Del(ctx, breakKey(channelID, eventID)).Err()
}

// memBreakStore is the in-process BreakStore for tests and single-node runs.
type memBreakStore struct {
	mu     sync.Mutex
	states map[string]*BreakState
	now    func() time.Time
}

func NewMemBreakStore() BreakStore {
	return &memBreakStore{states: make(map[string]*BreakState), now: time.Now}
}

func (s *memBreakStore) FindActive(ctx context.Context, channelID string, now time.Time) (*BreakState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()
	prefix := fmt.Sprintf("channel:%s:", channelID)
	for key, st := range s.states {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if !now.Before(st.StartPDT) && !now.After(st.EndPDT) {
			cp := *st
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memBreakStore) Pin(ctx context.Context, channelID, eventID string,
	init func() (*BreakState, error)) (*BreakState, error) {
	key := breakKey(channelID, eventID)
	s.mu.Lock()
	s.evictLocked()
	if st, ok := s.states[key]; ok {
		cp := *st
		s.mu.Unlock()
		return &cp, nil
	}
	s.mu.Unlock()

	// init may block (decision call); run it outside the lock and settle
	// the race on re-check.
	cand, err := init()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[key]; ok {
		cp := *st
		return &cp, nil
	}
	s.states[key] = cand
	cp := *cand
	return &cp, nil
}

func (s *memBreakStore) Invalidate(ctx context.Context, channelID, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, breakKey(channelID, eventID))
	return nil
}

func (s *memBreakStore) evictLocked() {
	now := s.now()
	for key, st := range s.states {
		if now.After(st.EndPDT.Add(breakGrace)) {
			delete(s.states, key)
		}
	}
}
