// Copyright 2025, Vidstitch. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// configCacheTTL is how long a channel config is served from cache.
const configCacheTTL = 60 * time.Second

// configFetchTimeout bounds one call to the config source.
const configFetchTimeout = 1 * time.Second

// FallbackSchedule drives synthetic cue insertion when the origin signals
// nothing (scte35.auto_insert).
type FallbackSchedule struct {
	IntervalMin int     `json:"interval_min"`
	DurationSec float64 `json:"duration_sec"`
}

type SCTE35Config struct {
	Enabled          bool              `json:"enabled"`
	AutoInsert       bool              `json:"auto_insert"`
	FallbackSchedule *FallbackSchedule `json:"fallback_schedule,omitempty"`
}

type VASTConfig struct {
	Enabled   bool   `json:"enabled"`
	URL       string `json:"url,omitempty"`
	TimeoutMS int    `json:"timeout_ms"`
}

// ChannelConfig is the per-channel record served by the config source.
type ChannelConfig struct {
	ID                string       `json:"id"`
	OrgID             string       `json:"org_id"`
	Slug              string       `json:"slug"`
	OriginURL         string       `json:"origin_url"`
	AdPodBaseURL      string       `json:"ad_pod_base_url"`
	SignHost          string       `json:"sign_host"`
	SCTE35            SCTE35Config `json:"scte35"`
	VAST              VASTConfig   `json:"vast"`
	DefaultAdDuration float64      `json:"default_ad_duration"`
	SlateID           string       `json:"slate_id"`
	Mode              string       `json:"mode"`   // auto, csi, ssai
	Status            string       `json:"status"` // active, paused, archived
	BitrateLadder     []int        `json:"bitrate_ladder"`
	SegmentCacheTTL   int          `json:"segment_cache_ttl"`
	ManifestCacheTTL  int          `json:"manifest_cache_ttl"`
}

// ConfigSource is where channel configs come from on a cache miss.
type ConfigSource interface {
	Channel(ctx context.Context, org, channel string) (*ChannelConfig, error)
	ChannelByID(ctx context.Context, channelID string) (*ChannelConfig, error)
}

// httpConfigSource reads channel configs from the admin service.
type httpConfigSource struct {
	baseURL string
	client  *http.Client
}

func newHTTPConfigSource(baseURL string) *httpConfigSource {
	return &httpConfigSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: configFetchTimeout},
	}
}

func (s *httpConfigSource) Channel(ctx context.Context, org, channel string) (*ChannelConfig, error) {
	return s.get(ctx, fmt.Sprintf("%s/orgs/%s/channels/%s", s.baseURL, org, channel))
}

func (s *httpConfigSource) ChannelByID(ctx context.Context, channelID string) (*ChannelConfig, error) {
	return s.get(ctx, fmt.Sprintf("%s/channels/%s", s.baseURL, channelID))
}

func (s *httpConfigSource) get(ctx context.Context, url string) (*ChannelConfig, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("config fetch: %w", err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errChannelNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("config source returned %d", resp.StatusCode)
	}
	var cfg ChannelConfig
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	return &cfg, nil
}

type cachedConfig struct {
	cfg      *ChannelConfig
	deadline time.Time
}

// ConfigCache is a read-through cache over a ConfigSource, keyed both by
// (org, channel) and by channel id. Not-found is never cached.
type ConfigCache struct {
	source ConfigSource
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]cachedConfig
}

func NewConfigCache(source ConfigSource) *ConfigCache {
	return &ConfigCache{
		source:  source,
		ttl:     configCacheTTL,
		now:     time.Now,
		entries: make(map[string]cachedConfig),
	}
}

func slugKey(org, channel string) string { return "slug:" + org + "/" + channel }
func idKey(channelID string) string      { return "id:" + channelID }

// Channel returns the config for (org, channel), from cache when fresh.
func (c *ConfigCache) Channel(ctx context.Context, org, channel string) (*ChannelConfig, error) {
	if cfg, ok := c.lookup(slugKey(org, channel)); ok {
		return cfg, nil
	}
	cfg, err := c.source.Channel(ctx, org, channel)
	if err != nil {
		return nil, err
	}
	c.store(cfg)
	return cfg, nil
}

// ChannelByID returns the config for channelID, from cache when fresh.
func (c *ConfigCache) ChannelByID(ctx context.Context, channelID string) (*ChannelConfig, error) {
	if cfg, ok := c.lookup(idKey(channelID)); ok {
		return cfg, nil
	}
	cfg, err := c.source.ChannelByID(ctx, channelID)
	if err != nil {
		return nil, err
	}
	c.store(cfg)
	return cfg, nil
}

// Invalidate drops both cache keys for a channel. Called synchronously on
// admin-side mutations.
func (c *ConfigCache) Invalidate(org, channel, channelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, slugKey(org, channel))
	delete(c.entries, idKey(channelID))
}

func (c *ConfigCache) lookup(key string) (*ChannelConfig, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.now().After(e.deadline) {
		return nil, false
	}
	return e.cfg, true
}

func (c *ConfigCache) store(cfg *ChannelConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := cachedConfig{cfg: cfg, deadline: c.now().Add(c.ttl)}
	c.entries[slugKey(cfg.OrgID, cfg.Slug)] = e
	c.entries[idKey(cfg.ID)] = e
}
