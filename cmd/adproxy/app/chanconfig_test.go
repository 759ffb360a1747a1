// Copyright 2025, Vidstitch. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testChannelConfig() *ChannelConfig {
	return &ChannelConfig{
		ID:           "ch1",
		OrgID:        "org1",
		Slug:         "sports",
		OriginURL:    "https://origin.example.com/sports",
		AdPodBaseURL: "https://ads.example.com",
		SignHost:     "ads.example.com",
		SCTE35: SCTE35Config{Enabled: true, AutoInsert: true,
			FallbackSchedule: &FallbackSchedule{IntervalMin: 10, DurationSec: 30}},
		DefaultAdDuration: 30,
		SlateID:           "slate1",
		Mode:              "auto",
		Status:            "active",
		BitrateLadder:     []int{800, 1600, 2500},
		ManifestCacheTTL:  2,
	}
}

func newConfigTestServer(t *testing.T, fetches *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		switch r.URL.Path {
		case "/orgs/org1/channels/sports", "/channels/ch1":
			_ = json.NewEncoder(w).Encode(testChannelConfig())
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestConfigCacheReadThrough(t *testing.T) {
	var fetches atomic.Int64
	srv := newConfigTestServer(t, &fetches)
	defer srv.Close()

	cache := NewConfigCache(newHTTPConfigSource(srv.URL))
	ctx := context.Background()

	cfg, err := cache.Channel(ctx, "org1", "sports")
	require.NoError(t, err)
	require.Equal(t, "ch1", cfg.ID)
	require.NotNil(t, cfg.SCTE35.FallbackSchedule)
	require.Equal(t, 10, cfg.SCTE35.FallbackSchedule.IntervalMin)
	require.Equal(t, int64(1), fetches.Load())

	// Cached within the TTL, by either key.
	_, err = cache.Channel(ctx, "org1", "sports")
	require.NoError(t, err)
	_, err = cache.ChannelByID(ctx, "ch1")
	require.NoError(t, err)
	require.Equal(t, int64(1), fetches.Load())
}

func TestConfigCacheTTLExpiry(t *testing.T) {
	var fetches atomic.Int64
	srv := newConfigTestServer(t, &fetches)
	defer srv.Close()

	cache := NewConfigCache(newHTTPConfigSource(srv.URL))
	now := time.Now()
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := cache.Channel(ctx, "org1", "sports")
	require.NoError(t, err)
	now = now.Add(59 * time.Second)
	_, err = cache.Channel(ctx, "org1", "sports")
	require.NoError(t, err)
	require.Equal(t, int64(1), fetches.Load())

	now = now.Add(2 * time.Second) // past the 60 s TTL
	_, err = cache.Channel(ctx, "org1", "sports")
	require.NoError(t, err)
	require.Equal(t, int64(2), fetches.Load())
}

func TestConfigCacheNotFoundNotCached(t *testing.T) {
	var fetches atomic.Int64
	srv := newConfigTestServer(t, &fetches)
	defer srv.Close()

	cache := NewConfigCache(newHTTPConfigSource(srv.URL))
	ctx := context.Background()

	_, err := cache.Channel(ctx, "org1", "missing")
	require.ErrorIs(t, err, errChannelNotFound)
	_, err = cache.Channel(ctx, "org1", "missing")
	require.ErrorIs(t, err, errChannelNotFound)
	// Both misses hit the source.
	require.Equal(t, int64(2), fetches.Load())
}

func TestConfigCacheInvalidate(t *testing.T) {
	var fetches atomic.Int64
	srv := newConfigTestServer(t, &fetches)
	defer srv.Close()

	cache := NewConfigCache(newHTTPConfigSource(srv.URL))
	ctx := context.Background()

	_, err := cache.Channel(ctx, "org1", "sports")
	require.NoError(t, err)
	cache.Invalidate("org1", "sports", "ch1")
	_, err = cache.ChannelByID(ctx, "ch1")
	require.NoError(t, err)
	require.Equal(t, int64(2), fetches.Load())
}
