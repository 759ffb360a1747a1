// Copyright 2025, Vidstitch. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testVAST = `<?xml version="1.0" encoding="UTF-8"?>
<VAST version="4.0">
  <Ad id="ad-42">
    <InLine>
      <AdSystem>Example</AdSystem>
      <Impression><![CDATA[https://track.example.com/imp]]></Impression>
      <Creatives>
        <Creative id="cr-7">
          <Linear>
            <Duration>00:00:15.000</Duration>
            <TrackingEvents>
              <Tracking event="start"><![CDATA[https://track.example.com/start]]></Tracking>
              <Tracking event="complete"><![CDATA[https://track.example.com/complete]]></Tracking>
            </TrackingEvents>
            <VideoClicks>
              <ClickThrough><![CDATA[https://click.example.com/]]></ClickThrough>
            </VideoClicks>
            <MediaFiles>
              <MediaFile bitrate="800" type="application/x-mpegURL"><![CDATA[https://ads.example.com/cr7_800.m3u8]]></MediaFile>
              <MediaFile bitrate="2500" type="application/x-mpegURL"><![CDATA[https://ads.example.com/cr7_2500.m3u8]]></MediaFile>
            </MediaFiles>
          </Linear>
        </Creative>
      </Creatives>
    </InLine>
  </Ad>
</VAST>`

func TestDecideSlateOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	ch := testChannelConfig()
	c := NewDecisionClient(srv.URL)
	pod := c.Decide(context.Background(), ch, 30, Viewer{})
	require.True(t, pod.Slate)
	require.Equal(t, "slate-slate1", pod.PodID)
	require.Len(t, pod.Items, 1)
	require.Equal(t, "https://ads.example.com/slates/slate1/media.m3u8", pod.Items[0].PlaylistURL)
}

func TestDecideSlateOnEmptyPod(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(&Pod{PodID: "empty"})
	}))
	defer srv.Close()

	c := NewDecisionClient(srv.URL)
	pod := c.Decide(context.Background(), testChannelConfig(), 30, Viewer{})
	require.True(t, pod.Slate)
}

func TestDecideEmptySlateWithoutConfig(t *testing.T) {
	ch := testChannelConfig()
	ch.SlateID = ""
	c := NewDecisionClient("")
	pod := c.Decide(context.Background(), ch, 30, Viewer{})
	require.True(t, pod.Slate)
	require.Equal(t, "slate-empty", pod.PodID)
	require.Empty(t, pod.Items)
}

func TestDecideCoalescesConcurrentRequests(t *testing.T) {
	var upstream atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstream.Add(1)
		time.Sleep(50 * time.Millisecond) // hold requests together
		_ = json.NewEncoder(w).Encode(&Pod{PodID: "pod-1", DurationSec: 30, Items: []PodItem{
			{AdID: "ad-1", DurationSec: 30, PlaylistURL: "https://ads.example.com/a.m3u8"},
		}})
	}))
	defer srv.Close()

	ch := testChannelConfig()
	c := NewDecisionClient(srv.URL)
	const n = 8
	pods := make([]*Pod, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pods[i] = c.Decide(context.Background(), ch, 30, Viewer{Geo: "US"})
		}(i)
	}
	wg.Wait()
	require.Equal(t, int64(1), upstream.Load())
	for i := 0; i < n; i++ {
		require.Equal(t, pods[0].Fingerprint(), pods[i].Fingerprint())
	}
}

func TestDecideCacheExpires(t *testing.T) {
	var upstream atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstream.Add(1)
		_ = json.NewEncoder(w).Encode(&Pod{PodID: "pod-1", DurationSec: 30, Items: []PodItem{
			{AdID: "ad-1", DurationSec: 30, PlaylistURL: "https://ads.example.com/a.m3u8"},
		}})
	}))
	defer srv.Close()

	c := NewDecisionClient(srv.URL)
	now := time.Now()
	c.now = func() time.Time { return now }
	ch := testChannelConfig()

	c.Decide(context.Background(), ch, 30, Viewer{})
	c.Decide(context.Background(), ch, 30, Viewer{})
	require.Equal(t, int64(1), upstream.Load())

	now = now.Add(3 * time.Second)
	c.Decide(context.Background(), ch, 30, Viewer{})
	require.Equal(t, int64(2), upstream.Load())
}

func TestDecideCacheSweepsExpiredEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(&Pod{PodID: "pod-1", DurationSec: 30, Items: []PodItem{
			{AdID: "ad-1", DurationSec: 30, PlaylistURL: "https://ads.example.com/a.m3u8"},
		}})
	}))
	defer srv.Close()

	c := NewDecisionClient(srv.URL)
	now := time.Now()
	c.now = func() time.Time { return now }
	ch := testChannelConfig()

	// Fingerprints differ per viewer bucket; each decide adds an entry.
	c.Decide(context.Background(), ch, 30, Viewer{Bucket: "a"})
	c.Decide(context.Background(), ch, 30, Viewer{Bucket: "b"})
	c.mu.Lock()
	require.Len(t, c.cache, 2)
	c.mu.Unlock()

	// Past the TTL a fresh decide evicts the stale entries instead of
	// letting the map grow with every bucket ever seen.
	now = now.Add(3 * time.Second)
	c.Decide(context.Background(), ch, 30, Viewer{Bucket: "c"})
	c.mu.Lock()
	require.Len(t, c.cache, 1)
	_, ok := c.cache["ch1|30.000||c"]
	c.mu.Unlock()
	require.True(t, ok)
}

func TestDecideVAST(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(testVAST))
	}))
	defer srv.Close()

	ch := testChannelConfig()
	ch.VAST = VASTConfig{Enabled: true, URL: srv.URL, TimeoutMS: 1000}
	c := NewDecisionClient("")
	pod := c.Decide(context.Background(), ch, 15, Viewer{})
	require.False(t, pod.Slate)
	require.Equal(t, "ad-42", pod.VASTAdID)
	require.Equal(t, "cr-7", pod.VASTCreativeID)
	require.Len(t, pod.Items, 2)
	require.Equal(t, 800_000, pod.Items[0].BitrateBPS)
	require.Equal(t, 15.0, pod.Items[0].DurationSec)
	require.Equal(t, []string{"https://track.example.com/imp"}, pod.Tracking.Impressions)
	require.Equal(t, []string{"https://track.example.com/start"}, pod.Tracking.Quartiles.Start)
	require.Equal(t, []string{"https://track.example.com/complete"}, pod.Tracking.Quartiles.Complete)
	require.Equal(t, []string{"https://click.example.com/"}, pod.Tracking.Clicks)
}

func TestDecideVASTFailureFallsBackToSlate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not vast</html>"))
	}))
	defer srv.Close()

	ch := testChannelConfig()
	ch.VAST = VASTConfig{Enabled: true, URL: srv.URL}
	c := NewDecisionClient("")
	pod := c.Decide(context.Background(), ch, 30, Viewer{})
	require.True(t, pod.Slate)
}

func TestItemsForBitrate(t *testing.T) {
	pod := &Pod{Items: []PodItem{
		{AdID: "a", BitrateBPS: 800_000, PlaylistURL: "a800"},
		{AdID: "a", BitrateBPS: 2_500_000, PlaylistURL: "a2500"},
		{AdID: "b", BitrateBPS: 800_000, PlaylistURL: "b800"},
		{AdID: "b", BitrateBPS: 2_500_000, PlaylistURL: "b2500"},
	}}
	got := pod.ItemsForBitrate(2_400_000)
	require.Len(t, got, 2)
	require.Equal(t, "a2500", got[0].PlaylistURL)
	require.Equal(t, "b2500", got[1].PlaylistURL)

	got = pod.ItemsForBitrate(900_000)
	require.Equal(t, "a800", got[0].PlaylistURL)
	require.Equal(t, "b800", got[1].PlaylistURL)
}

func TestPodFingerprint(t *testing.T) {
	pod := &Pod{PodID: "p1", Items: []PodItem{{AdID: "a"}, {AdID: "b"}}}
	require.Equal(t, "p1|a|b", pod.Fingerprint())
}
