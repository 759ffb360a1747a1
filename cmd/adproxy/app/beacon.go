// Copyright 2025, Vidstitch. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// BeaconEvent names a tracking event.
type BeaconEvent string

const (
	BeaconImp      BeaconEvent = "imp"
	BeaconQ1       BeaconEvent = "q1"
	BeaconMid      BeaconEvent = "mid"
	BeaconQ3       BeaconEvent = "q3"
	BeaconComplete BeaconEvent = "complete"
	BeaconClick    BeaconEvent = "click"
	BeaconError    BeaconEvent = "error"
)

// BeaconMetadata is optional context on a beacon.
type BeaconMetadata struct {
	Variant        string `json:"variant,omitempty"`
	BitrateBPS     int    `json:"bitrate_bps,omitempty"`
	VASTAdID       string `json:"vast_ad_id,omitempty"`
	VASTCreativeID string `json:"vast_creative_id,omitempty"`
}

// Beacon is the tracking message handed to the beacon transport.
type Beacon struct {
	Event       BeaconEvent     `json:"event"`
	AdID        string          `json:"ad_id"`
	PodID       string          `json:"pod_id,omitempty"`
	Channel     string          `json:"channel"`
	TSMS        int64           `json:"ts_ms"`
	TrackerURLs []string        `json:"tracker_urls"`
	Metadata    *BeaconMetadata `json:"metadata,omitempty"`
}

// DedupKey is the at-least-once deduplication key consumers key on.
func (b Beacon) DedupKey() string {
	return fmt.Sprintf("%s|%s|%d", b.Event, b.AdID, b.TSMS)
}

// BeaconSink receives beacons for delivery.
type BeaconSink interface {
	Emit(ctx context.Context, b Beacon)
}

// httpBeaconSink fires each tracker URL once per dedup key. Delivery is
// fire-and-forget; the rewrite path never waits on trackers.
type httpBeaconSink struct {
	client *http.Client

	mu   sync.Mutex
	seen map[string]time.Time
}

const beaconDedupWindow = 5 * time.Minute

func newHTTPBeaconSink() *httpBeaconSink {
	return &httpBeaconSink{
		client: &http.Client{Timeout: 3 * time.Second},
		seen:   make(map[string]time.Time),
	}
}

func (s *httpBeaconSink) Emit(ctx context.Context, b Beacon) {
	key := b.DedupKey()
	now := time.Now()
	s.mu.Lock()
	if t, ok := s.seen[key]; ok && now.Sub(t) < beaconDedupWindow {
		s.mu.Unlock()
		return
	}
	s.seen[key] = now
	for k, t := range s.seen {
		if now.Sub(t) >= beaconDedupWindow {
			delete(s.seen, k)
		}
	}
	s.mu.Unlock()

	for _, u := range b.TrackerURLs {
		go func(u string) {
			req, err := http.NewRequest(http.MethodGet, u, nil)
			if err != nil {
				return
			}
			resp, err := s.client.Do(req)
			if err != nil {
				slog.Debug("beacon delivery failed", "event", string(b.Event), "err", err)
				return
			}
			resp.Body.Close()
		}(u)
	}
	slog.Debug("beacon emitted", "event", string(b.Event), "ad", b.AdID,
		"channel", b.Channel, "trackers", len(b.TrackerURLs))
}

// memBeaconSink collects beacons in tests.
type memBeaconSink struct {
	mu      sync.Mutex
	beacons []Beacon
}

func (s *memBeaconSink) Emit(ctx context.Context, b Beacon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beacons = append(s.beacons, b)
}

func (s *memBeaconSink) All() []Beacon {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Beacon, len(s.beacons))
	copy(out, s.beacons)
	return out
}
