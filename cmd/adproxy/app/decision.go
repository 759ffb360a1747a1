// Copyright 2025, Vidstitch. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	decisionTimeout  = 2000 * time.Millisecond
	decisionCacheTTL = 2 * time.Second
)

// PodItem is one ad rendition inside a pod. Items are matched to the
// requesting variant by bitrate.
type PodItem struct {
	AdID        string  `json:"ad_id"`
	BitrateBPS  int     `json:"bitrate_bps"`
	DurationSec float64 `json:"duration_sec"`
	PlaylistURL string  `json:"playlist_url"`
}

type Quartiles struct {
	Start         []string `json:"start,omitempty"`
	FirstQuartile []string `json:"firstQuartile,omitempty"`
	Midpoint      []string `json:"midpoint,omitempty"`
	ThirdQuartile []string `json:"thirdQuartile,omitempty"`
	Complete      []string `json:"complete,omitempty"`
}

type Tracking struct {
	Impressions []string  `json:"impressions,omitempty"`
	Quartiles   Quartiles `json:"quartiles"`
	Clicks      []string  `json:"clicks,omitempty"`
	Errors      []string  `json:"errors,omitempty"`
}

// Pod is the result of an ad decision.
type Pod struct {
	PodID       string    `json:"pod_id"`
	DurationSec float64   `json:"duration_sec"`
	Items       []PodItem `json:"items"`
	Tracking    *Tracking `json:"tracking,omitempty"`
	Slate       bool      `json:"slate,omitempty"`

	VASTAdID       string `json:"vast_ad_id,omitempty"`
	VASTCreativeID string `json:"vast_creative_id,omitempty"`
}

// Fingerprint identifies a decision for pinning and coalescing.
func (p *Pod) Fingerprint() string {
	var b strings.Builder
	b.WriteString(p.PodID)
	for _, it := range p.Items {
		b.WriteByte('|')
		b.WriteString(it.AdID)
	}
	return b.String()
}

// ItemsForBitrate selects one rendition per ad, closest to wantBPS,
// preserving ad order.
func (p *Pod) ItemsForBitrate(wantBPS int) []PodItem {
	var order []string
	best := make(map[string]PodItem)
	for _, it := range p.Items {
		cur, seen := best[it.AdID]
		if !seen {
			order = append(order, it.AdID)
			best[it.AdID] = it
			continue
		}
		if absInt(it.BitrateBPS-wantBPS) < absInt(cur.BitrateBPS-wantBPS) {
			best[it.AdID] = it
		}
	}
	out := make([]PodItem, 0, len(order))
	for _, id := range order {
		out = append(out, best[id])
	}
	return out
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Viewer is the viewer context forwarded to the decision service.
type Viewer struct {
	Geo     string `json:"geo,omitempty"`
	Consent string `json:"consent,omitempty"`
	Bucket  string `json:"bucket,omitempty"`
}

type decisionRequest struct {
	ChannelID   string            `json:"channel_id"`
	DurationSec float64           `json:"duration_sec"`
	Viewer      Viewer            `json:"viewer"`
	Context     map[string]string `json:"context,omitempty"`
}

type cachedDecision struct {
	pod      *Pod
	deadline time.Time
}

// DecisionClient asks the external decision service for a pod. Failures of
// any kind resolve to the channel's slate pod; the caller always gets a pod.
type DecisionClient struct {
	url    string
	client *http.Client
	now    func() time.Time

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]cachedDecision
}

func NewDecisionClient(url string) *DecisionClient {
	return &DecisionClient{
		url:    url,
		client: &http.Client{Timeout: decisionTimeout},
		now:    time.Now,
		cache:  make(map[string]cachedDecision),
	}
}

// Decide returns a pod for the break, coalescing concurrent requests with
// the same fingerprint and serving a short-lived cache to keep the variants
// of one break aligned.
func (c *DecisionClient) Decide(ctx context.Context, ch *ChannelConfig, durationSec float64, viewer Viewer) *Pod {
	fp := fmt.Sprintf("%s|%.3f|%s|%s", ch.ID, durationSec, viewer.Geo, viewer.Bucket)

	c.mu.Lock()
	if e, ok := c.cache[fp]; ok && c.now().Before(e.deadline) {
		c.mu.Unlock()
		return e.pod
	}
	c.mu.Unlock()

	v, _, _ := c.group.Do(fp, func() (any, error) {
		pod := c.decide(ctx, ch, durationSec, viewer)
		c.mu.Lock()
		// Fingerprints carry viewer geo and bucket, so expired entries
		// are swept on insert to keep the map bounded.
		now := c.now()
		for k, e := range c.cache {
			if !now.Before(e.deadline) {
				delete(c.cache, k)
			}
		}
		c.cache[fp] = cachedDecision{pod: pod, deadline: now.Add(decisionCacheTTL)}
		c.mu.Unlock()
		return pod, nil
	})
	return v.(*Pod)
}

func (c *DecisionClient) decide(ctx context.Context, ch *ChannelConfig, durationSec float64, viewer Viewer) *Pod {
	if ch.VAST.Enabled && ch.VAST.URL != "" {
		if pod, err := c.decideVAST(ctx, ch, durationSec); err == nil {
			return pod
		} else {
			slog.Warn("VAST decision failed, falling back", "channel", ch.ID, "err", err)
			countFallback("vast")
		}
	}
	if c.url == "" {
		return slatePod(ch, durationSec)
	}
	pod, err := c.decideJSON(ctx, ch, durationSec, viewer)
	if err != nil || pod == nil || len(pod.Items) == 0 {
		if err != nil {
			slog.Warn("decision failed, using slate", "channel", ch.ID, "err", err)
		}
		countFallback("slate")
		return slatePod(ch, durationSec)
	}
	return pod
}

func (c *DecisionClient) decideJSON(ctx context.Context, ch *ChannelConfig, durationSec float64, viewer Viewer) (*Pod, error) {
	body, err := json.Marshal(decisionRequest{
		ChannelID:   ch.ID,
		DurationSec: durationSec,
		Viewer:      viewer,
	})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, decisionTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("decision service returned %d", resp.StatusCode)
	}
	var pod Pod
	if err := json.NewDecoder(resp.Body).Decode(&pod); err != nil {
		return nil, fmt.Errorf("pod decode: %w", err)
	}
	return &pod, nil
}

// decideVAST fetches and converts a VAST document into a pod.
func (c *DecisionClient) decideVAST(ctx context.Context, ch *ChannelConfig, durationSec float64) (*Pod, error) {
	timeout := decisionTimeout
	if ch.VAST.TimeoutMS > 0 {
		timeout = time.Duration(ch.VAST.TimeoutMS) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ch.VAST.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("VAST endpoint returned %d", resp.StatusCode)
	}
	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("VAST parse: %w", err)
	}
	pod, err := podFromVAST(doc, durationSec)
	if err != nil {
		return nil, err
	}
	return pod, nil
}

// podFromVAST converts the first InLine ad of a VAST document.
func podFromVAST(doc *etree.Document, durationSec float64) (*Pod, error) {
	root := doc.Root()
	if root == nil || root.Tag != "VAST" {
		return nil, fmt.Errorf("not a VAST document")
	}
	ad := root.FindElement("./Ad")
	if ad == nil {
		return nil, fmt.Errorf("VAST document has no Ad")
	}
	pod := &Pod{
		PodID:       "vast-" + uuid.NewString(),
		DurationSec: durationSec,
		Tracking:    &Tracking{},
		VASTAdID:    ad.SelectAttrValue("id", ""),
	}
	inline := ad.FindElement("./InLine")
	if inline == nil {
		return nil, fmt.Errorf("VAST Ad has no InLine")
	}
	for _, imp := range inline.FindElements("./Impression") {
		if u := strings.TrimSpace(imp.Text()); u != "" {
			pod.Tracking.Impressions = append(pod.Tracking.Impressions, u)
		}
	}
	for _, creative := range inline.FindElements("./Creatives/Creative") {
		linear := creative.FindElement("./Linear")
		if linear == nil {
			continue
		}
		if pod.VASTCreativeID == "" {
			pod.VASTCreativeID = creative.SelectAttrValue("id", "")
		}
		adDur := vastDuration(linear.FindElement("./Duration"))
		for _, tr := range linear.FindElements("./TrackingEvents/Tracking") {
			u := strings.TrimSpace(tr.Text())
			if u == "" {
				continue
			}
			switch tr.SelectAttrValue("event", "") {
			case "start":
				pod.Tracking.Quartiles.Start = append(pod.Tracking.Quartiles.Start, u)
			case "firstQuartile":
				pod.Tracking.Quartiles.FirstQuartile = append(pod.Tracking.Quartiles.FirstQuartile, u)
			case "midpoint":
				pod.Tracking.Quartiles.Midpoint = append(pod.Tracking.Quartiles.Midpoint, u)
			case "thirdQuartile":
				pod.Tracking.Quartiles.ThirdQuartile = append(pod.Tracking.Quartiles.ThirdQuartile, u)
			case "complete":
				pod.Tracking.Quartiles.Complete = append(pod.Tracking.Quartiles.Complete, u)
			}
		}
		if click := linear.FindElement("./VideoClicks/ClickThrough"); click != nil {
			if u := strings.TrimSpace(click.Text()); u != "" {
				pod.Tracking.Clicks = append(pod.Tracking.Clicks, u)
			}
		}
		adID := creative.SelectAttrValue("id", "")
		if adID == "" {
			adID = pod.VASTAdID
		}
		for _, mf := range linear.FindElements("./MediaFiles/MediaFile") {
			u := strings.TrimSpace(mf.Text())
			if u == "" {
				continue
			}
			bps, _ := strconv.Atoi(mf.SelectAttrValue("bitrate", "0"))
			pod.Items = append(pod.Items, PodItem{
				AdID:        adID,
				BitrateBPS:  bps * 1000,
				DurationSec: adDur,
				PlaylistURL: u,
			})
		}
	}
	if len(pod.Items) == 0 {
		return nil, fmt.Errorf("VAST Ad has no media files")
	}
	return pod, nil
}

// vastDuration parses HH:MM:SS[.mmm].
func vastDuration(el *etree.Element) float64 {
	if el == nil {
		return 0
	}
	parts := strings.Split(strings.TrimSpace(el.Text()), ":")
	if len(parts) != 3 {
		return 0
	}
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	s, _ := strconv.ParseFloat(parts[2], 64)
	return float64(h*3600+m*60) + s
}

// slatePod is the distinguished fallback pod pointing at the channel slate.
func slatePod(ch *ChannelConfig, durationSec float64) *Pod {
	if ch.SlateID == "" || ch.AdPodBaseURL == "" {
		return &Pod{PodID: "slate-empty", DurationSec: durationSec, Slate: true}
	}
	return &Pod{
		PodID:       "slate-" + ch.SlateID,
		DurationSec: durationSec,
		Slate:       true,
		Items: []PodItem{{
			AdID:        "slate-" + ch.SlateID,
			DurationSec: durationSec,
			PlaylistURL: fmt.Sprintf("%s/slates/%s/media.m3u8", ch.AdPodBaseURL, ch.SlateID),
		}},
	}
}
