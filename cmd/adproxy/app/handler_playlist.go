// Copyright 2025, Vidstitch. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vidstitch/adproxy/pkg/hls"
	"github.com/vidstitch/adproxy/pkg/logging"
)

const playlistContentType = "application/vnd.apple.mpegurl"

// mediaPlaylistHandlerFunc is the rewrite ingress:
// GET /{org}/{channel}/{variant}.m3u8
func (s *Server) mediaPlaylistHandlerFunc(w http.ResponseWriter, r *http.Request) {
	log := logging.SubLoggerWithRequestID(slog.Default(), r)
	org := chi.URLParam(r, "org")
	channel := chi.URLParam(r, "channel")
	variant := chi.URLParam(r, "variant")
	if org == "" || channel == "" || !strings.HasSuffix(variant, ".m3u8") {
		http.Error(w, "bad playlist path", http.StatusBadRequest)
		return
	}
	variantName := strings.TrimSuffix(variant, ".m3u8")

	if !s.authorize(w, r, log) {
		return
	}

	ctx := r.Context()
	ch, ok := s.loadChannel(ctx, w, org, channel, log)
	if !ok {
		return
	}

	originURL := fmt.Sprintf("%s/%s.m3u8", strings.TrimSuffix(ch.OriginURL, "/"), variantName)
	text, err := s.origin.FetchPlaylist(ctx, originURL)
	if err != nil {
		serveOriginError(w, err, log)
		return
	}
	pl := hls.ParseMedia(text)

	in := RewriteInput{
		Channel:    ch,
		Playlist:   pl,
		Variant:    variantName,
		BitrateBPS: bitrateFromVariant(variantName, ch.BitrateLadder),
		Mode:       resolveMode(ch, r),
		Viewer:     viewerFromRequest(r),
	}
	out, err := s.rewriter.Rewrite(ctx, in)
	if err != nil {
		// The rewriter degrades internally; an error here means even the
		// fallback ladder failed. Serve the origin text.
		log.Error("rewrite error", "err", err)
		out = text
	}
	servePlaylist(w, ch, out)
}

// authorize enforces the optional bearer JWT. Reason codes are logged, the
// token never is.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, log *slog.Logger) bool {
	if s.verifier == nil {
		return true
	}
	h := r.Header.Get("Authorization")
	tok, found := strings.CutPrefix(h, "Bearer ")
	if !found {
		log.Info("auth rejected", "reason", "missing bearer token")
		http.Error(w, "forbidden", http.StatusForbidden)
		return false
	}
	if _, err := s.verifier.Verify(tok, time.Now()); err != nil {
		log.Info("auth rejected", "reason", err.Error())
		http.Error(w, "forbidden", http.StatusForbidden)
		return false
	}
	return true
}

// loadChannel resolves and gates the channel config.
func (s *Server) loadChannel(ctx context.Context, w http.ResponseWriter,
	org, channel string, log *slog.Logger) (*ChannelConfig, bool) {
	cfgCtx, cancel := context.WithTimeout(ctx, configFetchTimeout)
	defer cancel()
	ch, err := s.cfgCache.Channel(cfgCtx, org, channel)
	if err != nil {
		if errors.Is(err, errChannelNotFound) {
			http.Error(w, "unknown channel", http.StatusNotFound)
			return nil, false
		}
		log.Error("config load failed", "org", org, "channel", channel, "err", err)
		http.Error(w, "config unavailable", http.StatusBadGateway)
		return nil, false
	}
	if ch.Status != "" && ch.Status != "active" {
		log.Info("channel not served", "channel", ch.ID, "status", ch.Status)
		http.Error(w, errChannelPaused.Error(), http.StatusNotFound)
		return nil, false
	}
	return ch, true
}

func serveOriginError(w http.ResponseWriter, err error, log *slog.Logger) {
	log.Error("origin fetch failed", "err", err)
	var se errOriginStatus
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "origin timeout", http.StatusGatewayTimeout)
	case errors.As(err, &se):
		http.Error(w, "origin error", http.StatusBadGateway)
	default:
		http.Error(w, "origin unavailable", http.StatusBadGateway)
	}
}

func servePlaylist(w http.ResponseWriter, ch *ChannelConfig, body string) {
	w.Header().Set("Content-Type", playlistContentType)
	ttl := ch.ManifestCacheTTL
	if ttl <= 0 {
		ttl = 2
	}
	w.Header().Set("Cache-Control", fmt.Sprintf("max-age=%d", ttl))
	_, _ = w.Write([]byte(body))
}

// resolveMode picks CSI vs SSAI: forced channel mode wins, then the test
// override, then client capability (Apple HLS family gets CSI).
func resolveMode(ch *ChannelConfig, r *http.Request) RewriteMode {
	switch ch.Mode {
	case "csi":
		return ModeCSI
	case "ssai":
		return ModeSSAI
	}
	switch r.URL.Query().Get("force") {
	case "csi":
		return ModeCSI
	case "ssai":
		return ModeSSAI
	}
	ua := r.Header.Get("User-Agent")
	for _, marker := range []string{"AppleCoreMedia", "iPhone", "iPad", "Apple TV", "Safari"} {
		if strings.Contains(ua, marker) {
			return ModeCSI
		}
	}
	return ModeSSAI
}

// viewerFromRequest assembles the viewer block of the decision request.
func viewerFromRequest(r *http.Request) Viewer {
	geo := r.Header.Get("CloudFront-Viewer-Country")
	if geo == "" {
		geo = r.Header.Get("X-Geo")
	}
	return Viewer{
		Geo:    geo,
		Bucket: r.URL.Query().Get("session"),
	}
}

// bitrateFromVariant reads the bitrate out of variant names like v_800k or
// video_2500000, falling back to the highest ladder entry.
func bitrateFromVariant(name string, ladderKbps []int) int {
	start := -1
	for i := len(name) - 1; i >= 0; i-- {
		c := name[i]
		if c >= '0' && c <= '9' {
			start = i
			continue
		}
		if start >= 0 {
			break
		}
	}
	if start >= 0 {
		end := start
		for end < len(name) && name[end] >= '0' && name[end] <= '9' {
			end++
		}
		if n, err := strconv.Atoi(name[start:end]); err == nil && n > 0 {
			if end < len(name) && (name[end] == 'k' || name[end] == 'K') {
				return n * 1000
			}
			if n < 100000 { // bare number in kbps
				return n * 1000
			}
			return n
		}
	}
	if len(ladderKbps) > 0 {
		max := ladderKbps[0]
		for _, v := range ladderKbps[1:] {
			if v > max {
				max = v
			}
		}
		return max * 1000
	}
	return 0
}
