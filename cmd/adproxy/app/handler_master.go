// Copyright 2025, Vidstitch. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vidstitch/adproxy/pkg/hls"
	"github.com/vidstitch/adproxy/pkg/logging"
)

// masterPlaylistHandlerFunc passes the origin master through with every
// variant URI rewritten to this proxy's media-playlist routes.
func (s *Server) masterPlaylistHandlerFunc(w http.ResponseWriter, r *http.Request) {
	log := logging.SubLoggerWithRequestID(slog.Default(), r)
	org := chi.URLParam(r, "org")
	channel := chi.URLParam(r, "channel")
	if org == "" || channel == "" {
		http.Error(w, "bad playlist path", http.StatusBadRequest)
		return
	}
	if !s.authorize(w, r, log) {
		return
	}
	ctx := r.Context()
	ch, ok := s.loadChannel(ctx, w, org, channel, log)
	if !ok {
		return
	}

	originURL := fmt.Sprintf("%s/master.m3u8", strings.TrimSuffix(ch.OriginURL, "/"))
	text, err := s.origin.FetchPlaylist(ctx, originURL)
	if err != nil {
		serveOriginError(w, err, log)
		return
	}

	// Query overrides (force, session) follow the viewer to the media
	// playlists.
	passthrough := ""
	if q := r.URL.RawQuery; q != "" {
		passthrough = "?" + q
	}
	pl := hls.ParseMedia(text)
	for i, l := range pl.Lines {
		if l.Kind != hls.KindURI {
			continue
		}
		base := path.Base(strings.TrimSpace(l.Raw))
		pl.Lines[i] = hls.URILine(fmt.Sprintf("/%s/%s/%s%s", org, channel, base, passthrough))
	}
	servePlaylist(w, ch, pl.Encode())
}
