// Copyright 2025, Vidstitch. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vidstitch/adproxy/pkg/logging"
)

// Routes defines dispatches for all routes.
func (s *Server) Routes(ctx context.Context) error {
	for _, route := range logging.LogRoutes {
		s.Router.MethodFunc(route.Method, route.Path, route.Handler)
	}
	s.Router.Mount("/metrics", promhttp.Handler())
	s.Router.MethodFunc("GET", "/healthz", s.healthzHandlerFunc)
	s.Router.MethodFunc("GET", "/api/scte35", s.scte35HandlerFunc)
	s.Router.MethodFunc("POST", "/api/idr/{channelID}", s.idrHandlerFunc)
	s.Router.MethodFunc("POST", "/api/config/invalidate", s.configInvalidateHandlerFunc)

	// Playlist routes carry the per-IP limiter when enabled.
	s.Router.Group(func(r chi.Router) {
		if s.Cfg.MaxRequests > 0 {
			r.Use(NewIPRequestLimiter("Adproxy-Requests", s.Cfg.MaxRequests,
				time.Duration(s.Cfg.ReqLimitIntS)*time.Second))
		}
		r.MethodFunc("GET", "/{org}/{channel}/master.m3u8", s.masterPlaylistHandlerFunc)
		r.MethodFunc("GET", "/{org}/{channel}/{variant}", s.mediaPlaylistHandlerFunc)
	})
	return nil
}
