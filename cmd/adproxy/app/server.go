// Copyright 2025, Vidstitch. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vidstitch/adproxy/internal"
	"github.com/vidstitch/adproxy/pkg/auth"
	"github.com/vidstitch/adproxy/pkg/logging"
)

type Server struct {
	Router    *chi.Mux
	Cfg       *ServerConfig
	cfgCache  *ConfigCache
	breaks    BreakStore
	origin    *originClient
	decisions *DecisionClient
	beacons   BeaconSink
	rewriter  *Rewriter
	verifier  *auth.Verifier

	mu     sync.Mutex
	states map[string]*channelState
}

// SetupServer sets up router, middleware, and server, given koanf configuration.
func SetupServer(ctx context.Context, cfg *ServerConfig) (*Server, error) {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logging.AccessLog(slog.Default()))
	r.Use(addVersionAndCORSHeaders)
	r.Use(NewPrometheusMiddleware())
	if cfg.TimeoutS > 0 {
		r.Use(middleware.Timeout(time.Duration(cfg.TimeoutS) * time.Second))
	}

	var breaks BreakStore
	if cfg.RedisURL != "" {
		var err error
		breaks, err = NewRedisBreakStore(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("break store: %w", err)
		}
	} else {
		breaks = NewMemBreakStore()
	}

	verifier, err := setupVerifier(cfg)
	if err != nil {
		return nil, fmt.Errorf("jwt verifier: %w", err)
	}

	server := &Server{
		Router:    r,
		Cfg:       cfg,
		cfgCache:  NewConfigCache(newHTTPConfigSource(cfg.ConfigURL)),
		breaks:    breaks,
		origin:    newOriginClient(),
		decisions: NewDecisionClient(cfg.DecisionURL),
		beacons:   newHTTPBeaconSink(),
		verifier:  verifier,
		states:    make(map[string]*channelState),
	}
	matcher := newContainerMatcher(server.origin.Fetch)
	server.rewriter = NewRewriter(breaks, server.decisions, server.beacons,
		[]byte(cfg.SignSecret), time.Duration(cfg.SignTTLS)*time.Second,
		server.channelState, matcher)

	if err := server.Routes(ctx); err != nil {
		return nil, fmt.Errorf("routes: %w", err)
	}

	slog.Info("adproxy starting", "version", internal.GetVersion(), "port", cfg.Port,
		"store", storeKind(cfg), "auth", cfg.JWTAlg != "")
	return server, nil
}

func storeKind(cfg *ServerConfig) string {
	if cfg.RedisURL != "" {
		return "redis"
	}
	return "memory"
}

func setupVerifier(cfg *ServerConfig) (*auth.Verifier, error) {
	switch cfg.JWTAlg {
	case "":
		return nil, nil
	case "HS256":
		if cfg.JWTSecret == "" {
			return nil, fmt.Errorf("HS256 requires a secret")
		}
		return auth.NewHS256([]byte(cfg.JWTSecret)), nil
	case "RS256":
		keyData, err := os.ReadFile(cfg.JWTKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		return auth.NewRS256(keyData)
	default:
		return nil, fmt.Errorf("unknown JWT algorithm %q", cfg.JWTAlg)
	}
}

// channelState returns (creating on first use) the runtime timeline state
// for a channel.
func (s *Server) channelState(channelID string) *channelState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[channelID]
	if !ok {
		st = newChannelState()
		s.states[channelID] = st
	}
	return st
}

func (s *Server) healthzHandlerFunc(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, true, http.StatusOK)
}

// jsonResponse marshals message and give response with code
//
// Don't add any more content after this since Content-Length is set
func (s *Server) jsonResponse(w http.ResponseWriter, message any, code int) {
	raw, err := json.Marshal(message)
	if err != nil {
		http.Error(w, fmt.Sprintf("{message: \"%s\"}", err), http.StatusInternalServerError)
		slog.Error(err.Error())
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(raw)))
	w.WriteHeader(code)
	_, err = w.Write(raw)
	if err != nil {
		slog.Error("could not write HTTP response", "err", err)
	}
}
