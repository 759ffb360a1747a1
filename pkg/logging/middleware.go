// Copyright 2025, Vidstitch. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package logging

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// AccessLog logs one line per request and converts panics to stack traces.
func AccessLog(l *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			startTime := time.Now()

			defer func() {
				if rec := recover(); rec != nil {
					l.Error("runtime error (panic)",
						"request_id", GetRequestID(r),
						"recover_info", rec,
						"debug_stack", string(debug.Stack()))
					http.Error(ww, http.StatusText(http.StatusInternalServerError),
						http.StatusInternalServerError)
				}
				latencyMS := fmt.Sprintf("%.3f", float64(time.Since(startTime).Nanoseconds())/1e6)
				l.Info("request",
					"request_id", GetRequestID(r),
					"remote_ip", r.RemoteAddr,
					"method", r.Method,
					"url", r.URL.Path,
					"user_agent", r.Header.Get("User-Agent"),
					"status", ww.Status(),
					"latency_ms", latencyMS,
					"bytes_out", ww.BytesWritten())
			}()
			next.ServeHTTP(ww, r)
		}
		return http.HandlerFunc(fn)
	}
}

// GetRequestID returns the chi request ID, or "-".
func GetRequestID(r *http.Request) string {
	requestID, ok := r.Context().Value(middleware.RequestIDKey).(string)
	if !ok {
		requestID = "-"
	}
	return requestID
}

// SubLoggerWithRequestID creates a sub-logger carrying the request_id field.
func SubLoggerWithRequestID(l *slog.Logger, r *http.Request) *slog.Logger {
	return l.With(slog.String("request_id", GetRequestID(r)))
}

// Route is a loglevel control endpoint.
type Route struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}

// LogRoutes exposes runtime log-level inspection and control.
var LogRoutes = [2]Route{
	{"GET", "/loglevel", LogLevelGet},
	{"POST", "/loglevel", LogLevelSet},
}

// LogLevelGet reports the current log level.
func LogLevelGet(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintln(w, LogLevel())
}

// LogLevelSet sets the log level from a posted form:
// curl -F level=debug <server>/loglevel
func LogLevelSet(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(128); err != nil {
		http.Error(w, "incorrect form data", http.StatusBadRequest)
		return
	}
	newLevel := r.FormValue("level")
	if err := SetLogLevel(newLevel); err != nil {
		http.Error(w, fmt.Sprintf("incorrect log level %q", newLevel), http.StatusBadRequest)
		return
	}
	fmt.Fprintln(w, LogLevel())
}
