// Copyright 2025, Vidstitch. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vidstitch/adproxy/pkg/logging"
	"github.com/vidstitch/adproxy/pkg/scte35"
	"github.com/vidstitch/adproxy/pkg/timeline"
)

// scte35HandlerFunc decodes a base64 splice section for operators:
// GET /api/scte35?payload=<base64>
func (s *Server) scte35HandlerFunc(w http.ResponseWriter, r *http.Request) {
	payload := r.URL.Query().Get("payload")
	if payload == "" {
		http.Error(w, "missing payload parameter", http.StatusBadRequest)
		return
	}
	sis, err := scte35.DecodeBase64(payload)
	if err != nil {
		s.jsonResponse(w, map[string]string{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	resp := map[string]any{
		"command_type":     sis.CommandType,
		"protocol_version": sis.ProtocolVersion,
		"pts_adjustment":   sis.PTSAdjustment,
		"tier":             sis.Tier,
		"encrypted":        sis.EncryptedPacket,
		"crc_valid":        sis.CRCValid,
	}
	if pts, ok := sis.PTS(); ok {
		resp["pts"] = pts
	}
	switch cmd := sis.Command.(type) {
	case *scte35.SpliceInsert:
		resp["command"] = "splice_insert"
		resp["splice_event_id"] = cmd.SpliceEventID
		resp["out_of_network"] = cmd.OutOfNetworkIndicator
		if cmd.BreakDuration != nil {
			resp["break_duration_sec"] = cmd.BreakDuration.Seconds()
			resp["auto_return"] = cmd.BreakDuration.AutoReturn
		}
	case *scte35.TimeSignal:
		resp["command"] = "time_signal"
	}
	var descs []map[string]any
	for _, sd := range sis.SegmentationDescriptors() {
		descs = append(descs, map[string]any{
			"event_id":          sd.SegmentationEventID,
			"type_id":           sd.SegmentationTypeID,
			"type_name":         sd.TypeName(),
			"upid":              sd.FormattedUPID(),
			"duration_sec":      sd.DurationSeconds(),
			"segment_num":       sd.SegmentNum,
			"segments_expected": sd.SegmentsExpected,
		})
	}
	if len(descs) > 0 {
		resp["segmentation_descriptors"] = descs
	}
	s.jsonResponse(w, resp, http.StatusOK)
}

// idrReport is the transcoder's keyframe report.
type idrReport struct {
	Source string `json:"source"`
	Frames []struct {
		PTS   uint64  `json:"pts"`
		TimeS float64 `json:"time_s"`
		Seq   int64   `json:"seq,omitempty"`
	} `json:"frames"`
}

// idrHandlerFunc ingests keyframe reports: POST /api/idr/{channelID}
func (s *Server) idrHandlerFunc(w http.ResponseWriter, r *http.Request) {
	log := logging.SubLoggerWithRequestID(slog.Default(), r)
	channelID := chi.URLParam(r, "channelID")
	if channelID == "" {
		http.Error(w, "missing channel id", http.StatusBadRequest)
		return
	}
	var report idrReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		http.Error(w, "bad report body", http.StatusBadRequest)
		return
	}
	source := report.Source
	if source != timeline.SourceEncoder && source != timeline.SourceSegmenter {
		source = timeline.SourceSegmenter
	}
	st := s.channelState(channelID)
	st.mu.Lock()
	for _, f := range report.Frames {
		st.idr.Ingest(timeline.IDRFrame{
			PTS: f.PTS, TimeS: f.TimeS, Source: source, Sequence: f.Seq,
		})
		// time_s is wall clock; it doubles as a PDT sample for the fit.
		if f.TimeS > 0 {
			st.mapper.Ingest(f.PTS, time.UnixMilli(int64(f.TimeS*1000)).UTC())
		}
	}
	count := st.idr.Len()
	st.mu.Unlock()
	log.Debug("IDR report ingested", "channel", channelID,
		"frames", len(report.Frames), "timeline", count)
	s.jsonResponse(w, map[string]int{"ingested": len(report.Frames)}, http.StatusOK)
}

// configInvalidateHandlerFunc drops a channel from the config cache:
// POST /api/config/invalidate?org=&channel=&id=
func (s *Server) configInvalidateHandlerFunc(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	org, channel, id := q.Get("org"), q.Get("channel"), q.Get("id")
	if org == "" && channel == "" && id == "" {
		http.Error(w, "missing org/channel or id", http.StatusBadRequest)
		return
	}
	s.cfgCache.Invalidate(org, channel, id)
	s.jsonResponse(w, true, http.StatusOK)
}
