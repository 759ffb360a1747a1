// Copyright 2025, Vidstitch. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/vidstitch/adproxy/pkg/hls"
	"github.com/vidstitch/adproxy/pkg/scte35"
)

// fallbackCue is a synthetic ad break generated from the channel's
// fallback schedule when the origin carries no SCTE-35 signal.
type fallbackCue struct {
	EventID     string
	StartPDT    time.Time
	DurationSec float64
	Payload     []byte // splice_insert section bytes
}

// nextFallbackCue returns a synthetic cue when the channel schedules one
// whose grid point falls inside the playlist's live window. The event id is
// derived from the grid point, so every variant and every concurrent
// request synthesizes the same break.
func nextFallbackCue(ch *ChannelConfig, p *hls.MediaPlaylist) (*fallbackCue, bool) {
	fs := ch.SCTE35.FallbackSchedule
	if !ch.SCTE35.Enabled || !ch.SCTE35.AutoInsert || fs == nil ||
		fs.IntervalMin <= 0 || fs.DurationSec <= 0 {
		return nil, false
	}

	pdts := p.ExtractPDTs()
	if len(pdts) < 2 {
		return nil, false
	}
	first, ok1 := hls.ParsePDT(pdts[0])
	last, ok2 := hls.ParsePDT(pdts[len(pdts)-1])
	if !ok1 || !ok2 {
		return nil, false
	}

	grid := time.Duration(fs.IntervalMin) * time.Minute
	// First grid point strictly after the window start.
	point := first.Truncate(grid)
	if !point.After(first) {
		point = point.Add(grid)
	}
	if point.After(last) {
		return nil, false
	}

	cue := &fallbackCue{
		EventID:     fmt.Sprintf("auto-%d", point.Unix()),
		StartPDT:    point,
		DurationSec: fs.DurationSec,
	}
	cue.Payload = scte35.CreateSpliceInsertPayload(scte35.SpliceInsertParams{
		PtsTime:               (uint64(point.Unix()) * 90000) % (1 << 33),
		Duration:              uint64(fs.DurationSec * 90000),
		SpliceEventID:         uint32(point.Unix() & 0x7fffffff),
		Tier:                  4095,
		OutOfNetworkIndicator: true,
		AutoReturn:            true,
	})
	return cue, true
}

// signalFromFallbackCue renders the synthetic cue as the same Signal shape
// the DATERANGE path produces, anchored at the PDT line nearest the grid
// point.
func signalFromFallbackCue(cue *fallbackCue, p *hls.MediaPlaylist) (hls.IndexedSignal, bool) {
	markerIdx := -1
	for i, l := range p.Lines {
		if l.Kind != hls.KindPDT {
			continue
		}
		t, ok := l.PDT()
		if !ok {
			continue
		}
		if !t.Before(cue.StartPDT) {
			markerIdx = i
			break
		}
	}
	if markerIdx < 0 {
		return hls.IndexedSignal{}, false
	}
	dr := hls.ParseDateRange(fmt.Sprintf(
		`#EXT-X-DATERANGE:ID=%s,START-DATE=%s,DURATION=%.3f,SCTE35-OUT=0x%s`,
		hls.QuoteAttr(cue.EventID),
		hls.QuoteAttr(hls.FormatPDT(cue.StartPDT)),
		cue.DurationSec,
		hex.EncodeToString(cue.Payload)))
	return hls.IndexedSignal{LineIndex: markerIdx, Signal: hls.SignalFromDateRange(dr)}, true
}
