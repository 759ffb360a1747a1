// Copyright 2025, Vidstitch. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"time"

	"github.com/vidstitch/adproxy/pkg/hls"
)

// SkipPlan says which origin segments a break replaces and where playback
// resumes.
type SkipPlan struct {
	MarkerLineIndex        int
	SkipStartIndex         int
	ResumeContentIndex     int
	SegmentsSkipped        int
	DurationSkipped        float64
	ResumePDT              string
	ResumePDTObserved      bool
	RemainingSegments      int
	StableSkipCountUsed    bool
	SegmentsSearchedForPDT int
}

// ComputeSkipPlan walks the playlist from the PDT marker at markerIdx and
// decides how many segments the break consumes. A stableSkipCount > 0 wins
// over targetDuration so every variant of one break skips identically.
//
// The resume PDT is the origin's own PDT when one exists in the remaining
// window; only a window with no PDT at all gets a computed timestamp
// (marker_pdt + duration_skipped).
func ComputeSkipPlan(p *hls.MediaPlaylist, markerIdx int, targetDuration float64, stableSkipCount int) (*SkipPlan, error) {
	if markerIdx < 0 || markerIdx >= len(p.Lines) || p.Lines[markerIdx].Kind != hls.KindPDT {
		return nil, errMarkerNotFound
	}
	markerPDT, ok := p.Lines[markerIdx].PDT()
	if !ok {
		return nil, errMarkerNotFound
	}
	if targetDuration <= 0 && stableSkipCount <= 0 {
		return nil, errNoSegmentsToSkip
	}

	plan := &SkipPlan{
		MarkerLineIndex:     markerIdx,
		SkipStartIndex:      markerIdx + 1,
		StableSkipCountUsed: stableSkipCount > 0,
	}

	lastInf := 0.0
	i := markerIdx + 1
walk:
	for ; i < len(p.Lines); i++ {
		switch p.Lines[i].Kind {
		case hls.KindInf:
			lastInf = p.Lines[i].Duration()
		case hls.KindURI:
			plan.DurationSkipped += lastInf
			plan.SegmentsSkipped++
			lastInf = 0
			if stableSkipCount > 0 {
				if plan.SegmentsSkipped >= stableSkipCount {
					i++
					break walk
				}
			} else if plan.DurationSkipped >= targetDuration {
				i++
				break walk
			}
		}
	}
	if plan.SegmentsSkipped == 0 {
		return nil, errWindowRolledOut
	}
	plan.ResumeContentIndex = i

	// Prefer the origin's own PDT anywhere in the remainder.
	for j := plan.ResumeContentIndex; j < len(p.Lines); j++ {
		if p.Lines[j].Kind == hls.KindURI {
			plan.SegmentsSearchedForPDT++
		}
		if p.Lines[j].Kind == hls.KindPDT {
			plan.ResumePDT = p.Lines[j].PDTString()
			plan.ResumePDTObserved = true
			plan.ResumeContentIndex = j + 1
			break
		}
	}
	if !plan.ResumePDTObserved {
		resume := markerPDT.Add(time.Duration(plan.DurationSkipped*1000) * time.Millisecond)
		plan.ResumePDT = hls.FormatPDT(resume)
	}

	for j := plan.ResumeContentIndex; j < len(p.Lines); j++ {
		if p.Lines[j].Kind == hls.KindURI {
			plan.RemainingSegments++
		}
	}
	if plan.RemainingSegments == 0 {
		return nil, errWindowRolledOut
	}
	return plan, nil
}
