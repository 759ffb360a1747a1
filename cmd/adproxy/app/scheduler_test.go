package app

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vidstitch/adproxy/pkg/hls"
	"github.com/vidstitch/adproxy/pkg/scte35"
)

// schedulerPlaylist builds a live window of 4 s segments, one PDT per
// segment, starting at start.
func schedulerPlaylist(start time.Time, segs int) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:7\n#EXT-X-TARGETDURATION:4\n")
	for i := 0; i < segs; i++ {
		t := start.Add(time.Duration(i*4) * time.Second)
		b.WriteString(hls.TagPDT + hls.FormatPDT(t) + "\n")
		b.WriteString("#EXTINF:4.000,\n")
		fmt.Fprintf(&b, "seg_%d.m4s\n", 100+i)
	}
	return b.String()
}

func TestFallbackCueOnGridPoint(t *testing.T) {
	// 11:59:00 to 12:02:56 crosses the 12:00 grid point of a 10 min
	// schedule.
	start := time.Date(2025, 10, 31, 11, 59, 0, 0, time.UTC)
	pl := hls.ParseMedia(schedulerPlaylist(start, 60))
	ch := testChannelConfig()

	cue, ok := nextFallbackCue(ch, pl)
	require.True(t, ok)
	point := time.Date(2025, 10, 31, 12, 0, 0, 0, time.UTC)
	require.Equal(t, point, cue.StartPDT)
	require.Equal(t, fmt.Sprintf("auto-%d", point.Unix()), cue.EventID)
	require.Equal(t, 30.0, cue.DurationSec)

	// The payload is a valid splice_insert out cue.
	sis, err := scte35.Decode(cue.Payload)
	require.NoError(t, err)
	require.True(t, sis.CRCValid)
	si, ok := sis.Command.(*scte35.SpliceInsert)
	require.True(t, ok)
	require.True(t, si.OutOfNetworkIndicator)
}

func TestFallbackCueIsDeterministic(t *testing.T) {
	start := time.Date(2025, 10, 31, 11, 59, 0, 0, time.UTC)
	ch := testChannelConfig()
	pl1 := hls.ParseMedia(schedulerPlaylist(start, 60))
	// A later request sees a shifted window around the same grid point.
	pl2 := hls.ParseMedia(schedulerPlaylist(start.Add(20*time.Second), 60))

	cue1, ok1 := nextFallbackCue(ch, pl1)
	cue2, ok2 := nextFallbackCue(ch, pl2)
	require.True(t, ok1)
	require.True(t, ok2)
	require.Equal(t, cue1.EventID, cue2.EventID)
	require.Equal(t, cue1.StartPDT, cue2.StartPDT)
	require.Equal(t, cue1.Payload, cue2.Payload)
}

func TestFallbackCueSignalShape(t *testing.T) {
	start := time.Date(2025, 10, 31, 11, 59, 0, 0, time.UTC)
	pl := hls.ParseMedia(schedulerPlaylist(start, 60))
	cue, ok := nextFallbackCue(testChannelConfig(), pl)
	require.True(t, ok)

	sig, ok := signalFromFallbackCue(cue, pl)
	require.True(t, ok)
	require.True(t, sig.Signal.IsAdBreakStart())
	require.Equal(t, 30.0, sig.Signal.DurationSec)
	require.NotNil(t, sig.Signal.PTS)
	require.Equal(t, cue.EventID, sig.Signal.ID)
	// Anchored at the first PDT at or after the grid point.
	marker, okPDT := pl.Lines[sig.LineIndex].PDT()
	require.True(t, okPDT)
	require.False(t, marker.Before(cue.StartPDT))
}

func TestFallbackCueDisabled(t *testing.T) {
	start := time.Date(2025, 10, 31, 11, 59, 0, 0, time.UTC)
	pl := hls.ParseMedia(schedulerPlaylist(start, 60))

	ch := testChannelConfig()
	ch.SCTE35.AutoInsert = false
	_, ok := nextFallbackCue(ch, pl)
	require.False(t, ok)

	ch = testChannelConfig()
	ch.SCTE35.FallbackSchedule = nil
	_, ok = nextFallbackCue(ch, pl)
	require.False(t, ok)
}

func TestFallbackCueOutsideWindow(t *testing.T) {
	// 12:01:00 to 12:01:36 contains no 10 min grid point.
	start := time.Date(2025, 10, 31, 12, 1, 0, 0, time.UTC)
	pl := hls.ParseMedia(schedulerPlaylist(start, 10))
	_, ok := nextFallbackCue(testChannelConfig(), pl)
	require.False(t, ok)
}
