package app

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vidstitch/adproxy/pkg/hls"
)

const skipPlanPlaylist = `#EXTM3U
#EXT-X-VERSION:7
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:100
#EXT-X-PROGRAM-DATE-TIME:2025-10-31T12:00:00.000Z
#EXTINF:4.000,
seg_100.m4s
#EXTINF:4.000,
seg_101.m4s
#EXT-X-PROGRAM-DATE-TIME:2025-10-31T12:00:08.000Z
#EXTINF:4.000,
seg_102.m4s
#EXTINF:4.000,
seg_103.m4s
#EXT-X-PROGRAM-DATE-TIME:2025-10-31T12:00:16.000Z
#EXTINF:4.000,
seg_104.m4s
`

const markerIdx = 9 // the 12:00:08 PDT line

func TestSkipPlanByDuration(t *testing.T) {
	pl := hls.ParseMedia(skipPlanPlaylist)
	plan, err := ComputeSkipPlan(pl, markerIdx, 8.0, 0)
	require.NoError(t, err)
	require.Equal(t, 2, plan.SegmentsSkipped)
	require.Equal(t, 8.0, plan.DurationSkipped)
	require.True(t, plan.ResumePDTObserved)
	require.Equal(t, "2025-10-31T12:00:16.000Z", plan.ResumePDT)
	require.Equal(t, 1, plan.RemainingSegments)
	require.False(t, plan.StableSkipCountUsed)
	// Resume content starts right after the adopted PDT line.
	require.Equal(t, hls.KindInf, pl.Lines[plan.ResumeContentIndex].Kind)
}

func TestSkipPlanStableCountWins(t *testing.T) {
	pl := hls.ParseMedia(skipPlanPlaylist)
	plan, err := ComputeSkipPlan(pl, markerIdx, 8.0, 1)
	require.NoError(t, err)
	require.Equal(t, 1, plan.SegmentsSkipped)
	require.Equal(t, 4.0, plan.DurationSkipped)
	require.True(t, plan.StableSkipCountUsed)
	// The origin PDT further down is still adopted.
	require.True(t, plan.ResumePDTObserved)
	require.Equal(t, "2025-10-31T12:00:16.000Z", plan.ResumePDT)
}

func TestSkipPlanComputedResumePDT(t *testing.T) {
	// Same window without the trailing PDT tag.
	text := strings.Replace(skipPlanPlaylist,
		"#EXT-X-PROGRAM-DATE-TIME:2025-10-31T12:00:16.000Z\n", "", 1)
	pl := hls.ParseMedia(text)
	plan, err := ComputeSkipPlan(pl, markerIdx, 8.0, 0)
	require.NoError(t, err)
	require.False(t, plan.ResumePDTObserved)
	require.Equal(t, "2025-10-31T12:00:16.000Z", plan.ResumePDT)
	require.Equal(t, 1, plan.RemainingSegments)
}

func TestSkipPlanWindowRolledOut(t *testing.T) {
	text := `#EXTM3U
#EXT-X-PROGRAM-DATE-TIME:2025-10-31T12:00:00.000Z
#EXTINF:4.000,
seg_100.m4s
#EXT-X-PROGRAM-DATE-TIME:2025-10-31T12:00:04.000Z
`
	pl := hls.ParseMedia(text)
	_, err := ComputeSkipPlan(pl, 4, 8.0, 0)
	require.ErrorIs(t, err, errWindowRolledOut)
}

func TestSkipPlanConsumesWholeWindow(t *testing.T) {
	// Break longer than the remaining window leaves nothing to resume on.
	pl := hls.ParseMedia(skipPlanPlaylist)
	_, err := ComputeSkipPlan(pl, markerIdx, 100.0, 0)
	require.ErrorIs(t, err, errWindowRolledOut)
}

func TestSkipPlanMarkerNotFound(t *testing.T) {
	pl := hls.ParseMedia(skipPlanPlaylist)
	_, err := ComputeSkipPlan(pl, 5, 8.0, 0) // an EXTINF line
	require.ErrorIs(t, err, errMarkerNotFound)
	_, err = ComputeSkipPlan(pl, -1, 8.0, 0)
	require.ErrorIs(t, err, errMarkerNotFound)
	_, err = ComputeSkipPlan(pl, len(pl.Lines), 8.0, 0)
	require.ErrorIs(t, err, errMarkerNotFound)
}

func TestSkipPlanNoSegmentsToSkip(t *testing.T) {
	pl := hls.ParseMedia(skipPlanPlaylist)
	_, err := ComputeSkipPlan(pl, markerIdx, 0, 0)
	require.ErrorIs(t, err, errNoSegmentsToSkip)
}
