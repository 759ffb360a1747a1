package hls

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mediaPlaylist = "#EXTM3U\n" +
	"#EXT-X-VERSION:7\n" +
	"#EXT-X-TARGETDURATION:4\n" +
	"#EXT-X-MEDIA-SEQUENCE:100\n" +
	"#EXT-X-PROGRAM-DATE-TIME:2025-10-31T12:00:00.000Z\n" +
	"#EXTINF:4.000,\n" +
	"seg100.m4s\n" +
	"#EXTINF:4.000,\n" +
	"seg101.m4s\n" +
	"#EXT-X-PROGRAM-DATE-TIME:2025-10-31T12:00:08.000Z\n" +
	"#EXTINF:4.000,\n" +
	"seg102.m4s\n" +
	"#EXTINF:3.500,\n" +
	"seg103.m4s\n"

func TestParseMediaRoundTrip(t *testing.T) {
	p := ParseMedia(mediaPlaylist)
	require.Equal(t, mediaPlaylist, p.Encode())
	require.Equal(t, 4, p.SegmentCount())

	// CRLF input normalises but keeps the trailing newline behaviour.
	crlf := strings.ReplaceAll(mediaPlaylist, "\n", "\r\n")
	require.Equal(t, mediaPlaylist, ParseMedia(crlf).Encode())

	// No trailing newline in, none out.
	trimmed := strings.TrimSuffix(mediaPlaylist, "\n")
	require.Equal(t, trimmed, ParseMedia(trimmed).Encode())
}

func TestLineClassification(t *testing.T) {
	p := ParseMedia(mediaPlaylist)
	kinds := make([]LineKind, len(p.Lines))
	for i, l := range p.Lines {
		kinds[i] = l.Kind
	}
	want := []LineKind{
		KindTag, KindTag, KindTag, KindTag,
		KindPDT, KindInf, KindURI,
		KindInf, KindURI,
		KindPDT, KindInf, KindURI,
		KindInf, KindURI,
	}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Errorf("line kinds mismatch (-want +got):\n%s", diff)
	}
}

func TestDurationsAndPDTs(t *testing.T) {
	p := ParseMedia(mediaPlaylist)
	assert.InDelta(t, 15.5, p.TotalDuration(), 1e-9)
	assert.InDelta(t, 3.875, p.AverageSegmentDuration(10), 1e-9)
	assert.InDelta(t, 4.0, p.AverageSegmentDuration(2), 1e-9)

	pdts := p.ExtractPDTs()
	require.Equal(t, []string{
		"2025-10-31T12:00:00.000Z",
		"2025-10-31T12:00:08.000Z",
	}, pdts)

	ts, ok := p.Lines[4].PDT()
	require.True(t, ok)
	require.Equal(t, "2025-10-31T12:00:00.000Z", FormatPDT(ts))
}

func TestAverageSegmentDurationFallback(t *testing.T) {
	p := ParseMedia("#EXTM3U\n")
	assert.InDelta(t, 2.0, p.AverageSegmentDuration(10), 1e-9)
}

func TestInsertDiscontinuity(t *testing.T) {
	p := ParseMedia(mediaPlaylist)
	before := p.SegmentCount()
	p.InsertDiscontinuity()
	require.Equal(t, before, p.SegmentCount())

	out := p.Encode()
	idx := strings.Index(out, TagDiscontinuity)
	require.Greater(t, idx, 0)
	// The discontinuity sits immediately before the last EXTINF.
	require.True(t, strings.HasPrefix(out[idx:],
		TagDiscontinuity+"\n#EXTINF:3.500,\nseg103.m4s\n"))
}

func TestParseMaster(t *testing.T) {
	master := "#EXTM3U\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360,CODECS=\"avc1.4d401e,mp4a.40.2\"\n" +
		"v_800k.m3u8\n" +
		"\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=1600000,RESOLUTION=1280x720,CODECS=\"avc1.640020,mp4a.40.2\"\n" +
		"v_1600k.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=96000,CODECS=\"mp4a.40.2\"\n" +
		"a_96k.m3u8\n"
	variants := ParseMaster(master)
	require.Len(t, variants, 3)
	require.Equal(t, 800000, variants[0].Bandwidth)
	require.Equal(t, "640x360", variants[0].Resolution)
	require.Equal(t, "v_800k.m3u8", variants[0].URI)
	require.True(t, variants[0].IsVideo)
	require.False(t, variants[2].IsVideo)

	// Blank lines and trailing whitespace do not change the result.
	messy := strings.ReplaceAll(master, "\n", "  \n\n")
	require.Len(t, ParseMaster(messy), 3)

	v, ok := MatchVariant(variants, 1500000)
	require.True(t, ok)
	require.Equal(t, "v_1600k.m3u8", v.URI)
}

func TestExtractBitrates(t *testing.T) {
	master := "#EXTM3U\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=2500000,RESOLUTION=1920x1080\n" +
		"v_2500k.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360\n" +
		"v_800k.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360\n" +
		"v_800k_dup.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=96000,CODECS=\"mp4a.40.2\"\n" +
		"a_96k.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=150000,RESOLUTION=320x180\n" +
		"v_tiny.m3u8\n"
	got := ExtractBitrates(master)
	require.Equal(t, []int{800, 2500}, got)
}

func TestParseMasterNoVideo(t *testing.T) {
	master := "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=96000,CODECS=\"mp4a.40.2\"\na.m3u8\n"
	require.Empty(t, ExtractBitrates(master))
}
