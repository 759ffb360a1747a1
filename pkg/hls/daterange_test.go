package hls

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAttributes(t *testing.T) {
	attrs := ParseAttributes(`ID="splice-42",CLASS="com.example.ad",DURATION=8.000,` +
		`X-QUOTED="say \"hi\"",END-ON-NEXT=YES,SCTE35-OUT=0xfc3025`)
	require.Len(t, attrs, 6)
	byKey := map[string]Attribute{}
	for _, a := range attrs {
		byKey[a.Key] = a
	}
	assert.Equal(t, "splice-42", byKey["ID"].Value)
	assert.True(t, byKey["ID"].Quoted)
	assert.Equal(t, "8.000", byKey["DURATION"].Value)
	assert.False(t, byKey["DURATION"].Quoted)
	assert.Equal(t, `say "hi"`, byKey["X-QUOTED"].Value)
	assert.Equal(t, "YES", byKey["END-ON-NEXT"].Value)
	assert.Equal(t, "0xfc3025", byKey["SCTE35-OUT"].Value)
}

func TestParseAttributesSkipsGarbage(t *testing.T) {
	attrs := ParseAttributes(`ID="ok",garbage,DURATION=4.0`)
	byKey := map[string]string{}
	for _, a := range attrs {
		byKey[a.Key] = a.Value
	}
	assert.Equal(t, "ok", byKey["ID"])
	assert.Equal(t, "4.0", byKey["DURATION"])
}

func TestParseDateRange(t *testing.T) {
	line := `#EXT-X-DATERANGE:ID="break-1",CLASS="com.vendor.scte35",` +
		`START-DATE="2025-10-31T12:00:08.000Z",DURATION=8.000,` +
		`X-SEGMENTATION-TYPE=0x30,SCTE35-OUT=0xfc00`
	dr := ParseDateRange(line)
	require.Equal(t, "break-1", dr.ID)
	require.Equal(t, "2025-10-31T12:00:08.000Z", dr.StartDate)
	require.NotNil(t, dr.Duration)
	assert.InDelta(t, 8.0, *dr.Duration, 1e-9)
	assert.True(t, dr.IsSCTE35())
	assert.InDelta(t, 8.0, dr.BreakDuration(), 1e-9)

	segType, ok := dr.Attr("X-SEGMENTATION-TYPE")
	require.True(t, ok)
	assert.Equal(t, "Provider Advertisement Start", SegmentationTypeName(segType))
}

func TestIsSCTE35Classification(t *testing.T) {
	cases := []struct {
		desc string
		line string
		want bool
	}{
		{"scte35-out", `ID="a",SCTE35-OUT=0xfc`, true},
		{"scte35-in", `ID="a",SCTE35-IN=YES`, true},
		{"scte35-cmd", `ID="a",SCTE35-CMD=0xfc`, true},
		{"segmentation type", `ID="a",X-SEGMENTATION-TYPE="Break Start"`, true},
		{"break duration", `ID="a",X-BREAK-DURATION=30`, true},
		{"class contains scte35", `ID="a",CLASS="urn:scte:scte35:2013"`, true},
		{"interstitial only", `ID="a",CLASS="com.apple.hls.interstitial"`, false},
		{"plain metadata", `ID="a",START-DATE="2025-01-01T00:00:00Z"`, false},
	}
	for _, c := range cases {
		t.Run(c.desc, func(t *testing.T) {
			assert.Equal(t, c.want, ParseDateRange(c.line).IsSCTE35())
		})
	}
}

func TestSegmentationTypeNameForms(t *testing.T) {
	assert.Equal(t, "Provider Advertisement Start", SegmentationTypeName("48"))
	assert.Equal(t, "Provider Advertisement Start", SegmentationTypeName("0x30"))
	assert.Equal(t, "Break End", SegmentationTypeName("0x23"))
	assert.Equal(t, "Break Start", SegmentationTypeName("Break Start"))
	assert.Equal(t, "", SegmentationTypeName(""))
}
