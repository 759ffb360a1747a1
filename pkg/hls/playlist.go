// Package hls parses and rewrites HLS playlists at the line level.
//
// Media playlists are kept as an ordered sequence of tagged lines so a
// rewrite can splice segments in and out without disturbing anything it
// does not understand. Master playlists are reduced to their variants.
package hls

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LineKind classifies one playlist line.
type LineKind int

const (
	// KindTag is any #EXT tag not classified more specifically.
	KindTag LineKind = iota
	KindComment
	KindBlank
	KindPDT
	KindInf
	KindDateRange
	KindDiscontinuity
	KindStreamInf
	KindURI
)

// Tag prefixes handled by the rewriter.
const (
	TagPDT           = "#EXT-X-PROGRAM-DATE-TIME:"
	TagInf           = "#EXTINF:"
	TagDateRange     = "#EXT-X-DATERANGE:"
	TagDiscontinuity = "#EXT-X-DISCONTINUITY"
	TagStreamInf     = "#EXT-X-STREAM-INF:"
	TagEndList       = "#EXT-X-ENDLIST"
	TagCueOut        = "#EXT-X-CUE-OUT:"
	TagCueIn         = "#EXT-X-CUE-IN"
)

// PDTLayout is the ISO-8601 UTC millisecond form emitted in playlists.
const PDTLayout = "2006-01-02T15:04:05.000Z"

// Line is one playlist line with its classification. Raw never includes
// the line terminator.
type Line struct {
	Kind LineKind
	Raw  string
}

// Duration returns the EXTINF duration in seconds, or 0 for other kinds.
func (l Line) Duration() float64 {
	if l.Kind != KindInf {
		return 0
	}
	v := strings.TrimPrefix(l.Raw, TagInf)
	if idx := strings.IndexByte(v, ','); idx >= 0 {
		v = v[:idx]
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// PDT returns the program date time carried by a KindPDT line.
func (l Line) PDT() (time.Time, bool) {
	if l.Kind != KindPDT {
		return time.Time{}, false
	}
	return ParsePDT(strings.TrimPrefix(l.Raw, TagPDT))
}

// PDTString returns the raw timestamp text of a KindPDT line.
func (l Line) PDTString() string {
	if l.Kind != KindPDT {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(l.Raw, TagPDT))
}

// MediaPlaylist is the in-memory line model of a media playlist.
type MediaPlaylist struct {
	Lines []Line

	trailingNewline bool
}

// ParseMedia tokenises a media playlist. CRLF terminators are normalised
// to LF; whether the input ended in a newline is remembered so Encode can
// reproduce it.
func ParseMedia(text string) *MediaPlaylist {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	p := &MediaPlaylist{trailingNewline: strings.HasSuffix(text, "\n")}
	if p.trailingNewline {
		text = strings.TrimSuffix(text, "\n")
	}
	if text == "" {
		return p
	}
	for _, raw := range strings.Split(text, "\n") {
		p.Lines = append(p.Lines, classifyLine(raw))
	}
	return p
}

func classifyLine(raw string) Line {
	trimmed := strings.TrimSpace(raw)
	switch {
	case trimmed == "":
		return Line{Kind: KindBlank, Raw: raw}
	case strings.HasPrefix(trimmed, TagPDT):
		return Line{Kind: KindPDT, Raw: raw}
	case strings.HasPrefix(trimmed, TagInf):
		return Line{Kind: KindInf, Raw: raw}
	case strings.HasPrefix(trimmed, TagDateRange):
		return Line{Kind: KindDateRange, Raw: raw}
	case trimmed == TagDiscontinuity:
		return Line{Kind: KindDiscontinuity, Raw: raw}
	case strings.HasPrefix(trimmed, TagStreamInf):
		return Line{Kind: KindStreamInf, Raw: raw}
	case strings.HasPrefix(trimmed, "#EXT"):
		return Line{Kind: KindTag, Raw: raw}
	case strings.HasPrefix(trimmed, "#"):
		return Line{Kind: KindComment, Raw: raw}
	default:
		return Line{Kind: KindURI, Raw: raw}
	}
}

// Encode renders the playlist back to text, restoring the trailing newline
// iff the input carried one.
func (p *MediaPlaylist) Encode() string {
	var b strings.Builder
	for i, l := range p.Lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(l.Raw)
	}
	if p.trailingNewline {
		b.WriteByte('\n')
	}
	return b.String()
}

// TrailingNewline reports whether the source text ended in a newline.
func (p *MediaPlaylist) TrailingNewline() bool { return p.trailingNewline }

// SetTrailingNewline controls whether Encode appends a final newline. Used
// when building a playlist from another one's lines.
func (p *MediaPlaylist) SetTrailingNewline(v bool) { p.trailingNewline = v }

// SegmentCount returns the number of media URI lines.
func (p *MediaPlaylist) SegmentCount() int {
	n := 0
	for _, l := range p.Lines {
		if l.Kind == KindURI {
			n++
		}
	}
	return n
}

// AverageSegmentDuration averages the first sampleCap EXTINF durations
// (10 when zero), falling back to 2.0 s for a playlist without segments.
func (p *MediaPlaylist) AverageSegmentDuration(sampleCap int) float64 {
	if sampleCap <= 0 {
		sampleCap = 10
	}
	var sum float64
	n := 0
	for _, l := range p.Lines {
		if l.Kind != KindInf {
			continue
		}
		sum += l.Duration()
		n++
		if n >= sampleCap {
			break
		}
	}
	if n == 0 {
		return 2.0
	}
	return sum / float64(n)
}

// TotalDuration sums all EXTINF durations.
func (p *MediaPlaylist) TotalDuration() float64 {
	var sum float64
	for _, l := range p.Lines {
		sum += l.Duration()
	}
	return sum
}

// ExtractPDTs returns all program-date-time strings in playlist order.
func (p *MediaPlaylist) ExtractPDTs() []string {
	var out []string
	for _, l := range p.Lines {
		if l.Kind == KindPDT {
			out = append(out, l.PDTString())
		}
	}
	return out
}

// InsertDiscontinuity places a single EXT-X-DISCONTINUITY before the last
// segment's EXTINF. This is the legacy fallback when a structured rewrite
// is not possible.
func (p *MediaPlaylist) InsertDiscontinuity() {
	lastInf := -1
	for i, l := range p.Lines {
		if l.Kind == KindInf {
			lastInf = i
		}
	}
	if lastInf < 0 {
		p.Lines = append(p.Lines, Line{Kind: KindDiscontinuity, Raw: TagDiscontinuity})
		return
	}
	p.Lines = append(p.Lines[:lastInf],
		append([]Line{{Kind: KindDiscontinuity, Raw: TagDiscontinuity}}, p.Lines[lastInf:]...)...)
}

// ParsePDT parses an ISO-8601 timestamp as found in EXT-X-PROGRAM-DATE-TIME.
func ParsePDT(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{
		"2006-01-02T15:04:05.999999999Z07:00",
		"2006-01-02T15:04:05Z07:00",
	} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// FormatPDT renders a timestamp in the millisecond UTC form.
func FormatPDT(t time.Time) string {
	return t.UTC().Format(PDTLayout)
}

// PDTLine builds a program-date-time line for t.
func PDTLine(t time.Time) Line {
	return Line{Kind: KindPDT, Raw: TagPDT + FormatPDT(t)}
}

// InfLine builds an EXTINF line with three-decimal seconds.
func InfLine(duration float64) Line {
	return Line{Kind: KindInf, Raw: fmt.Sprintf("%s%.3f,", TagInf, duration)}
}

// URILine builds a media URI line.
func URILine(uri string) Line {
	return Line{Kind: KindURI, Raw: uri}
}

// DiscontinuityLine builds an EXT-X-DISCONTINUITY line.
func DiscontinuityLine() Line {
	return Line{Kind: KindDiscontinuity, Raw: TagDiscontinuity}
}
