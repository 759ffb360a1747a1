package hls

import (
	"encoding/hex"
	"strings"

	"github.com/vidstitch/adproxy/pkg/scte35"
)

// SignalKind is the splice signal classification.
type SignalKind string

const (
	KindSpliceInsert SignalKind = "splice_insert"
	KindTimeSignal   SignalKind = "time_signal"
	KindReturn       SignalKind = "return_signal"
)

// Signal is the merged view of a SCTE-35 cue as carried in a playlist:
// attribute-derived fields always populate; binary-derived fields populate
// when a decodable payload is attached.
type Signal struct {
	ID               string
	Kind             SignalKind
	PTS              *uint64
	DurationSec      float64
	SegmentationType string
	UPID             string
	AutoReturn       bool
	SegmentNum       uint8
	SegmentsExpected uint8
	Binary           *scte35.SpliceInfoSection
	DateRange        *DateRange
}

// Segmentation types that open an ad break.
var breakStartTypes = map[string]bool{
	"Provider Advertisement Start":            true,
	"Distributor Advertisement Start":         true,
	"Break Start":                             true,
	"Provider Placement Opportunity Start":    true,
	"Distributor Placement Opportunity Start": true,
}

var breakEndTypes = map[string]bool{
	"Break End":     true,
	"Program Start": true,
}

// IsAdBreakStart reports whether the signal opens an ad break.
func (s *Signal) IsAdBreakStart() bool {
	switch {
	case s.Kind == KindSpliceInsert:
		return true
	case breakStartTypes[s.SegmentationType]:
		return true
	case s.Kind == KindTimeSignal && s.DurationSec > 0:
		return true
	}
	return false
}

// IsAdBreakEnd reports whether the signal closes an ad break.
func (s *Signal) IsAdBreakEnd() bool {
	return s.Kind == KindReturn || breakEndTypes[s.SegmentationType]
}

// SignalFromDateRange builds a Signal from a SCTE-35 date range. Binary
// payloads that fail to decode, or whose CRC is invalid, leave only the
// attribute-derived fields populated.
func SignalFromDateRange(dr *DateRange) *Signal {
	s := &Signal{ID: dr.ID, DateRange: dr, DurationSec: dr.BreakDuration()}

	var payload string
	switch {
	case dr.SCTE35In != "":
		s.Kind = KindReturn
		payload = dr.SCTE35In
	case dr.SCTE35Out != "":
		s.Kind = KindSpliceInsert
		payload = dr.SCTE35Out
	case dr.SCTE35Cmd != "":
		s.Kind = KindTimeSignal
		payload = dr.SCTE35Cmd
	default:
		// Classification rests on the X- attributes alone.
		s.Kind = KindTimeSignal
	}

	if v, ok := dr.Attr("X-SEGMENTATION-TYPE"); ok {
		s.SegmentationType = SegmentationTypeName(v)
	}

	if data, ok := decodePayload(payload); ok {
		if sis, err := scte35.Decode(data); err == nil {
			s.Binary = sis
			if sis.CRCValid {
				s.applyBinary(sis)
			}
		}
	}
	return s
}

// applyBinary overlays binary-derived fields onto the signal.
func (s *Signal) applyBinary(sis *scte35.SpliceInfoSection) {
	if pts, ok := sis.PTS(); ok {
		s.PTS = &pts
	}
	switch cmd := sis.Command.(type) {
	case *scte35.SpliceInsert:
		if !cmd.OutOfNetworkIndicator {
			s.Kind = KindReturn
		} else if s.Kind != KindReturn {
			s.Kind = KindSpliceInsert
		}
		if cmd.BreakDuration != nil {
			s.AutoReturn = cmd.BreakDuration.AutoReturn
			if s.DurationSec == 0 {
				s.DurationSec = cmd.BreakDuration.Seconds()
			}
		}
	case *scte35.TimeSignal:
		if s.Kind != KindReturn {
			s.Kind = KindTimeSignal
		}
	}
	for _, sd := range sis.SegmentationDescriptors() {
		if s.SegmentationType == "" {
			s.SegmentationType = sd.TypeName()
		}
		if s.UPID == "" {
			s.UPID = sd.FormattedUPID()
		}
		if s.DurationSec == 0 {
			s.DurationSec = sd.DurationSeconds()
		}
		s.SegmentNum = sd.SegmentNum
		s.SegmentsExpected = sd.SegmentsExpected
	}
}

// decodePayload turns a SCTE35 attribute value into section bytes. The hex
// form is 0x-prefixed; the enum form YES carries no payload.
func decodePayload(v string) ([]byte, bool) {
	v = strings.TrimSpace(v)
	if v == "" || v == "YES" || v == "NO" {
		return nil, false
	}
	if strings.HasPrefix(v, "0x") || strings.HasPrefix(v, "0X") {
		data, err := hex.DecodeString(v[2:])
		if err != nil || len(data) == 0 {
			return nil, false
		}
		return data, true
	}
	return nil, false
}

// ExtractSignals walks a media playlist and returns every SCTE-35 signal
// with the index of the line that carried it.
func ExtractSignals(p *MediaPlaylist) []IndexedSignal {
	var out []IndexedSignal
	for i, l := range p.Lines {
		if l.Kind != KindDateRange {
			continue
		}
		dr := ParseDateRange(l.Raw)
		if !dr.IsSCTE35() {
			continue
		}
		out = append(out, IndexedSignal{LineIndex: i, Signal: SignalFromDateRange(dr)})
	}
	return out
}

// IndexedSignal ties a signal to its playlist line.
type IndexedSignal struct {
	LineIndex int
	Signal    *Signal
}
