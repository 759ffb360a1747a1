package hls

import (
	"strconv"
	"strings"

	"github.com/vidstitch/adproxy/pkg/scte35"
)

// DateRange is a parsed EXT-X-DATERANGE tag. The raw ordered attribute
// list is retained alongside the common fields.
type DateRange struct {
	ID              string
	Class           string
	StartDate       string
	EndDate         string
	Duration        *float64
	PlannedDuration *float64
	EndOnNext       bool
	SCTE35Cmd       string
	SCTE35Out       string
	SCTE35In        string
	Attrs           []Attribute
}

// ParseDateRange parses an EXT-X-DATERANGE line (with or without the tag
// prefix). Lines without an ID still parse; callers decide whether to care.
func ParseDateRange(line string) *DateRange {
	s := strings.TrimSpace(line)
	s = strings.TrimPrefix(s, TagDateRange)
	dr := &DateRange{Attrs: ParseAttributes(s)}
	for _, a := range dr.Attrs {
		switch a.Key {
		case "ID":
			dr.ID = a.Value
		case "CLASS":
			dr.Class = a.Value
		case "START-DATE":
			dr.StartDate = a.Value
		case "END-DATE":
			dr.EndDate = a.Value
		case "DURATION":
			if f, err := strconv.ParseFloat(a.Value, 64); err == nil {
				dr.Duration = &f
			}
		case "PLANNED-DURATION":
			if f, err := strconv.ParseFloat(a.Value, 64); err == nil {
				dr.PlannedDuration = &f
			}
		case "END-ON-NEXT":
			dr.EndOnNext = a.Value == "YES"
		case "SCTE35-CMD":
			dr.SCTE35Cmd = a.Value
		case "SCTE35-OUT":
			dr.SCTE35Out = a.Value
		case "SCTE35-IN":
			dr.SCTE35In = a.Value
		}
	}
	return dr
}

// Attr returns the value of any attribute, including X- extensions.
func (dr *DateRange) Attr(key string) (string, bool) {
	return AttrValue(dr.Attrs, key)
}

// IsSCTE35 reports whether this date range carries splice signalling.
func (dr *DateRange) IsSCTE35() bool {
	if dr.SCTE35Cmd != "" || dr.SCTE35Out != "" || dr.SCTE35In != "" {
		return true
	}
	if _, ok := dr.Attr("X-SEGMENTATION-TYPE"); ok {
		return true
	}
	if _, ok := dr.Attr("X-BREAK-DURATION"); ok {
		return true
	}
	return strings.Contains(strings.ToLower(dr.Class), "scte35")
}

// BreakDuration returns the break length in seconds from DURATION,
// PLANNED-DURATION, or X-BREAK-DURATION, in that order.
func (dr *DateRange) BreakDuration() float64 {
	if dr.Duration != nil && *dr.Duration > 0 {
		return *dr.Duration
	}
	if dr.PlannedDuration != nil && *dr.PlannedDuration > 0 {
		return *dr.PlannedDuration
	}
	if v, ok := dr.Attr("X-BREAK-DURATION"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return 0
}

// SegmentationTypeName maps an X-SEGMENTATION-TYPE value, either a numeric
// id (decimal or 0x hex) or a standard name, to the SCTE 35 2023
// Table 10.3.3.1 name. Unknown values pass through unchanged.
func SegmentationTypeName(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	digits := v
	base := 10
	if strings.HasPrefix(v, "0x") || strings.HasPrefix(v, "0X") {
		digits = v[2:]
		base = 16
	}
	if id, err := strconv.ParseUint(digits, base, 8); err == nil {
		return scte35.SegmentationTypeName(uint8(id))
	}
	return v
}
