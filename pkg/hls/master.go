package hls

import (
	"sort"
	"strconv"
	"strings"
)

// Variant is one EXT-X-STREAM-INF entry of a master playlist.
type Variant struct {
	Bandwidth  int
	Resolution string
	Codecs     string
	URI        string
	IsVideo    bool
}

// ParseMaster extracts the variants of a master playlist. A variant is
// video iff it declares a RESOLUTION or its CODECS mention a video codec.
// Unparseable attribute pairs are skipped; a master without variants
// yields an empty slice.
func ParseMaster(text string) []Variant {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var variants []Variant
	var pending *Variant
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case strings.HasPrefix(line, TagStreamInf):
			v := Variant{}
			for _, a := range ParseAttributes(strings.TrimPrefix(line, TagStreamInf)) {
				switch a.Key {
				case "BANDWIDTH":
					if bw, err := strconv.Atoi(a.Value); err == nil {
						v.Bandwidth = bw
					}
				case "RESOLUTION":
					v.Resolution = a.Value
				case "CODECS":
					v.Codecs = a.Value
				}
			}
			v.IsVideo = isVideoVariant(v)
			pending = &v
		case line == "" || strings.HasPrefix(line, "#"):
			// Other tags and comments between STREAM-INF and URI are ignored.
		default:
			if pending != nil {
				pending.URI = line
				variants = append(variants, *pending)
				pending = nil
			}
		}
	}
	return variants
}

func isVideoVariant(v Variant) bool {
	if v.Resolution != "" {
		return true
	}
	codecs := strings.ToLower(v.Codecs)
	for _, c := range []string{"avc", "hvc", "vp"} {
		if strings.Contains(codecs, c) {
			return true
		}
	}
	return false
}

// ExtractBitrates returns the sorted unique video bitrates in kbps,
// dropping audio-only variants and anything under 200 kbps.
func ExtractBitrates(masterText string) []int {
	seen := map[int]bool{}
	var out []int
	for _, v := range ParseMaster(masterText) {
		if !v.IsVideo {
			continue
		}
		kbps := v.Bandwidth / 1000
		if kbps < 200 || seen[kbps] {
			continue
		}
		seen[kbps] = true
		out = append(out, kbps)
	}
	sort.Ints(out)
	return out
}

// MatchVariant finds the variant whose bandwidth is closest to wantBPS.
func MatchVariant(variants []Variant, wantBPS int) (Variant, bool) {
	best := -1
	for i, v := range variants {
		if best < 0 || absInt(v.Bandwidth-wantBPS) < absInt(variants[best].Bandwidth-wantBPS) {
			best = i
		}
	}
	if best < 0 {
		return Variant{}, false
	}
	return variants[best], true
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
