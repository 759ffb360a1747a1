package hls

import "strings"

// Attribute is one KEY=VALUE pair of an attribute-list tag. Quoted records
// whether the value was double-quoted in the source.
type Attribute struct {
	Key    string
	Value  string
	Quoted bool
}

// ParseAttributes scans an attribute list tolerantly: values are quoted
// strings (embedded \" allowed), enums, numbers, or 0x hex literals.
// Pairs that do not scan are skipped rather than failing the line.
func ParseAttributes(s string) []Attribute {
	var attrs []Attribute
	i := 0
	n := len(s)
	for i < n {
		// Key up to '='.
		eq := strings.IndexByte(s[i:], '=')
		if eq < 0 {
			break
		}
		key := strings.TrimSpace(s[i : i+eq])
		if key == "" || strings.ContainsAny(key, `",`) {
			// Desynchronised scan: drop everything up to the next comma
			// before the '=' and retry from there.
			if next := strings.IndexByte(s[i:i+eq], ','); next >= 0 {
				i += next + 1
				continue
			}
			i += eq + 1
			if next := strings.IndexByte(s[i:], ','); next < 0 {
				break
			} else {
				i += next + 1
			}
			continue
		}
		i += eq + 1
		var value string
		quoted := false
		if i < n && s[i] == '"' {
			quoted = true
			i++
			var b strings.Builder
			for i < n {
				c := s[i]
				if c == '\\' && i+1 < n && s[i+1] == '"' {
					b.WriteByte('"')
					i += 2
					continue
				}
				if c == '"' {
					i++
					break
				}
				b.WriteByte(c)
				i++
			}
			value = b.String()
			// Consume a following comma.
			if i < n && s[i] == ',' {
				i++
			}
		} else {
			end := strings.IndexByte(s[i:], ',')
			if end < 0 {
				value = s[i:]
				i = n
			} else {
				value = s[i : i+end]
				i += end + 1
			}
			value = strings.TrimSpace(value)
		}
		attrs = append(attrs, Attribute{Key: key, Value: value, Quoted: quoted})
	}
	return attrs
}

// AttrValue returns the value for key, if present.
func AttrValue(attrs []Attribute, key string) (string, bool) {
	for _, a := range attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// QuoteAttr renders a quoted attribute value, escaping embedded quotes.
func QuoteAttr(v string) string {
	return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
}
