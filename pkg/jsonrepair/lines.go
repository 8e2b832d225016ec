package jsonrepair

import (
	"encoding/json"
	"strings"
)

// LineKind is the repair classification of a single physical line.
type LineKind int

const (
	// Structural is a blank line or a bare "{" or "}".
	Structural LineKind = iota
	// KeyValue is a `key: value` line.
	KeyValue
	// KeyOnly is a `key:` line with nothing after the colon.
	KeyOnly
	// Continuation is a KeyOnly line joined with the value line that follows it.
	Continuation
	// Opaque is any other line. It is passed through unchanged.
	Opaque
)

func (k LineKind) String() string {
	switch k {
	case Structural:
		return "structural"
	case KeyValue:
		return "key_value"
	case KeyOnly:
		return "key_only"
	case Continuation:
		return "continuation"
	case Opaque:
		return "opaque"
	default:
		return "unknown"
	}
}

// Line is a classified line. Key and Value are trimmed; Comma records a
// stripped trailing comma so it can be restored after the value is quoted.
type Line struct {
	Kind  LineKind
	Raw   string
	Key   string
	Value string
	Comma bool
}

// Classify looks at one line in isolation. It never returns Continuation;
// that needs the following line, see Scan.
func Classify(raw string) Line {
	trimmed := strings.TrimSpace(raw)
	if isStructural(trimmed) {
		return Line{Kind: Structural, Raw: raw}
	}

	// Only the first colon separates key from value; later ones belong to
	// the value (timestamps, URLs).
	idx := strings.IndexByte(trimmed, ':')
	if idx < 0 {
		return Line{Kind: Opaque, Raw: raw}
	}
	key := strings.TrimSpace(trimmed[:idx])
	if !isKey(key) {
		return Line{Kind: Opaque, Raw: raw}
	}

	rest := strings.TrimSpace(trimmed[idx+1:])
	if rest == "" {
		return Line{Kind: KeyOnly, Raw: raw, Key: key}
	}
	value, comma := cutComma(rest)
	return Line{Kind: KeyValue, Raw: raw, Key: key, Value: value, Comma: comma}
}

// Scan classifies every line of text with one line of lookahead, folding a
// KeyOnly line and the value line after it into a single Continuation.
func Scan(text string) []Line {
	raw := strings.Split(text, "\n")
	out := make([]Line, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		line := Classify(raw[i])
		if line.Kind == KeyOnly && i+1 < len(raw) && opensObject(raw[i+1]) {
			// `"a":` then `{` is a pretty-printed nested object; an empty
			// value here would break input that already parses.
			line = Line{Kind: Opaque, Raw: raw[i]}
		}
		if line.Kind == KeyOnly && i+1 < len(raw) && isContinuation(raw[i+1]) {
			value, comma := cutComma(strings.TrimSpace(raw[i+1]))
			line = Line{
				Kind:  Continuation,
				Raw:   raw[i] + "\n" + raw[i+1],
				Key:   line.Key,
				Value: value,
				Comma: comma,
			}
			i++
		}
		out = append(out, line)
	}
	return out
}

func isStructural(trimmed string) bool {
	return trimmed == "" || trimmed == "{" || trimmed == "}"
}

func opensObject(raw string) bool {
	return strings.TrimSpace(raw) == "{"
}

// isContinuation reports whether raw can supply the value of a preceding
// KeyOnly line. A line with any colon never qualifies, so two KeyOnly lines
// in a row each keep an empty value.
func isContinuation(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	return !isStructural(trimmed) && !strings.Contains(trimmed, ":")
}

// isKey rejects left-hand sides that cannot be an object member name, such
// as `{"a"` on a compact one-line object or `"x` inside a string array
// element that happens to contain a colon.
func isKey(key string) bool {
	if key == "" {
		return false
	}
	if key[0] == '"' {
		return len(key) >= 2 && key[len(key)-1] == '"' && json.Valid([]byte(key))
	}
	return !strings.ContainsAny(key, "\"{}[],")
}

func cutComma(value string) (string, bool) {
	value = strings.TrimRight(value, " \t\r")
	if !strings.HasSuffix(value, ",") {
		return value, false
	}
	return strings.TrimRight(value[:len(value)-1], " \t\r"), true
}
