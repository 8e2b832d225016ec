package jsonrepair

import (
	"encoding/json"
	"strings"
)

const indent = "  "

// Repair rewrites text line by line into a best-effort JSON document. It
// never fails; whether the output parses is decided by Verify.
func Repair(text string) string {
	lines := Scan(text)
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		out = append(out, Render(line))
	}
	return strings.Join(out, "\n")
}

// Render writes a classified line back as JSON text.
func Render(line Line) string {
	switch line.Kind {
	case KeyValue, Continuation:
		rendered := indent + line.Key + ": " + NormalizeValue(line.Value)
		if line.Comma {
			rendered += ","
		}
		return rendered
	case KeyOnly:
		return indent + line.Key + ": " + NormalizeValue("")
	default:
		return line.Raw
	}
}

// NormalizeValue quotes a bare value unless it already reads as a JSON
// string, object or array opener, literal, or number. Embedded quotes and
// backslashes are not escaped.
func NormalizeValue(value string) string {
	switch {
	case value == "":
		return `""`
	case value[0] == '"', value[0] == '{', value[0] == '[':
		return value
	case value == "true", value == "false", value == "null":
		return value
	case IsNumeric(value), isJSONNumber(value):
		return value
	}
	return `"` + value + `"`
}

// IsNumeric is the lexical number test: after removing every '.' and any
// leading '-', the value must be a non-empty run of ASCII digits. Values such
// as "1.2.3" pass and later fail verification.
func IsNumeric(value string) bool {
	digits := strings.ReplaceAll(strings.TrimLeft(value, "-"), ".", "")
	if digits == "" {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// isJSONNumber keeps exponent forms like 1e+21 intact.
func isJSONNumber(value string) bool {
	if value[0] != '-' && (value[0] < '0' || value[0] > '9') {
		return false
	}
	var n json.Number
	return json.Unmarshal([]byte(value), &n) == nil
}
