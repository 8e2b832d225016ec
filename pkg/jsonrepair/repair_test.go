package jsonrepair

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"testing"
)

const larkPayload = `{
  "record_id":  recIDcWVji,
  "submitted_at":  2025/09/24 14:52,
  "fields": {
    "SN":  17,
    "Customer Name": nnnn ,
    "Date" :2025/09/23
  }
}`

func mustDecode(t *testing.T, text string) Payload {
	t.Helper()
	payload, err := Decode([]byte(text))
	if err != nil {
		t.Fatalf("decode %q: %v", text, err)
	}
	return payload
}

// TestParseRepairsLarkPayload checks the payload shape captured from the upstream producer.
func TestParseRepairsLarkPayload(t *testing.T) {
	result, err := Parse([]byte(larkPayload))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !result.Repaired {
		t.Fatalf("expected payload to go through repair")
	}

	want := mustDecode(t, `{"record_id":"recIDcWVji","submitted_at":"2025/09/24 14:52","fields":{"SN":17,"Customer Name":"nnnn","Date":"2025/09/23"}}`)
	if !reflect.DeepEqual(result.Payload, want) {
		t.Fatalf("expected %v, got %v\nrepaired text:\n%s", want, result.Payload, result.Text)
	}
}

func TestParseWellFormedSkipsRepair(t *testing.T) {
	result, err := Parse([]byte(`{"record_id":"rec1","fields":{"SN":17}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if result.Repaired {
		t.Fatalf("expected strict decode to succeed without repair")
	}
	if result.Payload["record_id"] != "rec1" {
		t.Fatalf("expected record_id rec1, got %v", result.Payload["record_id"])
	}
}

func TestRepairIsIdempotentOnWellFormedInput(t *testing.T) {
	inputs := []interface{}{
		map[string]interface{}{
			"event":        "lark_form_submission",
			"record_id":    "rec123",
			"submitted_at": "2025/09/24 14:52",
			"fields": map[string]interface{}{
				"SN":            17,
				"Amount":        -12.5,
				"Large":         1e21,
				"Urgent":        true,
				"Notes":         nil,
				"Issue":         `customer said "call me: after 5pm"`,
				"Customer Name": "",
				"a:b":           "colon in key",
			},
			"tags":  []interface{}{"x:y", "plain", map[string]interface{}{"k": "v"}},
			"empty": map[string]interface{}{},
			"none":  []interface{}{},
		},
		map[string]interface{}{},
	}

	for i, input := range inputs {
		data, err := json.MarshalIndent(input, "", "  ")
		if err != nil {
			t.Fatalf("marshal input %d: %v", i, err)
		}
		want := mustDecode(t, string(data))

		repaired := Repair(string(data))
		got, err := Verify(repaired)
		if err != nil {
			t.Fatalf("input %d: repaired text failed to verify: %v\n%s", i, err, repaired)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("input %d: expected %v, got %v", i, want, got)
		}
	}
}

func TestRepairKeepsHandWrittenLayouts(t *testing.T) {
	inputs := []string{
		"{\n  \"a\":\n  {\n    \"b\": 1\n  }\n}",
		"{\n  \"fields\":\n  {\n    \"SN\": 17,\n    \"tags\":\n    [\"x\", \"y\"]\n  },\n  \"id\": \"rec1\"\n}",
		"{\n\t\"a\" : 1 ,\n\t\"b\":\n\t\"two\"\n}",
	}
	for i, input := range inputs {
		want := mustDecode(t, input)
		got, err := Verify(Repair(input))
		if err != nil {
			t.Fatalf("input %d: repaired text failed to verify: %v\n%s", i, err, Repair(input))
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("input %d: expected %v, got %v", i, want, got)
		}
	}
}

func TestScanKeyOnlyBeforeNestedObject(t *testing.T) {
	lines := Scan("  \"a\":\n  {\n    \"b\": 1\n  }")
	if lines[0].Kind != Opaque || Render(lines[0]) != `  "a":` {
		t.Fatalf("expected key line to pass through unchanged, got %+v", lines[0])
	}
	if lines[1].Kind != Structural {
		t.Fatalf("expected opening brace to stay structural, got %+v", lines[1])
	}
}

func TestParseIsSafeForConcurrentUse(t *testing.T) {
	inputs := []string{
		larkPayload,
		`{"record_id":"rec1","fields":{"SN":17}}`,
		"{\n  \"name\": Bob \"The Builder\"\n}",
	}
	want := make([]*Result, len(inputs))
	for i, input := range inputs {
		want[i], _ = Parse([]byte(input))
	}

	for i := 0; i < 8; i++ {
		t.Run(fmt.Sprintf("worker-%d", i), func(t *testing.T) {
			t.Parallel()
			for round := 0; round < 50; round++ {
				for j, input := range inputs {
					got, err := Parse([]byte(input))
					if (err == nil) != (want[j] != nil) {
						t.Fatalf("input %d: expected stable outcome, got %v", j, err)
					}
					if got != nil && !reflect.DeepEqual(got.Payload, want[j].Payload) {
						t.Fatalf("input %d: expected %v, got %v", j, want[j].Payload, got.Payload)
					}
				}
			}
		})
	}
}

func TestRepairRecoversUnquotedValues(t *testing.T) {
	input := "{\n  \"key\": value_no_quotes,\n  \"key2\": 123,\n  \"key3\": true\n}"

	result, err := Parse([]byte(input))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := Payload{"key": "value_no_quotes", "key2": json.Number("123"), "key3": true}
	if !reflect.DeepEqual(result.Payload, want) {
		t.Fatalf("expected %v, got %v", want, result.Payload)
	}
}

func TestRepairContinuationLine(t *testing.T) {
	input := "{\n  \"key\":\n  value_text,\n  \"other\": 1\n}"

	repaired := Repair(input)
	if !strings.Contains(repaired, `  "key": "value_text",`) {
		t.Fatalf("expected continuation to be joined with its comma, got:\n%s", repaired)
	}
	payload, err := Verify(repaired)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if payload["key"] != "value_text" {
		t.Fatalf("expected key=value_text, got %v", payload["key"])
	}
	if payload["other"] != json.Number("1") {
		t.Fatalf("expected other=1, got %v", payload["other"])
	}
}

func TestRepairQuoteBearingValueFails(t *testing.T) {
	input := "{\n  \"name\": Bob \"The Builder\",\n  \"id\": 1\n}"

	_, err := Parse([]byte(input))
	if err == nil {
		t.Fatalf("expected quote-bearing value to be rejected")
	}
	if CategoryOf(err) != CategoryRepairFailed {
		t.Fatalf("expected %s, got %s (%v)", CategoryRepairFailed, CategoryOf(err), err)
	}
}

func TestParseRejections(t *testing.T) {
	tests := []struct {
		name     string
		decoder  Decoder
		input    []byte
		category Category
	}{
		{name: "invalid utf-8", input: []byte{'{', 0xff, 0xfe, '}'}, category: CategoryUTF8},
		{name: "array payload", input: []byte(`[1, 2]`), category: CategoryDecode},
		{name: "repair disabled", decoder: Decoder{DisableRepair: true}, input: []byte(larkPayload), category: CategoryDecode},
		{name: "unrecoverable", input: []byte("{\n  \"a\" 1\n}"), category: CategoryRepairFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.decoder.Parse(tt.input)
			if err == nil {
				t.Fatalf("expected error")
			}
			if got := CategoryOf(err); got != tt.category {
				t.Fatalf("expected category %s, got %s (%v)", tt.category, got, err)
			}
		})
	}
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	if _, err := Decode([]byte(`{"a":1} {"b":2}`)); err != ErrTrailingData {
		t.Fatalf("expected ErrTrailingData, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		line  string
		kind  LineKind
		key   string
		value string
		comma bool
	}{
		{line: "  {", kind: Structural},
		{line: "}", kind: Structural},
		{line: "   ", kind: Structural},
		{line: `  "record_id":  recIDcWVji,`, kind: KeyValue, key: `"record_id"`, value: "recIDcWVji", comma: true},
		{line: `"submitted_at": 2025/09/24 14:52`, kind: KeyValue, key: `"submitted_at"`, value: "2025/09/24 14:52"},
		{line: `"Customer Name": nnnn ,`, kind: KeyValue, key: `"Customer Name"`, value: "nnnn", comma: true},
		{line: `"empty": ,`, kind: KeyValue, key: `"empty"`, value: "", comma: true},
		{line: `  "key":   `, kind: KeyOnly, key: `"key"`},
		{line: `value_text,`, kind: Opaque},
		{line: `{"a":1}`, kind: Opaque},
		{line: `  "x:y",`, kind: Opaque},
		{line: `  },`, kind: Opaque},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got := Classify(tt.line)
			if got.Kind != tt.kind {
				t.Fatalf("expected kind %s, got %s", tt.kind, got.Kind)
			}
			if got.Key != tt.key || got.Value != tt.value || got.Comma != tt.comma {
				t.Fatalf("expected key=%q value=%q comma=%v, got key=%q value=%q comma=%v",
					tt.key, tt.value, tt.comma, got.Key, got.Value, got.Comma)
			}
		})
	}
}

func TestScanConsecutiveKeyOnlyLines(t *testing.T) {
	lines := Scan("\"a\":\n\"b\":\nvalue\n}")

	kinds := make([]LineKind, 0, len(lines))
	for _, line := range lines {
		kinds = append(kinds, line.Kind)
	}
	want := []LineKind{KeyOnly, Continuation, Structural}
	if !reflect.DeepEqual(kinds, want) {
		t.Fatalf("expected kinds %v, got %v", want, kinds)
	}
	if Render(lines[0]) != `  "a": ""` {
		t.Fatalf("expected empty value for dangling key, got %q", Render(lines[0]))
	}
	if lines[1].Key != `"b"` || lines[1].Value != "value" {
		t.Fatalf("expected b to take the continuation, got key=%q value=%q", lines[1].Key, lines[1].Value)
	}
}

func TestScanKeyOnlyBeforeStructuralLine(t *testing.T) {
	lines := Scan("  \"a\":\n}")
	if len(lines) != 2 || lines[0].Kind != KeyOnly || lines[1].Kind != Structural {
		t.Fatalf("expected closing brace not to be consumed, got %+v", lines)
	}
}

func TestNormalizeValue(t *testing.T) {
	tests := map[string]string{
		"":                 `""`,
		`"already"`:        `"already"`,
		"{":                "{",
		"[":                "[",
		"true":             "true",
		"null":             "null",
		"17":               "17",
		"-3.25":            "-3.25",
		"1e+21":            "1e+21",
		"2025/09/23":       `"2025/09/23"`,
		"2025-09-23":       `"2025-09-23"`,
		"Guest User 31145": `"Guest User 31145"`,
		"-":                `"-"`,
	}
	for input, want := range tests {
		if got := NormalizeValue(input); got != want {
			t.Fatalf("NormalizeValue(%q) = %s, want %s", input, got, want)
		}
	}
}

func TestIsNumeric(t *testing.T) {
	tests := map[string]bool{
		"17":       true,
		"-17":      true,
		"3.14":     true,
		"1.2.3":    true,
		"":         false,
		"-":        false,
		".":        false,
		"12a":      false,
		"1-2":      false,
		"+1":       false,
		"１２":       false,
		"20250923": true,
	}
	for input, want := range tests {
		if got := IsNumeric(input); got != want {
			t.Fatalf("IsNumeric(%q) = %v, want %v", input, got, want)
		}
	}
}
