package webhook

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonPayload(s string) Payload {
	return DecodePayload("application/json; charset=utf-8", []byte(s))
}

func TestNormalize_FieldPriority(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"output only", `{"output":"from output"}`, "from output"},
		{"response only", `{"response":"from response"}`, "from response"},
		{"message only", `{"message":"from message"}`, "from message"},
		{"text only", `{"text":"from text"}`, "from text"},
		{"result only", `{"result":"from result"}`, "from result"},
		{"output beats response", `{"response":"r","output":"o"}`, "o"},
		{"response beats message", `{"message":"m","response":"r"}`, "r"},
		{"message beats text", `{"text":"t","message":"m"}`, "m"},
		{"text beats result", `{"result":"x","text":"t"}`, "t"},
		{"all present", `{"result":"5","text":"4","message":"3","response":"2","output":"1"}`, "1"},
		{"null is skipped", `{"output":null,"message":"m"}`, "m"},
		{"value kept verbatim", `{"message":"  \"quoted\"\\n  "}`, "  \"quoted\"\\n  "},
		{"empty string counts as present", `{"output":"","message":"m"}`, ""},
		{"number coerced", `{"result":42}`, "42"},
		{"bool coerced", `{"text":true}`, "true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(jsonPayload(tt.body)))
		})
	}
}

func TestNormalize_NestedValueIsPrettyPrinted(t *testing.T) {
	got := Normalize(jsonPayload(`{"output":{"b":1,"a":[1,2]}}`))

	var v map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(got), &v))
	assert.Equal(t, map[string]interface{}{"b": float64(1), "a": []interface{}{float64(1), float64(2)}}, v)
}

func TestNormalize_UnknownShapeRoundTrips(t *testing.T) {
	bodies := []string{
		`{"answer":"hi","meta":{"tokens":12,"model":"x"}}`,
		`{"zeta":1,"alpha":{"nested":[true,false,null]},"mid":"s"}`,
		`{}`,
		`[{"output":"arrays are not searched"}]`,
	}

	for _, body := range bodies {
		got := Normalize(jsonPayload(body))

		var want, parsed interface{}
		require.NoError(t, json.Unmarshal([]byte(body), &want))
		require.NoError(t, json.Unmarshal([]byte(got), &parsed), "output %q is not JSON", got)
		assert.Equal(t, want, parsed)
	}
}

func TestNormalize_UnknownShapeKeepsKeyOrderAndIndent(t *testing.T) {
	got := Normalize(jsonPayload(`{"zeta":1,"alpha":2}`))
	assert.Equal(t, "{\n  \"zeta\": 1,\n  \"alpha\": 2\n}", got)
}

func TestNormalize_TextCleanup(t *testing.T) {
	got := Normalize(DecodePayload("text/plain", []byte(`"hello\nworld"`)))
	assert.Equal(t, "hello\nworld", got)

	got = Normalize(DecodePayload("", []byte("  say \\\"hi\\\" now  ")))
	assert.Equal(t, `say "hi" now`, got)
}

func TestNormalize_JSONStringIsCleaned(t *testing.T) {
	got := Normalize(jsonPayload(`"  line one\\nline two  "`))
	assert.Equal(t, "line one\nline two", got)
}

func TestNormalize_ArraysOneElementPerLine(t *testing.T) {
	got := Normalize(jsonPayload(`{"items":[1,2],"empty":[],"obj":{}}`))
	assert.Equal(t, "{\n  \"items\": [\n    1,\n    2\n  ],\n  \"empty\": [],\n  \"obj\": {}\n}", got)

	assert.Equal(t, "[\n  \"a\",\n  \"b\"\n]", Normalize(jsonPayload(`["a","b"]`)))
}

func TestNormalize_Scalars(t *testing.T) {
	assert.Equal(t, "null", Normalize(jsonPayload(`null`)))
	assert.Equal(t, "3.5", Normalize(jsonPayload(`3.5`)))
	assert.Equal(t, "false", Normalize(jsonPayload(`false`)))
}

func TestDecodePayload_InvalidJSONFallsBackToText(t *testing.T) {
	p := DecodePayload("application/json", []byte(`{"output": broken`))
	assert.False(t, p.JSON)
	assert.Equal(t, `{"output": broken`, Normalize(p))
}

func TestPayload_MarshalJSON(t *testing.T) {
	out, err := json.Marshal(map[string]Payload{
		"json": jsonPayload(`{"a": 1}`),
		"text": DecodePayload("text/plain", []byte("plain")),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"json":{"a":1},"text":"plain"}`, string(out))
}
