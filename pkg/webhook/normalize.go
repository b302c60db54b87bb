package webhook

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

// ReplyFields are the object keys searched for reply text, highest priority
// first.
var ReplyFields = []string{"output", "response", "message", "text", "result"}

// Payload is a successful webhook response body. JSON is true only when the
// response declared a JSON content type and the body actually parsed.
type Payload struct {
	Body []byte
	JSON bool
}

func DecodePayload(contentType string, body []byte) Payload {
	isJSON := strings.Contains(strings.ToLower(contentType), "application/json") && gjson.ValidBytes(body)
	return Payload{Body: body, JSON: isJSON}
}

// MarshalJSON embeds JSON payloads as-is and everything else as a string.
func (p Payload) MarshalJSON() ([]byte, error) {
	if p.JSON {
		return json.RawMessage(p.Body).MarshalJSON()
	}
	return json.Marshal(string(p.Body))
}

// Normalize turns a webhook response into display text. It never fails:
// shapes it does not recognize come back as pretty-printed JSON.
func Normalize(p Payload) string {
	if !p.JSON {
		return cleanText(string(p.Body))
	}

	v := gjson.ParseBytes(p.Body)
	switch {
	case v.Type == gjson.String:
		return cleanText(v.Str)
	case v.IsObject():
		for _, field := range ReplyFields {
			r := v.Get(field)
			if r.Exists() && r.Type != gjson.Null {
				return coerce(r)
			}
		}
		return prettyJSON(v.Raw)
	case v.IsArray():
		return prettyJSON(v.Raw)
	default:
		return v.Raw
	}
}

func coerce(r gjson.Result) string {
	switch r.Type {
	case gjson.String:
		return r.Str
	case gjson.JSON:
		return prettyJSON(r.Raw)
	default:
		return r.Raw
	}
}

// cleanText undoes the double encoding some workflows apply to plain-text
// replies: surrounding quotes and literal \n and \" sequences.
func cleanText(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, `"`)
	s = strings.TrimSuffix(s, `"`)
	s = strings.ReplaceAll(s, `\n`, "\n")
	return strings.ReplaceAll(s, `\"`, `"`)
}

// prettyJSON indents by two spaces and keeps keys in the order received.
// Width 0 puts every array element on its own line.
func prettyJSON(raw string) string {
	out := pretty.PrettyOptions([]byte(raw), &pretty.Options{Width: 0, Indent: "  "})
	return strings.TrimRight(string(out), "\n")
}
