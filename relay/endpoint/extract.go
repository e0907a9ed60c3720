package endpoint

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

const previewLimit = 500

var thinkPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripThink removes reasoning sentinels some upstreams leak into text
// fields.
func StripThink(s string) string {
	return strings.TrimSpace(thinkPattern.ReplaceAllString(s, ""))
}

func truncPreview(s string) string {
	s = StripThink(s)
	if len(s) > previewLimit {
		return s[:previewLimit]
	}
	return s
}

// ExtractContent pulls a human-readable response preview out of a
// successful upstream body, per endpoint shape.
func ExtractContent(t Type, body []byte) string {
	r := gjson.ParseBytes(body)
	switch t {
	case TypeClaude:
		var text string
		r.Get("content").ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").String() == "text" {
				text = block.Get("text").String()
				return false
			}
			return true
		})
		return truncPreview(text)
	case TypeGemini:
		parts := r.Get("candidates.0.content.parts")
		var fallback, answer string
		parts.ForEach(func(_, part gjson.Result) bool {
			text := part.Get("text")
			if !text.Exists() {
				return true
			}
			if fallback == "" {
				fallback = text.String()
			}
			if !part.Get("thought").Bool() {
				answer = text.String()
				return false
			}
			return true
		})
		if answer == "" {
			answer = fallback
		}
		return truncPreview(answer)
	case TypeCodex:
		var fallback, answer string
		r.Get("output").ForEach(func(_, out gjson.Result) bool {
			if fallback == "" && out.Get("text").Exists() {
				fallback = out.Get("text").String()
			}
			out.Get("content").ForEach(func(_, c gjson.Result) bool {
				if c.Get("type").String() == "output_text" {
					answer = c.Get("text").String()
					return false
				}
				return true
			})
			return answer == ""
		})
		if answer == "" {
			answer = fallback
		}
		return truncPreview(answer)
	case TypeImage:
		first := r.Get("data.0")
		if !first.Exists() {
			return ""
		}
		var parts []string
		if u := first.Get("url").String(); u != "" {
			parts = append(parts, "url: "+u)
		}
		if b64 := first.Get("b64_json").String(); b64 != "" {
			parts = append(parts, fmt.Sprintf("b64_json: %d bytes", len(b64)))
		}
		if rp := first.Get("revised_prompt").String(); rp != "" {
			parts = append(parts, "revised_prompt: "+rp)
		}
		return truncPreview(strings.Join(parts, ", "))
	default: // CHAT
		for _, path := range []string{
			"choices.0.message.content",
			"choices.0.message.reasoning_content",
			"choices.0.message.refusal",
			"choices.0.delta.content",
			"choices.0.text",
		} {
			if v := r.Get(path); v.Exists() && v.String() != "" {
				return truncPreview(v.String())
			}
		}
		return ""
	}
}

// ImageSucceeded reports whether an IMAGE probe body counts as success:
// any data[0].url or data[0].b64_json.
func ImageSucceeded(body []byte) bool {
	r := gjson.ParseBytes(body)
	return r.Get("data.0.url").String() != "" || r.Get("data.0.b64_json").String() != ""
}

// DetectBodyError sniffs error envelopes some providers return with
// HTTP 200. A match downgrades the probe to FAIL with the message.
func DetectBodyError(body []byte) (bool, string) {
	if !gjson.ValidBytes(body) {
		return false, ""
	}
	r := gjson.ParseBytes(body)

	if e := r.Get("error"); e.Exists() {
		switch e.Type {
		case gjson.String:
			if e.String() != "" {
				return true, e.String()
			}
		case gjson.JSON:
			if e.IsObject() {
				if msg := e.Get("message").String(); msg != "" {
					return true, msg
				}
				return true, e.Raw
			}
		}
	}

	if s := r.Get("success"); s.Exists() && s.Type == gjson.False {
		return true, r.Get("message").String()
	}

	if c := r.Get("code"); c.Exists() && c.Type == gjson.Number && c.Int() != 0 {
		if msg := r.Get("message").String(); msg != "" {
			return true, fmt.Sprintf("[%d] %s", c.Int(), msg)
		}
	}

	switch r.Get("status").String() {
	case "error", "fail", "failed":
		return true, r.Get("message").String()
	}

	return false, ""
}

// ParseModelList extracts OpenAI-style data[].id entries from a
// /v1/models response.
func ParseModelList(body []byte) []string {
	var ids []string
	gjson.ParseBytes(body).Get("data").ForEach(func(_, item gjson.Result) bool {
		if id := item.Get("id").String(); id != "" {
			ids = append(ids, id)
		}
		return true
	})
	return ids
}
