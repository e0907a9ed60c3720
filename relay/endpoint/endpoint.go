package endpoint

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/Laisky/errors/v2"
)

// Type is the request shape used to talk to an upstream: one model can
// be reachable over several of them.
type Type string

const (
	TypeChat   Type = "CHAT"
	TypeClaude Type = "CLAUDE"
	TypeGemini Type = "GEMINI"
	TypeCodex  Type = "CODEX"
	TypeImage  Type = "IMAGE"
)

// AnthropicVersion is pinned; upstream rejects requests without it.
const AnthropicVersion = "2023-06-01"

var All = []Type{TypeChat, TypeClaude, TypeGemini, TypeCodex, TypeImage}

func Valid(t string) bool {
	for _, e := range All {
		if string(e) == t {
			return true
		}
	}
	return false
}

// NormalizeBaseURL strips a trailing slash and a trailing /v1 so paths
// can be appended uniformly regardless of how the channel was entered.
func NormalizeBaseURL(base string) string {
	base = strings.TrimSpace(base)
	base = strings.TrimSuffix(base, "/")
	base = strings.TrimSuffix(base, "/v1")
	return base
}

// Path returns the endpoint path. Gemini embeds the model name.
func (t Type) Path(model string) string {
	switch t {
	case TypeClaude:
		return "/v1/messages"
	case TypeGemini:
		return "/v1beta/models/" + model + ":generateContent"
	case TypeCodex:
		return "/v1/responses"
	case TypeImage:
		return "/v1/images/generations"
	default:
		return "/v1/chat/completions"
	}
}

// URL builds the full upstream URL for a probe or forwarded request.
func (t Type) URL(base string, model string) string {
	return NormalizeBaseURL(base) + t.Path(model)
}

// Headers returns the auth header set for the endpoint.
func (t Type) Headers(key string) map[string]string {
	h := map[string]string{"Content-Type": "application/json"}
	switch t {
	case TypeClaude:
		h["x-api-key"] = key
		h["anthropic-version"] = AnthropicVersion
	case TypeGemini:
		h["x-goog-api-key"] = key
	default:
		h["Authorization"] = "Bearer " + key
	}
	return h
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ProbeBody builds the canonical small probe request for the endpoint.
func (t Type) ProbeBody(model string, prompt string, maxTokens int) ([]byte, error) {
	var body any
	switch t {
	case TypeChat, TypeClaude:
		body = map[string]any{
			"model":      model,
			"max_tokens": maxTokens,
			"stream":     false,
			"messages":   []chatMessage{{Role: "user", Content: prompt}},
		}
	case TypeGemini:
		body = map[string]any{
			"contents": []map[string]any{
				{"parts": []map[string]any{{"text": prompt}}},
			},
			"generationConfig": map[string]any{"maxOutputTokens": 10},
		}
	case TypeCodex:
		body = map[string]any{
			"model":  model,
			"stream": false,
			"input": []map[string]any{
				{
					"role": "user",
					"content": []map[string]any{
						{"type": "input_text", "text": prompt},
					},
				},
			},
		}
	case TypeImage:
		body = map[string]any{
			"model":  model,
			"prompt": prompt,
			"n":      1,
			"size":   "256x256",
		}
	default:
		return nil, errors.Errorf("unknown endpoint type %q", t)
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %s probe body", t)
	}
	return buf, nil
}

var codexNamePattern = regexp.MustCompile(`^o[134](-|$)`)

// ForModelName maps a model name onto the endpoint types worth probing.
// CHAT is always included: every provider speaks it.
func ForModelName(name string) []Type {
	lower := strings.ToLower(strings.TrimSpace(name))
	switch {
	case strings.HasPrefix(lower, "claude"):
		return []Type{TypeChat, TypeClaude}
	case strings.HasPrefix(lower, "gemini"):
		return []Type{TypeChat, TypeGemini}
	case strings.Contains(lower, "gpt-4o"),
		strings.Contains(lower, "gpt-5"),
		codexNamePattern.MatchString(lower):
		return []Type{TypeChat, TypeCodex}
	default:
		return []Type{TypeChat}
	}
}

// ModelListURL is the OpenAI-style model enumeration endpoint.
func ModelListURL(base string) string {
	return NormalizeBaseURL(base) + "/v1/models"
}

// GeminiPath reports the model and streaming mode encoded in a
// /v1beta/models/<model>:<op> request path, if it is one.
func GeminiPath(path string) (model string, stream bool, ok bool) {
	const prefix = "/v1beta/models/"
	if !strings.HasPrefix(path, prefix) {
		return "", false, false
	}
	rest := strings.TrimPrefix(path, prefix)
	model, op, found := strings.Cut(rest, ":")
	if !found || model == "" {
		return "", false, false
	}
	switch op {
	case "generateContent":
		return model, false, true
	case "streamGenerateContent":
		return model, true, true
	default:
		return "", false, false
	}
}

func (t Type) String() string { return string(t) }
