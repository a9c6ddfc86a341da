package httpclient

import (
	"encoding/json"
	"strings"
)

// DecodeJSON unmarshals a backend body, reporting failures as CategoryMalformed.
func DecodeJSON(endpoint string, body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return NewError(CategoryMalformed, endpoint, "malformed response body", err)
	}
	return nil
}

// ResponseDetail extracts a human readable reason from an error body. The backend
// uses FastAPI-style {"detail": "..."} bodies; anything else is returned trimmed.
func ResponseDetail(body []byte) string {
	var payload struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if s, ok := payload.Detail.(string); ok && s != "" {
			return s
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
