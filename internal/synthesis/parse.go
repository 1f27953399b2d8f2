package synthesis

import (
	"encoding/json"
	"fmt"
	"strings"
)

// decodeResult parses the JSON body of an LLM structured-output reply
// into out. Models occasionally wrap the JSON in a markdown code fence
// or lead with prose; the decoder tolerates both by extracting the
// outermost object.
func decodeResult(raw string, out any) error {
	body := extractJSON(raw)
	if body == "" {
		return fmt.Errorf("synthesis: no JSON object in model output")
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("synthesis: decode model output: %w", err)
	}
	return nil
}

// extractJSON returns the outermost {...} block of s, or "".
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
