package llm

import (
	"encoding/json"
	"strings"
)

// CleanSQLResponse strips markdown code fences from a model response.
// Models occasionally wrap SQL in ```sql blocks despite the prompt
// forbidding it.
func CleanSQLResponse(response string) string {
	text := strings.TrimSpace(response)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	lines := strings.Split(text, "\n")
	// Drop the opening fence line (```sql or ```).
	lines = lines[1:]
	if n := len(lines); n > 0 && strings.TrimSpace(lines[n-1]) == "```" {
		lines = lines[:n-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// Verdict is the JSON verdict the check prompts ask the model to return.
type Verdict struct {
	IsValid bool    `json:"is_valid"`
	Error   *string `json:"error"`
}

// ParseVerdict decodes the {is_valid, error} verdict from a model
// response. ok is false when the response holds no parseable verdict.
func ParseVerdict(response string) (valid bool, errMsg string, ok bool) {
	cleaned := CleanSQLResponse(response)

	var v Verdict
	if err := json.Unmarshal([]byte(cleaned), &v); err != nil {
		// The model sometimes wraps the verdict in prose. Pull out the
		// first balanced JSON object and retry.
		raw := extractJSON(cleaned)
		if raw == "" {
			return false, "", false
		}
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return false, "", false
		}
	}

	if v.Error != nil {
		errMsg = *v.Error
	}
	return v.IsValid, errMsg, true
}

// extractJSON finds the first balanced JSON object in text. Braces inside
// string literals do not affect the depth count.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		ch := text[i]

		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch ch {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}

	return ""
}
