package signal

import (
	"regexp"
	"strings"
)

var thinkTagRegex = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripThinkTags removes reasoning blocks some models prepend to the answer.
func StripThinkTags(text string) string {
	return strings.TrimSpace(thinkTagRegex.ReplaceAllString(text, ""))
}

// ExtractJSON returns the JSON payload embedded in a model answer.
// Handles: reasoning tags, markdown code fences, prose around a single object or array.
func ExtractJSON(text string) string {
	cleaned := StripThinkTags(text)

	if start := strings.Index(cleaned, "```"); start >= 0 {
		body := cleaned[start+3:]
		body = strings.TrimPrefix(body, "json")
		body = strings.TrimPrefix(body, "JSON")
		if end := strings.Index(body, "```"); end >= 0 {
			body = body[:end]
		}
		cleaned = strings.TrimSpace(body)
	}

	if cleaned == "" {
		return ""
	}
	if cleaned[0] == '{' || cleaned[0] == '[' {
		return cleaned
	}

	objStart := strings.Index(cleaned, "{")
	arrStart := strings.Index(cleaned, "[")
	if arrStart >= 0 && (objStart < 0 || arrStart < objStart) {
		if end := strings.LastIndex(cleaned, "]"); end > arrStart {
			return cleaned[arrStart : end+1]
		}
	}
	if objStart >= 0 {
		if end := strings.LastIndex(cleaned, "}"); end > objStart {
			return cleaned[objStart : end+1]
		}
	}
	return cleaned
}
