package intent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInjection is returned when the model output carries prompt-injection
// content; callers must short-circuit to a canned reply.
var ErrInjection = errors.New("prompt injection detected")

// injectionMarkers are lowercase substrings that indicate an attempt to
// smuggle instructions through tool output or user content.
var injectionMarkers = []string{
	"ignore previous instructions",
	"ignore all previous instructions",
	"disregard your instructions",
	"you are now",
	"new system prompt",
	"override your system prompt",
	"</system>",
	"[system]",
}

// Parse turns raw model output into an Intent. Output that contains no JSON
// object is treated as a plain response; a JSON object must carry a known
// kind. Injection content fails with ErrInjection regardless of shape.
func Parse(raw string) (*Intent, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("empty model output")
	}

	if suspicious(trimmed) {
		return nil, ErrInjection
	}

	payload, ok := extractJSON(trimmed)
	if !ok {
		return &Intent{Kind: KindResponse, Message: trimmed}, nil
	}

	var in Intent
	if err := json.Unmarshal([]byte(payload), &in); err != nil {
		return nil, fmt.Errorf("parse intent: %w", err)
	}

	switch in.Kind {
	case KindResponse, KindClarify, KindObserve:
		if in.Message == "" {
			return nil, fmt.Errorf("intent %q missing message", in.Kind)
		}
	case KindAction:
		if in.Action == "" {
			return nil, errors.New("action intent missing action name")
		}
		if in.Params == nil {
			in.Params = map[string]any{}
		}
	case KindPlan:
		if len(in.Steps) == 0 {
			return nil, errors.New("plan intent has no steps")
		}
		for i := range in.Steps {
			if in.Steps[i].Action == "" {
				return nil, fmt.Errorf("plan step %d missing action name", i)
			}
		}
	default:
		return nil, fmt.Errorf("unknown intent kind %q", in.Kind)
	}

	return &in, nil
}

// suspicious reports whether the output carries injection markers.
func suspicious(s string) bool {
	lower := strings.ToLower(s)
	for _, marker := range injectionMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// extractJSON pulls the first top-level JSON object out of the output,
// tolerating markdown code fences around it.
func extractJSON(s string) (string, bool) {
	if idx := strings.Index(s, "```"); idx != -1 {
		rest := s[idx+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end != -1 {
			s = strings.TrimSpace(rest[:end])
		}
	}

	start := strings.Index(s, "{")
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}
	return "", false
}
