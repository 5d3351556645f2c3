package judge

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseEvaluation extracts the structured verdict from a raw model reply.
// Models wrap JSON in code fences or prose more often than not, so the parser
// locates the outermost object before unmarshalling.
func ParseEvaluation(raw string) (*Evaluation, error) {
	payload := extractJSON(raw)
	if payload == "" {
		return nil, fmt.Errorf("no JSON object in reply")
	}

	var eval Evaluation
	if err := json.Unmarshal([]byte(payload), &eval); err != nil {
		return nil, fmt.Errorf("failed to decode verdict: %w", err)
	}

	eval.Winner = strings.ToLower(strings.TrimSpace(eval.Winner))
	if eval.Winner != "agree" && eval.Winner != "disagree" {
		return nil, fmt.Errorf("unknown winner token %q", eval.Winner)
	}
	if eval.Agree.Score < 0 || eval.Agree.Score > 100 {
		return nil, fmt.Errorf("agree score %d out of range", eval.Agree.Score)
	}
	if eval.Disagree.Score < 0 || eval.Disagree.Score > 100 {
		return nil, fmt.Errorf("disagree score %d out of range", eval.Disagree.Score)
	}

	return &eval, nil
}

// extractJSON returns the first balanced top-level JSON object in s.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
