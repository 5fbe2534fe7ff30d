package generator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// LLMs wrap JSON in code fences or surround it with prose more often than
// they return it clean. These pre-compiled patterns drive the cleanup
// strategies in parseChangeSet.
var (
	codeFenceRegex = regexp.MustCompile("(?s)```(?:json)?\\s*\n?([\\s\\S]*?)\n?```")
	jsonArrayRegex = regexp.MustCompile(`(?s)\[[\s\S]*\]`)
)

// parseChangeSet decodes a model response into a ChangeSet. Strategy
// sequence: direct parse, strip code fences, extract the outermost JSON
// array from mixed content.
func parseChangeSet(text string) (ChangeSet, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("empty model response")
	}

	var cs ChangeSet
	if err := json.Unmarshal([]byte(trimmed), &cs); err == nil {
		return cs, nil
	}

	if m := codeFenceRegex.FindStringSubmatch(trimmed); m != nil {
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &cs); err == nil {
			return cs, nil
		}
	}

	if m := jsonArrayRegex.FindString(trimmed); m != "" {
		if err := json.Unmarshal([]byte(m), &cs); err == nil {
			return cs, nil
		}
	}

	return nil, fmt.Errorf("no JSON change list found in model response (%d bytes)", len(text))
}
