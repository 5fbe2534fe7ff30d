package vcs

import (
	"strings"

	"github.com/google/uuid"
)

const (
	branchPrefix  = "feature/"
	branchSlugMax = 40
)

// BranchForPrompt derives a branch name from the prompt: lowercased,
// non-alphanumerics collapsed to single hyphens, length-bounded, prefixed
// with "feature/". The derivation is deterministic; uniqueness across runs
// comes from Disambiguate when a collision is detected.
func BranchForPrompt(prompt string) BranchRef {
	var b strings.Builder
	lastHyphen := true // suppress a leading hyphen
	for _, r := range strings.ToLower(prompt) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
		if b.Len() >= branchSlugMax {
			break
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		slug = "change"
	}
	return BranchRef{Name: branchPrefix + slug}
}

// Disambiguate appends a short random suffix to resolve a branch name
// collision with an existing local or remote branch.
func Disambiguate(ref BranchRef) BranchRef {
	return BranchRef{Name: ref.Name + "-" + uuid.New().String()[:8]}
}
