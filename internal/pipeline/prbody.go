package pipeline

import (
	"fmt"
	"strings"

	"github.com/tinybackspace/backspace/internal/generator"
)

// prTitleMax keeps titles scannable in PR lists.
const prTitleMax = 72

// prTitle derives the pull request title from the prompt.
func prTitle(prompt string) string {
	title := "Auto-generated: " + prompt
	if len(title) > prTitleMax {
		title = title[:prTitleMax-3] + "..."
	}
	return title
}

// prBody renders the pull request description: the prompt, how the change
// was produced, and one line per applied edit.
func prBody(prompt, agent, sandboxName string, cs generator.ChangeSet) string {
	var b strings.Builder
	b.WriteString("## Prompt\n\n")
	fmt.Fprintf(&b, "> %s\n\n", prompt)
	b.WriteString("## Changes\n\n")
	for _, desc := range cs.Descriptions() {
		fmt.Fprintf(&b, "- %s\n", desc)
	}
	b.WriteString("\n## Provenance\n\n")
	fmt.Fprintf(&b, "- Generator: %s\n", agent)
	fmt.Fprintf(&b, "- Sandbox: %s\n", sandboxName)
	b.WriteString("\nOpened automatically by backspace. Review before merging.\n")
	return b.String()
}
