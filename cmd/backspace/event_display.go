package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/tinybackspace/backspace/internal/events"
)

// displayEvent prints one pipeline event in a two-line format: the event
// itself, then a gray metadata line when the payload has anything useful.
func displayEvent(ev events.PipelineEvent) {
	fmt.Println(formatEvent(ev))
	if meta := formatPayload(ev.Payload); meta != "" {
		gray := color.New(color.FgHiBlack)
		fmt.Printf("  %s\n", gray.Sprint(meta))
	}
}

func formatEvent(ev events.PipelineEvent) string {
	phaseColor := color.New(color.FgMagenta)
	return fmt.Sprintf("%s [%s] %s: %s",
		levelIcon(ev.Level),
		ev.Timestamp.Format("15:04:05"),
		phaseColor.Sprint(string(ev.Phase)),
		levelColor(ev.Level).Sprint(ev.Message),
	)
}

func levelIcon(level events.Level) string {
	switch level {
	case events.LevelProgress:
		return "→"
	case events.LevelSuccess:
		return "✓"
	case events.LevelChange:
		return "±"
	case events.LevelWarning:
		return "!"
	case events.LevelError:
		return "✗"
	case events.LevelDone:
		return "★"
	default:
		return "·"
	}
}

func levelColor(level events.Level) *color.Color {
	switch level {
	case events.LevelSuccess, events.LevelDone:
		return color.New(color.FgGreen)
	case events.LevelWarning:
		return color.New(color.FgYellow)
	case events.LevelError:
		return color.New(color.FgRed)
	case events.LevelChange:
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgWhite)
	}
}

// formatPayload renders payload fields as "key=value | key=value", keys
// sorted for stable output.
func formatPayload(payload map[string]any) string {
	if len(payload) == 0 {
		return ""
	}
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, payload[k]))
	}
	return strings.Join(parts, " | ")
}
