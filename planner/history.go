package planner

import (
	"fmt"
	"strings"
)

// HistoryWindow returns a copy of the last n entries of history.
func HistoryWindow(history []string, n int) []string {
	if n <= 0 || len(history) == 0 {
		return nil
	}
	start := 0
	if len(history) > n {
		start = len(history) - n
	}
	out := make([]string, len(history)-start)
	copy(out, history[start:])
	return out
}

// BulletHistory renders "\nPrevious actions:\n- a\n- b\n", or "" when empty.
func BulletHistory(history []string) string {
	if len(history) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\nPrevious actions:\n")
	for _, h := range history {
		b.WriteString("- ")
		b.WriteString(h)
		b.WriteString("\n")
	}
	return b.String()
}

// NumberedHistory renders "\n\nActions taken so far:\n1. a\n2. b", or "".
func NumberedHistory(history []string) string {
	if len(history) == 0 {
		return ""
	}
	lines := make([]string, len(history))
	for i, h := range history {
		lines[i] = fmt.Sprintf("%d. %s", i+1, h)
	}
	return "\n\nActions taken so far:\n" + strings.Join(lines, "\n")
}
