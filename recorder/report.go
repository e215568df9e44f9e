package recorder

import (
	"bytes"
	"fmt"
	"html"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/PipeOpsHQ/vnc-use-go/types"
)

var (
	markdownOnce sync.Once
	markdown     goldmark.Markdown
)

func markdownRenderer() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return markdown
}

func renderHistory(task string, history []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", task)
	b.WriteString(strings.Repeat("=", 70) + "\n\n")
	for i, entry := range history {
		fmt.Fprintf(&b, "%d. %s\n", i+1, entry)
	}
	return b.String()
}

func renderReport(dirName string, meta Metadata, logs []types.StepLog) string {
	var b strings.Builder
	b.WriteString("# Agent Execution Report\n\n")
	fmt.Fprintf(&b, "**Run ID:** `%s`\n\n", meta.RunID)
	fmt.Fprintf(&b, "**Task:** %s\n\n", meta.Task)
	fmt.Fprintf(&b, "**Duration:** %.1f seconds\n\n", meta.EndTime.Sub(meta.StartTime).Seconds())
	if meta.Success {
		b.WriteString("**Status:** ✓ Completed\n\n")
	} else {
		b.WriteString("**Status:** ✗ Failed\n\n")
	}
	if meta.FinalState.Error != "" {
		fmt.Fprintf(&b, "**Error:** %s\n\n", meta.FinalState.Error)
	}
	b.WriteString("---\n\n")

	b.WriteString("## Initial Observation\n\n")
	b.WriteString("![Initial Screenshot](step_000_initial.png)\n\n")
	b.WriteString("---\n\n")

	b.WriteString("## Execution Timeline\n\n")
	prev := meta.StartTime
	for _, log := range logs {
		elapsed := log.Timestamp.Sub(prev).Seconds()
		if elapsed < 0 {
			elapsed = 0
		}
		prev = log.Timestamp
		fmt.Fprintf(&b, "### Step %d (%.1fs)\n\n", log.Step, elapsed)
		if log.Observation != "" {
			b.WriteString("**Model Observation:**\n")
			fmt.Fprintf(&b, "> %s\n\n", log.Observation)
		}
		if len(log.Proposed) > 1 {
			b.WriteString("**Proposed Actions:**\n")
			for i, call := range log.Proposed {
				fmt.Fprintf(&b, "%d. `%s`\n", i+1, call.String())
			}
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "**Executed:** `%s`\n\n", log.Executed.String())
		if log.Result == "Success" {
			fmt.Fprintf(&b, "**Result:** ✓ %s\n\n", log.Result)
		} else {
			fmt.Fprintf(&b, "**Result:** ✗ %s\n\n", log.Result)
		}
		if log.Locator != "" {
			fmt.Fprintf(&b, "**Locator:** `%s`\n\n", log.Locator)
		}
		if log.FrameRef != "" {
			fmt.Fprintf(&b, "![After Step %d](%s)\n\n", log.Step, log.FrameRef)
		}
		b.WriteString("---\n\n")
	}

	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- **Total Steps:** %d\n", len(logs))
	if meta.Success {
		b.WriteString("- **Success:** Yes\n")
	} else {
		b.WriteString("- **Success:** No\n")
	}
	if meta.FinalState.Error != "" {
		fmt.Fprintf(&b, "- **Final Error:** %s\n", meta.FinalState.Error)
	}
	if meta.Usage != nil {
		fmt.Fprintf(&b, "- **Tokens:** %d\n", meta.Usage.TotalTokens)
	}
	fmt.Fprintf(&b, "- **Screenshots Saved:** %d\n", len(logs)+1)
	fmt.Fprintf(&b, "- **Run Directory:** `%s`\n", dirName)
	return b.String()
}

func renderHTML(title, report string) ([]byte, error) {
	var body bytes.Buffer
	if err := markdownRenderer().Convert([]byte(report), &body); err != nil {
		return nil, fmt.Errorf("render html report: %w", err)
	}
	var page bytes.Buffer
	page.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&page, "<title>%s</title>\n", html.EscapeString(title))
	page.WriteString("<style>body{font-family:sans-serif;max-width:960px;margin:2em auto}img{max-width:100%}</style>\n")
	page.WriteString("</head>\n<body>\n")
	page.Write(body.Bytes())
	page.WriteString("</body>\n</html>\n")
	return page.Bytes(), nil
}
