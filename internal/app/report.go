package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/hyperifyio/cfsource/internal/solve"
)

// renderReport formats a solve result as Markdown.
func renderReport(sol solve.Solution, cfg Config) string {
	var b strings.Builder
	title := "Solution"
	if sol.ContestID != "" && sol.ProblemIndex != "" {
		title = fmt.Sprintf("Solution for %s%s", sol.ContestID, sol.ProblemIndex)
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "Problem: [%s](%s)\n\n", sol.ProblemURL, sol.ProblemURL)
	if sol.SourceURL != "" {
		fmt.Fprintf(&b, "Submission: [%s](%s)\n\n", sol.SubmissionID, sol.SourceURL)
	}
	if sol.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n\n", sol.Language)
	}

	writeBlock(&b, "Source", sol.Code)
	if sol.CleanCode != "" {
		writeBlock(&b, "Cleaned source", sol.CleanCode)
	}
	if sol.Ran {
		writeBlock(&b, "Input", sol.Input)
		writeBlock(&b, "Output", sol.Output)
	}
	appendFooter(&b, sol, cfg)
	return b.String()
}

func writeBlock(b *strings.Builder, heading, body string) {
	fmt.Fprintf(b, "## %s\n\n", heading)
	fence := "```"
	for strings.Contains(body, fence) {
		fence += "`"
	}
	b.WriteString(fence + "\n")
	b.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		b.WriteString("\n")
	}
	b.WriteString(fence + "\n\n")
}

// appendFooter records enough to reproduce the run. Keys are never included.
func appendFooter(b *strings.Builder, sol solve.Solution, cfg Config) {
	b.WriteString("---\n\n")
	fmt.Fprintf(b, "Generated by cfsource %s (%s, %s) in %s.\n\n", BuildVersion, BuildCommit, BuildDate, sol.Elapsed.Round(time.Millisecond))
	if sol.CleanCode != "" && cfg.LLMModel != "" {
		fmt.Fprintf(b, "Cleaned with model %s.\n\n", cfg.LLMModel)
	}
	if sol.Ran {
		judge := cfg.Judge0URL
		if judge == "" {
			judge = "default Judge0 endpoint"
		}
		fmt.Fprintf(b, "Executed on %s.\n", judge)
	}
}
