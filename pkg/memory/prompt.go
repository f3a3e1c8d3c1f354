package memory

import "strings"

const summaryInstructions = `Progressively summarize the conversation between a developer and an assistant about a code repository.
Extend the current summary with the new lines and return the complete new summary.
Keep file names, identifiers and conclusions that later questions may refer to.`

// SummaryPrompt renders the summarisation request for the given current
// summary and the turns still to be folded into it.
func SummaryPrompt(current string, turns []Turn) string {
	var sb strings.Builder
	sb.WriteString(summaryInstructions)
	sb.WriteString("\n\nCurrent summary:\n")
	if s := strings.TrimSpace(current); s != "" {
		sb.WriteString(s)
	} else {
		sb.WriteString("(none)")
	}
	sb.WriteString("\n\nNew lines of conversation:\n")
	sb.WriteString(FormatTurns(turns))
	sb.WriteString("\nNew summary:")
	return sb.String()
}

// FormatTurns renders turns as Human/AI lines.
func FormatTurns(turns []Turn) string {
	var sb strings.Builder
	for _, t := range turns {
		sb.WriteString("Human: ")
		sb.WriteString(strings.TrimSpace(t.Question))
		sb.WriteString("\nAI: ")
		sb.WriteString(strings.TrimSpace(t.Answer))
		sb.WriteByte('\n')
	}
	return sb.String()
}
