package chat

import (
	"fmt"
	"strings"

	"github.com/Protocol-Lattice/repochat/pkg/index"
	"github.com/Protocol-Lattice/repochat/pkg/models"
)

// DefaultSystemPrompt frames every answer.
const DefaultSystemPrompt = `You are a senior engineer answering questions about a source code repository.
Use the repository excerpts in the user message to answer the question at the end.
If the excerpts do not contain the answer, say that you don't know instead of making one up.
Refer to files by their path when it helps.`

const condenseInstructions = `Given the summary of a conversation and a follow up question, rephrase the follow up question as a standalone question in its original language.
Reply with the standalone question only.`

// BuildMessages assembles the chat transcript for one question.
func BuildMessages(system, summary string, hits []index.Hit, question string) []models.Message {
	var sys strings.Builder
	sys.WriteString(strings.TrimSpace(system))
	if s := strings.TrimSpace(summary); s != "" {
		sys.WriteString("\n\nSummary of the conversation so far:\n")
		sys.WriteString(s)
	}

	var user strings.Builder
	user.WriteString("Repository excerpts:\n")
	if len(hits) == 0 {
		user.WriteString("(no relevant code found)\n")
	}
	for i, h := range hits {
		fmt.Fprintf(&user, "\n[%d] File: %s\n", i+1, h.Chunk.SourcePath)
		user.WriteString("```\n")
		user.WriteString(strings.TrimRight(h.Chunk.Text, "\n"))
		user.WriteString("\n```\n")
	}
	user.WriteString("\nQuestion: ")
	user.WriteString(strings.TrimSpace(question))

	return []models.Message{models.System(sys.String()), models.User(user.String())}
}

// CondensePrompt asks for a standalone form of a follow up question.
func CondensePrompt(summary, question string) string {
	var sb strings.Builder
	sb.WriteString(condenseInstructions)
	sb.WriteString("\n\nConversation summary:\n")
	sb.WriteString(strings.TrimSpace(summary))
	sb.WriteString("\n\nFollow up question: ")
	sb.WriteString(strings.TrimSpace(question))
	return sb.String()
}
