package rag

import "strings"

const DefaultInstruction = `You are a helpful assistant. Answer the question using only the context below.
If the context does not contain the answer, say that you do not have enough information.`

// NoContextMarker replaces the context section when retrieval found nothing
// relevant, so the generator decides how to answer without grounding.
const NoContextMarker = "No relevant context was found."

type Prompt struct {
	Instruction string
	Context     string
	Question    string
}

func (p Prompt) Render() string {
	context := p.Context
	if strings.TrimSpace(context) == "" {
		context = NoContextMarker
	}

	var sb strings.Builder
	sb.WriteString(p.Instruction)
	sb.WriteString("\n\nContext:\n")
	sb.WriteString(context)
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(p.Question)
	sb.WriteString("\nAnswer:")

	return sb.String()
}

func (p Prompt) Units() int {
	return CountUnits(p.Render())
}
