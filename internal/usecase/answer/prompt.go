package answer

import (
	"fmt"
	"strings"
)

// Fixed user-facing degraded-mode messages. These are part of the API
// surface: clients match on them, so the wording must not drift.
const (
	msgEmbeddingError  = "I could not process your query due to an embedding error."
	msgGenerationError = "I encountered an error trying to generate a response. Please try again."
	msgBlockedFmt      = "My response was blocked due to safety concerns (%s). Please rephrase your query."

	// noContextSentinel replaces the context block when retrieval comes back
	// empty; generation still runs so the model can say it has no grounding.
	noContextSentinel = "No relevant context documents were found in the knowledge base."

	contextSeparator = "\n\n---\n\n"
)

// buildPrompt assembles the generation prompt from chat memory, the retrieved
// context block, and the question.
func buildPrompt(query, context, chatMemory string) string {
	var b strings.Builder
	b.WriteString("Chat History (use for context and tone if relevant, " +
		"but prioritize provided Context for answering the Question):\n")
	b.WriteString(chatMemory)
	b.WriteString("\n\nContext Documents:\n")
	b.WriteString(context)
	b.WriteString("\n\nQuestion:\n")
	b.WriteString(query)
	b.WriteString("\n\nBased *only* on the provided Context Documents and relevant Chat History, " +
		"please provide a comprehensive and accurate answer to the Question. " +
		"If the context does not contain the answer, state that clearly.\n\nAnswer:")
	return b.String()
}

func blockedMessage(reason string) string {
	return fmt.Sprintf(msgBlockedFmt, reason)
}
