package rag

import (
	"strings"

	"github.com/nikhilbhutani/multimodalrag/internal/llm"
	"github.com/nikhilbhutani/multimodalrag/internal/models"
	"github.com/nikhilbhutani/multimodalrag/pkg/tokenizer"
)

const systemInstruction = `You are a knowledgeable and friendly assistant. Answer the user's question using the context below, which was retrieved from their documents, images and recordings.

Rules:
- Give clear, natural, conversational answers in plain language.
- Base every claim on the context. If the context does not contain enough information, say so plainly.
- Never use citation markers such as [1] or [Source 2]; sources are shown to the user separately.
- Never use markdown: no bold, italics, headings, bullet symbols or code formatting.`

// insufficientAnswer is returned without a model call when nothing relevant
// was retrieved.
const insufficientAnswer = "I couldn't find any relevant information in your uploaded content to answer that question. Try rephrasing it or adding documents, images or recordings that cover the topic."

// BuildMessages renders the grounding prompt: instruction and context, then
// prior turns oldest first, then the current query.
func BuildMessages(query, contextBlob string, history []models.Turn, historyBudget int) []llm.Message {
	var sys strings.Builder
	sys.WriteString(systemInstruction)
	sys.WriteString("\n\nCONTEXT:\n")
	sys.WriteString(contextBlob)

	turns := TrimHistory(history, historyBudget)
	msgs := make([]llm.Message, 0, 2+2*len(turns))
	msgs = append(msgs, llm.Message{Role: "system", Content: sys.String()})
	for _, t := range turns {
		msgs = append(msgs,
			llm.Message{Role: "user", Content: t.Query},
			llm.Message{Role: "assistant", Content: t.Answer},
		)
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: query})
	return msgs
}

// TrimHistory keeps the newest turns whose combined size fits the budget,
// dropping the oldest first. A non-positive budget keeps nothing.
func TrimHistory(history []models.Turn, budget int) []models.Turn {
	used := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := tokenizer.CountTokens(history[i].Query) + tokenizer.CountTokens(history[i].Answer)
		if used+cost > budget {
			break
		}
		used += cost
		start = i
	}
	return history[start:]
}
