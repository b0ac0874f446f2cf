// Package usecase holds the application services: the gateway's request
// intake, the worker-side job handlers, and the DLQ admin operations.
// Everything here depends on domain ports only, never on adapters.
package usecase

import (
	"strings"

	"github.com/fairyhunter13/chat-orchestrator/internal/domain"
)

// charsPerToken is the rough English-text estimate used for prompt budgeting.
// Budgeting stays on this cheap estimate so it is provider-agnostic; exact
// counts come back from the provider's usage block.
const charsPerToken = 4

// fileContentMarker separates the user's text from attached file content in
// the full message form carried on the bus.
const fileContentMarker = "\n\nFile content:\n"

// EstimateTokens estimates the token count of text from its length.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(text)/charsPerToken + 1
}

// TruncateToTokens cuts text to approximately maxTokens, appending a marker
// when anything was dropped.
func TruncateToTokens(text string, maxTokens int) string {
	maxChars := maxTokens * charsPerToken
	if len(text) <= maxChars {
		return text
	}
	return text[:maxChars] + "\n\n... [Content truncated to fit token limit]"
}

// TokenBudget trims a conversation to fit the model's context window.
// Priority order: system prompt, then the current message, then as much
// recent history as still fits.
type TokenBudget struct {
	MaxContextTokens int
	MaxMessageTokens int
	MaxHistoryLength int
}

// truncateMessage bounds a single message. When the message carries file
// content, the user's own text is kept whole and the file part absorbs the
// cut.
func (b TokenBudget) truncateMessage(content string) string {
	if !strings.Contains(content, fileContentMarker) {
		return TruncateToTokens(content, b.MaxMessageTokens)
	}
	parts := strings.SplitN(content, fileContentMarker, 2)
	userText, fileContent := parts[0], parts[1]

	remaining := b.MaxMessageTokens - EstimateTokens(userText) - 50
	if remaining <= 100 {
		return userText + "\n\n[File content omitted due to token limit]"
	}
	return userText + fileContentMarker + TruncateToTokens(fileContent, remaining)
}

// Fit builds the final message list under the context budget. history must
// end with the current user message.
func (b TokenBudget) Fit(history []domain.ChatMessage, systemPrompt string) []domain.ChatMessage {
	if len(history) == 0 {
		return nil
	}
	current := history[len(history)-1]
	past := history[:len(history)-1]

	currentContent := b.truncateMessage(current.Content)
	available := b.MaxContextTokens - EstimateTokens(systemPrompt) - EstimateTokens(currentContent) - 100
	if available < 100 {
		return []domain.ChatMessage{{Role: current.Role, Content: currentContent}}
	}

	if len(past) > b.MaxHistoryLength {
		past = past[len(past)-b.MaxHistoryLength:]
	}

	// Walk history newest-first so the most recent turns win the budget.
	var selected []domain.ChatMessage
	used := 0
	for i := len(past) - 1; i >= 0; i-- {
		content := past[i].Content
		tokens := EstimateTokens(content)
		if tokens > b.MaxMessageTokens/2 {
			content = TruncateToTokens(content, b.MaxMessageTokens/2)
			tokens = EstimateTokens(content)
		}
		if used+tokens > available {
			break
		}
		selected = append([]domain.ChatMessage{{Role: past[i].Role, Content: content}}, selected...)
		used += tokens
	}

	return append(selected, domain.ChatMessage{Role: current.Role, Content: currentContent})
}

// FitContext caps RAG context snippets to maxTokens, truncating the snippet
// that crosses the boundary and dropping the rest.
func FitContext(snippets []string, maxTokens int) string {
	var (
		parts []string
		used  int
	)
	for _, s := range snippets {
		tokens := EstimateTokens(s)
		if used+tokens <= maxTokens {
			parts = append(parts, s)
			used += tokens
			continue
		}
		if remaining := maxTokens - used; remaining > 100 {
			parts = append(parts, TruncateToTokens(s, remaining))
		}
		break
	}
	return strings.Join(parts, "\n\n")
}

// UserText returns the user-authored part of a full message, without any
// attached file content.
func UserText(message string) string {
	if i := strings.Index(message, fileContentMarker); i >= 0 {
		return message[:i]
	}
	return message
}
