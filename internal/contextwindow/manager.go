// Package contextwindow fits prompt text into a model's context window
// using a deliberately cheap length-based token estimate.
package contextwindow

import (
	"unicode/utf8"

	"github.com/deepquery/guardrail/internal/domain"
)

// charsPerToken is the estimation ratio: roughly four bytes of English
// text per token. Approximate by design; exact tokenizer counts are out
// of scope for this layer.
const charsPerToken = 4

// TruncationMarker is appended to any text cut down by TruncateToFit.
const TruncationMarker = "\n[...truncated...]"

// Manager budgets input text for one model.
type Manager struct {
	model           string
	maxTokens       int
	maxOutputTokens int
}

// New creates a Manager for model. maxTokens is the model's full context
// window; maxOutputTokens is reserved for the response.
func New(model string, maxTokens, maxOutputTokens int) *Manager {
	return &Manager{
		model:           model,
		maxTokens:       maxTokens,
		maxOutputTokens: maxOutputTokens,
	}
}

// Model returns the model name this manager budgets for.
func (m *Manager) Model() string { return m.model }

// MaxInputTokens is the window left for input after reserving output.
func (m *Manager) MaxInputTokens() int {
	return m.maxTokens - m.maxOutputTokens
}

// EstimateTokens estimates the token count of text as len(text)/4.
func (m *Manager) EstimateTokens(text string) int {
	return len(text) / charsPerToken
}

// TruncateToFit returns text unchanged if it fits the input budget;
// otherwise it cuts the text so that, marker included, the estimate
// stays within MaxInputTokens, and appends TruncationMarker.
func (m *Manager) TruncateToFit(text string) string {
	return m.TruncateTo(text, m.MaxInputTokens())
}

// TruncateTo is TruncateToFit against an explicit token limit.
func (m *Manager) TruncateTo(text string, limitTokens int) string {
	if m.EstimateTokens(text) <= limitTokens {
		return text
	}

	keep := limitTokens*charsPerToken - len(TruncationMarker)
	if keep < 0 {
		keep = 0
	}
	return text[:runeBoundary(text, keep)] + TruncationMarker
}

// SplitIntoChunks partitions text into consecutive slices that each fit
// the input budget. Text already within budget comes back as a single
// chunk.
func (m *Manager) SplitIntoChunks(text string) []string {
	return m.SplitIntoChunksOf(text, m.MaxInputTokens())
}

// SplitIntoChunksOf is SplitIntoChunks with an explicit per-chunk token
// budget.
func (m *Manager) SplitIntoChunksOf(text string, chunkTokens int) []string {
	chunkBytes := chunkTokens * charsPerToken
	if chunkBytes <= 0 || len(text) <= chunkBytes {
		return []string{text}
	}

	var chunks []string
	for len(text) > chunkBytes {
		cut := runeBoundary(text, chunkBytes)
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if len(text) > 0 {
		chunks = append(chunks, text)
	}
	return chunks
}

// Fits reports whether text's estimate is within the input budget.
func (m *Manager) Fits(text string) bool {
	return m.EstimateTokens(text) <= m.MaxInputTokens()
}

// ValidateInputSize returns a typed context-length error when text does
// not fit the input budget.
func (m *Manager) ValidateInputSize(text string) error {
	if m.Fits(text) {
		return nil
	}
	return domain.ErrContextLength(m.model, m.EstimateTokens(text), m.MaxInputTokens())
}

// runeBoundary backs n off to the nearest UTF-8 rune start in s so byte
// slicing never splits a character.
func runeBoundary(s string, n int) int {
	if n >= len(s) {
		return len(s)
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return n
}
