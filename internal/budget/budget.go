// Package budget provides token budget estimation and retrieved-context
// trimming for the query service. Because multiple LLM backends with
// different tokenizers are supported, it uses a conservative character-based
// heuristic: 1 token ≈ 4 characters (English prose). This deliberately
// under-estimates token counts to leave headroom for model-specific overhead.
package budget

const (
	// charsPerToken is the conservative character-to-token ratio used for
	// estimation. 4 chars/token is standard for English; using 3 would be
	// more aggressive but risks overflowing context windows.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default budget for the retrieved-context
	// block injected into the prompt. Conservative enough to fit within
	// 8k-context models while leaving room for the question and the answer.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// TrimBlocks drops lowest-ranked context blocks until the total estimated
// token count fits within maxTokens. blocks must be ordered best-first; the
// tail is dropped, never the head, so the most similar chunks always survive.
// A single oversized first block is kept — an empty context would defeat
// retrieval entirely, and the model truncates gracefully.
func TrimBlocks(blocks []string, maxTokens int) []string {
	if len(blocks) == 0 || maxTokens <= 0 {
		return blocks
	}

	total := 0
	for i, b := range blocks {
		total += Estimate(b)
		if total > maxTokens && i > 0 {
			return blocks[:i]
		}
	}
	return blocks
}
