package utils

// Token estimation for transcript budgeting. Not a real tokenizer.

// CountTokens estimates the number of tokens in the given text.
// One token is approximated as 4 characters.
func CountTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	// Ensure at least 1 token for any non-empty text
	tokens := len([]rune(text)) / 4
	if tokens == 0 {
		return 1
	}
	return tokens
}

// TruncateToTokenLimit naively truncates text to roughly fit within a token limit.
func TruncateToTokenLimit(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(text)
	// Expand limit to character count using the same 4 chars per token heuristic
	charLimit := limit * 4
	if charLimit >= len(runes) {
		return text
	}
	return string(runes[:charLimit])
}

// CountMessageTokens sums CountTokens over message contents plus a small
// per-message overhead for role framing.
func CountMessageTokens(contents ...string) int {
	total := 0
	for _, c := range contents {
		total += CountTokens(c) + 4
	}
	return total
}
