package domain

// EstimateTokens approximates the token cost of text as one token per three bytes.
// The heuristic is deliberately crude; trimming decisions depend on it staying exact.
func EstimateTokens(text string) int {
	return len(text) / 3
}

// EstimateMessagesTokens sums EstimateTokens over the content of msgs.
func EstimateMessagesTokens(msgs []ChatMessage) int {
	total := 0
	for _, m := range msgs {
		total += EstimateTokens(m.Content)
	}
	return total
}
