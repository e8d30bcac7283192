// Package tokenizer counts and encodes tokens for the LLM call a turn is
// about to make and for the working-memory budget that gates it. The
// supervisor's system prompt + recalled memory + transcript must fit the
// configured token ceiling before a call goes out; this package is what
// measures "fit".
package tokenizer

// Tokenizer counts and encodes tokens for a specific model's vocabulary.
type Tokenizer interface {
	// CountTokens returns the token count for a block of text.
	CountTokens(text string) (int, error)

	// CountMessages returns the total token count for a message list,
	// including per-message overhead (role markers, separators).
	CountMessages(messages []Message) (int, error)

	// Encode converts text into token IDs.
	Encode(text string) ([]int, error)

	// Decode converts token IDs back into text.
	Decode(tokens []int) (string, error)

	// MaxTokens returns the model's context window size.
	MaxTokens() int

	// Name returns the tokenizer's identifying name.
	Name() string
}

// Message is the minimal role/content pair this package counts against;
// defined locally rather than imported from llm to avoid a cycle (llm
// providers report usage through this package's estimates before a call,
// not the other way around).
type Message struct {
	Role    string
	Content string
}
