package generator

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rivo/uniseg"
	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter counts prompt tokens. All providers are approximated with the GPT-4 encoding.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter creates a counter using the GPT-4 encoding.
func NewTokenCounter() (*TokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec: %w", err)
	}
	return &TokenCounter{codec: codec}, nil
}

// Count returns the number of tokens in text.
func (tc *TokenCounter) Count(text string) int {
	if tc == nil || tc.codec == nil {
		// Fallback to character-based estimation (4 chars ≈ 1 token)
		return len(text) / 4
	}
	count, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// Truncate shortens text to at most limit tokens, cutting at token boundaries.
func (tc *TokenCounter) Truncate(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if tc == nil || tc.codec == nil {
		return graphemePrefix(text, limit*4)
	}
	ids, _, err := tc.codec.Encode(text)
	if err != nil || len(ids) <= limit {
		return text
	}
	out, err := tc.codec.Decode(ids[:limit])
	if err != nil {
		return text
	}
	if !utf8.ValidString(out) {
		// The cut fell inside a multi-byte character.
		out = strings.ToValidUTF8(out, "")
	}
	return out
}

// graphemePrefix returns the longest run of whole grapheme clusters of text that fits in maxBytes.
func graphemePrefix(text string, maxBytes int) string {
	if len(text) <= maxBytes {
		return text
	}
	var b strings.Builder
	g := uniseg.NewGraphemes(text)
	for g.Next() {
		if b.Len()+len(g.Str()) > maxBytes {
			break
		}
		b.WriteString(g.Str())
	}
	return b.String()
}
