package rag

import (
	"fmt"
	"strings"

	"github.com/tiktoken-go/tokenizer"

	"github.com/thebtf/recall/pkg/models"
)

// contextHeader introduces retrieved documents to the generation model.
const contextHeader = "Use the following retrieved documents to answer. " +
	"If they do not contain the answer, say so.\n\n"

// buildContext assembles a system prompt from search results, keeping
// whole documents in rank order until the token budget is exhausted.
// Returns an empty string when nothing fits or no results were given.
func buildContext(results []models.SearchResult, budget int) (string, error) {
	if len(results) == 0 || budget <= 0 {
		return "", nil
	}

	enc, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return "", fmt.Errorf("init tokenizer: %w", err)
	}

	var b strings.Builder
	b.WriteString(contextHeader)
	used, err := countTokens(enc, contextHeader)
	if err != nil {
		return "", err
	}

	included := 0
	for i, res := range results {
		section := fmt.Sprintf("[%d] (%s relevance)\n%s\n\n", i+1, res.Relevance, res.Document.Content)
		n, err := countTokens(enc, section)
		if err != nil {
			return "", err
		}
		if used+n > budget {
			break
		}
		b.WriteString(section)
		used += n
		included++
	}

	if included == 0 {
		return "", nil
	}
	return b.String(), nil
}

func countTokens(enc tokenizer.Codec, text string) (int, error) {
	ids, _, err := enc.Encode(text)
	if err != nil {
		return 0, fmt.Errorf("encode tokens: %w", err)
	}
	return len(ids), nil
}
