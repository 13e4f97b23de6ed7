package retriever

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/retrievald/internal/corpus"
)

// charsPerToken is the character budget granted per token. A coarse
// average for English prose; assembled context is a prompt ingredient, not
// a billing unit, so an exact tokenizer is not worth the dependency.
const charsPerToken = 4

// AssembleContext formats passages into a single prompt-ready block,
// best-first, within a token budget. Each passage carries a numbered
// citation header; when the budget cuts the list short, a trailing note
// says how many passages were dropped. maxTokens <= 0 uses the configured
// default.
func (r *Retriever) AssembleContext(passages []corpus.Passage, maxTokens int) string {
	if len(passages) == 0 {
		return ""
	}
	if maxTokens <= 0 {
		maxTokens = r.config.MaxContextTokens
	}
	maxChars := maxTokens * charsPerToken

	var (
		parts []string
		total int
	)
	for i, p := range passages {
		part := fmt.Sprintf("Passage %d (%s):\n%s\n", i+1, p.Citation(), p.Text)
		if total+len(part) > maxChars {
			parts = append(parts, fmt.Sprintf(
				"[Note: %d additional passages omitted due to context length limit]",
				len(passages)-i,
			))
			break
		}
		parts = append(parts, part)
		total += len(part)
	}
	return strings.Join(parts, "\n\n")
}
