// Package enrich produces short LLM-generated summaries that situate a
// chunk within its whole document before embedding. Retrieval precision
// improves at the cost of one generation call per chunk.
package enrich

import (
	"context"
	"fmt"
)

// GenerateFunc is the generation capability the enricher delegates to.
type GenerateFunc func(ctx context.Context, prompt, systemPrompt string) (string, error)

const systemTemplate = `<document>
%s
</document>`

const chunkTemplate = `Here is the chunk we want to situate within the whole document
<chunk>
%s
</chunk>

Please give a short succinct context to situate this chunk within the overall document for the purposes of improving search retrieval of the chunk. Answer only with the succinct context and nothing else.`

// Situate asks the model for a succinct situating context for chunkText
// within documentText and returns the answer verbatim. The chunk itself is
// never modified; callers keep the summary as a separate field.
func Situate(ctx context.Context, documentText, chunkText string, generate GenerateFunc) (string, error) {
	prompt := fmt.Sprintf(chunkTemplate, chunkText)
	system := fmt.Sprintf(systemTemplate, documentText)

	out, err := generate(ctx, prompt, system)
	if err != nil {
		return "", fmt.Errorf("situate chunk: %w", err)
	}
	return out, nil
}

// Contextualize combines a chunk with its situating summary into the text
// that is actually embedded. The stored document keeps this exact shape so
// the raw chunk remains recoverable for full-text indexing.
func Contextualize(chunkText, summary string) string {
	return chunkText + "\n\nContextual Summary: " + summary
}
