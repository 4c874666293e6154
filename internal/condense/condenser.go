// Package condense performs the language-model-assisted cleanup pass that
// removes extraction noise without losing information.
package condense

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"learnmate-go/pkg/llm"
	"learnmate-go/pkg/log"
)

// instructions is the fixed system instruction set for the cleanup call.
// The absolute priority is zero information loss: ambiguous spans must be
// preserved verbatim rather than removed.
const instructions = `You are an expert AI agent specializing in cleaning text extracted from documents to optimize its quality for use in a Retrieval-Augmented Generation (RAG) system. Transform the raw, often noisy text inside backticks into a clean, coherent format while meticulously preserving every piece of original information and its context.

Your responsibilities:

1. Eliminate extraneous content: remove headers, footers, page numbers, watermarks and other repetitive non-content elements introduced during extraction. Never remove content that merely looks similar but belongs to the main text.

2. Correct line breaks and hyphenation: join words split across lines, using the surrounding context to avoid merging words that simply happen to sit at line boundaries.

3. Standardize spacing and formatting: consistent spacing between words, sentences and paragraphs; remove redundant spaces, tabs and unnecessary line breaks.

4. Maintain structural integrity: preserve paragraph breaks, bullet points, numbered lists and section headings where discernible.

5. Handle special elements with care. Tables: retain their structure with clear delimiters, never dropping cells; if structure cannot be kept, keep all data in readable form. Code blocks: demarcate with triple backticks, content unmodified. Equations: preserve in a readable form, LaTeX-style if it helps, never altering meaning.

6. Absolute information preservation is paramount: no factual information, data, figures, terminology or context may be lost. When uncertain whether to remove or modify a span, preserve it exactly as it appears.

7. Output format: a single continuous string of clean text with logical paragraph breaks as double line breaks. Introduce no new information, no rephrasing, no change of meaning.`

// codeFencePrefixes are known preamble artifacts some models prepend.
var codeFencePrefixes = []string{
	"```plaintext\n",
	"\n```plaintext\n",
	"```text\n",
}

// Condenser runs the cleanup call against the language-model service,
// rate-limited because this is the pipeline's cost bottleneck.
type Condenser struct {
	client  llm.Client
	limiter *rate.Limiter
}

// New creates a Condenser. callsPerMinute <= 0 disables rate limiting.
func New(client llm.Client, callsPerMinute int) *Condenser {
	var limiter *rate.Limiter
	if callsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(callsPerMinute)/60.0), 1)
	}
	return &Condenser{client: client, limiter: limiter}
}

// Condense reformats text losslessly through one model call. Errors are
// propagated — never swallowed into empty output — so the orchestrator can
// decide between fallback and abort.
func (c *Condenser) Condense(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("condense rate wait: %w", err)
		}
	}

	messages := []llm.Message{
		{Role: "system", Content: instructions},
		{Role: "user", Content: "```\n" + text + "\n```"},
	}
	zero := 0.0
	out, err := c.client.Chat(ctx, messages, &llm.GenerationParams{Temperature: &zero})
	if err != nil {
		return "", fmt.Errorf("condense model call: %w", err)
	}
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("condense model call: empty response")
	}

	cleaned := stripFenceArtifact(out)
	log.Infof("[Condenser] condensed %d -> %d characters", len(text), len(cleaned))
	return cleaned, nil
}

// stripFenceArtifact removes a leading code-fence preamble and a matching
// trailing fence when the model wrapped its whole output.
func stripFenceArtifact(out string) string {
	for _, prefix := range codeFencePrefixes {
		if strings.HasPrefix(out, prefix) {
			out = strings.TrimPrefix(out, prefix)
			out = strings.TrimSuffix(strings.TrimRight(out, "\n"), "\n```")
			break
		}
	}
	return out
}
