// Package chunker groups normalized text into retrieval-sized chunks using
// embedding-similarity clustering of contiguous sentences.
package chunker

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"learnmate-go/internal/split"
)

// Embedder is the embedding-provider capability the clustering relies on.
// Satisfied by embedding.Client.
type Embedder interface {
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// boundaryThreshold: adjacent sentences less similar than this start a new
// chunk even when the token budget has room.
const boundaryThreshold = 0.72

var sentenceEnd = regexp.MustCompile(`([.!?])\s+`)

// Chunker clusters contiguous sentences into topically coherent chunks,
// each within the configured token bound, original order preserved.
type Chunker struct {
	embedder  Embedder
	maxTokens int
	count     split.TokenCounter
}

// New builds a Chunker. counter nil selects the byte-ratio default.
func New(embedder Embedder, maxTokens int, counter split.TokenCounter) (*Chunker, error) {
	if maxTokens <= 0 {
		return nil, fmt.Errorf("chunker: max tokens must be positive, got %d", maxTokens)
	}
	if counter == nil {
		counter = split.ByteRatioCounter(0)
	}
	return &Chunker{embedder: embedder, maxTokens: maxTokens, count: counter}, nil
}

// Chunk splits text into ordered chunks, each within the token bound.
func (c *Chunker) Chunk(ctx context.Context, text string) ([]string, error) {
	sentences := c.splitSentences(text)
	if len(sentences) == 0 {
		return nil, nil
	}
	if len(sentences) == 1 {
		return sentences, nil
	}

	vectors, err := c.embedder.CreateEmbeddings(ctx, sentences)
	if err != nil {
		return nil, fmt.Errorf("embed sentences for clustering: %w", err)
	}

	var chunks []string
	var current []string
	currentTokens := 0
	for i, sentence := range sentences {
		tokens := c.count(sentence)
		startNew := false
		if len(current) > 0 {
			if currentTokens+tokens > c.maxTokens {
				startNew = true
			} else if cosine(vectors[i-1], vectors[i]) < boundaryThreshold {
				startNew = true
			}
		}
		if startNew {
			chunks = append(chunks, strings.Join(current, " "))
			current = current[:0]
			currentTokens = 0
		}
		current = append(current, sentence)
		currentTokens += tokens
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks, nil
}

// splitSentences breaks text on sentence punctuation and paragraph breaks,
// then hard-splits any piece that alone exceeds the token bound.
func (c *Chunker) splitSentences(text string) []string {
	marked := sentenceEnd.ReplaceAllString(text, "$1\x00")
	marked = strings.ReplaceAll(marked, "\n", "\x00")

	var sentences []string
	for _, piece := range strings.Split(marked, "\x00") {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		sentences = append(sentences, c.hardSplit(piece)...)
	}
	return sentences
}

// hardSplit breaks one oversized span into bound-sized rune slices.
func (c *Chunker) hardSplit(piece string) []string {
	if c.count(piece) <= c.maxTokens {
		return []string{piece}
	}
	runes := []rune(piece)
	size := len(runes)
	// Proportional slicing: a span at N times the budget becomes ~N slices,
	// with extra passes when the counter disagrees with the estimate.
	for parts := (c.count(piece) + c.maxTokens - 1) / c.maxTokens; ; parts++ {
		step := size / parts
		if step < 1 {
			step = 1
		}
		out := make([]string, 0, parts)
		fits := true
		for start := 0; start < size; start += step {
			end := start + step
			if end > size {
				end = size
			}
			slice := strings.TrimSpace(string(runes[start:end]))
			if slice == "" {
				continue
			}
			if c.count(slice) > c.maxTokens {
				fits = false
				break
			}
			out = append(out, slice)
		}
		if fits || step == 1 {
			return out
		}
	}
}

// cosine similarity over float32 vectors; zero vectors compare as 0.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
