// Package split breaks over-long text into overlapping windows bounded by a
// model's token budget.
package split

import (
	"errors"
	"fmt"
)

// TokenCounter measures the token count of a text for the target model.
type TokenCounter func(string) int

// ByteRatioCounter approximates tokens as ceil(utf8_bytes / bytesPerToken).
// bytesPerToken <= 0 selects the default of 4.
func ByteRatioCounter(bytesPerToken int) TokenCounter {
	bpt := bytesPerToken
	if bpt <= 0 {
		bpt = 4
	}
	return func(s string) int {
		n := len(s)
		if n == 0 {
			return 0
		}
		return (n + bpt - 1) / bpt
	}
}

// charsPerTokenEstimate sizes the first candidate window before measuring.
const charsPerTokenEstimate = 4

// maxFitIterations bounds the shrink loop for one window; repeated failure
// to fit is an error, never an endless loop.
const maxFitIterations = 20

// ErrWindowTooSmall reports a window that could not be shrunk under the
// token bound within the iteration and minimum-size limits.
var ErrWindowTooSmall = errors.New("window cannot be shrunk to fit token bound")

// Splitter emits overlapping windows whose measured token count never
// exceeds MaxTokens.
type Splitter struct {
	maxTokens     int
	overlapTokens int
	count         TokenCounter
}

// NewSplitter validates the bounds and builds a Splitter. counter nil
// selects the byte-ratio default.
func NewSplitter(maxTokens, overlapTokens int, counter TokenCounter) (*Splitter, error) {
	if maxTokens <= 0 {
		return nil, fmt.Errorf("split: max tokens must be positive, got %d", maxTokens)
	}
	if overlapTokens < 0 || overlapTokens >= maxTokens {
		return nil, fmt.Errorf("split: overlap must be in [0, max), got %d", overlapTokens)
	}
	if counter == nil {
		counter = ByteRatioCounter(0)
	}
	return &Splitter{maxTokens: maxTokens, overlapTokens: overlapTokens, count: counter}, nil
}

// Split returns the text as ordered overlapping windows. Text already within
// the bound comes back unchanged as a single element.
func (s *Splitter) Split(text string) ([]string, error) {
	if text == "" {
		return nil, nil
	}
	if s.count(text) <= s.maxTokens {
		return []string{text}, nil
	}

	runes := []rune(text)
	windowRunes := s.maxTokens * charsPerTokenEstimate
	overlapRunes := s.overlapTokens * charsPerTokenEstimate
	// The shrink loop may not go below this: a window this small that still
	// exceeds the bound means the counter and the estimate disagree beyond
	// repair for this input.
	minWindowRunes := overlapRunes + 1
	if floor := s.maxTokens * charsPerTokenEstimate / 10; floor > minWindowRunes {
		minWindowRunes = floor
	}

	var windows []string
	cursor := 0
	for cursor < len(runes) {
		size := windowRunes
		if cursor+size > len(runes) {
			size = len(runes) - cursor
		}

		fitted := false
		for i := 0; i < maxFitIterations; i++ {
			candidate := string(runes[cursor : cursor+size])
			if s.count(candidate) <= s.maxTokens {
				windows = append(windows, candidate)
				fitted = true
				break
			}
			shrunk := size - size/10
			if shrunk >= size {
				shrunk = size - 1
			}
			if shrunk < minWindowRunes {
				return nil, fmt.Errorf("%w: window %d at offset %d", ErrWindowTooSmall, len(windows), cursor)
			}
			size = shrunk
		}
		if !fitted {
			return nil, fmt.Errorf("%w: window %d at offset %d after %d attempts", ErrWindowTooSmall, len(windows), cursor, maxFitIterations)
		}

		if cursor+size >= len(runes) {
			break
		}
		step := size - overlapRunes
		if step <= 0 {
			step = 1
		}
		cursor += step
	}
	return windows, nil
}
