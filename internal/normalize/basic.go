// Package normalize implements the deterministic rule-based text cleanup
// applied to freshly extracted text before the semantic passes.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	reControl        = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
	reHyphenNewline  = regexp.MustCompile(`(\w)-\n(\w)`)
	reHyphenWord     = regexp.MustCompile(`(\w)-(\w)`)
	reLowerUpper     = regexp.MustCompile(`([a-z])([A-Z])`)
	reDigitLetter    = regexp.MustCompile(`(\d)([a-zA-Z])`)
	reLetterDigit    = regexp.MustCompile(`([a-zA-Z])(\d)`)
	reSpaces         = regexp.MustCompile(` +`)
	reNewlines       = regexp.MustCompile(`\n+`)
)

// ligatures maps glyphs that survive transliteration to their letter pairs.
var ligatures = strings.NewReplacer(
	"ﬁ", "fi",
	"ﬀ", "ff",
	"ﬂ", "fl",
	"ﬃ", "ffi",
	"ﬄ", "ffl",
)

// asciiFold decomposes (NFKD), drops combining marks, then drops anything
// still outside ASCII.
var asciiFold = transform.Chain(
	norm.NFKD,
	runes.Remove(runes.In(unicode.Mn)),
	runes.Remove(runes.Predicate(func(r rune) bool { return r > 0x7F })),
)

// Basic runs the normalization rule pipeline. The rules are order-sensitive
// and the whole pipeline is idempotent: Basic(Basic(x)) == Basic(x).
func Basic(text string) string {
	if text == "" {
		return ""
	}

	// 1. Transliterate to ASCII, dropping non-representable characters.
	//    Ligature glyphs decompose to their letter pairs here.
	if folded, _, err := transform.String(asciiFold, text); err == nil {
		text = folded
	}

	// 2. Tabs become spaces, other control characters are stripped.
	//    Newlines survive for the paragraph-collapse step below.
	text = strings.ReplaceAll(text, "\t", " ")
	text = reControl.ReplaceAllString(text, "")

	// 3. Rejoin hyphen-split word fragments, looped to a fixpoint so chains
	//    like "re-in-state" fully collapse in one pipeline run.
	text = replaceUntilStable(reHyphenNewline, text, "$1$2")
	text = replaceUntilStable(reHyphenWord, text, "$1$2")

	// 4. Re-space run-together tokens from column extraction.
	text = reLowerUpper.ReplaceAllString(text, "$1 $2")
	text = reDigitLetter.ReplaceAllString(text, "$1 $2")
	text = reLetterDigit.ReplaceAllString(text, "$1 $2")

	// 5. Collapse space runs, then newline runs, then trim.
	text = reSpaces.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)

	// 6. Restore any ligature glyphs that slipped through and turn degree
	//    artifacts into spaces.
	text = ligatures.Replace(text)
	text = strings.ReplaceAll(text, "°", " ")

	text = reNewlines.ReplaceAllString(text, "\n")
	text = reSpaces.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func replaceUntilStable(re *regexp.Regexp, text, repl string) string {
	for {
		next := re.ReplaceAllString(text, repl)
		if next == text {
			return next
		}
		text = next
	}
}
