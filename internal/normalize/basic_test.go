package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBasic_Transliteration(t *testing.T) {
	assert.Equal(t, "Hello World", Basic("Héllo Wórld"))
	assert.Equal(t, "resume", Basic("résumé"))
	// Non-representable characters are dropped, not replaced.
	assert.Equal(t, "price: 100", Basic("price: 100 €"))
}

func TestBasic_Ligatures(t *testing.T) {
	assert.Equal(t, "fish office baffle", Basic("ﬁsh oﬃce baﬄe"))
}

func TestBasic_ControlCharacters(t *testing.T) {
	assert.Equal(t, "a b", Basic("a\tb"))
	assert.Equal(t, "ab", Basic("a\x01\x02b"))
	// Newlines survive as paragraph breaks.
	assert.Equal(t, "a\nb", Basic("a\nb"))
}

func TestBasic_HyphenRejoining(t *testing.T) {
	// Word split across a line break.
	assert.Equal(t, "experiment", Basic("experi-\nment"))
	// Intra-word hyphens collapse too.
	assert.Equal(t, "reuse", Basic("re-use"))
	// Chains collapse fully in a single pipeline run.
	assert.Equal(t, "stateoftheart", Basic("state-of-the-art"))
	// A trailing hyphen with no word character after it is untouched.
	assert.Equal(t, "well -", Basic("well -"))
}

func TestBasic_RunTogetherTokens(t *testing.T) {
	assert.Equal(t, "hello World", Basic("helloWorld"))
	assert.Equal(t, "chapter 12", Basic("chapter12"))
	assert.Equal(t, "42 answers", Basic("42answers"))
}

func TestBasic_WhitespaceCollapse(t *testing.T) {
	assert.Equal(t, "a b c", Basic("a    b     c"))
	assert.Equal(t, "a\nb", Basic("a\n\n\n\nb"))
	assert.Equal(t, "trimmed", Basic("   trimmed   "))
	assert.Equal(t, "Hello world.\nFoo.", Basic("Hello   world.\n\n\nFoo."))
}

func TestBasic_Empty(t *testing.T) {
	assert.Equal(t, "", Basic(""))
	assert.Equal(t, "", Basic("   \n\t  "))
}

func TestBasic_Idempotent(t *testing.T) {
	inputs := []string{
		"Héllo\tWórld",
		"experi-\nment and re-in-state",
		"state-of-the-art  helloWorld chapter12",
		"ﬁrst ﬂoor\n\n\nsecond   ﬂoor",
		"a\x01b-\nc42d",
		"",
	}
	for _, in := range inputs {
		once := Basic(in)
		assert.Equal(t, once, Basic(once), "input %q", in)
	}
}

func TestBasic_MixedDocument(t *testing.T) {
	in := "Ingé-\nnieur   report:\tchapter7 covers the state-of-the-art\n\n\nmodels."
	want := "Ingenieur report: chapter 7 covers the stateoftheart\nmodels."
	assert.Equal(t, want, Basic(in))
}
