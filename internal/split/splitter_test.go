package split

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByteRatioCounter(t *testing.T) {
	count := ByteRatioCounter(4)
	assert.Equal(t, 0, count(""))
	assert.Equal(t, 1, count("abc"))
	assert.Equal(t, 1, count("abcd"))
	assert.Equal(t, 2, count("abcde"))
	// Multi-byte runes count by UTF-8 length.
	assert.Equal(t, 2, count("日本"))

	// Non-positive ratios select the default of 4.
	assert.Equal(t, ByteRatioCounter(0)("abcdefgh"), 2)
}

func TestNewSplitter_Validation(t *testing.T) {
	_, err := NewSplitter(0, 0, nil)
	assert.Error(t, err)

	_, err = NewSplitter(10, -1, nil)
	assert.Error(t, err)

	_, err = NewSplitter(10, 10, nil)
	assert.Error(t, err)

	s, err := NewSplitter(10, 2, nil)
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestSplit_ShortTextPassesThrough(t *testing.T) {
	s, err := NewSplitter(100, 10, nil)
	require.NoError(t, err)

	windows, err := s.Split("short text")
	require.NoError(t, err)
	assert.Equal(t, []string{"short text"}, windows)
}

func TestSplit_Empty(t *testing.T) {
	s, err := NewSplitter(100, 10, nil)
	require.NoError(t, err)

	windows, err := s.Split("")
	require.NoError(t, err)
	assert.Nil(t, windows)
}

func TestSplit_WindowsRespectBoundAndOverlap(t *testing.T) {
	s, err := NewSplitter(10, 2, nil)
	require.NoError(t, err)
	count := ByteRatioCounter(0)

	text := strings.Repeat("a", 200)
	windows, err := s.Split(text)
	require.NoError(t, err)
	require.Len(t, windows, 6)

	for i, w := range windows {
		assert.LessOrEqual(t, count(w), 10, "window %d over token bound", i)
	}

	// Consecutive windows share the configured overlap.
	for i := 1; i < len(windows); i++ {
		prev := windows[i-1]
		assert.Equal(t, prev[len(prev)-8:], windows[i][:8], "windows %d/%d overlap", i-1, i)
	}

	// Dropping each window's overlap prefix reassembles the original text.
	var rebuilt strings.Builder
	rebuilt.WriteString(windows[0])
	for i := 1; i < len(windows); i++ {
		rebuilt.WriteString(windows[i][8:])
	}
	assert.Equal(t, text, rebuilt.String())
}

func TestSplit_OrderPreserved(t *testing.T) {
	s, err := NewSplitter(10, 2, nil)
	require.NoError(t, err)

	// Distinct runes let window order be checked against text order.
	runes := []rune("abcdefghijklmnopqrstuvwxyz")
	var b strings.Builder
	for i := 0; i < 130; i++ {
		b.WriteRune(runes[i%len(runes)])
	}
	text := b.String()

	windows, err := s.Split(text)
	require.NoError(t, err)
	require.NotEmpty(t, windows)

	pos := 0
	for i, w := range windows {
		idx := strings.Index(text[pos:], w)
		require.GreaterOrEqual(t, idx, 0, "window %d not found in order", i)
		pos += idx + 1
	}
}

func TestSplit_ShrinksWhenCounterDisagrees(t *testing.T) {
	// A counter that reports double the byte-ratio estimate forces the
	// shrink loop to engage on every window.
	double := func(s string) int { return (len(s) + 1) / 2 }
	s, err := NewSplitter(20, 2, double)
	require.NoError(t, err)

	text := strings.Repeat("x", 500)
	windows, err := s.Split(text)
	require.NoError(t, err)
	require.NotEmpty(t, windows)
	for i, w := range windows {
		assert.LessOrEqual(t, double(w), 20, "window %d over token bound", i)
	}
}

func TestSplit_WindowTooSmall(t *testing.T) {
	// A pathological counter that never fits trips the guard instead of
	// looping forever.
	huge := func(s string) int {
		if s == "" {
			return 0
		}
		return 1 << 20
	}
	s, err := NewSplitter(10, 2, huge)
	require.NoError(t, err)

	_, err = s.Split(strings.Repeat("y", 1000))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWindowTooSmall)
}
