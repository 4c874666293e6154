package extract

import (
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"
)

// decodePlainText detects the byte encoding and decodes to UTF-8.
// Detection that comes back inconclusive falls through to the detector's
// default; undecodable sequences become U+FFFD instead of an error.
func decodePlainText(raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	if utf8.Valid(raw) {
		return string(raw), nil
	}

	enc, _, _ := charset.DetermineEncoding(raw, "")
	decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(raw), enc.NewDecoder()))
	if err != nil {
		return "", fmt.Errorf("decode text: %w", err)
	}
	// Replace any sequences the decoder let through as invalid UTF-8.
	return string(bytes.ToValidUTF8(decoded, []byte("�"))), nil
}
