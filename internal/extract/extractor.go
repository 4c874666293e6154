// Package extract converts raw files into plain text by format.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"learnmate-go/internal/model"
	"learnmate-go/pkg/log"
)

// Extraction errors. All are terminal for the document being processed.
var (
	ErrFileNotFound      = errors.New("file not found")
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrExtractionFailed  = errors.New("extraction failed")
)

// RichExtractor extracts text from binary document formats (pdf, word,
// unstructured). Satisfied by tika.Client.
type RichExtractor interface {
	ExtractText(ctx context.Context, fileReader io.Reader, fileName string) (string, error)
}

// Extractor dispatches extraction by file-extension-derived format.
type Extractor struct {
	rich RichExtractor
}

// New creates an Extractor backed by the given rich-format extractor.
func New(rich RichExtractor) *Extractor {
	return &Extractor{rich: rich}
}

// richExtensions are formats delegated to the rich extractor beyond pdf and
// word documents.
var richExtensions = map[string]bool{
	".html": true, ".htm": true, ".rtf": true, ".csv": true,
	".pptx": true, ".ppt": true, ".xlsx": true, ".xls": true,
	".epub": true, ".odt": true,
}

// FormatForName maps a file name to its format tag.
func FormatForName(fileName string) (model.Format, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".pdf":
		return model.FormatPDF, nil
	case ".md", ".markdown":
		return model.FormatMarkdown, nil
	case ".txt", ".text":
		return model.FormatPlainText, nil
	case ".docx", ".doc":
		return model.FormatWordDocument, nil
	}
	if richExtensions[ext] {
		return model.FormatUnstructured, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
}

// ExtractFile reads the file at path and extracts its text.
func (e *Extractor) ExtractFile(ctx context.Context, path string) (string, model.Format, error) {
	format, err := FormatForName(path)
	if err != nil {
		return "", "", err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", "", fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return "", "", fmt.Errorf("%w: read %s: %v", ErrExtractionFailed, path, err)
	}
	text, err := e.Extract(ctx, raw, filepath.Base(path), format)
	return text, format, err
}

// Extract converts raw bytes of the given format into plain text.
func (e *Extractor) Extract(ctx context.Context, raw []byte, fileName string, format model.Format) (string, error) {
	var (
		text string
		err  error
	)
	switch format {
	case model.FormatPlainText:
		text, err = decodePlainText(raw)
	case model.FormatMarkdown:
		text, err = extractMarkdown(raw)
	case model.FormatPDF, model.FormatWordDocument, model.FormatUnstructured:
		text, err = e.rich.ExtractText(ctx, bytes.NewReader(raw), fileName)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		log.Errorf("[Extractor] extraction failed, file: %s, format: %s, error: %v", fileName, format, err)
		if errors.Is(err, ErrExtractionFailed) {
			return "", err
		}
		return "", fmt.Errorf("%w: %s: %v", ErrExtractionFailed, fileName, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: %s: no text content", ErrExtractionFailed, fileName)
	}
	return text, nil
}
