package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"golang.org/x/net/html"
)

// extractMarkdown renders markdown to HTML and keeps only the visible text,
// one block element per line.
func extractMarkdown(raw []byte) (string, error) {
	var rendered bytes.Buffer
	if err := goldmark.Convert(raw, &rendered); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}

	root, err := html.Parse(&rendered)
	if err != nil {
		return "", fmt.Errorf("parse rendered markdown: %w", err)
	}

	var sb strings.Builder
	collectText(root, &sb)
	return strings.TrimSpace(sb.String()), nil
}

func collectText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
		return
	}
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb)
	}
	if n.Type == html.ElementNode && isBlockElement(n.Data) {
		sb.WriteString("\n")
	}
}

func isBlockElement(tag string) bool {
	switch tag {
	case "p", "div", "h1", "h2", "h3", "h4", "h5", "h6",
		"li", "ul", "ol", "pre", "blockquote", "table", "tr", "br":
		return true
	}
	return false
}
