// Package htmlutil extracts the visible text of HTML pages as blocks.
package htmlutil

import (
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/happyhackingspace/seqlab/internal/textutil"
)

// LoadHTML parses HTML bytes into a goquery Document.
func LoadHTML(r io.Reader) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(r)
}

// LoadHTMLString parses HTML string into a goquery Document.
func LoadHTMLString(htmlStr string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
}

// LooksLikeHTML reports whether content starts like an HTML document.
func LooksLikeHTML(content string) bool {
	s := strings.ToLower(strings.TrimSpace(content))
	return strings.HasPrefix(s, "<!doctype html") || strings.HasPrefix(s, "<html") ||
		strings.HasPrefix(s, "<head") || strings.HasPrefix(s, "<body")
}

var skipped = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true,
	"head": true, "svg": true, "iframe": true,
}

var blockLevel = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true,
	"br": true, "dd": true, "div": true, "dl": true, "dt": true,
	"fieldset": true, "figcaption": true, "figure": true, "footer": true,
	"form": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true,
	"h6": true, "header": true, "hr": true, "li": true, "main": true,
	"nav": true, "ol": true, "p": true, "pre": true, "section": true,
	"table": true, "td": true, "th": true, "tr": true, "ul": true,
	"option": true, "label": true, "button": true,
}

// Title returns the document title with whitespace normalized.
func Title(doc *goquery.Document) string {
	return strings.TrimSpace(textutil.NormalizeWhitespaces(doc.Find("title").First().Text()))
}

// Blocks returns the visible text of the document split at block-level
// element boundaries, in document order. Empty blocks are dropped.
func Blocks(doc *goquery.Document) []string {
	var blocks []string
	var buf []string

	flushBuf := func() {
		var parts []string
		for _, b := range buf {
			trimmed := strings.TrimSpace(b)
			if trimmed != "" {
				parts = append(parts, textutil.NormalizeWhitespaces(trimmed))
			}
		}
		buf = buf[:0]
		if len(parts) > 0 {
			blocks = append(blocks, strings.Join(parts, " "))
		}
	}

	var visit func(n *html.Node)
	visit = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			buf = append(buf, n.Data)
			return
		case html.ElementNode:
			if skipped[n.Data] {
				return
			}
			if blockLevel[n.Data] {
				flushBuf()
				defer flushBuf()
			}
		case html.CommentNode:
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}

	for _, n := range doc.Nodes {
		visit(n)
	}
	flushBuf()
	return blocks
}
