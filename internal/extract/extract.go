// Package extract turns fetched HTML into documents the headless host can
// serve to injected programs.
package extract

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// Page is a parsed HTML page. It is read-only after Parse.
type Page struct {
	Title string
	// Text is the readable body text with navigation and boilerplate removed.
	Text string

	doc *goquery.Document
}

// Parse decodes input using contentType's charset (or the page's meta tag)
// and parses it.
func Parse(input []byte, contentType string) (*Page, error) {
	r, err := charset.NewReader(bytes.NewReader(input), contentType)
	if err != nil {
		return nil, fmt.Errorf("decode charset: %w", err)
	}
	return parse(r)
}

// FromHTML parses UTF-8 input. Malformed markup yields an empty page.
func FromHTML(input []byte) *Page {
	p, err := parse(bytes.NewReader(input))
	if err != nil {
		return &Page{}
	}
	return p
}

func parse(r io.Reader) (*Page, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)
	p := &Page{
		Title: strings.TrimSpace(doc.Find("head > title").First().Text()),
		doc:   doc,
	}
	content := doc.Find("main").First()
	if content.Length() == 0 {
		content = doc.Find("article").First()
	}
	if content.Length() == 0 {
		content = doc.Find("body").First()
	}
	if n := content.Get(0); n != nil {
		var b strings.Builder
		collectText(&b, n, false, true)
		p.Text = normalizeWhitespace(b.String())
	}
	return p, nil
}

// TextByID returns the rendered text of the element with the given id, the
// way a browser's innerText would: whitespace inside pre is kept verbatim,
// br and list items break lines.
func (p *Page) TextByID(id string) (string, bool) {
	if p == nil || p.doc == nil || id == "" {
		return "", false
	}
	var node *html.Node
	p.doc.Find("[id]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if v, _ := s.Attr("id"); v == id {
			node = s.Get(0)
			return false
		}
		return true
	})
	if node == nil {
		return "", false
	}
	pre := isPre(node)
	var b strings.Builder
	for c := node.FirstChild; c != nil; c = c.NextSibling {
		collectText(&b, c, pre, false)
	}
	text := strings.TrimRight(b.String(), "\n")
	if !pre {
		text = strings.TrimLeft(text, "\n")
	}
	return text, true
}

func isPre(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch strings.ToLower(n.Data) {
	case "pre", "code", "textarea":
		return true
	}
	return false
}

// collectText writes the text under n. With readable set, page chrome
// (nav, footer, consent banners) is skipped.
func collectText(b *strings.Builder, n *html.Node, inPre, readable bool) {
	if n.Type == html.ElementNode {
		if readable && isBoilerplateContainer(n) {
			return
		}
		switch strings.ToLower(n.Data) {
		case "script", "style", "noscript", "template", "iframe":
			return
		case "nav", "footer", "aside":
			if readable {
				return
			}
		case "br", "hr":
			b.WriteString("\n")
		case "p", "h1", "h2", "h3", "h4", "h5", "h6", "ul", "ol", "div", "tr":
			if !inPre {
				b.WriteString("\n")
			}
		}
		if isPre(n) {
			inPre = true
		}
	}

	if n.Type == html.TextNode {
		data := n.Data
		if !inPre {
			data = strings.NewReplacer("\t", " ", "\r", " ", "\n", " ").Replace(data)
		}
		b.WriteString(data)
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(b, c, inPre, readable)
	}

	if n.Type == html.ElementNode {
		switch strings.ToLower(n.Data) {
		case "p", "h1", "h2", "h3", "h4", "h5", "h6":
			if !inPre {
				b.WriteString("\n\n")
			}
		case "li", "tr":
			b.WriteString("\n")
		case "pre":
			if readable {
				b.WriteString("\n")
			}
		}
	}
}

// isBoilerplateContainer reports cookie and consent banners.
func isBoilerplateContainer(n *html.Node) bool {
	for _, attr := range n.Attr {
		key := strings.ToLower(attr.Key)
		if key != "id" && key != "class" && key != "aria-label" && key != "role" && !strings.HasPrefix(key, "data-") {
			continue
		}
		val := strings.ToLower(attr.Val)
		for _, marker := range []string{"cookie", "consent", "gdpr"} {
			if strings.Contains(val, marker) {
				return true
			}
		}
	}
	return false
}

func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.Join(strings.Fields(line), " ")
		if trimmed == "" {
			if len(out) > 0 && out[len(out)-1] == "" {
				continue
			}
			if len(out) == 0 {
				continue
			}
		}
		out = append(out, trimmed)
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}
