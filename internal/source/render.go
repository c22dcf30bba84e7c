package source

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Renderer turns source entities into the documents written to the remote
// tree.
type Renderer struct{}

func NewRenderer() *Renderer {
	return &Renderer{}
}

// CollectionReadme is the marker document stored at <collection>/README.md.
func (r *Renderer) CollectionReadme(c *Collection) string {
	return fmt.Sprintf("# [%s](%s)\n\n%s", c.Name, c.Link(), c.Description)
}

// CardDocument renders a card with a title line linking back to the source.
func (r *Renderer) CardDocument(c *Card) (string, error) {
	body, err := r.convertBody(c.Content)
	if err != nil {
		return "", fmt.Errorf("convert card %s: %w", c.ID, err)
	}
	return fmt.Sprintf("# [%s](%s)\n\n%s", c.Title, c.Link(), body), nil
}

// convertBody replaces every iframe that has a src with the bare src URL.
func (r *Renderer) convertBody(content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return content, nil
	}

	context := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(content), context)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	for _, n := range nodes {
		n = replaceIframes(n)
		if err := html.Render(&buf, n); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

func replaceIframes(n *html.Node) *html.Node {
	if src, ok := iframeSrc(n); ok {
		return &html.Node{Type: html.TextNode, Data: src}
	}
	for child := n.FirstChild; child != nil; {
		next := child.NextSibling
		if src, ok := iframeSrc(child); ok {
			n.InsertBefore(&html.Node{Type: html.TextNode, Data: src}, child)
			n.RemoveChild(child)
		} else {
			replaceIframes(child)
		}
		child = next
	}
	return n
}

func iframeSrc(n *html.Node) (string, bool) {
	if n.Type != html.ElementNode || n.DataAtom != atom.Iframe {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Key == "src" {
			return a.Val, true
		}
	}
	return "", false
}
