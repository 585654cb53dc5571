package shape

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	reSpaces   = regexp.MustCompile(` +`)
	reNewlines = regexp.MustCompile(`\n+`)
	reLeading  = regexp.MustCompile(`\n +`)
	reTrailing = regexp.MustCompile(` +\n`)
	reDashes   = regexp.MustCompile(`-{3,}\n`)
	reImage    = regexp.MustCompile(`(?i)\[image\]`)
	reHTMLWS   = regexp.MustCompile(`[ \t\r\n\f]+`)
)

var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Ul: true, atom.Ol: true, atom.Table: true,
	atom.Tr: true, atom.Blockquote: true, atom.Pre: true, atom.Section: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
}

// HTMLToText renders rich-text field HTML as plain text with collapsed
// whitespace. Input that fails to parse is normalized as-is.
func HTMLToText(s string) string {
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return normalizeText(s)
	}
	var b strings.Builder
	renderText(&b, doc, false)
	return normalizeText(b.String())
}

func renderText(b *strings.Builder, n *html.Node, pre bool) {
	switch n.Type {
	case html.TextNode:
		if pre {
			b.WriteString(n.Data)
		} else {
			b.WriteString(reHTMLWS.ReplaceAllString(n.Data, " "))
		}
		return
	case html.ElementNode:
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Head, atom.Img:
			return
		case atom.Br:
			b.WriteString("\n")
			return
		case atom.Hr:
			b.WriteString("\n---\n")
			return
		case atom.Li:
			b.WriteString("\n* ")
		case atom.Td, atom.Th:
			defer b.WriteString(" ")
		}
		if blockElements[n.DataAtom] {
			b.WriteString("\n")
			defer b.WriteString("\n")
		}
		pre = pre || n.DataAtom == atom.Pre
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderText(b, c, pre)
	}
}

func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\t", " ")
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = strings.ReplaceAll(s, "─", "-")
	s = reImage.ReplaceAllString(s, "")
	s = reSpaces.ReplaceAllString(s, " ")
	s = reNewlines.ReplaceAllString(s, "\n")
	s = reLeading.ReplaceAllString(s, "\n")
	s = reTrailing.ReplaceAllString(s, "\n")
	s = reDashes.ReplaceAllString(s, "---\n")
	return strings.TrimSpace(s)
}
