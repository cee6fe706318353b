// Package wikihtml flattens rendered wiki HTML into chat markup.
//
// The output uses the small markdown dialect understood by chat clients:
// **bold**, *italic*, [text](<url>) links with previews suppressed, "#"
// headings limited to three levels, and "-" or "N." list markers.
package wikihtml

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	horizontalSpace = regexp.MustCompile(`[ \t\x{00a0}]+`)
	blankLines      = regexp.MustCompile(`\n\s*\n`)
	spaceRuns       = regexp.MustCompile(` +`)
	linkBrackets    = strings.NewReplacer("[", `\[`, "]", `\]`)

	// chatLink matches the link target this package emits, so that converted
	// text survives another pass through the HTML parser.
	chatLink = regexp.MustCompile(`\]\(<[^<>\s]*>\)`)
)

// noiseSelector matches the elements that never reach chat.
const noiseSelector = "style, script, input, table, figure, " +
	".thumb, .mw-editsection, sup.reference, .noprint, .nomobile, .error, " +
	".ext-floatingui-content, .portable-infobox, [class*=infobox]"

// Parse parses an HTML fragment into a detached <div> root.
func Parse(fragment string) (*html.Node, error) {
	context := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), context)
	if err != nil {
		return nil, err
	}
	root := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	for _, n := range nodes {
		root.AppendChild(n)
	}
	return root, nil
}

// Convert flattens an HTML fragment into chat markup. Relative links are
// resolved against baseURL.
func Convert(fragment, baseURL string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}
	root, err := Parse(chatLink.ReplaceAllStringFunc(fragment, html.EscapeString))
	if err != nil {
		return normalize(fragment)
	}
	return ConvertNode(root, baseURL)
}

// ConvertNode flattens an already parsed tree. Noise subtrees are detached
// from root in place.
func ConvertNode(root *html.Node, baseURL string) string {
	if root == nil {
		return ""
	}
	StripNoise(root)
	start := root
	if content := goquery.NewDocumentFromNode(root).Find(".mw-parser-output").First(); content.Length() > 0 {
		start = content.Get(0)
	}
	c := converter{base: parseBase(baseURL)}
	return normalize(c.children(start))
}

// StripNoise detaches every element matching noiseSelector from the tree.
func StripNoise(root *html.Node) {
	goquery.NewDocumentFromNode(root).Find(noiseSelector).Remove()
}

type converter struct {
	base *url.URL
}

func (c converter) children(n *html.Node) string {
	var b strings.Builder
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		b.WriteString(c.node(child))
	}
	return b.String()
}

// listChildren skips the whitespace text between list items so items are not
// separated by blank lines.
func (c converter) listChildren(n *html.Node) string {
	var b strings.Builder
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.TextNode && strings.TrimSpace(child.Data) == "" {
			continue
		}
		b.WriteString(c.node(child))
	}
	return b.String()
}

func (c converter) node(n *html.Node) string {
	switch n.Type {
	case html.TextNode:
		return n.Data
	case html.ElementNode, html.DocumentNode:
	default:
		return ""
	}

	switch n.DataAtom {
	case atom.Ul, atom.Ol:
		return c.listChildren(n)
	case atom.Br:
		return "\n"
	}

	inner := c.children(n)
	switch n.DataAtom {
	case atom.B, atom.Strong:
		return wrap("**", inner)
	case atom.I, atom.Em:
		return wrap("*", inner)
	case atom.A:
		return c.link(n, inner)
	case atom.P, atom.Div, atom.Dt, atom.Dd:
		return inner + "\n"
	case atom.Li:
		text := strings.TrimSpace(inner)
		if text == "" {
			return ""
		}
		return listMarker(n) + text + "\n"
	case atom.H1:
		return heading("#", inner)
	case atom.H2:
		return heading("##", inner)
	case atom.H3, atom.H4, atom.H5, atom.H6:
		return heading("###", inner)
	default:
		return inner
	}
}

func (c converter) link(n *html.Node, inner string) string {
	href, ok := attr(n, "href")
	if !ok {
		return inner
	}
	text := strings.TrimSpace(inner)
	if text == "" {
		return ""
	}
	return "[" + linkBrackets.Replace(text) + "](<" + absoluteURL(c.base, href) + ">)"
}

func wrap(marker, inner string) string {
	text := strings.TrimSpace(inner)
	if text == "" {
		return ""
	}
	return marker + text + marker
}

func heading(marker, inner string) string {
	text := strings.TrimSpace(inner)
	if text == "" {
		return ""
	}
	return "\n" + marker + " " + text + "\n"
}

func listMarker(li *html.Node) string {
	parent := li.Parent
	if parent == nil || parent.DataAtom != atom.Ol {
		return "- "
	}
	n := 1
	if start, ok := attr(parent, "start"); ok {
		if v, err := strconv.Atoi(strings.TrimSpace(start)); err == nil {
			n = v
		}
	}
	for sib := parent.FirstChild; sib != nil && sib != li; sib = sib.NextSibling {
		if sib.Type == html.ElementNode && sib.DataAtom == atom.Li {
			n++
		}
	}
	return strconv.Itoa(n) + ". "
}

func normalize(text string) string {
	text = horizontalSpace.ReplaceAllString(text, " ")
	text = blankLines.ReplaceAllString(text, "\n\n")
	text = spaceRuns.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}
