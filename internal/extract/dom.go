package extract

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Main-content candidates in priority order: element names first, then
// id values, then class substrings.
var (
	contentIDs     = []string{"content", "main", "article"}
	contentClasses = []string{"article-content", "post-content", "entry-content", "content", "post", "entry"}
	authorClasses  = []string{"author", "byline", "post-author", "entry-author"}
)

// extractFromDOM is the generic fallback extractor: it strips script,
// style and chrome elements, picks a main-content element by a priority
// list of selectors (else the document body) and flattens its text.
func extractFromDOM(rawHTML string) (Document, bool) {
	root, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return Document{}, false
	}

	stripBoilerplate(root)

	main := findMainContent(root)
	if main == nil {
		main = findElement(root, atom.Body)
	}
	if main == nil {
		return Document{}, false
	}

	text := CleanText(collectText(main))
	if text == "" {
		return Document{}, false
	}

	return Document{
		Text:   text,
		Title:  findTitle(root),
		Author: findAuthor(root),
	}, true
}

// stripBoilerplate removes script/style/nav/header/footer/aside subtrees
// in place.
func stripBoilerplate(n *html.Node) {
	var next *html.Node
	for c := n.FirstChild; c != nil; c = next {
		next = c.NextSibling
		if c.Type == html.ElementNode {
			switch c.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Nav, atom.Header, atom.Footer, atom.Aside:
				n.RemoveChild(c)
				continue
			}
		}
		stripBoilerplate(c)
	}
}

func findMainContent(root *html.Node) *html.Node {
	if n := findElement(root, atom.Main); n != nil {
		return n
	}
	if n := findElement(root, atom.Article); n != nil {
		return n
	}
	for _, id := range contentIDs {
		if n := findByAttr(root, "id", id, false); n != nil {
			return n
		}
	}
	for _, class := range contentClasses {
		if n := findByAttr(root, "class", class, true); n != nil {
			return n
		}
	}
	return nil
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

// findByAttr locates the first element whose attribute equals (or, for
// class lists, contains) the wanted value.
func findByAttr(n *html.Node, key, want string, contains bool) *html.Node {
	if n.Type == html.ElementNode {
		for _, attr := range n.Attr {
			if attr.Key != key {
				continue
			}
			if contains {
				for _, field := range strings.Fields(attr.Val) {
					if field == want {
						return n
					}
				}
			} else if attr.Val == want {
				return n
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByAttr(c, key, want, contains); found != nil {
			return found
		}
	}
	return nil
}

func findTitle(root *html.Node) string {
	n := findElement(root, atom.Title)
	if n == nil || n.FirstChild == nil {
		return ""
	}
	return strings.TrimSpace(n.FirstChild.Data)
}

func findAuthor(root *html.Node) string {
	// <meta name="author" content="...">
	if meta := findByAttr(root, "name", "author", false); meta != nil {
		for _, attr := range meta.Attr {
			if attr.Key == "content" {
				return strings.TrimSpace(attr.Val)
			}
		}
	}
	for _, class := range authorClasses {
		if n := findByAttr(root, "class", class, true); n != nil {
			return strings.TrimSpace(collectText(n))
		}
	}
	return ""
}

// collectText flattens all text nodes under n, separating blocks with
// newlines.
func collectText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if sb.Len() > 0 {
					sb.WriteByte('\n')
				}
				sb.WriteString(text)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
