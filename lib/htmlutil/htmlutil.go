package htmlutil

import (
	"bytes"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

func removeNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) || unicode.IsSpace(c) {
			newStr.WriteRune(c)
		}
	}
	return newStr.String()
}

// CleanText returns the printable text content of the first node in sel,
// trimmed. Whitespace inside the text is kept as is.
func CleanText(sel *goquery.Selection) string {
	if len(sel.Nodes) == 0 {
		return ""
	}
	text := GetText(sel.Nodes[0])
	text = removeNonPrintable(text)
	return strings.TrimSpace(text)
}

// Attrs collects `key`/`value` attribute pairs of every node in sel,
// skipping nodes without a `key` attribute. The first occurrence of a key wins
// ordering, the last occurrence wins the value, like a browser form.
func Attrs(sel *goquery.Selection, key, value string) ([]string, map[string]string) {
	var order []string
	values := map[string]string{}
	sel.Each(func(_ int, s *goquery.Selection) {
		k := s.AttrOr(key, "")
		if k == "" {
			return
		}
		if _, seen := values[k]; !seen {
			order = append(order, k)
		}
		values[k] = s.AttrOr(value, "")
	})
	return order, values
}
