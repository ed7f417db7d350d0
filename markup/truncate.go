package markup

import (
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

// Ellipsis is appended to truncated HTML.
const Ellipsis = " …"

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"source": true, "track": true, "wbr": true,
}

// TruncateWords cuts an HTML fragment after n words of text and closes the
// elements left open at the cut.
func TruncateWords(s string, n int) string {
	if n <= 0 {
		return ""
	}
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	var open []string
	words := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			text, count, cut := takeWords(string(z.Raw()), n-words)
			b.WriteString(text)
			words += count
			if cut {
				b.WriteString(Ellipsis)
				for i := len(open) - 1; i >= 0; i-- {
					b.WriteString("</" + open[i] + ">")
				}
				return b.String()
			}
		case html.StartTagToken:
			b.Write(z.Raw())
			name, _ := z.TagName()
			if !voidElements[string(name)] {
				open = append(open, string(name))
			}
		case html.EndTagToken:
			b.Write(z.Raw())
			name, _ := z.TagName()
			for i := len(open) - 1; i >= 0; i-- {
				if open[i] == string(name) {
					open = open[:i]
					break
				}
			}
		default:
			b.Write(z.Raw())
		}
	}
}

// takeWords returns the prefix of s holding at most limit words, the number
// of words in it and whether s had more words after them.
func takeWords(s string, limit int) (string, int, bool) {
	count := 0
	inWord := false
	for i, r := range s {
		if unicode.IsSpace(r) {
			inWord = false
			continue
		}
		if !inWord {
			if count == limit {
				return strings.TrimRightFunc(s[:i], unicode.IsSpace), count, true
			}
			count++
			inWord = true
		}
	}
	return s, count, false
}

// PlainText returns the text content of an HTML fragment with runs of
// whitespace collapsed.
func PlainText(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.TextToken:
			b.Write(z.Text())
			b.WriteByte(' ')
		}
	}
}
