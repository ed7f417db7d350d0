// Package markup converts post and page bodies into sanitized HTML.
package markup

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	fences "github.com/stefanfritsch/goldmark-fences"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"
)

// Supported markup kinds.
const (
	HTML     = "html"
	Markdown = "markdown"
	Text     = "text"
)

// MoreMarker separates the summary of a body from the rest of it.
const MoreMarker = "<!--more-->"

// ErrUnknownKind is returned for a markup kind that has no renderer.
var ErrUnknownKind = errors.New("markup: unknown kind")

var labels = map[string]string{
	HTML:     "HTML",
	Markdown: "Markdown",
	Text:     "Plain text",
}

// Choice is a markup kind with its human readable label.
type Choice struct {
	Kind  string
	Label string
}

// Choices lists the supported kinds sorted by kind.
func Choices() []Choice {
	out := make([]Choice, 0, len(labels))
	for k, v := range labels {
		out = append(out, Choice{Kind: k, Label: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// Valid reports whether kind has a renderer.
func Valid(kind string) bool {
	_, ok := labels[kind]
	return ok
}

// DefaultKind returns kind if it is supported and HTML otherwise.
func DefaultKind(kind string) string {
	if Valid(kind) {
		return kind
	}
	return HTML
}

// Renderer renders bodies. It is safe for concurrent use.
type Renderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

// New constructs a Renderer with the default markdown extensions and a
// user-generated-content sanitizing policy.
func New() *Renderer {
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("code", "pre", "div", "span", "sup", "section", "li", "a")
	return &Renderer{
		md: goldmark.New(
			goldmark.WithParserOptions(
				parser.WithAutoHeadingID(),
				parser.WithAttribute(),
			),
			goldmark.WithExtensions(
				extension.GFM,
				extension.Footnote,
				extension.Typographer,
				&fences.Extender{},
			),
			goldmark.WithRendererOptions(
				goldmarkhtml.WithUnsafe(),
			),
		),
		policy: policy,
	}
}

// Render converts body written in kind into sanitized HTML.
func (r *Renderer) Render(kind, body string) (string, error) {
	var raw string
	switch kind {
	case HTML:
		raw = body
	case Markdown:
		var buf bytes.Buffer
		if err := r.md.Convert([]byte(body), &buf); err != nil {
			return "", fmt.Errorf("render markdown: %w", err)
		}
		raw = buf.String()
	case Text:
		raw = renderText(body)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return r.policy.Sanitize(raw), nil
}

// Summary renders the part of body before MoreMarker. Bodies without the
// marker are rendered in full and cut to at most words words.
func (r *Renderer) Summary(kind, body string, words int) (string, error) {
	if before, _, ok := strings.Cut(body, MoreMarker); ok {
		return r.Render(kind, before)
	}
	rendered, err := r.Render(kind, body)
	if err != nil {
		return "", err
	}
	return TruncateWords(rendered, words), nil
}

// renderText escapes body and turns blank-line separated blocks into
// paragraphs.
func renderText(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	var b strings.Builder
	for _, para := range strings.Split(body, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		b.WriteString("<p>")
		b.WriteString(strings.ReplaceAll(html.EscapeString(para), "\n", "<br>\n"))
		b.WriteString("</p>\n")
	}
	return b.String()
}
