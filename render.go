package bloggart

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/http"

	"github.com/a-h/templ"
	"github.com/labstack/echo/v4"

	"github.com/eringen/bloggart/markup"
)

// Render writes a templ component as an HTTP 200 HTML response.
func Render(c echo.Context, cmp templ.Component) error {
	return RenderStatus(c, http.StatusOK, cmp)
}

// RenderStatus writes a templ component with a specific HTTP status code.
func RenderStatus(c echo.Context, code int, cmp templ.Component) error {
	// Render first so a template error can still become a 500 page.
	var buf bytes.Buffer
	if err := cmp.Render(c.Request().Context(), &buf); err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(code)
	_, err := c.Response().Write(buf.Bytes())
	return err
}

// siteView is the blog-wide part of every template's data.
type siteView struct {
	Name        string
	Author      string
	Slogan      string
	URL         string
	Prefix      string
	DateFormat  string
	DisqusForum string
	AnalyticsID string
	Sidebars    []Sidebar
}

func (a *App) siteView() siteView {
	cfg := a.Config
	return siteView{
		Name:        cfg.Name,
		Author:      cfg.Author,
		Slogan:      cfg.Slogan,
		URL:         cfg.URL,
		Prefix:      cfg.URLPrefix,
		DateFormat:  cfg.DateFormat,
		DisqusForum: cfg.DisqusForum,
		AnalyticsID: cfg.AnalyticsID,
		Sidebars:    cfg.Sidebars,
	}
}

// postView is a post prepared for a template.
type postView struct {
	*Post
	URL        string
	Prefix     string
	DateFormat string
	Rendered   template.HTML
	Summary    template.HTML
	Truncated  bool
}

// publicData is passed to every public document.
type publicData struct {
	Site      siteView
	Canonical string
	JSONLD    template.JS

	// listings
	Heading  string
	Posts    []postView
	NewerURL string
	OlderURL string

	// single post
	Post *postView
	Prev *postView
	Next *postView

	// archive index
	Dates []archiveMonth

	// pages
	Page     *Page
	PageBody template.HTML
}

type archiveMonth struct {
	Label string
	URL   string
	Posts []postView
}

// url returns the public URL of a site-relative path.
func (a *App) url(path string) string {
	return a.Config.URLPrefix + path
}

// absURL returns the absolute URL of a site-relative path.
func (a *App) absURL(path string) string {
	return BuildURL(a.Config.URL, a.Config.URLPrefix, path)
}

// renderBody renders the post body with its markup.
func (a *App) renderBody(p *Post) (template.HTML, error) {
	out, err := a.Markup.Render(markup.DefaultKind(p.BodyMarkup), p.Body)
	if err != nil {
		return "", fmt.Errorf("render post %d: %w", p.ID, err)
	}
	return template.HTML(out), nil
}

// summaryOf returns the listing summary of p.
func (a *App) summaryOf(p *Post) (string, error) {
	out, err := a.Markup.Summary(markup.DefaultKind(p.BodyMarkup), p.Body, a.Config.SummaryLength)
	if err != nil {
		return "", fmt.Errorf("summarize post %d: %w", p.ID, err)
	}
	return out, nil
}

func (a *App) postView(p *Post, full bool) (postView, error) {
	v := postView{
		Post:       p,
		URL:        a.url(p.Path),
		Prefix:     a.Config.URLPrefix,
		DateFormat: a.Config.DateFormat,
	}
	summary, err := a.summaryOf(p)
	if err != nil {
		return v, err
	}
	body, err := a.renderBody(p)
	if err != nil {
		return v, err
	}
	v.Summary = template.HTML(summary)
	v.Truncated = string(body) != summary
	if full {
		v.Rendered = body
	}
	return v, nil
}

func (a *App) postViews(posts []*Post) ([]postView, error) {
	views := make([]postView, 0, len(posts))
	for _, p := range posts {
		v, err := a.postView(p, false)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// renderDocument renders a public document to bytes.
func (a *App) renderDocument(ctx context.Context, name string, data publicData) ([]byte, error) {
	data.Site = a.siteView()
	return a.Theme.Bytes(ctx, name, data)
}

// errorPage renders the themed 404 or 500 document.
func (a *App) errorPage(code int) templ.Component {
	name := "500.html"
	if code == http.StatusNotFound {
		name = "404.html"
	}
	return a.Theme.Component(name, publicData{Site: a.siteView()})
}

func safeHTML(s string) template.HTML {
	return template.HTML(s)
}
