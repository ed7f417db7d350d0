package bloggart

import (
	"errors"
	"regexp"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/labstack/echo/v4"

	"github.com/eringen/bloggart/markup"
)

// pagePathPattern restricts page paths to slash separated ASCII words.
var pagePathPattern = regexp.MustCompile(`^(/[a-zA-Z0-9/_-]+)$`)

// postForm is the post editor's input.
type postForm struct {
	ID         int64  `json:"-"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	BodyMarkup string `json:"body_markup"`
	Tags       string `json:"tags"`
	Draft      bool   `json:"-"`
}

func bindPostForm(c echo.Context) postForm {
	return postForm{
		Title:      strings.TrimSpace(c.FormValue("title")),
		Body:       c.FormValue("body"),
		BodyMarkup: c.FormValue("body_markup"),
		Tags:       c.FormValue("tags"),
		Draft:      c.FormValue("draft") == "true",
	}
}

func postFormFor(p *Post, defaultMarkup string) postForm {
	if p == nil {
		return postForm{BodyMarkup: defaultMarkup}
	}
	body := p.Body
	if p.Draft != "" {
		body = p.Draft
	}
	return postForm{
		ID:         p.ID,
		Title:      p.Title,
		Body:       body,
		BodyMarkup: markup.DefaultKind(p.BodyMarkup),
		Tags:       JoinTags(p.Tags),
	}
}

func (f postForm) Validate() error {
	kinds := make([]any, 0, 3)
	for _, ch := range markup.Choices() {
		kinds = append(kinds, ch.Kind)
	}
	return validation.ValidateStruct(&f,
		validation.Field(&f.Title, validation.Required, validation.Length(1, 500)),
		validation.Field(&f.Body, validation.Required),
		validation.Field(&f.BodyMarkup, validation.Required, validation.In(kinds...)),
	)
}

// apply copies the editable fields onto p. The body is handled by
// PublishPost.
func (f postForm) apply(p *Post) {
	p.Title = f.Title
	p.BodyMarkup = f.BodyMarkup
	p.Tags = SplitTags(f.Tags)
}

// pageForm is the page editor's input.
type pageForm struct {
	Path     string `json:"path"`
	Title    string `json:"title"`
	Template string `json:"template"`
	Body     string `json:"body"`
}

func bindPageForm(c echo.Context) pageForm {
	return pageForm{
		Path:     strings.TrimSpace(c.FormValue("path")),
		Title:    strings.TrimSpace(c.FormValue("title")),
		Template: c.FormValue("template"),
		Body:     c.FormValue("body"),
	}
}

func pageFormFor(p *Page) pageForm {
	if p == nil {
		return pageForm{}
	}
	return pageForm{Path: p.Path, Title: p.Title, Template: p.Template, Body: p.Body}
}

func (f pageForm) validate(templates []pageTemplate) error {
	files := make([]any, 0, len(templates))
	for _, t := range templates {
		files = append(files, t.File)
	}
	return validation.ValidateStruct(&f,
		validation.Field(&f.Path, validation.Required,
			validation.Match(pagePathPattern).Error("must start with / and contain only letters, digits, /, _ and -")),
		validation.Field(&f.Title, validation.Required),
		validation.Field(&f.Template, validation.Required, validation.In(files...)),
		validation.Field(&f.Body, validation.Required),
	)
}

// pageTemplate is a selectable page template.
type pageTemplate struct {
	File  string
	Label string
}

// pageTemplates lists the configured page templates present in the theme.
func (a *App) pageTemplates() []pageTemplate {
	var out []pageTemplate
	for file, label := range a.Config.PageTemplates {
		if a.Theme.Has("pages/" + file) {
			out = append(out, pageTemplate{File: file, Label: label})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].File > out[j].File })
	return out
}

// formErrors flattens a validation error for the templates. Errors that
// are not field errors are reported under "form".
func formErrors(err error) map[string]string {
	if err == nil {
		return nil
	}
	out := map[string]string{}
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, ferr := range verrs {
			out[field] = ferr.Error()
		}
		return out
	}
	out["form"] = err.Error()
	return out
}
