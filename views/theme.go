// Package views loads the blog's HTML templates and exposes them as
// templ components.
//
// A theme is a directory tree of html/template files:
//
//	layouts/*.html   shared layouts and blocks, parsed into every template
//	partials/*.html  shared fragments, parsed into every template
//	*.html           public documents (listing, post, archive, 404, 500)
//	pages/*.html     templates selectable for static pages
//	admin/*.html     the admin interface
//
// Each document is parsed together with the layouts and partials and is
// executed by its file name.
package views

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/a-h/templ"
)

//go:embed themes
var embedded embed.FS

// Default returns the built-in theme.
func Default() fs.FS {
	sub, err := fs.Sub(embedded, "themes/default")
	if err != nil {
		panic(err)
	}
	return sub
}

// Theme is a parsed set of templates.
type Theme struct {
	mu    sync.RWMutex
	fsys  fs.FS
	funcs template.FuncMap
	tmpls map[string]*template.Template
}

// Load parses every document in fsys. Extra funcs are added to the
// built-in function map.
func Load(fsys fs.FS, extra template.FuncMap) (*Theme, error) {
	funcs := Funcs()
	for k, v := range extra {
		funcs[k] = v
	}
	t := &Theme{fsys: fsys, funcs: funcs, tmpls: map[string]*template.Template{}}
	if err := t.parseAll(); err != nil {
		return nil, err
	}
	return t, nil
}

// Overlay returns a file system that serves files from top when present and
// from base otherwise.
func Overlay(top, base fs.FS) fs.FS {
	return overlayFS{top: top, base: base}
}

type overlayFS struct {
	top, base fs.FS
}

func (o overlayFS) Open(name string) (fs.File, error) {
	if f, err := o.top.Open(name); err == nil {
		return f, nil
	}
	return o.base.Open(name)
}

func (o overlayFS) Glob(pattern string) ([]string, error) {
	seen := map[string]struct{}{}
	var out []string
	for _, fsys := range []fs.FS{o.top, o.base} {
		matches, err := fs.Glob(fsys, pattern)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if _, ok := seen[m]; !ok {
				seen[m] = struct{}{}
				out = append(out, m)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (t *Theme) parseAll() error {
	shared, err := t.glob("layouts/*.html", "partials/*.html")
	if err != nil {
		return err
	}
	docs, err := t.glob("*.html", "pages/*.html", "admin/*.html")
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return fmt.Errorf("views: theme has no templates")
	}
	for _, doc := range docs {
		files := append(append([]string(nil), shared...), doc)
		tmpl, err := template.New(path.Base(doc)).Funcs(t.funcs).ParseFS(t.fsys, files...)
		if err != nil {
			return fmt.Errorf("views: parse %s: %w", doc, err)
		}
		t.tmpls[doc] = tmpl
	}
	return nil
}

func (t *Theme) glob(patterns ...string) ([]string, error) {
	var out []string
	for _, p := range patterns {
		m, err := fs.Glob(t.fsys, p)
		if err != nil {
			return nil, err
		}
		out = append(out, m...)
	}
	return out, nil
}

// Has reports whether the theme contains the named document.
func (t *Theme) Has(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.tmpls[name]
	return ok
}

// Names returns the documents under dir, e.g. "pages".
func (t *Theme) Names(dir string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var names []string
	for name := range t.tmpls {
		if path.Dir(name) == dir {
			names = append(names, strings.TrimPrefix(name, dir+"/"))
		}
	}
	sort.Strings(names)
	return names
}

// Execute renders the named document.
func (t *Theme) Execute(w io.Writer, name string, data any) error {
	t.mu.RLock()
	tmpl, ok := t.tmpls[name]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("views: no template %q", name)
	}
	// Render into a buffer so a failing template never emits half a page.
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, path.Base(name), data); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

// Component wraps the named document as a templ.Component.
func (t *Theme) Component(name string, data any) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		return t.Execute(w, name, data)
	})
}

// Bytes renders the named document to a byte slice.
func (t *Theme) Bytes(ctx context.Context, name string, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Component(name, data).Render(ctx, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
