package bloggart

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/eringen/bloggart/markup"
)

// maxPathAttempts bounds the search for a free post path.
const maxPathAttempts = 1000

// PublishPost saves p with body. A draft only stores the body in p.Draft;
// otherwise the body goes live, the post gets a path on its first publish,
// and every generator whose view of the post changed is rerun.
func (a *App) PublishPost(ctx context.Context, p *Post, body string, isDraft bool) error {
	if isDraft {
		p.Draft = body
		if err := a.Store.SavePost(ctx, p); err != nil {
			return fmt.Errorf("save draft: %w", err)
		}
		return nil
	}
	a.flushMemcache(ctx)
	now := a.now().UTC()
	p.Updated = now
	p.Draft = ""
	p.Body = body
	first := !p.IsPublished()
	if first {
		p.Published = now
		path, err := a.freePostPath(ctx, p)
		if err != nil {
			return err
		}
		p.Path = path
	}
	if err := a.Store.SavePost(ctx, p); err != nil {
		return fmt.Errorf("save post: %w", err)
	}
	if first {
		if err := a.Store.AddBlogDate(ctx, BlogDateFor(p.Published)); err != nil {
			return err
		}
	}
	a.log.Info().Int64("id", p.ID).Str("path", p.Path).Bool("first", first).Msg("post published")
	return a.regeneratePost(ctx, p)
}

// DeletePost soft-deletes p and regenerates everything it appeared in.
// The month it was published in stays in the archive index.
func (a *App) DeletePost(ctx context.Context, p *Post) error {
	if p.ID == 0 {
		return nil
	}
	p.Deleted = true
	if err := a.Store.SavePost(ctx, p); err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	a.flushMemcache(ctx)
	a.log.Info().Int64("id", p.ID).Str("path", p.Path).Msg("post deleted")
	return a.regeneratePost(ctx, p)
}

// freePostPath formats the post path, appending -1, -2, ... to the slug
// until neither a post nor a page owns it.
func (a *App) freePostPath(ctx context.Context, p *Post) (string, error) {
	for n := 0; n < maxPathAttempts; n++ {
		path := FormatPostPath(a.Config.PostPathFormat, p, n)
		taken, err := a.Store.PathTaken(ctx, path)
		if err != nil {
			return "", err
		}
		if taken {
			continue
		}
		_, err = a.Store.GetPage(ctx, path)
		if errors.Is(err, ErrNotFound) {
			return path, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("no free path for %q", p.Title)
}

// regeneratePost reruns, for each generator, every resource p used to or
// now contributes to when the generator's etag or resource set changed,
// and records the new dependencies on p.
func (a *App) regeneratePost(ctx context.Context, p *Post) error {
	deps := make(map[string]Dep, len(a.Generators))
	var errs []error
	for _, g := range a.Generators {
		old := p.Deps[g.Name()]
		var cur Dep
		var err error
		if cur.Resources, err = g.ResourceList(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("%s resources: %w", g.Name(), err))
			deps[g.Name()] = old
			continue
		}
		if cur.ETag, err = g.ETag(p); err != nil {
			errs = append(errs, fmt.Errorf("%s etag: %w", g.Name(), err))
			deps[g.Name()] = old
			continue
		}
		// A deleted post disappears from every resource it was part of.
		if !p.Deleted && cur.ETag == old.ETag && sameResources(cur.Resources, old.Resources) {
			deps[g.Name()] = cur
			continue
		}
		failed := false
		for _, r := range unionResources(old.Resources, cur.Resources) {
			if err := a.runGenerator(ctx, g, p, r); err != nil {
				errs = append(errs, fmt.Errorf("%s %s: %w", g.Name(), r, err))
				failed = true
			}
		}
		if failed {
			// Keep the old state so the next save tries again.
			deps[g.Name()] = old
			continue
		}
		deps[g.Name()] = cur
	}
	p.Deps = deps
	if err := a.Store.SavePost(ctx, p); err != nil {
		errs = append(errs, fmt.Errorf("save deps: %w", err))
	}
	return errors.Join(errs...)
}

func sameResources(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := slices.Clone(a)
	y := slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}

func unionResources(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, r := range list {
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}

// PublishPage saves page and renders it. When the page moved from oldPath
// the record and document at the old path are removed.
func (a *App) PublishPage(ctx context.Context, page *Page, oldPath string) error {
	a.flushMemcache(ctx)
	page.Updated = a.now().UTC()
	if page.Created.IsZero() {
		page.Created = page.Updated
	}
	if err := a.Store.SavePage(ctx, page); err != nil {
		return fmt.Errorf("save page: %w", err)
	}
	if oldPath != "" && oldPath != page.Path {
		if err := a.Store.DeletePage(ctx, oldPath); err != nil {
			return err
		}
		if err := a.Static.Remove(ctx, oldPath); err != nil {
			return err
		}
	}
	if err := a.Pages.Generate(ctx, page); err != nil {
		return err
	}
	a.log.Info().Str("path", page.Path).Str("old_path", oldPath).Msg("page published")
	return a.submitSitemap(ctx)
}

// DeletePage removes page and its document.
func (a *App) DeletePage(ctx context.Context, page *Page) error {
	if err := a.Store.DeletePage(ctx, page.Path); err != nil {
		return fmt.Errorf("delete page: %w", err)
	}
	if err := a.Static.Remove(ctx, page.Path); err != nil {
		return err
	}
	a.flushMemcache(ctx)
	a.log.Info().Str("path", page.Path).Msg("page deleted")
	return a.submitSitemap(ctx)
}

func (a *App) submitSitemap(ctx context.Context) error {
	g, err := a.generator("sitemap")
	if err != nil {
		return nil
	}
	return a.runGenerator(ctx, g, nil, "sitemap")
}

func (a *App) flushMemcache(ctx context.Context) {
	if err := a.Memcache.FlushAll(ctx); err != nil {
		a.log.Warn().Err(err).Msg("memcache flush failed")
	}
}

// PageGenerator renders static pages through their page template.
type PageGenerator struct {
	app *App
}

// Generate renders page at its path.
func (g *PageGenerator) Generate(ctx context.Context, page *Page) error {
	a := g.app
	name := "pages/" + page.Template
	if !a.Theme.Has(name) {
		return fmt.Errorf("page %s: unknown template %q", page.Path, page.Template)
	}
	body, err := a.Markup.Render(markup.HTML, page.Body)
	if err != nil {
		return err
	}
	out, err := a.renderDocument(ctx, name, publicData{
		Page:      page,
		PageBody:  safeHTML(body),
		Canonical: a.absURL(page.Path),
	})
	if err != nil {
		return fmt.Errorf("page %s: %w", page.Path, err)
	}
	_, err = a.Static.Set(ctx, page.Path, out, htmlContentType, WithLastModified(page.Updated))
	return err
}
