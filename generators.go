package bloggart

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/eringen/bloggart/internal/deferred"
)

const htmlContentType = "text/html; charset=utf-8"

// Generator produces the static resources that depend on posts.
//
// A resource is a generator-specific name, such as a tag or a "YYYY/MM"
// month. Publishing a post regenerates every resource the post belongs to
// whose etag changed.
type Generator interface {
	Name() string

	// CanDefer reports whether resources may be rendered by a task instead
	// of inline with the mutation.
	CanDefer() bool

	// ResourceList returns the resources p contributes to.
	ResourceList(ctx context.Context, p *Post) ([]string, error)

	// ETag changes whenever p's contribution to its resources changes.
	ETag(p *Post) (string, error)

	// GenerateResource renders resource. p may be nil when the render was
	// deferred.
	GenerateResource(ctx context.Context, p *Post, resource string) error
}

// pagedGenerator renders listings split across several pages.
type pagedGenerator interface {
	Generator
	GeneratePage(ctx context.Context, resource string, page int, before time.Time) error
}

// generateTask is the payload of TaskGenerate.
type generateTask struct {
	Generator string `json:"generator"`
	Resource  string `json:"resource"`
	Page      int    `json:"page,omitempty"`
	Cursor    int64  `json:"cursor,omitempty"`
}

func newGenerateTask(gen, resource string, page int, cursor time.Time) (*deferred.Task, error) {
	var c int64
	if !cursor.IsZero() {
		c = cursor.UnixMicro()
	}
	if page < 1 {
		page = 1
	}
	key := fmt.Sprintf("%s:%s:%d:%d", gen, resource, page, c)
	return deferred.NewTask(TaskGenerate, key, generateTask{
		Generator: gen, Resource: resource, Page: page, Cursor: c,
	})
}

// generator returns the registered generator called name.
func (a *App) generator(name string) (Generator, error) {
	for _, g := range a.Generators {
		if g.Name() == name {
			return g, nil
		}
	}
	return nil, fmt.Errorf("unknown generator %q", name)
}

func (a *App) handleGenerateTask(ctx context.Context, t *deferred.Task) error {
	var p generateTask
	if err := t.Decode(&p); err != nil {
		return err
	}
	g, err := a.generator(p.Generator)
	if err != nil {
		return err
	}
	if p.Page > 1 || p.Cursor != 0 {
		pg, ok := g.(pagedGenerator)
		if !ok {
			return fmt.Errorf("generator %q is not paged", p.Generator)
		}
		var before time.Time
		if p.Cursor != 0 {
			before = time.UnixMicro(p.Cursor).UTC()
		}
		return pg.GeneratePage(ctx, p.Resource, p.Page, before)
	}
	return g.GenerateResource(ctx, nil, p.Resource)
}

// runGenerator renders resource now or submits a task for it.
func (a *App) runGenerator(ctx context.Context, g Generator, p *Post, resource string) error {
	if !g.CanDefer() {
		return g.GenerateResource(ctx, p, resource)
	}
	t, err := newGenerateTask(g.Name(), resource, 1, time.Time{})
	if err != nil {
		return err
	}
	return a.Tasks.Submit(ctx, t)
}

// listingGenerator renders paged lists of post summaries.
type listingGenerator struct {
	app       *App
	name      string
	resources func(p *Post) []string
	query     func(resource string) (PostQuery, error)
	path      func(resource string, page int) string
	heading   func(resource string) string
}

func (g *listingGenerator) Name() string   { return g.name }
func (g *listingGenerator) CanDefer() bool { return true }

func (g *listingGenerator) ResourceList(_ context.Context, p *Post) ([]string, error) {
	if !p.IsPublished() {
		return nil, nil
	}
	return g.resources(p), nil
}

func (g *listingGenerator) ETag(p *Post) (string, error) {
	summary, err := g.app.summaryOf(p)
	if err != nil {
		return "", err
	}
	return p.SummaryHash(summary), nil
}

func (g *listingGenerator) GenerateResource(ctx context.Context, _ *Post, resource string) error {
	return g.GeneratePage(ctx, resource, 1, time.Time{})
}

// GeneratePage renders one page of the listing holding posts published
// before the cursor. When more posts remain, the next page is submitted as
// a task keyed by the oldest post rendered here.
func (g *listingGenerator) GeneratePage(ctx context.Context, resource string, page int, before time.Time) error {
	a := g.app
	q, err := g.query(resource)
	if err != nil {
		return err
	}
	perPage := a.Config.PostsPerPage
	q.Before = before
	q.Limit = perPage + 1
	posts, err := a.Store.QueryPosts(ctx, q)
	if err != nil {
		return fmt.Errorf("%s %s page %d: %w", g.name, resource, page, err)
	}
	more := len(posts) > perPage
	if more {
		posts = posts[:perPage]
	}
	path := g.path(resource, page)
	if page > 1 && len(posts) == 0 {
		return a.Static.Remove(ctx, path)
	}
	views, err := a.postViews(posts)
	if err != nil {
		return err
	}
	data := publicData{
		Heading:   g.heading(resource),
		Posts:     views,
		Canonical: a.absURL(path),
	}
	if page > 1 {
		data.NewerURL = a.url(g.path(resource, page-1))
	}
	if more {
		data.OlderURL = a.url(g.path(resource, page+1))
	}
	body, err := a.renderDocument(ctx, "listing.html", data)
	if err != nil {
		return fmt.Errorf("%s %s page %d: %w", g.name, resource, page, err)
	}
	if _, err := a.Static.Set(ctx, path, body, htmlContentType); err != nil {
		return err
	}
	if !more {
		// The listing may have shrunk; drop the page that used to follow.
		return a.Static.Remove(ctx, g.path(resource, page+1))
	}
	t, err := newGenerateTask(g.name, resource, page+1, posts[len(posts)-1].Published)
	if err != nil {
		return err
	}
	return a.Tasks.Submit(ctx, t)
}

// IndexGenerator renders the front page and its continuation pages.
type IndexGenerator struct{ *listingGenerator }

// NewIndexGenerator returns the generator of "/" and "/page/N".
func NewIndexGenerator(a *App) *IndexGenerator {
	return &IndexGenerator{&listingGenerator{
		app:       a,
		name:      "index",
		resources: func(*Post) []string { return []string{"index"} },
		query:     func(string) (PostQuery, error) { return PostQuery{}, nil },
		path: func(_ string, page int) string {
			if page <= 1 {
				return "/"
			}
			return "/page/" + strconv.Itoa(page)
		},
		heading: func(string) string { return "" },
	}}
}

// TagGenerator renders one listing per tag.
type TagGenerator struct{ *listingGenerator }

// NewTagGenerator returns the generator of "/tag/<tag>" and "/tag/<tag>/N".
func NewTagGenerator(a *App) *TagGenerator {
	return &TagGenerator{&listingGenerator{
		app:       a,
		name:      "tag",
		resources: func(p *Post) []string { return p.NormalizedTags() },
		query: func(tag string) (PostQuery, error) {
			if tag == "" {
				return PostQuery{}, errors.New("empty tag")
			}
			return PostQuery{Tag: tag}, nil
		},
		path: func(tag string, page int) string {
			if page <= 1 {
				return "/tag/" + tag
			}
			return fmt.Sprintf("/tag/%s/%d", tag, page)
		},
		heading: func(tag string) string { return "Posts tagged " + tag },
	}}
}

// ArchiveGenerator renders one listing per month.
type ArchiveGenerator struct{ *listingGenerator }

// NewArchiveGenerator returns the generator of "/archive/YYYY/MM/" and
// "/archive/YYYY/MM/N".
func NewArchiveGenerator(a *App) *ArchiveGenerator {
	return &ArchiveGenerator{&listingGenerator{
		app:       a,
		name:      "archive",
		resources: func(p *Post) []string { return []string{BlogDateFor(p.Published).Key()} },
		query: func(key string) (PostQuery, error) {
			d, err := ParseBlogDate(key)
			if err != nil {
				return PostQuery{}, err
			}
			return PostQuery{From: d.Start(), Before: d.End()}, nil
		},
		path: func(key string, page int) string {
			if page <= 1 {
				return "/archive/" + key + "/"
			}
			return fmt.Sprintf("/archive/%s/%d", key, page)
		},
		heading: func(key string) string {
			if d, err := ParseBlogDate(key); err == nil {
				return "Posts from " + d.Start().Format("January 2006")
			}
			return key
		},
	}}
}

// GeneratePage narrows the cursor to the month before rendering.
func (g *ArchiveGenerator) GeneratePage(ctx context.Context, resource string, page int, before time.Time) error {
	d, err := ParseBlogDate(resource)
	if err != nil {
		return err
	}
	if before.IsZero() || before.After(d.End()) {
		before = d.End()
	}
	return g.listingGenerator.GeneratePage(ctx, resource, page, before)
}

// GenerateResource renders the first page of the month.
func (g *ArchiveGenerator) GenerateResource(ctx context.Context, _ *Post, resource string) error {
	return g.GeneratePage(ctx, resource, 1, time.Time{})
}

// ArchiveIndexGenerator renders "/archive/", every month with its posts.
type ArchiveIndexGenerator struct {
	app *App
}

func (g *ArchiveIndexGenerator) Name() string   { return "archive_index" }
func (g *ArchiveIndexGenerator) CanDefer() bool { return true }

func (g *ArchiveIndexGenerator) ResourceList(_ context.Context, p *Post) ([]string, error) {
	if !p.IsPublished() {
		return nil, nil
	}
	return []string{"archive"}, nil
}

func (g *ArchiveIndexGenerator) ETag(p *Post) (string, error) {
	return p.Hash(), nil
}

func (g *ArchiveIndexGenerator) GenerateResource(ctx context.Context, _ *Post, _ string) error {
	a := g.app
	dates, err := a.Store.ListBlogDates(ctx)
	if err != nil {
		return err
	}
	months := make([]archiveMonth, 0, len(dates))
	for _, d := range dates {
		posts, err := a.Store.QueryPosts(ctx, PostQuery{From: d.Start(), Before: d.End()})
		if err != nil {
			return err
		}
		if len(posts) == 0 {
			continue
		}
		m := archiveMonth{
			Label: d.Start().Format("January 2006"),
			URL:   a.url("/archive/" + d.Key() + "/"),
		}
		for _, p := range posts {
			m.Posts = append(m.Posts, postView{
				Post:       p,
				URL:        a.url(p.Path),
				Prefix:     a.Config.URLPrefix,
				DateFormat: a.Config.DateFormat,
			})
		}
		months = append(months, m)
	}
	body, err := a.renderDocument(ctx, "archive.html", publicData{
		Dates:     months,
		Canonical: a.absURL("/archive/"),
	})
	if err != nil {
		return fmt.Errorf("archive index: %w", err)
	}
	_, err = a.Static.Set(ctx, "/archive/", body, htmlContentType)
	return err
}

// PostGenerator renders the permalink page of a post. A post's page links
// to its neighbours, so their pages are regenerated too.
type PostGenerator struct {
	app *App
}

func (g *PostGenerator) Name() string   { return "post" }
func (g *PostGenerator) CanDefer() bool { return false }

func (g *PostGenerator) ResourceList(ctx context.Context, p *Post) ([]string, error) {
	if !p.IsPublished() {
		return nil, nil
	}
	resources := []string{p.Path}
	prev, next, err := g.app.Store.Neighbors(ctx, p)
	if err != nil {
		return nil, err
	}
	if prev != nil {
		resources = append(resources, prev.Path)
	}
	if next != nil {
		resources = append(resources, next.Path)
	}
	return resources, nil
}

func (g *PostGenerator) ETag(p *Post) (string, error) {
	return hashFields(p.Hash(), strings.Join(p.Tags, ","), p.BodyMarkup), nil
}

func (g *PostGenerator) GenerateResource(ctx context.Context, p *Post, path string) error {
	a := g.app
	if p == nil || p.Path != path {
		var err error
		p, err = a.Store.GetPostByPath(ctx, path)
		if errors.Is(err, ErrNotFound) {
			return a.Static.Remove(ctx, path)
		}
		if err != nil {
			return err
		}
	}
	if p.Deleted {
		return a.Static.Remove(ctx, path)
	}
	view, err := a.postView(p, true)
	if err != nil {
		return err
	}
	prev, next, err := a.Store.Neighbors(ctx, p)
	if err != nil {
		return err
	}
	data := publicData{
		Post:      &view,
		Canonical: a.absURL(p.Path),
		JSONLD:    a.postingJSONLD(p, string(view.Summary)),
	}
	if prev != nil {
		v := postView{Post: prev, URL: a.url(prev.Path)}
		data.Prev = &v
	}
	if next != nil {
		v := postView{Post: next, URL: a.url(next.Path)}
		data.Next = &v
	}
	body, err := a.renderDocument(ctx, "post.html", data)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	var opts []SetOption
	if !p.Updated.IsZero() {
		opts = append(opts, WithLastModified(p.Updated))
	}
	_, err = a.Static.Set(ctx, path, body, htmlContentType, opts...)
	return err
}

// defaultGenerators returns the generators in the order they run.
func defaultGenerators(a *App) []Generator {
	return []Generator{
		&PostGenerator{app: a},
		NewIndexGenerator(a),
		NewTagGenerator(a),
		NewArchiveGenerator(a),
		&ArchiveIndexGenerator{app: a},
		&AtomGenerator{app: a},
		&SitemapGenerator{app: a},
	}
}
