package bloggart

import (
	"context"
	"errors"
	"fmt"

	"github.com/eringen/bloggart/internal/deferred"
)

// Task types handled by the worker.
const (
	TaskGenerate         = "bloggart:generate"
	TaskRegeneratePosts  = "bloggart:regenerate-posts"
	TaskRegeneratePages  = "bloggart:regenerate-pages"
	regenerateBatchSize  = 20
	regeneratePagesBatch = 100
)

type regeneratePostsTask struct {
	AfterID int64 `json:"after_id"`
}

// registerTasks installs the task handlers on mux.
func (a *App) registerTasks(mux *deferred.Mux) {
	mux.Handle(TaskGenerate, a.handleGenerateTask)
	mux.Handle(TaskRegeneratePosts, a.handleRegeneratePosts)
	mux.Handle(TaskRegeneratePages, a.handleRegeneratePages)
}

// Regenerate flushes memcache and queues a rebuild of every post and page.
func (a *App) Regenerate(ctx context.Context) error {
	a.flushMemcache(ctx)
	posts, err := deferred.NewTask(TaskRegeneratePosts, "regenerate-posts:0", regeneratePostsTask{})
	if err != nil {
		return err
	}
	if err := a.Tasks.Submit(ctx, posts); err != nil {
		return err
	}
	pages, err := deferred.NewTask(TaskRegeneratePages, "regenerate-pages", struct{}{})
	if err != nil {
		return err
	}
	a.log.Info().Msg("regeneration queued")
	return a.Tasks.Submit(ctx, pages)
}

// RegenerateIfEmpty queues a full regeneration when nothing has been
// rendered yet, as on a fresh install.
func (a *App) RegenerateIfEmpty(ctx context.Context) error {
	empty, err := a.Static.Empty(ctx)
	if err != nil {
		return err
	}
	if !empty {
		return nil
	}
	return a.Regenerate(ctx)
}

// handleRegeneratePosts renders every resource of one batch of posts, each
// once, and chains the next batch.
func (a *App) handleRegeneratePosts(ctx context.Context, t *deferred.Task) error {
	var args regeneratePostsTask
	if err := t.Decode(&args); err != nil {
		return err
	}
	posts, err := a.Store.PublishedAfter(ctx, args.AfterID, regenerateBatchSize)
	if err != nil {
		return err
	}
	if len(posts) == 0 {
		if args.AfterID == 0 {
			return a.generateEmptySite(ctx)
		}
		a.log.Info().Msg("post regeneration finished")
		return nil
	}
	var errs []error
	for _, g := range a.Generators {
		done := map[string]struct{}{}
		for _, p := range posts {
			var resources []string
			if p.Deleted {
				resources = p.Deps[g.Name()].Resources
			} else if resources, err = g.ResourceList(ctx, p); err != nil {
				errs = append(errs, err)
				continue
			}
			for _, r := range resources {
				if _, ok := done[r]; ok {
					continue
				}
				done[r] = struct{}{}
				if err := g.GenerateResource(ctx, nil, r); err != nil {
					errs = append(errs, fmt.Errorf("%s %s: %w", g.Name(), r, err))
				}
			}
		}
	}
	for _, p := range posts {
		if p.Deleted {
			continue
		}
		if err := a.recordDeps(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	last := posts[len(posts)-1].ID
	a.log.Info().Int("posts", len(posts)).Int64("last_id", last).Msg("regenerated post batch")
	if len(posts) == regenerateBatchSize {
		next, err := deferred.NewTask(TaskRegeneratePosts, fmt.Sprintf("regenerate-posts:%d", last), regeneratePostsTask{AfterID: last})
		if err != nil {
			return err
		}
		if err := a.Tasks.Submit(ctx, next); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// recordDeps stores the current resources and etags of p without
// rendering anything.
func (a *App) recordDeps(ctx context.Context, p *Post) error {
	deps := make(map[string]Dep, len(a.Generators))
	for _, g := range a.Generators {
		resources, err := g.ResourceList(ctx, p)
		if err != nil {
			return err
		}
		etag, err := g.ETag(p)
		if err != nil {
			return err
		}
		deps[g.Name()] = Dep{Resources: resources, ETag: etag}
	}
	p.Deps = deps
	return a.Store.SavePost(ctx, p)
}

// handleRegeneratePages renders every static page and then the sitemap.
func (a *App) handleRegeneratePages(ctx context.Context, _ *deferred.Task) error {
	var errs []error
	for offset := 0; ; offset += regeneratePagesBatch {
		pages, err := a.Store.ListPages(ctx, offset, regeneratePagesBatch)
		if err != nil {
			return err
		}
		for _, page := range pages {
			if err := a.Pages.Generate(ctx, page); err != nil {
				errs = append(errs, err)
			}
		}
		if len(pages) < regeneratePagesBatch {
			break
		}
	}
	if g, err := a.generator("sitemap"); err == nil {
		if err := g.GenerateResource(ctx, nil, "sitemap"); err != nil {
			errs = append(errs, err)
		}
	}
	a.log.Info().Msg("page regeneration finished")
	return errors.Join(errs...)
}

// generateEmptySite renders the listings a blog without posts still serves.
func (a *App) generateEmptySite(ctx context.Context) error {
	var errs []error
	for _, name := range []string{"index", "archive_index", "atom"} {
		g, err := a.generator(name)
		if err != nil {
			continue
		}
		if err := g.GenerateResource(ctx, nil, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
