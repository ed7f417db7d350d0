package bloggart

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/eringen/bloggart/internal/deferred"
	"github.com/eringen/bloggart/internal/memcache"
	"github.com/rs/zerolog"
)

// testClock advances by a minute on every reading so publication times
// are distinct and ordered.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Minute)
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// taskRecorder collects submitted tasks without running them.
type taskRecorder struct {
	mu    sync.Mutex
	tasks []*deferred.Task
}

func (r *taskRecorder) Submit(_ context.Context, t *deferred.Task) error {
	r.mu.Lock()
	r.tasks = append(r.tasks, t)
	r.mu.Unlock()
	return nil
}

func (r *taskRecorder) take() []*deferred.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.tasks
	r.tasks = nil
	return out
}

func testConfig(t *testing.T) SiteConfig {
	t.Helper()
	return SiteConfig{
		Name:          "Test Blog",
		URL:           "http://blog.test",
		DatabasePath:  filepath.Join(t.TempDir(), "blog.db"),
		AdminPassword: "secret",
		SessionSecret: "0123456789abcdef0123456789abcdef",
		PostsPerPage:  2,
	}
}

func newTestApp(t *testing.T, cfg SiteConfig, opts ...Option) *App {
	t.Helper()
	base := []Option{
		WithLogger(zerolog.Nop()),
		WithMemcache(memcache.NewMemory()),
		WithClock(newTestClock().Now),
	}
	a := New(cfg, append(base, opts...)...)
	if err := a.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

// flushTasks runs every queued task of an in-process queue.
func flushTasks(t *testing.T, a *App) {
	t.Helper()
	q, ok := a.Tasks.(*deferred.InProc)
	if !ok {
		t.Fatalf("expected an in-process task queue, got %T", a.Tasks)
	}
	if err := q.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
}

// staticBody returns the rendered document at path, failing the test when
// there is none.
func staticBody(t *testing.T, a *App, path string) string {
	t.Helper()
	rec, err := a.Static.Get(context.Background(), path)
	if err != nil {
		t.Fatalf("no document at %s: %v", path, err)
	}
	return string(rec.Body)
}

func assertNoDocument(t *testing.T, a *App, path string) {
	t.Helper()
	if _, err := a.Static.Get(context.Background(), path); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected no document at %s, got err = %v", path, err)
	}
}

func publish(t *testing.T, a *App, title, body string, tags ...string) *Post {
	t.Helper()
	p := &Post{Title: title, BodyMarkup: "html", Tags: tags}
	if err := a.PublishPost(context.Background(), p, body, false); err != nil {
		t.Fatalf("PublishPost(%q) failed: %v", title, err)
	}
	return p
}
