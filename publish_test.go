package bloggart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eringen/bloggart/internal/deferred"
)

func TestPublishPostAssignsUniquePaths(t *testing.T) {
	a := newTestApp(t, testConfig(t))

	first := publish(t, a, "Hello World", "<p>one</p>", "Go")
	second := publish(t, a, "Hello World", "<p>two</p>")

	if first.Path != "/2024/03/hello-world" {
		t.Errorf("first path = %q, want /2024/03/hello-world", first.Path)
	}
	if second.Path != "/2024/03/hello-world-1" {
		t.Errorf("second path = %q, want /2024/03/hello-world-1", second.Path)
	}

	flushTasks(t, a)
	for _, path := range []string{first.Path, second.Path, "/", "/tag/go", "/archive/2024/03/", "/archive/", atomPath, sitemapPath, sitemapGzPath} {
		staticBody(t, a, path)
	}

	// The older post links to the newer one once it exists.
	if body := staticBody(t, a, first.Path); !strings.Contains(body, second.Path) {
		t.Errorf("%s does not link to its newer neighbour", first.Path)
	}
	if body := staticBody(t, a, sitemapPath); !strings.Contains(body, "http://blog.test"+second.Path) {
		t.Errorf("sitemap does not list %s", second.Path)
	}
	if dates, err := a.Store.ListBlogDates(context.Background()); err != nil || len(dates) != 1 || dates[0].Key() != "2024/03" {
		t.Errorf("ListBlogDates = %v, %v; want [2024/03]", dates, err)
	}
}

func TestDraftIsNotPublished(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	ctx := context.Background()

	p := &Post{Title: "Secret", BodyMarkup: "html"}
	if err := a.PublishPost(ctx, p, "<p>draft</p>", true); err != nil {
		t.Fatalf("PublishPost draft failed: %v", err)
	}
	if p.Path != "" || p.Body != "" || p.Draft != "<p>draft</p>" {
		t.Errorf("draft post = path %q body %q draft %q", p.Path, p.Body, p.Draft)
	}
	flushTasks(t, a)
	if empty, err := a.Static.Empty(ctx); err != nil || !empty {
		t.Errorf("a draft should render nothing (empty = %v, err = %v)", empty, err)
	}

	if err := a.PublishPost(ctx, p, p.Draft, false); err != nil {
		t.Fatalf("PublishPost failed: %v", err)
	}
	if p.Path == "" || p.Draft != "" || p.Body != "<p>draft</p>" {
		t.Errorf("published post = path %q body %q draft %q", p.Path, p.Body, p.Draft)
	}

	// Saving a draft of a live post leaves the live version alone.
	if err := a.PublishPost(ctx, p, "<p>rewrite</p>", true); err != nil {
		t.Fatalf("PublishPost draft failed: %v", err)
	}
	got, err := a.Store.GetPost(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPost failed: %v", err)
	}
	if got.Body != "<p>draft</p>" || got.Draft != "<p>rewrite</p>" {
		t.Errorf("stored post body %q draft %q", got.Body, got.Draft)
	}
	if body := staticBody(t, a, p.Path); strings.Contains(body, "rewrite") {
		t.Error("draft text leaked into the published page")
	}
}

func TestDeletePostKeepsArchiveMonth(t *testing.T) {
	clock := newTestClock()
	clock.Set(time.Date(2024, 2, 10, 12, 0, 0, 0, time.UTC))
	a := newTestApp(t, testConfig(t), WithClock(clock.Now))
	ctx := context.Background()

	old := publish(t, a, "February post", "<p>feb</p>", "go")
	clock.Set(time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))
	keep := publish(t, a, "March post", "<p>mar</p>", "go")
	flushTasks(t, a)

	if body := staticBody(t, a, keep.Path); !strings.Contains(body, old.Path) {
		t.Fatalf("%s should link to %s before the delete", keep.Path, old.Path)
	}

	if err := a.DeletePost(ctx, old); err != nil {
		t.Fatalf("DeletePost failed: %v", err)
	}
	flushTasks(t, a)

	if _, err := a.Store.GetPost(ctx, old.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetPost(deleted) err = %v, want ErrNotFound", err)
	}
	assertNoDocument(t, a, old.Path)
	for _, path := range []string{"/", "/tag/go", "/archive/2024/02/", "/archive/", atomPath, keep.Path} {
		if body := staticBody(t, a, path); strings.Contains(body, "February post") {
			t.Errorf("%s still lists the deleted post", path)
		}
	}
	if body := staticBody(t, a, sitemapPath); strings.Contains(body, old.Path) {
		t.Error("sitemap still lists the deleted post")
	}

	dates, err := a.Store.ListBlogDates(ctx)
	if err != nil {
		t.Fatalf("ListBlogDates failed: %v", err)
	}
	if len(dates) != 2 {
		t.Errorf("expected both months to stay in the date index, got %v", dates)
	}

	// The path stays reserved.
	clock.Set(time.Date(2024, 2, 20, 12, 0, 0, 0, time.UTC))
	again := publish(t, a, "February post", "<p>again</p>")
	if again.Path == old.Path {
		t.Errorf("new post reused the deleted post's path %s", old.Path)
	}
}

func TestEditRetagsListings(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	ctx := context.Background()

	p := publish(t, a, "Tagged", "<p>body</p>", "go", "web")
	flushTasks(t, a)
	if body := staticBody(t, a, "/tag/web"); !strings.Contains(body, "Tagged") {
		t.Fatal("/tag/web should list the post")
	}

	p.Tags = []string{"go"}
	if err := a.PublishPost(ctx, p, p.Body, false); err != nil {
		t.Fatalf("PublishPost failed: %v", err)
	}
	flushTasks(t, a)

	if body := staticBody(t, a, "/tag/web"); strings.Contains(body, "Tagged") {
		t.Error("/tag/web still lists the post after the tag was removed")
	}
	if body := staticBody(t, a, "/tag/go"); !strings.Contains(body, "Tagged") {
		t.Error("/tag/go no longer lists the post")
	}
	got, err := a.Store.GetPost(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPost failed: %v", err)
	}
	if res := got.Deps["tag"].Resources; len(res) != 1 || res[0] != "go" {
		t.Errorf("tag deps = %v, want [go]", res)
	}
}

func TestUnchangedRepublishSkipsGenerators(t *testing.T) {
	rec := &taskRecorder{}
	a := newTestApp(t, testConfig(t), WithTasks(rec))
	ctx := context.Background()

	p := publish(t, a, "Stable", "<p>same</p>", "go")
	if len(rec.take()) == 0 {
		t.Fatal("first publish should queue listing renders")
	}
	before, err := a.Static.Get(ctx, p.Path)
	if err != nil {
		t.Fatalf("post page not rendered: %v", err)
	}

	if err := a.PublishPost(ctx, p, p.Body, false); err != nil {
		t.Fatalf("PublishPost failed: %v", err)
	}
	if tasks := rec.take(); len(tasks) != 0 {
		t.Errorf("unchanged post queued %d tasks", len(tasks))
	}
	after, err := a.Static.Get(ctx, p.Path)
	if err != nil {
		t.Fatalf("GetStatic failed: %v", err)
	}
	if !after.LastModified.Equal(before.LastModified) {
		t.Error("unchanged post page was rendered again")
	}
}

func TestListingContinuationTasks(t *testing.T) {
	rec := &taskRecorder{}
	a := newTestApp(t, testConfig(t), WithTasks(rec))
	ctx := context.Background()

	var posts []*Post
	for i := 0; i < 5; i++ {
		posts = append(posts, publish(t, a, fmt.Sprintf("Post %d", i), "<p>x</p>", "go"))
	}
	rec.take()

	g, err := a.generator("tag")
	if err != nil {
		t.Fatalf("generator failed: %v", err)
	}
	if err := g.GenerateResource(ctx, nil, "go"); err != nil {
		t.Fatalf("GenerateResource failed: %v", err)
	}

	// Two posts per page: pages hold 4-3, 2-1 and 0.
	wantKeys := []string{
		fmt.Sprintf("tag:go:2:%d", posts[3].Published.UnixMicro()),
		fmt.Sprintf("tag:go:3:%d", posts[1].Published.UnixMicro()),
	}
	var continuations int
	for step := 0; ; step++ {
		tasks := rec.take()
		if len(tasks) == 0 {
			break
		}
		if len(tasks) != 1 {
			t.Fatalf("step %d: expected one continuation task, got %d", step, len(tasks))
		}
		if step >= len(wantKeys) {
			t.Fatalf("unexpected continuation %s", tasks[0].Key)
		}
		if tasks[0].Key != wantKeys[step] {
			t.Errorf("step %d: key = %q, want %q", step, tasks[0].Key, wantKeys[step])
		}
		continuations++
		if err := a.TaskMux().ProcessTask(ctx, tasks[0]); err != nil {
			t.Fatalf("ProcessTask failed: %v", err)
		}
	}
	if continuations != 2 {
		t.Errorf("continuations = %d, want 2", continuations)
	}

	page2 := staticBody(t, a, "/tag/go/2")
	if !strings.Contains(page2, "Post 2") || !strings.Contains(page2, "Post 1") || strings.Contains(page2, "Post 4") {
		t.Errorf("/tag/go/2 holds the wrong posts")
	}
	if page3 := staticBody(t, a, "/tag/go/3"); !strings.Contains(page3, "Post 0") {
		t.Error("/tag/go/3 should hold the oldest post")
	}
	assertNoDocument(t, a, "/tag/go/4")
}

func TestListingShrinkRemovesTrailingPage(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	ctx := context.Background()

	var posts []*Post
	for i := 0; i < 3; i++ {
		posts = append(posts, publish(t, a, fmt.Sprintf("Post %d", i), "<p>x</p>"))
	}
	flushTasks(t, a)
	staticBody(t, a, "/page/2")

	if err := a.DeletePost(ctx, posts[0]); err != nil {
		t.Fatalf("DeletePost failed: %v", err)
	}
	flushTasks(t, a)
	assertNoDocument(t, a, "/page/2")
}

func TestPublishPageMove(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	ctx := context.Background()

	page := &Page{Path: "/about", Title: "About", Template: "Theme.html", Body: "<p>me</p><script>alert(1)</script>"}
	if err := a.PublishPage(ctx, page, ""); err != nil {
		t.Fatalf("PublishPage failed: %v", err)
	}
	body := staticBody(t, a, "/about")
	if !strings.Contains(body, "<p>me</p>") {
		t.Error("page body not rendered")
	}
	if strings.Contains(body, "alert(1)") {
		t.Error("page body was not sanitized")
	}

	page.Path = "/about-me"
	if err := a.PublishPage(ctx, page, "/about"); err != nil {
		t.Fatalf("PublishPage move failed: %v", err)
	}
	flushTasks(t, a)

	if _, err := a.Store.GetPage(ctx, "/about"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old page record still present: %v", err)
	}
	assertNoDocument(t, a, "/about")
	staticBody(t, a, "/about-me")

	sitemap := staticBody(t, a, sitemapPath)
	if !strings.Contains(sitemap, "<loc>http://blog.test/about-me</loc>") || strings.Contains(sitemap, "<loc>http://blog.test/about</loc>") {
		t.Errorf("sitemap does not reflect the move:\n%s", sitemap)
	}

	if err := a.DeletePage(ctx, page); err != nil {
		t.Fatalf("DeletePage failed: %v", err)
	}
	assertNoDocument(t, a, "/about-me")
}

func TestPostPathSkipsPages(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	ctx := context.Background()

	page := &Page{Path: "/2024/03/about", Title: "About", Template: "Theme.html", Body: "<p>the page</p>"}
	if err := a.PublishPage(ctx, page, ""); err != nil {
		t.Fatalf("PublishPage failed: %v", err)
	}
	p := publish(t, a, "About", "<p>the post</p>")
	flushTasks(t, a)

	if p.Path != "/2024/03/about-1" {
		t.Errorf("post path = %q, want /2024/03/about-1", p.Path)
	}
	if body := staticBody(t, a, page.Path); !strings.Contains(body, "the page") || strings.Contains(body, "the post") {
		t.Errorf("page document was overwritten:\n%s", body)
	}
	if body := staticBody(t, a, p.Path); !strings.Contains(body, "the post") {
		t.Errorf("post document missing its body:\n%s", body)
	}
}

func TestRegenerateRebuildsSite(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	ctx := context.Background()

	// Rows written behind the generators' back, as after an import.
	for i, title := range []string{"Imported one", "Imported two", "Imported three"} {
		published := time.Date(2023, time.Month(10+i), 1, 9, 0, 0, 0, time.UTC)
		p := &Post{Title: title, Body: "<p>" + title + "</p>", BodyMarkup: "html", Tags: []string{"import"}, Published: published, Updated: published}
		p.Path = FormatPostPath(a.Config.PostPathFormat, p, 0)
		if err := a.Store.SavePost(ctx, p); err != nil {
			t.Fatalf("SavePost failed: %v", err)
		}
		if err := a.Store.AddBlogDate(ctx, BlogDateFor(published)); err != nil {
			t.Fatalf("AddBlogDate failed: %v", err)
		}
	}
	if err := a.Store.SavePage(ctx, &Page{Path: "/colophon", Title: "Colophon", Template: "Simple.html", Body: "<p>made</p>"}); err != nil {
		t.Fatalf("SavePage failed: %v", err)
	}

	if err := a.RegenerateIfEmpty(ctx); err != nil {
		t.Fatalf("RegenerateIfEmpty failed: %v", err)
	}
	flushTasks(t, a)

	for _, path := range []string{"/", "/page/2", "/tag/import", "/tag/import/2", "/archive/", "/archive/2023/10/", "/archive/2023/12/", "/2023/11/imported-two", "/colophon", atomPath, sitemapPath} {
		staticBody(t, a, path)
	}
	posts, err := a.Store.QueryPosts(ctx, PostQuery{})
	if err != nil {
		t.Fatalf("QueryPosts failed: %v", err)
	}
	for _, p := range posts {
		if len(p.Deps) != len(a.Generators) {
			t.Errorf("%s: recorded deps for %d generators, want %d", p.Path, len(p.Deps), len(a.Generators))
		}
	}

	// Nothing is queued once the site has content.
	if err := a.RegenerateIfEmpty(ctx); err != nil {
		t.Fatalf("RegenerateIfEmpty failed: %v", err)
	}
	if n := a.Tasks.(*deferred.InProc).Pending(); n != 0 {
		t.Errorf("RegenerateIfEmpty queued %d tasks on a rendered site", n)
	}
}

func TestRegenerateEmptySite(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	if err := a.Regenerate(context.Background()); err != nil {
		t.Fatalf("Regenerate failed: %v", err)
	}
	flushTasks(t, a)
	if body := staticBody(t, a, "/"); !strings.Contains(body, "Nothing has been published here yet.") {
		t.Error("empty index not rendered")
	}
	staticBody(t, a, "/archive/")
	staticBody(t, a, atomPath)
}

func TestAtomFeedNotifiesHub(t *testing.T) {
	var (
		mu    sync.Mutex
		pings []url.Values
	)
	hub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(b))
		mu.Lock()
		pings = append(pings, form)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hub.Close()

	cfg := testConfig(t)
	cfg.HubURL = hub.URL
	a := newTestApp(t, cfg)

	publish(t, a, "Hub news", "<p>fresh</p>", "go")
	flushTasks(t, a)

	feed := staticBody(t, a, atomPath)
	for _, want := range []string{"<title>Hub news</title>", `rel="hub"`, `<category term="go"></category>`} {
		if !strings.Contains(feed, want) {
			t.Errorf("feed does not contain %q", want)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(pings) != 1 {
		t.Fatalf("hub received %d pings, want 1", len(pings))
	}
	if pings[0].Get("hub.mode") != "publish" || pings[0].Get("hub.url") != "http://blog.test/feeds/atom.xml" {
		t.Errorf("unexpected ping %v", pings[0])
	}
}

func TestAtomHubFailureFailsTask(t *testing.T) {
	hub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer hub.Close()

	cfg := testConfig(t)
	cfg.HubURL = hub.URL
	a := newTestApp(t, cfg)

	publish(t, a, "Unlucky", "<p>x</p>")
	err := a.Tasks.(*deferred.InProc).Flush(context.Background())
	if err == nil {
		t.Fatal("expected the feed task to fail when the hub rejects the ping")
	}
	// The feed itself is stored before the ping.
	staticBody(t, a, atomPath)
}
