package bloggart

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func serve(a *App, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.Echo.ServeHTTP(rec, req)
	return rec
}

func TestServeStaticConditionalGet(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	modified := time.Date(2024, 3, 10, 12, 30, 15, 0, time.UTC)
	doc, err := a.Static.Set(context.Background(), "/hello", []byte("<p>hello</p>"), htmlContentType, WithLastModified(modified))
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	etag := `"` + doc.ETag + `"`

	tests := []struct {
		name    string
		method  string
		headers map[string]string
		want    int
		body    string
	}{
		{"plain", http.MethodGet, nil, http.StatusOK, "<p>hello</p>"},
		{"head", http.MethodHead, nil, http.StatusOK, ""},
		{"matching etag", http.MethodGet, map[string]string{"If-None-Match": etag}, http.StatusNotModified, ""},
		{"etag list", http.MethodGet, map[string]string{"If-None-Match": `"other", W/` + etag}, http.StatusNotModified, ""},
		{"wildcard", http.MethodGet, map[string]string{"If-None-Match": "*"}, http.StatusNotModified, ""},
		{"stale etag wins over date", http.MethodGet, map[string]string{
			"If-None-Match":     `"other"`,
			"If-Modified-Since": modified.Add(time.Hour).Format(http.TimeFormat),
		}, http.StatusOK, "<p>hello</p>"},
		{"same second", http.MethodGet, map[string]string{"If-Modified-Since": modified.Format(http.TimeFormat)}, http.StatusNotModified, ""},
		{"older copy", http.MethodGet, map[string]string{"If-Modified-Since": modified.Add(-time.Minute).Format(http.TimeFormat)}, http.StatusOK, "<p>hello</p>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/hello", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := serve(a, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if got := rec.Header().Get("ETag"); got != etag {
				t.Errorf("ETag = %q, want %q", got, etag)
			}
			if got := rec.Header().Get("Last-Modified"); got != modified.Format(http.TimeFormat) {
				t.Errorf("Last-Modified = %q", got)
			}
			if rec.Body.String() != tt.body {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.body)
			}
		})
	}
}

func TestServeUnderPrefix(t *testing.T) {
	cfg := testConfig(t)
	cfg.URLPrefix = "/blog/"
	a := newTestApp(t, cfg)
	if _, err := a.Static.Set(context.Background(), "/", []byte("front"), htmlContentType); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	for _, target := range []string{"/blog", "/blog/"} {
		rec := serve(a, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusOK || rec.Body.String() != "front" {
			t.Errorf("GET %s = %d %q", target, rec.Code, rec.Body.String())
		}
	}
	rec := serve(a, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET / outside the prefix = %d, want 404", rec.Code)
	}
}

func TestNotFoundUsesTheme(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	rec := serve(a, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Not found") || !strings.Contains(rec.Body.String(), "Test Blog") {
		t.Errorf("404 page not themed: %s", rec.Body.String())
	}
}

func TestServeEmbeddedAssets(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	rec := serve(a, httptest.NewRequest(http.MethodGet, "/static/style.css", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Content-Type"), "text/css") {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
}

func TestRobots(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	rec := serve(a, httptest.NewRequest(http.MethodGet, "/robots.txt", nil))
	if !strings.Contains(rec.Body.String(), "Sitemap: http://blog.test/sitemap.xml") {
		t.Errorf("robots.txt = %q", rec.Body.String())
	}
}

func formRequest(target string, form url.Values, cookies ...*http.Cookie) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func token(t *testing.T, a *App, user, action string) string {
	t.Helper()
	tok, err := a.XSRF.Token(context.Background(), user, action)
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	return tok
}

// login signs in as the admin and returns the session cookies.
func login(t *testing.T, a *App) []*http.Cookie {
	t.Helper()
	rec := serve(a, formRequest("/admin/login", url.Values{
		"user":     {"admin"},
		"password": {"secret"},
		XSRFField:  {token(t, a, "", "/admin/login")},
	}))
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("login status = %d, want 303", rec.Code)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("login did not set a session cookie")
	}
	return cookies
}

func TestAdminLogin(t *testing.T) {
	a := newTestApp(t, testConfig(t))

	t.Run("missing token", func(t *testing.T) {
		rec := serve(a, formRequest("/admin/login", url.Values{"user": {"admin"}, "password": {"secret"}}))
		if rec.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", rec.Code)
		}
	})

	t.Run("token for another form", func(t *testing.T) {
		rec := serve(a, formRequest("/admin/login", url.Values{
			"user": {"admin"}, "password": {"secret"},
			XSRFField: {token(t, a, "", "/admin/logout")},
		}))
		if rec.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", rec.Code)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		rec := serve(a, formRequest("/admin/login", url.Values{
			"user": {"admin"}, "password": {"nope"},
			XSRFField: {token(t, a, "", "/admin/login")},
		}))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("success", func(t *testing.T) {
		cookies := login(t, a)
		req := httptest.NewRequest(http.MethodGet, "/admin/posts", nil)
		for _, c := range cookies {
			req.AddCookie(c)
		}
		if rec := serve(a, req); rec.Code != http.StatusOK {
			t.Errorf("GET /admin/posts after login = %d, want 200", rec.Code)
		}
	})
}

func TestAdminRequiresSession(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	rec := serve(a, httptest.NewRequest(http.MethodGet, "/admin/posts", nil))
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/admin/" {
		t.Errorf("anonymous GET /admin/posts = %d to %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestAdminPublishesPost(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	ctx := context.Background()
	cookies := login(t, a)

	form := url.Values{
		"title":       {"From the editor"},
		"body":        {"Some **bold** words"},
		"body_markup": {"markdown"},
		"tags":        {"Go, Web"},
	}

	form.Set(XSRFField, token(t, a, "", "/admin/newpost"))
	if rec := serve(a, formRequest("/admin/newpost", form, cookies...)); rec.Code != http.StatusForbidden {
		t.Errorf("token issued to another user: status = %d, want 403", rec.Code)
	}

	form.Set(XSRFField, token(t, a, "admin", "/admin/newpost"))
	rec := serve(a, formRequest("/admin/newpost", form, cookies...))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	posts, err := a.Store.ListPosts(ctx, 0, 10)
	if err != nil {
		t.Fatalf("ListPosts failed: %v", err)
	}
	if len(posts) != 1 {
		t.Fatalf("expected one post, got %d", len(posts))
	}
	p := posts[0]
	if p.Path != "/2024/03/from-the-editor" || p.BodyMarkup != "markdown" || len(p.Tags) != 2 {
		t.Errorf("stored post = %+v", p)
	}

	flushTasks(t, a)
	page := serve(a, httptest.NewRequest(http.MethodGet, p.Path, nil))
	if page.Code != http.StatusOK || !strings.Contains(page.Body.String(), "<strong>bold</strong>") {
		t.Errorf("GET %s = %d", p.Path, page.Code)
	}
}

func TestAdminRejectsInvalidPost(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	cookies := login(t, a)

	rec := serve(a, formRequest("/admin/newpost", url.Values{
		"title":       {""},
		"body":        {"text"},
		"body_markup": {"html"},
		XSRFField:     {token(t, a, "admin", "/admin/newpost")},
	}, cookies...))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
	if posts, _ := a.Store.ListPosts(context.Background(), 0, 10); len(posts) != 0 {
		t.Error("invalid post was stored")
	}
}
