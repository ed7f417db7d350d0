package bloggart

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// handleStatic serves rendered documents from the static cache, falling
// back to the embedded assets under /static/.
func (a *App) handleStatic(c echo.Context) error {
	path, ok := a.stripPrefix(c.Request().URL.Path)
	if !ok {
		return echo.ErrNotFound
	}
	rec, err := a.Static.Get(c.Request().Context(), path)
	if errors.Is(err, ErrNotFound) {
		if strings.HasPrefix(path, "/static/") {
			return echo.StaticFileHandler(strings.TrimPrefix(path, "/static/"), a.assets)(c)
		}
		return echo.ErrNotFound
	}
	if err != nil {
		return err
	}
	return serveRecord(c, rec)
}

func (a *App) stripPrefix(path string) (string, bool) {
	prefix := a.Config.URLPrefix
	if prefix == "" {
		return path, true
	}
	if path != prefix && !strings.HasPrefix(path, prefix+"/") {
		return "", false
	}
	path = strings.TrimPrefix(path, prefix)
	if path == "" {
		path = "/"
	}
	return path, true
}

// serveRecord writes rec, answering conditional requests with 304.
func serveRecord(c echo.Context, rec *StaticRecord) error {
	h := c.Response().Header()
	for k, v := range rec.Headers {
		h.Set(k, v)
	}
	h.Set("ETag", `"`+rec.ETag+`"`)
	h.Set("Last-Modified", rec.LastModified.UTC().Format(http.TimeFormat))
	if notModified(c.Request(), rec) {
		return c.NoContent(http.StatusNotModified)
	}
	if c.Request().Method == http.MethodHead {
		h.Set(echo.HeaderContentType, rec.ContentType)
		return c.NoContent(rec.Status)
	}
	return c.Blob(rec.Status, rec.ContentType, rec.Body)
}

// notModified reports whether the client's copy is current. If-None-Match
// takes precedence over If-Modified-Since.
func notModified(req *http.Request, rec *StaticRecord) bool {
	if inm := req.Header.Get("If-None-Match"); inm != "" {
		for _, tag := range strings.Split(inm, ",") {
			tag = strings.TrimPrefix(strings.TrimSpace(tag), "W/")
			tag = strings.Trim(tag, `"`)
			if tag == "*" || tag == rec.ETag {
				return true
			}
		}
		return false
	}
	if ims := req.Header.Get("If-Modified-Since"); ims != "" {
		t, err := http.ParseTime(ims)
		if err != nil {
			return false
		}
		return !rec.LastModified.Truncate(time.Second).After(t)
	}
	return false
}

func (a *App) handleRobots(c echo.Context) error {
	body := fmt.Sprintf("User-agent: *\nAllow: /\nDisallow: /admin/\n\nSitemap: %s\n", a.absURL(sitemapPath))
	return c.String(http.StatusOK, body)
}

func (a *App) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var he *echo.HTTPError
	ok := errors.As(err, &he)
	if errors.Is(err, ErrNotFound) || ok && he.Code == http.StatusNotFound {
		_ = RenderStatus(c, http.StatusNotFound, a.errorPage(http.StatusNotFound))
		return
	}
	code := http.StatusInternalServerError
	if ok {
		code = he.Code
	}
	if code >= 500 {
		a.log.Error().Err(err).Str("uri", c.Request().RequestURI).Msg("server error")
		if rerr := RenderStatus(c, code, a.errorPage(code)); rerr != nil {
			_ = c.String(code, http.StatusText(code))
		}
		return
	}
	a.Echo.DefaultHTTPErrorHandler(err, c)
}
