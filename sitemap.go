package bloggart

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/klauspost/compress/gzip"
)

const (
	sitemapPath   = "/sitemap.xml"
	sitemapGzPath = "/sitemap.xml.gz"
)

type sitemapURLSet struct {
	XMLName xml.Name     `xml:"urlset"`
	XMLNS   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc string `xml:"loc"`
}

// SitemapGenerator renders the sitemap of every indexed static document.
type SitemapGenerator struct {
	app *App
}

func (g *SitemapGenerator) Name() string   { return "sitemap" }
func (g *SitemapGenerator) CanDefer() bool { return true }

func (g *SitemapGenerator) ResourceList(_ context.Context, p *Post) ([]string, error) {
	if !p.IsPublished() {
		return nil, nil
	}
	return []string{"sitemap"}, nil
}

// ETag only changes with the path, since edits never add or remove URLs.
func (g *SitemapGenerator) ETag(p *Post) (string, error) {
	return p.Path, nil
}

func (g *SitemapGenerator) GenerateResource(ctx context.Context, _ *Post, _ string) error {
	a := g.app
	paths, err := a.Static.IndexedPaths(ctx)
	if err != nil {
		return err
	}
	set := sitemapURLSet{XMLNS: "http://www.sitemaps.org/schemas/sitemap/0.9"}
	for _, p := range paths {
		set.URLs = append(set.URLs, sitemapURL{Loc: a.absURL(p)})
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(set); err != nil {
		return fmt.Errorf("encode sitemap: %w", err)
	}
	if _, err := a.Static.Set(ctx, sitemapPath, buf.Bytes(), "application/xml; charset=utf-8", NotIndexed()); err != nil {
		return err
	}
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	if _, err := zw.Write(buf.Bytes()); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	if _, err := a.Static.Set(ctx, sitemapGzPath, gz.Bytes(), "application/x-gzip", NotIndexed()); err != nil {
		return err
	}
	if a.Config.SitemapPingURL == "" {
		return nil
	}
	return a.pingSitemap(ctx)
}

func (a *App) pingSitemap(ctx context.Context) error {
	target := a.Config.SitemapPingURL + url.QueryEscape(a.absURL(sitemapGzPath))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		// Search engines retire ping endpoints; a failed ping is not fatal.
		a.log.Warn().Err(err).Str("url", target).Msg("sitemap ping failed")
		return nil
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		a.log.Warn().Str("url", target).Str("status", resp.Status).Msg("sitemap ping rejected")
	}
	return nil
}
