package bloggart

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Post is a blog post. A post has a Path if and only if it has been
// published; drafts are addressed by ID only.
type Post struct {
	ID         int64
	Path       string
	Title      string
	Body       string
	BodyMarkup string
	Tags       []string
	Published  time.Time
	Updated    time.Time
	Created    time.Time
	Draft      string
	Deleted    bool

	// Deps records, per generator, the resources and etag this post
	// contributed to at its last regeneration.
	Deps map[string]Dep
}

// Dep is the state of one generator's view of a post.
type Dep struct {
	Resources []string `json:"resources"`
	ETag      string   `json:"etag"`
}

// IsPublished reports whether the post has been assigned a path.
func (p *Post) IsPublished() bool {
	return p.Path != ""
}

// NormalizedTags returns the slugified, deduplicated tags in input order.
func (p *Post) NormalizedTags() []string {
	seen := make(map[string]struct{}, len(p.Tags))
	var out []string
	for _, t := range p.Tags {
		n := normalizeTag(t)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// TagPair is a tag as entered and its URL form.
type TagPair struct {
	Name string
	Slug string
}

// TagPairs pairs every tag with its normalized slug.
func (p *Post) TagPairs() []TagPair {
	pairs := make([]TagPair, 0, len(p.Tags))
	for _, t := range p.Tags {
		if n := normalizeTag(t); n != "" {
			pairs = append(pairs, TagPair{Name: t, Slug: n})
		}
	}
	return pairs
}

// Hash changes whenever the title, body or publication time change.
func (p *Post) Hash() string {
	return hashFields(p.Title, p.Body, p.Published.UTC().Format(time.RFC3339Nano))
}

// SummaryHash changes whenever anything shown in a listing changes.
func (p *Post) SummaryHash(summary string) string {
	return hashFields(p.Title, summary, strings.Join(p.Tags, ","), p.Published.UTC().Format(time.RFC3339Nano))
}

// Page is a static page published at a user-chosen path.
type Page struct {
	Path     string
	Title    string
	Template string
	Body     string
	Created  time.Time
	Updated  time.Time
}

// BlogDate is a year-month that has at least one published post.
type BlogDate struct {
	Year  int
	Month time.Month
}

// BlogDateFor returns the date index entry of t.
func BlogDateFor(t time.Time) BlogDate {
	return BlogDate{Year: t.Year(), Month: t.Month()}
}

// ParseBlogDate parses a "YYYY/MM" key.
func ParseBlogDate(key string) (BlogDate, error) {
	t, err := time.Parse("2006/01", key)
	if err != nil {
		return BlogDate{}, fmt.Errorf("invalid archive key %q: %w", key, err)
	}
	return BlogDateFor(t), nil
}

// Key returns the "YYYY/MM" form used as resource name and primary key.
func (d BlogDate) Key() string {
	return fmt.Sprintf("%d/%02d", d.Year, int(d.Month))
}

// Start is the first instant of the month in UTC.
func (d BlogDate) Start() time.Time {
	return time.Date(d.Year, d.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End is the first instant of the following month.
func (d BlogDate) End() time.Time {
	return d.Start().AddDate(0, 1, 0)
}

// Image is an uploaded image served from the static cache.
type Image struct {
	Filename     string
	OriginalName string
	Width        int
	Height       int
	Size         int
	UploadedAt   time.Time
}

// URL is the public path of the image.
func (i Image) URL() string {
	return uploadsPrefix + i.Filename
}

// Sidebar is a titled list of raw HTML snippets shown next to content.
type Sidebar struct {
	Title string
	Items []string
}

func hashFields(fields ...string) string {
	h := sha1.New()
	for _, f := range fields {
		h.Write([]byte(f))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
