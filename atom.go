package bloggart

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	atomPath        = "/feeds/atom.xml"
	atomContentType = "application/atom+xml; charset=utf-8"
	atomEntries     = 10
)

type atomFeed struct {
	XMLName  xml.Name    `xml:"feed"`
	XMLNS    string      `xml:"xmlns,attr"`
	Title    string      `xml:"title"`
	Subtitle string      `xml:"subtitle,omitempty"`
	ID       string      `xml:"id"`
	Updated  string      `xml:"updated"`
	Links    []atomLink  `xml:"link"`
	Author   *atomPerson `xml:"author,omitempty"`
	Entries  []atomEntry `xml:"entry"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr,omitempty"`
	Type string `xml:"type,attr,omitempty"`
}

type atomPerson struct {
	Name string `xml:"name"`
}

type atomEntry struct {
	Title      string         `xml:"title"`
	ID         string         `xml:"id"`
	Link       atomLink       `xml:"link"`
	Published  string         `xml:"published"`
	Updated    string         `xml:"updated"`
	Categories []atomCategory `xml:"category"`
	Content    atomContent    `xml:"content"`
}

type atomCategory struct {
	Term string `xml:"term,attr"`
}

type atomContent struct {
	Type string `xml:"type,attr"`
	Body string `xml:",chardata"`
}

// AtomGenerator renders the Atom feed of the most recently updated posts
// and notifies the configured hub.
type AtomGenerator struct {
	app *App
}

func (g *AtomGenerator) Name() string   { return "atom" }
func (g *AtomGenerator) CanDefer() bool { return true }

func (g *AtomGenerator) ResourceList(_ context.Context, p *Post) ([]string, error) {
	if !p.IsPublished() {
		return nil, nil
	}
	return []string{"atom"}, nil
}

func (g *AtomGenerator) ETag(p *Post) (string, error) {
	return p.Hash(), nil
}

func (g *AtomGenerator) GenerateResource(ctx context.Context, _ *Post, _ string) error {
	a := g.app
	posts, err := a.Store.QueryPosts(ctx, PostQuery{ByUpdated: true, Limit: atomEntries})
	if err != nil {
		return err
	}
	now := a.now().UTC().Truncate(time.Minute)
	body, err := a.atomFeed(posts, now)
	if err != nil {
		return err
	}
	if _, err := a.Static.Set(ctx, atomPath, body, atomContentType, NotIndexed(), WithLastModified(now)); err != nil {
		return err
	}
	if a.Config.HubURL == "" {
		return nil
	}
	return a.pingHub(ctx, a.absURL(atomPath))
}

func (a *App) atomFeed(posts []*Post, updated time.Time) ([]byte, error) {
	if len(posts) > 0 && !posts[0].Updated.IsZero() {
		updated = posts[0].Updated
	}
	feed := atomFeed{
		XMLNS:    "http://www.w3.org/2005/Atom",
		Title:    a.Config.Name,
		Subtitle: a.Config.Slogan,
		ID:       a.absURL("/"),
		Updated:  updated.UTC().Format(time.RFC3339),
		Links: []atomLink{
			{Href: a.absURL("/")},
			{Href: a.absURL(atomPath), Rel: "self", Type: "application/atom+xml"},
		},
	}
	if a.Config.HubURL != "" {
		feed.Links = append(feed.Links, atomLink{Href: a.Config.HubURL, Rel: "hub"})
	}
	if a.Config.Author != "" {
		feed.Author = &atomPerson{Name: a.Config.Author}
	}
	for _, p := range posts {
		body, err := a.renderBody(p)
		if err != nil {
			return nil, err
		}
		link := a.absURL(p.Path)
		e := atomEntry{
			Title:     p.Title,
			ID:        link,
			Link:      atomLink{Href: link, Rel: "alternate"},
			Published: p.Published.UTC().Format(time.RFC3339),
			Updated:   p.Updated.UTC().Format(time.RFC3339),
			Content:   atomContent{Type: "html", Body: string(body)},
		}
		for _, t := range p.Tags {
			e.Categories = append(e.Categories, atomCategory{Term: t})
		}
		feed.Entries = append(feed.Entries, e)
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(feed); err != nil {
		return nil, fmt.Errorf("encode atom feed: %w", err)
	}
	return buf.Bytes(), nil
}

// pingHub tells the PubSubHubbub hub that the feed at feedURL changed.
func (a *App) pingHub(ctx context.Context, feedURL string) error {
	form := url.Values{"hub.mode": {"publish"}, "hub.url": {feedURL}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.Config.HubURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("ping hub: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("ping hub: %s", resp.Status)
	}
	a.log.Info().Str("hub", a.Config.HubURL).Str("feed", feedURL).Msg("hub notified")
	return nil
}
