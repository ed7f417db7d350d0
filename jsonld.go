package bloggart

import (
	"encoding/json"
	"html/template"
	"time"

	"github.com/eringen/bloggart/markup"
)

// postingJSONLD produces a Schema.org BlogPosting JSON-LD block for a post.
func (a *App) postingJSONLD(p *Post, summary string) template.JS {
	postURL := a.absURL(p.Path)
	data := map[string]any{
		"@context":      "https://schema.org",
		"@type":         "BlogPosting",
		"headline":      p.Title,
		"datePublished": p.Published.UTC().Format(time.RFC3339),
		"url":           postURL,
		"publisher": map[string]string{
			"@type": "Organization",
			"name":  a.Config.Name,
		},
		"mainEntityOfPage": map[string]string{
			"@type": "WebPage",
			"@id":   postURL,
		},
	}
	if !p.Updated.IsZero() {
		data["dateModified"] = p.Updated.UTC().Format(time.RFC3339)
	}
	if s := markup.PlainText(summary); s != "" {
		data["description"] = s
	}
	if a.Config.Author != "" {
		data["author"] = map[string]string{
			"@type": "Person",
			"name":  a.Config.Author,
		}
	}
	if len(p.Tags) > 0 {
		data["keywords"] = JoinTags(p.Tags)
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "{}"
	}
	return template.JS(b)
}
