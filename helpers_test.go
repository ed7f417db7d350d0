package bloggart

import (
	"testing"
	"time"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hello World", "hello-world"},
		{"Hello, World!", "hello-world"},
		{"  Go 1.22 released  ", "go-1-22-released"},
		{"Café crème", "cafe-creme"},
		{"a & b", "a-b"},
		{"---", ""},
		{"日本", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Slugify(tt.in); got != tt.want {
				t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatPostPath(t *testing.T) {
	p := &Post{Title: "Hello World", Published: time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)}

	tests := []struct {
		name   string
		format string
		n      int
		want   string
	}{
		{"default", DefaultPostPathFormat, 0, "/2024/03/hello-world"},
		{"collision", DefaultPostPathFormat, 1, "/2024/03/hello-world-1"},
		{"with day", "/{year}/{month}/{day}/{slug}", 0, "/2024/03/05/hello-world"},
		{"slug only", "/posts/{slug}", 2, "/posts/hello-world-2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatPostPath(tt.format, p, tt.n); got != tt.want {
				t.Errorf("FormatPostPath(%q, %d) = %q, want %q", tt.format, tt.n, got, tt.want)
			}
		})
	}

	untitled := &Post{Title: "!!!", Published: p.Published}
	if got := FormatPostPath(DefaultPostPathFormat, untitled, 0); got != "/2024/03/post" {
		t.Errorf("untitled post path = %q, want /2024/03/post", got)
	}
}

func TestBuildURL(t *testing.T) {
	tests := []struct {
		base     string
		segments []string
		want     string
	}{
		{"http://blog.test", []string{"tag", "go"}, "http://blog.test/tag/go"},
		{"http://blog.test/blog", []string{"archive/2024/03/"}, "http://blog.test/blog/archive/2024/03/"},
		{"http://blog.test", nil, "http://blog.test/"},
	}
	for _, tt := range tests {
		if got := BuildURL(tt.base, tt.segments...); got != tt.want {
			t.Errorf("BuildURL(%q, %v) = %q, want %q", tt.base, tt.segments, got, tt.want)
		}
	}
}

func TestTagFields(t *testing.T) {
	tags := SplitTags(" go, web ,, ")
	if len(tags) != 2 || tags[0] != "go" || tags[1] != "web" {
		t.Fatalf("SplitTags = %v, want [go web]", tags)
	}
	if got := JoinTags(tags); got != "go, web" {
		t.Errorf("JoinTags = %q", got)
	}
	stored := formatTags(tags)
	if stored != ",go,web," {
		t.Errorf("formatTags = %q, want ,go,web,", stored)
	}
	back := ParseTags(stored)
	if len(back) != 2 || back[0] != "go" || back[1] != "web" {
		t.Errorf("ParseTags(%q) = %v", stored, back)
	}
	if ParseTags(",,") != nil {
		t.Error("ParseTags of an empty field should be nil")
	}
}

func TestNormalizedTags(t *testing.T) {
	p := &Post{Tags: []string{"Go", "go", "Web Dev", "!!"}}
	got := p.NormalizedTags()
	if len(got) != 2 || got[0] != "go" || got[1] != "web-dev" {
		t.Errorf("NormalizedTags = %v, want [go web-dev]", got)
	}
	pairs := p.TagPairs()
	if len(pairs) != 3 || pairs[2].Name != "Web Dev" || pairs[2].Slug != "web-dev" {
		t.Errorf("TagPairs = %v", pairs)
	}
}

func TestBlogDate(t *testing.T) {
	d, err := ParseBlogDate("2024/12")
	if err != nil {
		t.Fatalf("ParseBlogDate failed: %v", err)
	}
	if d.Key() != "2024/12" {
		t.Errorf("Key = %q", d.Key())
	}
	if want := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC); !d.End().Equal(want) {
		t.Errorf("End = %v, want %v", d.End(), want)
	}
	if _, err := ParseBlogDate("2024-12"); err == nil {
		t.Error("expected an error for a malformed key")
	}
}

func TestPostHashes(t *testing.T) {
	p := &Post{Title: "T", Body: "B", Published: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)}
	h := p.Hash()
	p.Updated = p.Published.Add(time.Hour)
	if p.Hash() != h {
		t.Error("Hash should not depend on the update time")
	}
	p.Body = "changed"
	if p.Hash() == h {
		t.Error("Hash should change with the body")
	}
	s := p.SummaryHash("summary")
	p.Tags = []string{"go"}
	if p.SummaryHash("summary") == s {
		t.Error("SummaryHash should change with the tags")
	}
}
