package bloggart

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Slugify converts a title to a URL-safe slug. Accented letters are reduced
// to their ASCII base; anything else that is not a letter or digit becomes a
// single dash.
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(norm.NFKD.String(s)))
	var b strings.Builder
	prev := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prev = false
		case unicode.Is(unicode.Mn, r) || r > unicode.MaxASCII && unicode.IsLetter(r):
			// combining marks and non-ASCII letters are dropped
		default:
			if !prev && b.Len() > 0 {
				b.WriteByte('-')
				prev = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

func normalizeTag(t string) string {
	return Slugify(t)
}

// FormatPostPath fills the post path template. Supported placeholders are
// {year}, {month}, {day} and {slug}; n > 0 appends "-n" to the slug.
func FormatPostPath(format string, p *Post, n int) string {
	slug := Slugify(p.Title)
	if slug == "" {
		slug = "post"
	}
	if n > 0 {
		slug = fmt.Sprintf("%s-%d", slug, n)
	}
	d := p.Published
	return strings.NewReplacer(
		"{year}", fmt.Sprintf("%d", d.Year()),
		"{month}", fmt.Sprintf("%02d", int(d.Month())),
		"{day}", fmt.Sprintf("%02d", d.Day()),
		"{slug}", slug,
	).Replace(format)
}

// BuildURL joins a base URL with path segments. Unlike path.Join it keeps a
// trailing slash present on the last segment.
func BuildURL(base string, pathSegments ...string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	joined := path.Join(append([]string{u.Path}, pathSegments...)...)
	if n := len(pathSegments); n > 0 && strings.HasSuffix(pathSegments[n-1], "/") && !strings.HasSuffix(joined, "/") {
		joined += "/"
	}
	if joined == "" || joined == "." {
		joined = "/"
	}
	u.Path = joined
	return u.String()
}

// FilterEmpty removes empty/whitespace-only strings from a slice.
func FilterEmpty(vals []string) []string {
	var out []string
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SplitTags parses the comma separated tag field of the post form.
func SplitTags(field string) []string {
	return FilterEmpty(strings.Split(field, ","))
}

// JoinTags joins tags with ", ".
func JoinTags(tags []string) string {
	return strings.Join(tags, ", ")
}

// ParseTags splits a comma-delimited tag string (e.g. ",go,web,") into a slice.
func ParseTags(tagString string) []string {
	tagString = strings.Trim(tagString, ",")
	if tagString == "" {
		return nil
	}
	parts := strings.Split(tagString, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func formatTags(tags []string) string {
	return "," + strings.Join(tags, ",") + ","
}
