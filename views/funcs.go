package views

import (
	"html/template"
	"net/url"
	"strings"
	"time"
)

// Funcs returns the functions available to every template.
func Funcs() template.FuncMap {
	return template.FuncMap{
		"safeHTML":   func(s string) template.HTML { return template.HTML(s) },
		"formatDate": FormatDate,
		"isoDate":    func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
		"pathEscape": url.PathEscape,
		"join":       strings.Join,
		"add":        func(a, b int) int { return a + b },
		"sub":        func(a, b int) int { return a - b },
		"year":       func(t time.Time) int { return t.Year() },
		"now":        time.Now,
		"selected": func(a, b string) template.HTMLAttr {
			if a == b {
				return "selected"
			}
			return ""
		},
	}
}

// FormatDate formats t with layout, returning "" for the zero time.
func FormatDate(t time.Time, layout string) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(layout)
}
