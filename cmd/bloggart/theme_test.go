package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRunThemeCopiesDefaultTheme(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "mytheme")
	if err := runTheme(dir); err != nil {
		t.Fatalf("runTheme failed: %v", err)
	}
	for _, name := range []string{"listing.html", "layouts/site.html", "pages/Theme.html", "admin/edit.html"} {
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(name))); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
	if err := runTheme(dir); err == nil {
		t.Error("expected an error when the directory exists")
	}
}
