package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/eringen/bloggart/views"
)

// runTheme writes the default theme to dir so it can be edited and used
// through THEME_DIR.
func runTheme(dir string) error {
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("directory %q already exists", dir)
	}

	fmt.Printf("Writing default theme to %s\n\n", dir)

	theme := views.Default()
	err := fs.WalkDir(theme, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		outPath := filepath.Join(dir, filepath.FromSlash(path))
		if d.IsDir() {
			return os.MkdirAll(outPath, 0o755)
		}
		content, err := fs.ReadFile(theme, path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if err := os.WriteFile(outPath, content, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", outPath, err)
		}
		fmt.Printf("  created %s\n", outPath)
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("Done! Next steps:")
	fmt.Println()
	fmt.Printf("  export THEME_DIR=%s\n", dir)
	fmt.Println("  bloggart regenerate")
	fmt.Println()
	return nil
}
