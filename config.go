package bloggart

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/joho/godotenv"

	"github.com/eringen/bloggart/markup"
)

// DefaultPostPathFormat places posts under their year and month.
const DefaultPostPathFormat = "/{year}/{month}/{slug}"

// SiteConfig holds all configuration for a bloggart site.
type SiteConfig struct {
	Name           string            // Blog name (default "Bloggart")
	Author         string            // Author name shown in feeds and footers
	Slogan         string            // Subtitle shown under the blog name
	URL            string            // Canonical base URL (default "http://localhost:8080")
	ThemeDir       string            // Optional directory overriding the embedded theme
	PageTemplates  map[string]string // Page template file -> label
	PostPathFormat string            // Post path template (default DefaultPostPathFormat)
	PostsPerPage   int               // Listing page size (default 10)
	SummaryLength  int               // Words in a listing summary (default 200)
	DefaultMarkup  string            // Markup kind preselected in the editor (default "html")
	DateFormat     string            // Go time layout for displayed dates
	URLPrefix      string            // Path prefix the blog is mounted under
	HubURL         string            // PubSubHubbub hub notified when the feed changes
	SitemapPingURL string            // Search engine ping URL; the sitemap URL is appended
	DisqusForum    string            // Optional Disqus shortname for comments
	AnalyticsID    string            // Optional analytics property id
	Sidebars       []Sidebar         // Sidebar blocks in the default theme

	Addr         string // Listen address (default ":8080")
	DatabasePath string // SQLite path (default "data/bloggart.db")

	RedisAddr     string // Redis address for memcache and the task queue; empty means in-process
	RedisPassword string
	RedisDB       int

	AdminUser     string // Admin login name (default "admin")
	AdminPassword string // Required: admin login password
	SessionSecret string // Required: session encryption secret
	CookieSecure  bool   // Set true for HTTPS

	Environment string // "development" or "production"
}

func (c *SiteConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "Bloggart"
	}
	if c.URL == "" {
		c.URL = "http://localhost:8080"
	}
	c.URL = strings.TrimRight(c.URL, "/")
	if len(c.PageTemplates) == 0 {
		c.PageTemplates = map[string]string{
			"Theme.html":  "Use theme",
			"Simple.html": "Simple",
		}
	}
	if c.PostPathFormat == "" {
		c.PostPathFormat = DefaultPostPathFormat
	}
	if c.PostsPerPage <= 0 {
		c.PostsPerPage = 10
	}
	if c.SummaryLength <= 0 {
		c.SummaryLength = 200
	}
	if !markup.Valid(c.DefaultMarkup) {
		c.DefaultMarkup = markup.HTML
	}
	if c.DateFormat == "" {
		c.DateFormat = "02 January, 2006"
	}
	c.URLPrefix = strings.TrimRight(c.URLPrefix, "/")
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "data/bloggart.db"
	}
	if c.AdminUser == "" {
		c.AdminUser = "admin"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

// Validate reports configuration errors that would keep the server from
// starting.
func (c SiteConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.URL, validation.Required, is.URL),
		validation.Field(&c.AdminPassword, validation.Required.Error("ADMIN_PASSWORD is required")),
		validation.Field(&c.SessionSecret, validation.Required.Error("ADMIN_SESSION_SECRET is required"), validation.Length(16, 0)),
		validation.Field(&c.PostPathFormat, validation.Required, validation.By(checkPathFormat)),
		validation.Field(&c.HubURL, is.URL),
		validation.Field(&c.Environment, validation.In("development", "production")),
	)
}

func checkPathFormat(v any) error {
	s, _ := v.(string)
	if !strings.HasPrefix(s, "/") {
		return errors.New("must start with /")
	}
	if !strings.Contains(s, "{slug}") {
		return errors.New("must contain {slug}")
	}
	return nil
}

// Option configures additional App behavior.
type Option func(*App)

// WithCustomRoutes registers additional routes on the Echo instance.
// The callback runs after the built-in routes are registered.
func WithCustomRoutes(fn func(*App)) Option {
	return func(a *App) {
		a.customRoutes = append(a.customRoutes, fn)
	}
}

// WithThemeFS replaces the theme templates with fsys.
func WithThemeFS(fsys fs.FS) Option {
	return func(a *App) {
		a.themeFS = fsys
	}
}

// LoadConfig reads configuration from the environment, loading a .env file
// first when one exists.
func LoadConfig() (SiteConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return SiteConfig{}, fmt.Errorf("load .env: %w", err)
	}
	cfg := SiteConfig{
		Name:           os.Getenv("BLOG_NAME"),
		Author:         os.Getenv("BLOG_AUTHOR"),
		Slogan:         os.Getenv("BLOG_SLOGAN"),
		URL:            os.Getenv("SITE_URL"),
		ThemeDir:       os.Getenv("THEME_DIR"),
		PostPathFormat: os.Getenv("POST_PATH_FORMAT"),
		DefaultMarkup:  os.Getenv("DEFAULT_MARKUP"),
		DateFormat:     os.Getenv("DATE_FORMAT"),
		URLPrefix:      os.Getenv("URL_PREFIX"),
		HubURL:         os.Getenv("HUB_URL"),
		SitemapPingURL: os.Getenv("SITEMAP_PING_URL"),
		DisqusForum:    os.Getenv("DISQUS_FORUM"),
		AnalyticsID:    os.Getenv("ANALYTICS_ID"),
		Addr:           os.Getenv("ADDR"),
		DatabasePath:   os.Getenv("DATABASE_PATH"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		AdminUser:      os.Getenv("ADMIN_USER"),
		AdminPassword:  os.Getenv("ADMIN_PASSWORD"),
		SessionSecret:  os.Getenv("ADMIN_SESSION_SECRET"),
		CookieSecure:   os.Getenv("COOKIE_SECURE") == "true",
		Environment:    os.Getenv("APP_ENV"),
	}
	var err error
	if cfg.PostsPerPage, err = envInt("POSTS_PER_PAGE"); err != nil {
		return cfg, err
	}
	if cfg.SummaryLength, err = envInt("SUMMARY_LENGTH"); err != nil {
		return cfg, err
	}
	if cfg.RedisDB, err = envInt("REDIS_DB"); err != nil {
		return cfg, err
	}
	cfg.setDefaults()
	return cfg, nil
}

func envInt(key string) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

// EnvOr returns the value of the environment variable key, or fallback if empty.
func EnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
