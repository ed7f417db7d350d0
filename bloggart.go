// Package bloggart is a blog engine that renders every public page ahead of
// time. Admin edits rerun only the generators whose output changed, and the
// public site is served straight from the stored documents.
package bloggart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/eringen/bloggart/internal/deferred"
	"github.com/eringen/bloggart/internal/memcache"
	"github.com/eringen/bloggart/markup"
	"github.com/eringen/bloggart/views"
)

// App is the central bloggart application. It wires together the store,
// static cache, generators, task queue, handlers and theme.
type App struct {
	Config     SiteConfig
	Echo       *echo.Echo
	Store      *Store
	Static     *StaticCache
	Memcache   memcache.Client
	Tasks      deferred.Submitter
	Markup     *markup.Renderer
	Theme      *views.Theme
	XSRF       *XSRF
	Generators []Generator
	Pages      *PageGenerator
	HTTPClient *http.Client

	log          zerolog.Logger
	now          func() time.Time
	mux          *deferred.Mux
	assets       fs.FS
	themeFS      fs.FS
	loginLimiter *LoginLimiter
	customRoutes []func(*App)
	opened       bool
}

// WithLogger replaces the default logger.
func WithLogger(l zerolog.Logger) Option {
	return func(a *App) {
		a.log = l
	}
}

// WithMemcache uses mc instead of a client built from the configuration.
func WithMemcache(mc memcache.Client) Option {
	return func(a *App) {
		a.Memcache = mc
	}
}

// WithTasks uses s for deferred work. Its handlers are registered on
// TaskMux.
func WithTasks(s deferred.Submitter) Option {
	return func(a *App) {
		a.Tasks = s
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *App) {
		a.now = now
	}
}

// WithHTTPClient sets the client used to notify hubs and search engines.
func WithHTTPClient(c *http.Client) Option {
	return func(a *App) {
		a.HTTPClient = c
	}
}

// New creates a new App. Nothing is opened until Open or Start.
func New(cfg SiteConfig, opts ...Option) *App {
	cfg.setDefaults()
	a := &App{
		Config:     cfg,
		Echo:       echo.New(),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		log:        NewLogger(cfg.Environment, nil),
		now:        time.Now,
		mux:        deferred.NewMux(),
		assets:     assetsFS(),
	}
	a.Echo.HideBanner = true
	a.Echo.HidePort = true
	for _, opt := range opts {
		opt(a)
	}
	a.registerTasks(a.mux)
	return a
}

// TaskMux returns the mux holding the App's task handlers.
func (a *App) TaskMux() *deferred.Mux {
	return a.mux
}

// Open connects the store, caches and task queue, loads the theme and
// registers routes.
func (a *App) Open(ctx context.Context) error {
	if a.opened {
		return nil
	}
	if err := a.Config.Validate(); err != nil {
		return fmt.Errorf("bloggart: config: %w", err)
	}

	store, err := NewStore(a.Config.DatabasePath)
	if err != nil {
		return fmt.Errorf("bloggart: init store: %w", err)
	}
	a.Store = store

	if a.Memcache == nil {
		if a.Config.RedisAddr != "" {
			mc, err := memcache.NewRedis(ctx, a.Config.RedisAddr, a.Config.RedisPassword, a.Config.RedisDB)
			if err != nil {
				return fmt.Errorf("bloggart: init memcache: %w", err)
			}
			a.Memcache = mc
		} else {
			a.Memcache = memcache.NewMemory()
		}
	}

	if a.Tasks == nil {
		if a.Config.RedisAddr != "" {
			a.Tasks = deferred.NewAsynq(a.Config.RedisAddr, a.Config.RedisPassword, a.Config.RedisDB, a.mux, a.log)
		} else {
			a.Tasks = deferred.NewInProc(a.mux, a.log)
		}
	}

	themeFS := views.Default()
	switch {
	case a.themeFS != nil:
		themeFS = views.Overlay(a.themeFS, themeFS)
	case a.Config.ThemeDir != "":
		themeFS = views.Overlay(os.DirFS(a.Config.ThemeDir), themeFS)
	}
	if a.Theme, err = views.Load(themeFS, nil); err != nil {
		return fmt.Errorf("bloggart: load theme: %w", err)
	}

	a.Markup = markup.New()
	a.Static = NewStaticCache(a.Store, a.Memcache, a.log)
	a.Static.now = a.now
	a.XSRF = NewXSRF(a.Store, a.Memcache, a.log)
	a.Generators = defaultGenerators(a)
	a.Pages = &PageGenerator{app: a}
	a.loginLimiter = NewLoginLimiter(5, time.Minute)

	a.setupMiddleware()
	a.setupRoutes()
	for _, fn := range a.customRoutes {
		fn(a)
	}
	a.opened = true
	return nil
}

type taskRunner interface {
	Run(ctx context.Context) error
}

// Start opens the App, queues a first render when nothing has been
// rendered, and serves HTTP until ctx is cancelled.
func (a *App) Start(ctx context.Context) error {
	if err := a.Open(ctx); err != nil {
		return err
	}
	if err := a.RegenerateIfEmpty(ctx); err != nil {
		a.log.Error().Err(err).Msg("initial regeneration")
	}
	if r, ok := a.Tasks.(taskRunner); ok {
		go func() {
			if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Error().Err(err).Msg("task worker stopped")
			}
		}()
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Echo.Shutdown(shutdownCtx); err != nil {
			a.log.Error().Err(err).Msg("shutdown")
		}
	}()
	a.log.Info().Str("addr", a.Config.Addr).Str("url", a.Config.URL).Msg("listening")
	if err := a.Echo.Start(a.Config.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *App) setupRoutes() {
	e := a.Echo

	e.GET("/robots.txt", a.handleRobots)

	e.GET("/admin/", a.handleAdmin)
	e.GET("/admin", func(c echo.Context) error {
		return c.Redirect(http.StatusMovedPermanently, "/admin/")
	})

	admin := e.Group("/admin", a.xsrfProtect)
	admin.POST("/login", a.handleAdminLogin)

	auth := admin.Group("", requireAdmin)
	auth.POST("/logout", a.handleAdminLogout)
	auth.GET("/posts", a.handlePostList)
	auth.GET("/newpost", a.handleNewPost)
	auth.POST("/newpost", a.handleSaveNewPost)
	auth.GET("/post/:id", a.handleEditPost)
	auth.POST("/post/:id", a.handleSavePost)
	auth.POST("/post/:id/delete", a.handleDeletePost)
	auth.GET("/post/:id/preview", a.handlePreviewPost)
	auth.GET("/pages", a.handlePageList)
	auth.GET("/newpage", a.handleNewPage)
	auth.POST("/newpage", a.handleSaveNewPage)
	auth.GET("/page/edit/*", a.handleEditPage)
	auth.POST("/page/edit/*", a.handleSavePage)
	auth.POST("/page/delete/*", a.handleDeletePage)
	auth.POST("/regenerate", a.handleRegenerate)
	auth.GET("/images", a.handleImageList)
	auth.POST("/images/upload", a.handleImageUpload)
	auth.POST("/images/delete/:filename", a.handleImageDelete)

	e.GET("/*", a.handleStatic)
	e.HEAD("/*", a.handleStatic)
}

// Close cleans up resources. Call this when the app is shutting down.
func (a *App) Close() error {
	var errs []error
	if c, ok := a.Tasks.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if a.Memcache != nil {
		errs = append(errs, a.Memcache.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
