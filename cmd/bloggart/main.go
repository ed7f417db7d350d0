package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/eringen/bloggart"
	"github.com/eringen/bloggart/internal/deferred"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe()
	case "worker":
		err = runWorker()
	case "regenerate":
		err = runRegenerate()
	case "theme":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: bloggart theme <directory>")
			os.Exit(1)
		}
		err = runTheme(os.Args[2])
	case "version":
		fmt.Printf("bloggart %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`bloggart - a blog engine that serves pre-rendered pages

Usage:
  bloggart <command> [arguments]

Commands:
  serve          Run the web server (and the task worker when Redis is not configured)
  worker         Run only the task worker; requires REDIS_ADDR
  regenerate     Render every post and page again
  theme <dir>    Copy the default theme into dir for customization
  version        Print the bloggart version
  help           Show this help message

Configuration is read from the environment and from a .env file.`)
}

func openApp(ctx context.Context) (*bloggart.App, error) {
	cfg, err := bloggart.LoadConfig()
	if err != nil {
		return nil, err
	}
	app := bloggart.New(cfg)
	if err := app.Open(ctx); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runServe() error {
	ctx, stop := signalContext()
	defer stop()
	cfg, err := bloggart.LoadConfig()
	if err != nil {
		return err
	}
	app := bloggart.New(cfg)
	defer app.Close()
	return app.Start(ctx)
}

type runner interface {
	Run(ctx context.Context) error
}

func runWorker() error {
	ctx, stop := signalContext()
	defer stop()
	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()
	if app.Config.RedisAddr == "" {
		return fmt.Errorf("worker needs REDIS_ADDR; without it serve runs tasks in process")
	}
	r, ok := app.Tasks.(runner)
	if !ok {
		return fmt.Errorf("task queue %T cannot run a worker", app.Tasks)
	}
	logger := app.Logger()
	logger.Info().Msg("worker started")
	return r.Run(ctx)
}

func runRegenerate() error {
	ctx, stop := signalContext()
	defer stop()
	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()
	if err := app.Regenerate(ctx); err != nil {
		return err
	}
	// Without Redis the queue lives in this process, so drain it here.
	if q, ok := app.Tasks.(*deferred.InProc); ok {
		return q.Flush(ctx)
	}
	fmt.Println("Regeneration queued; a worker will render the site.")
	return nil
}
