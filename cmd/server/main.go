package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/robertroutledge/pccf-converter/internal/api"
	"github.com/robertroutledge/pccf-converter/internal/config"
	"github.com/robertroutledge/pccf-converter/internal/jobs"
	"github.com/robertroutledge/pccf-converter/internal/layout"
	"github.com/robertroutledge/pccf-converter/internal/storage"
	"github.com/robertroutledge/pccf-converter/internal/web"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	configFlag := flag.String("config", "", "path to the XML config (default: next to the executable)")
	flag.Parse()

	if err := run(*configFlag); err != nil {
		fmt.Fprintf(os.Stderr, "pccf-server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	if configPath == "" {
		// Get the executable's directory for config resolution
		exePath, err := os.Executable()
		if err != nil {
			return fmt.Errorf("failed to get executable path: %w", err)
		}
		configPath = filepath.Join(filepath.Dir(exePath), "PCCFConverter.config")
	}

	// Load XML configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()}))
	slog.SetDefault(logger)

	// Ensure all data directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	l, err := layout.LoadPCCF()
	if err != nil {
		return err
	}

	convertOpts, err := cfg.ConverterOptions()
	if err != nil {
		return err
	}
	subsetOpts, err := cfg.SubsetOptions()
	if err != nil {
		return err
	}

	// Check if running in embedded mode (frontend built into binary)
	embeddedMode := web.HasEmbeddedFiles()

	// Initialize storage
	fileStore, err := storage.NewLocalStore(cfg.Storage.UploadsDirectory, cfg.Storage.OutputDirectory)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	jobMgr := jobs.NewManager(fileStore, nil, jobs.Config{
		Convert:          convertOpts,
		Subset:           subsetOpts,
		MaxConcurrent:    cfg.Jobs.MaxConcurrentJobs,
		ProgressInterval: cfg.ProgressInterval(),
		Logger:           logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start background job and chunk cleanup
	go func() {
		ticker := time.NewTicker(cfg.CleanupInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := jobMgr.CleanupOldJobs(cfg.JobRetention()); n > 0 {
					slog.Info("[Cleanup] removed finished jobs", "count", n)
				}
				if n, err := fileStore.CleanupChunks(cfg.JobRetention()); err != nil {
					slog.Warn("[Cleanup] chunk cleanup failed", "error", err)
				} else if n > 0 {
					slog.Info("[Cleanup] removed abandoned uploads", "count", n)
				}
			}
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	api.SetupMiddleware(e)
	api.ExposeErrorDetails = cfg.Advanced.LogLevel == "debug"

	// Configure middleware
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			// Skip logging if disabled in config
			if !cfg.Advanced.EnableRequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return strings.HasSuffix(path, "/ws") ||
				path == "/metrics" ||
				path == "/api/health"
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
	}))

	e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
		Timeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			return strings.HasSuffix(path, "/ws") ||
				strings.HasSuffix(path, "/download") ||
				strings.Contains(path, "/upload")
		},
		ErrorMessage: "Request timeout",
	}))

	e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			return strings.HasSuffix(path, "/ws") || strings.HasSuffix(path, "/download")
		},
	}))

	// Body limit middleware
	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	// CORS configuration
	if cfg.Server.EnableCORS {
		origins := strings.Split(cfg.Server.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 1 && origins[0] == "" {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}

	api.RegisterRoutes(e, api.NewHandlers(&api.Dependencies{
		Store:          fileStore,
		Jobs:           jobMgr,
		Layout:         l,
		Version:        Version,
		WSMaxMessageKB: cfg.Advanced.WebSocketMaxMessageSize,
	}))

	// Register embedded frontend if available
	if embeddedMode {
		if err := web.RegisterStaticRoutes(e); err != nil {
			slog.Warn("failed to register static routes", "error", err)
		}
	}

	// Configure server with settings from XML config
	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	printBanner(cfg, configPath, l, embeddedMode)

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.StartServer(s)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	return jobMgr.Shutdown(shutdownCtx)
}

func printBanner(cfg *config.AppConfig, configPath string, l *layout.Layout, embedded bool) {
	mode := "API only"
	if embedded {
		mode = "Embedded UI"
	}
	maxUpload := cfg.Storage.MaxUploadSize
	if n, err := humanize.ParseBytes(maxUpload); err == nil {
		maxUpload = humanize.IBytes(n)
	}

	title := color.New(color.FgCyan, color.Bold).SprintFunc()
	label := color.New(color.FgHiBlack).SprintFunc()

	fmt.Println()
	fmt.Println(title("PCCF Converter Server"))
	fmt.Printf("  %s %s (%s)\n", label("Version:   "), Version, BuildTime)
	fmt.Printf("  %s %s\n", label("Mode:      "), mode)
	fmt.Printf("  %s %s\n", label("Config:    "), configPath)
	fmt.Printf("  %s http://%s\n", label("Listen:    "), cfg.GetServerAddr())
	fmt.Printf("  %s %s\n", label("Data Dir:  "), cfg.Storage.DataDirectory)
	fmt.Printf("  %s %s, %d fields, %d-byte records\n", label("Layout:    "), l.Name(), l.Len(), l.RecordLength())
	fmt.Printf("  %s %s\n", label("Max upload:"), maxUpload)
	fmt.Println()

	if embedded {
		fmt.Printf("Open http://localhost:%d in your browser\n\n", cfg.Server.Port)
	}
}
