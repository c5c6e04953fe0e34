package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/yourusername/chapterdl/api"
	"github.com/yourusername/chapterdl/api/handlers"
	"github.com/yourusername/chapterdl/internal/app"
	"github.com/yourusername/chapterdl/internal/domain"
	"github.com/yourusername/chapterdl/internal/infrastructure"
	"github.com/yourusername/chapterdl/pkg/logger"
)

var (
	serverMode = flag.Bool("server-mode", false, "Internal flag: run in server mode (called by daemon)")
	foreground = flag.Bool("foreground", false, "Run the server in the foreground")
	configPath = flag.String("config", "", "Path to config file")
)

func main() {
	flag.Parse()

	if !*serverMode && !*foreground {
		startAsDaemon()
		return
	}

	if err := runServer(); err != nil {
		fmt.Fprintf(os.Stderr, "chapterdl-server: %v\n", err)
		os.Exit(1)
	}
}

// startAsDaemon re-executes the binary in server mode, detached from the
// terminal
func startAsDaemon() {
	execPath, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get executable path: %v\n", err)
		os.Exit(1)
	}

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "/"
	}

	args := []string{"-server-mode"}
	if *configPath != "" {
		args = append(args, "-config", *configPath)
	}

	cmd := exec.Command(execPath, args...)
	cmd.Dir = cwd
	cmd.Env = os.Environ()
	detach(cmd)

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open %s: %v\n", os.DevNull, err)
		os.Exit(1)
	}
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start daemon: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Server started as daemon (PID: %d)\n", cmd.Process.Pid)
}

func runServer() error {
	config, err := app.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := createDirectories(config); err != nil {
		return err
	}

	console, err := logger.New(logger.Config{
		Level:      config.Logging.Level,
		Format:     config.Logging.Format,
		OutputPath: config.Logging.OutputPath,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer console.Sync()

	multiLog, err := logger.NewMultiLogger(logger.MultiLoggerConfig{
		Level:   config.Logging.Level,
		LogsDir: config.Download.LogsDir(),
		Console: console,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer multiLog.Close()

	log := multiLog.General()
	log.Info("Starting chapterdl server",
		zap.String("version", handlers.Version),
		zap.String("host", config.Server.Host),
		zap.Int("port", config.Server.Port),
		zap.String("source", config.Source.BaseURL),
		zap.String("pages_bucket", config.Download.BucketURL()))

	repo, err := infrastructure.NewSQLiteChapterRepository(config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()

	ctx := context.Background()
	cache, err := infrastructure.OpenPageCache(ctx, config.Download.BucketURL())
	if err != nil {
		return fmt.Errorf("failed to open page cache: %w", err)
	}
	defer cache.Close()

	sourceOpts := infrastructure.DefaultSourceOptions()
	if config.Source.Timeout > 0 {
		sourceOpts.Timeout = config.Source.Timeout
	}
	if config.Source.UserAgent != "" {
		sourceOpts.UserAgent = config.Source.UserAgent
	}
	source := infrastructure.NewSourceClient(config.Source.BaseURL, sourceOpts)

	chapters := infrastructure.NewChapterService(repo, source, cache, multiLog.Download())
	hub := infrastructure.NewEventHub()
	defer hub.Close()
	notifier := infrastructure.NewNotificationService(&config.Notification, log)

	downloadMgr := app.NewDownloadManager(
		app.NewDownloadQueue(),
		app.Collaborators{Chapters: chapters, Pages: chapters, Marker: repo},
		hub,
		notifier,
		&config.Download,
		multiLog,
	)
	queueMgr := app.NewQueueManager(downloadMgr, &config.Download, multiLog)

	router := api.SetupRouter(queueMgr, downloadMgr, hub, multiLog)

	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serveErr:
		log.Error("HTTP server failed", zap.Error(err))
	}

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	// lets an in-flight page fetch finish and puts its chapter back to queued
	if err := downloadMgr.Shutdown(shutdownCtx); err != nil {
		log.Error("Downloader did not stop in time", zap.Error(err))
	}

	log.Info("Server exited")
	return nil
}

func createDirectories(config *domain.Config) error {
	dirs := []string{
		config.Download.BaseDir,
		config.Download.LogsDir(),
		filepath.Dir(config.Database.Path),
	}
	if config.Download.PagesBucket == "" {
		dirs = append(dirs, config.Download.PagesDir())
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
