package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"imgbatch/internal/api"
	"imgbatch/internal/config"
	"imgbatch/internal/convert"
	fileutil "imgbatch/internal/file"
	"imgbatch/internal/session"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return serve(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(cfg config.Config) error {
	if err := fileutil.EnsureDir(cfg.DataDir); err != nil {
		return fmt.Errorf("ensure data dir %s: %w", cfg.DataDir, err)
	}

	client := convert.NewClient(cfg.Converter.URL, cfg.Converter.Timeout)
	manager := buildSessionManager(cfg, client)

	router := setupRouter()
	wireAPI(router, manager, client, cfg)

	baseCtx, baseCancel := context.WithCancel(context.Background())
	manager.SetBaseContext(baseCtx)
	go manager.RunJanitor(baseCtx, cfg.SessionTTL)

	srv := newHTTPServer(cfg.Port, router, readHeaderTimeout)
	serverErr := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Str("converter", cfg.Converter.URL).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		baseCancel()
		return fmt.Errorf("http server failed: %w", err)
	case <-waitForShutdownSignal():
	}

	gracefulShutdown(srv, baseCancel, manager, shutdownTimeout)
	return nil
}

func setupRouter() *gin.Engine {
	if zerologDebug() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(api.RequestID())
	r.Use(api.ZerologLogger())
	return r
}

func buildSessionManager(cfg config.Config, conv convert.Converter) *session.Manager {
	manager := session.NewManager(conv, session.Options{
		DataDir:              cfg.DataDir,
		MaxConcurrentBatches: cfg.MaxConcurrentBatches,
		ArchiveName:          cfg.ArchiveName,
	})
	if err := manager.LoadHistory(); err != nil {
		log.Warn().Err(err).Msg("failed to load batch history")
	}
	return manager
}

func wireAPI(router *gin.Engine, manager *session.Manager, formats api.FormatLister, cfg config.Config) {
	apiHandler := api.NewAPI(manager, formats, api.Options{
		DefaultQuality: cfg.DefaultQuality,
		MaxUploadBytes: cfg.MaxUploadBytes(),
	})
	apiHandler.RegisterRoutes(router)
}

func newHTTPServer(port int, handler http.Handler, readHeaderTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func waitForShutdownSignal() <-chan os.Signal {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	return quit
}

func gracefulShutdown(srv *http.Server, cancelBase context.CancelFunc, manager *session.Manager, timeout time.Duration) {
	log.Info().Msg("shutdown signal received")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	cancelBase()
	if !manager.WaitAll(ctx) {
		log.Warn().Msg("batch workers did not finish before timeout")
	}
	log.Info().Msg("server exited cleanly")
}
