// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/guildplay/internal/api/connect"
	"github.com/osa030/guildplay/internal/app/deviceauth"
	"github.com/osa030/guildplay/internal/app/filter"
	"github.com/osa030/guildplay/internal/app/playback"
	"github.com/osa030/guildplay/internal/app/remote"
	"github.com/osa030/guildplay/internal/app/session"
	"github.com/osa030/guildplay/internal/app/sources"
	"github.com/osa030/guildplay/internal/infra/cache"
	"github.com/osa030/guildplay/internal/infra/config"
	"github.com/osa030/guildplay/internal/infra/logger"
	"github.com/osa030/guildplay/internal/infra/metrics"
	"github.com/osa030/guildplay/internal/infra/output"
	"github.com/osa030/guildplay/internal/infra/wsremote"
)

var (
	app        = kingpin.New("guildplay-server", "guildplay audio session server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	// list-filters command
	listFiltersCmd = app.Command("list-filters", "List available filters and exit")
)

func init() {
	// start command (default) - no need to store the command
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = "file"
		loggerConfig.File = *logfile
	}
	closer, err := logger.Init(loggerConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer closer.Close()

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	srcOpts := sources.Options{Observer: m}
	if cfg.Redis.Enabled() {
		c := cache.New(ctx, cache.Config{
			Addr:           cfg.Redis.Addr,
			Password:       cfg.Redis.Password,
			DB:             cfg.Redis.DB,
			TTL:            cfg.Redis.TTL,
			DisableOnError: cfg.Redis.DisableOnError,
		})
		defer c.Close()
		srcOpts.Cache = c
	}

	store := deviceauth.NewFileStore(cfg.YouTube.CredentialsFile)
	ts, err := deviceauth.LoadTokenSource(ctx, deviceauth.Config{
		ClientID:     cfg.YouTube.ClientID,
		ClientSecret: cfg.YouTube.ClientSecret,
	}, store)
	if err != nil {
		zlog.Warn().Msgf("Failed to load YouTube credentials, extracting anonymously: path=%s error=%v", store.Path(), err)
	} else if ts == nil {
		zlog.Info().Msgf("No YouTube credentials stored, extracting anonymously: path=%s", store.Path())
	}
	srcOpts.TokenSource = ts

	src, err := sources.New(ctx, cfg, srcOpts)
	if err != nil {
		return fmt.Errorf("failed to create sources: %w", err)
	}

	newPlayer := func(tenantID string, callbacks playback.Callbacks) (playback.Player, error) {
		return output.NewClockPlayer(tenantID, callbacks, cfg.YouTube.ExtractTimeout), nil
	}
	sessionMgr := session.NewManager(session.Config{
		DefaultVolume: cfg.Playback.DefaultVolume,
		EventBuffer:   cfg.Playback.EventBuffer,
	}, src.Resolver, newPlayer, nil, session.WithObserver(m))

	if cfg.Remote.Enabled() {
		gateway := remote.NewGateway(remote.Config{
			Token:       cfg.Remote.Token,
			BotID:       cfg.Remote.BotID,
			LoadTimeout: cfg.Resolver.Timeout,
		}, sessionMgr, src.Resolver, m)
		link := wsremote.New(wsremote.Config{
			URL:            cfg.Remote.URL,
			Token:          cfg.Remote.Token,
			BotID:          cfg.Remote.BotID,
			ReconnectDelay: cfg.Remote.ReconnectDelay,
		}, gateway)
		go func() {
			if err := link.Run(ctx); err != nil && ctx.Err() == nil {
				zlog.Error().Msgf("Remote link stopped: %v", err)
			}
		}()
	} else {
		zlog.Info().Msg("Remote link not configured")
	}

	mux := http.NewServeMux()

	controlPath, controlHandler := apiconnect.NewControlServiceHandler(
		apiconnect.NewControlService(sessionMgr, cfg),
		connect.WithInterceptors(apiconnect.NewAdminAuthInterceptor(cfg)),
	)
	mux.Handle(controlPath, controlHandler)
	if !cfg.Metrics.Disabled {
		mux.Handle(cfg.Metrics.Path, m.Handler())
	}

	serverAddr := cfg.Server.Addr
	// Create server with h2c (HTTP/2 cleartext) support
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrCh := make(chan error, 1)
	serverStartedCh := make(chan struct{})

	go func() {
		zlog.Info().Msgf("Starting server: addr=%s", serverAddr)
		close(serverStartedCh)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	<-serverStartedCh
	// Give the server a moment to fully initialize
	time.Sleep(100 * time.Millisecond)

	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		sessionMgr.Close()
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop the remote link before tearing sessions down
	cancel()
	sessionMgr.Close()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")

	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	return nil
}

// printFilters prints available filters.
func printFilters() {
	fmt.Println("Available Filters:")
	size := filter.NewPlaylistSizeFilter()
	fmt.Printf("  %-30s - %s [codes: %s] (always enabled)\n", size.Name(), size.Description(), strings.Join(size.ReturnCodes(), ", "))
	for name, factory := range filter.GetRegistered() {
		if name == filter.PlaylistSizeFilterName {
			continue
		}
		f := factory()
		codes := strings.Join(f.ReturnCodes(), ", ")
		fmt.Printf("  %-30s - %s [codes: %s]\n", f.Name(), f.Description(), codes)
	}
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// sh -c allows redirection and pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
