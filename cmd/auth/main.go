// Package main provides the YouTube device authorization tool.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	"github.com/osa030/guildplay/internal/app/deviceauth"
	"github.com/osa030/guildplay/internal/infra/config"
	"github.com/osa030/guildplay/internal/infra/logger"
)

var (
	app          = kingpin.New("guildplay-auth", "YouTube device authorization tool for guildplay")
	configPath   = app.Flag("config", "Path to config file (supplies client id, secret and credentials file)").String()
	clientID     = app.Flag("client-id", "Google OAuth client ID").Envar("YOUTUBE_CLIENT_ID").String()
	clientSecret = app.Flag("client-secret", "Google OAuth client secret").Envar("YOUTUBE_CLIENT_SECRET").String()
	output       = app.Flag("output", "Credentials file to write").Default("youtube_credentials.json").String()
	verbose      = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
)

func main() {
	_ = godotenv.Load()
	kingpin.MustParse(app.Parse(os.Args[1:]))

	level := "warn"
	if *verbose {
		level = "debug"
	}
	if _, err := logger.Init(logger.Config{Output: "stderr", Level: level}); err != nil {
		fail("failed to initialize logger: %v", err)
	}

	cfg := deviceauth.Config{ClientID: *clientID, ClientSecret: *clientSecret}
	path := *output
	if *configPath != "" {
		c, err := config.Load(*configPath)
		if err != nil {
			fail("failed to load config: %v", err)
		}
		if cfg.ClientID == "" {
			cfg.ClientID = c.YouTube.ClientID
		}
		if cfg.ClientSecret == "" {
			cfg.ClientSecret = c.YouTube.ClientSecret
		}
		path = c.YouTube.CredentialsFile
	}
	if cfg.ClientID == "" {
		fail("client id is required (use --client-id, YOUTUBE_CLIENT_ID or --config)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := deviceauth.NewFileStore(path)
	flow := deviceauth.NewFlow(cfg, store)

	code, err := flow.Start(ctx)
	if err != nil {
		fail("%v", err)
	}

	fmt.Println("To authorize guildplay, visit:")
	fmt.Println("")
	fmt.Printf("  %s\n", code.VerificationURI)
	fmt.Println("")
	fmt.Printf("and enter the code: %s\n", code.UserCode)
	fmt.Printf("The code expires at %s.\n", code.ExpiresAt.Format("15:04:05"))
	fmt.Println("")
	fmt.Println("Waiting for authorization...")

	if _, err := flow.Poll(ctx); err != nil {
		state, _ := flow.State()
		fail("authorization %s: %v", state, err)
	}

	fmt.Println("")
	fmt.Println("=== Authorization Successful ===")
	fmt.Println("")
	fmt.Printf("Credentials written to %s\n", store.Path())
	fmt.Println("The server picks them up on its next start.")
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
