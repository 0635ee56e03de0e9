// Package main provides the control CLI entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/guildplay/internal/api/connect"
	"github.com/osa030/guildplay/internal/domain/track"
)

var (
	app    = kingpin.New("guildplay-ctl", "guildplay control client")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token  = app.Flag("token", "Admin token (or set ADMIN_TOKEN env)").Envar("ADMIN_TOKEN").String()

	// sessions command
	sessionsCmd = app.Command("sessions", "List live sessions").Alias("list")

	// now-playing command
	nowCmd   = app.Command("now-playing", "Show the current track").Alias("np")
	nowGuild = nowCmd.Arg("guild-id", "Guild ID").Required().String()

	// queue command
	queueCmd   = app.Command("queue", "Show the queue")
	queueGuild = queueCmd.Arg("guild-id", "Guild ID").Required().String()

	// play command
	playCmd       = app.Command("play", "Queue a track, playlist or search query")
	playGuild     = playCmd.Arg("guild-id", "Guild ID").Required().String()
	playQuery     = playCmd.Arg("query", "URL or search query (prefix:query)").Required().Strings()
	playRequester = playCmd.Flag("requester", "Requester tag").Default(apiconnect.DefaultRequester).String()

	// pause command
	pauseCmd   = app.Command("pause", "Pause playback")
	pauseGuild = pauseCmd.Arg("guild-id", "Guild ID").Required().String()

	// resume command
	resumeCmd   = app.Command("resume", "Resume playback")
	resumeGuild = resumeCmd.Arg("guild-id", "Guild ID").Required().String()

	// volume command
	volumeCmd   = app.Command("volume", "Set the volume (0-150)")
	volumeGuild = volumeCmd.Arg("guild-id", "Guild ID").Required().String()
	volumeValue = volumeCmd.Arg("volume", "Volume").Required().Int()

	// skip command
	skipCmd   = app.Command("skip", "Skip the current track")
	skipGuild = skipCmd.Arg("guild-id", "Guild ID").Required().String()
	skipCount = skipCmd.Flag("count", "Number of items to skip").Default("1").Int()

	// stop command
	stopCmd   = app.Command("stop", "Stop and tear down the session")
	stopGuild = stopCmd.Arg("guild-id", "Guild ID").Required().String()

	// watch command
	watchCmd   = app.Command("watch", "Stream notifications")
	watchGuild = watchCmd.Arg("guild-id", "Guild ID (omit for every guild)").String()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if *token == "" {
		fmt.Println("Error: admin token is required (use --token or ADMIN_TOKEN env)")
		os.Exit(1)
	}

	client := apiconnect.NewControlClient(http.DefaultClient, *server, *token)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch command {
	case sessionsCmd.FullCommand():
		err = listSessions(ctx, client)
	case nowCmd.FullCommand():
		err = nowPlaying(ctx, client, *nowGuild)
	case queueCmd.FullCommand():
		err = showQueue(ctx, client, *queueGuild)
	case playCmd.FullCommand():
		err = play(ctx, client)
	case pauseCmd.FullCommand():
		err = action(client.Pause(ctx, *pauseGuild))
	case resumeCmd.FullCommand():
		err = action(client.Resume(ctx, *resumeGuild))
	case volumeCmd.FullCommand():
		err = setVolume(ctx, client)
	case skipCmd.FullCommand():
		err = action(client.Skip(ctx, *skipGuild, *skipCount))
	case stopCmd.FullCommand():
		err = action(client.Stop(ctx, *stopGuild))
	case watchCmd.FullCommand():
		err = watch(ctx, client, *watchGuild)
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func listSessions(ctx context.Context, client *apiconnect.ControlClient) error {
	resp, err := client.ListSessions(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("\n=== SESSIONS (%d) ===\n", len(resp.Sessions))
	for _, s := range resp.Sessions {
		fmt.Printf("  %s  %-8s queue=%-4d since %s\n", s.GuildID, s.State, s.QueueSize, s.CreatedAt.Format(time.DateTime))
	}
	return nil
}

func nowPlaying(ctx context.Context, client *apiconnect.ControlClient, guildID string) error {
	resp, err := client.NowPlaying(ctx, guildID)
	if err != nil {
		return err
	}

	fmt.Println("\n=== NOW PLAYING ===")
	fmt.Printf("State: %s\n", resp.State)
	fmt.Printf("Volume: %d\n", resp.Volume)
	fmt.Printf("Loop: %s\n", resp.Loop)
	if resp.Track == nil {
		fmt.Println("\nNothing is playing")
		return nil
	}
	fmt.Printf("\nTrack:\n")
	fmt.Printf("  Title: %s\n", resp.Track.Title)
	fmt.Printf("  Author: %s\n", resp.Track.Author)
	fmt.Printf("  URI: %s\n", resp.Track.URI)
	fmt.Printf("  Position: %s / %s\n", formatDuration(resp.PositionMs), formatLength(*resp.Track))
	if resp.RequestedBy != "" {
		fmt.Printf("  Requested By: %s\n", resp.RequestedBy)
	}
	return nil
}

func showQueue(ctx context.Context, client *apiconnect.ControlClient, guildID string) error {
	resp, err := client.Queue(ctx, guildID)
	if err != nil {
		return err
	}

	fmt.Printf("\n=== QUEUE (%d) ===\n", len(resp.Items))
	for i, d := range resp.Items {
		fmt.Printf("%3d. %s - %s [%s]\n", i+1, d.Title, d.Author, formatLength(d))
	}
	return nil
}

func play(ctx context.Context, client *apiconnect.ControlClient) error {
	resp, err := client.Play(ctx, &apiconnect.PlayRequest{
		GuildID:   *playGuild,
		Query:     strings.Join(*playQuery, " "),
		Requester: *playRequester,
	})
	if err != nil {
		return err
	}
	fmt.Printf("%s (%s)\n", resp.Message, resp.Status)
	return nil
}

func setVolume(ctx context.Context, client *apiconnect.ControlClient) error {
	resp, err := client.SetVolume(ctx, *volumeGuild, *volumeValue)
	if err != nil {
		return err
	}
	fmt.Printf("Volume set to %d\n", resp.Volume)
	return nil
}

func action(resp *apiconnect.ActionResponse, err error) error {
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("%s", resp.Message)
	}
	fmt.Println(resp.Message)
	return nil
}

func watch(ctx context.Context, client *apiconnect.ControlClient, guildID string) error {
	stream, err := client.Watch(ctx, guildID)
	if err != nil {
		return err
	}
	defer stream.Close()

	fmt.Println("Watching notifications (Ctrl+C to stop)...")
	for stream.Receive() {
		n := stream.Msg()
		line := fmt.Sprintf("[%s] #%d %s %s", n.Timestamp.Format(time.TimeOnly), n.SequenceNo, n.TenantID, n.Kind)
		switch {
		case n.Title != "":
			line += ": " + n.Title
		case n.Name != "":
			line += fmt.Sprintf(": %s (%d)", n.Name, n.Count)
		}
		if n.Reason != "" {
			line += " - " + n.Reason
		}
		fmt.Println(line)
	}
	if ctx.Err() != nil {
		return nil
	}
	return stream.Err()
}

func formatLength(d track.Descriptor) string {
	if d.IsLive {
		return "LIVE"
	}
	return formatDuration(d.DurationMs)
}

func formatDuration(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
