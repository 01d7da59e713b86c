// ABOUTME: Terminal client for chatting with the paper research backend
// ABOUTME: Provides readline-style input, streaming output, and session management

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/Suchun-sv/LavenderSentinel/internal/config"
	"github.com/Suchun-sv/LavenderSentinel/internal/conversation"
	"github.com/Suchun-sv/LavenderSentinel/internal/export"
	"github.com/Suchun-sv/LavenderSentinel/internal/store"
	"github.com/Suchun-sv/LavenderSentinel/internal/telemetry"
	"github.com/Suchun-sv/LavenderSentinel/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	server := flag.String("server", "", "Backend server URL (overrides config)")
	flag.Parse()

	if err := run(*configPath, *server); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nGoodbye!")
}

func run(configPath, serverOverride string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}
	if serverOverride != "" {
		cfg.Server.BaseURL = serverOverride
	}

	prefs, err := loadUserConfig(userConfigPath())
	if err != nil {
		return fmt.Errorf("loading user preferences: %w", err)
	}
	if !prefs.UI.Color {
		color.NoColor = true
	}

	logger, err := telemetry.InitLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := transport.NewClient(cfg.Server.BaseURL, &http.Client{Timeout: cfg.Server.RequestTimeout}, logger)

	if cfg.Telemetry.Enabled {
		tracer, meter, cleanup, err := telemetry.InitTelemetry(ctx, cfg.Telemetry.Dir)
		if err != nil {
			return fmt.Errorf("initializing telemetry: %w", err)
		}
		defer cleanup()
		if err := client.EnableTelemetry(tracer, meter); err != nil {
			return fmt.Errorf("enabling transport telemetry: %w", err)
		}
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}
	defer st.Close()

	updates := conversation.NewUpdateBroadcaster(logger)
	registry := conversation.NewRegistry(client, st, updates, logger, cfg.Chat.WantSources)
	if err := registry.Restore(ctx); err != nil {
		return fmt.Errorf("restoring sessions: %w", err)
	}

	app := &app{
		registry:     registry,
		updates:      updates,
		client:       client,
		prefs:        prefs,
		historyLimit: cfg.Chat.HistoryLimit,
	}

	fmt.Printf("lavender-chat connected to %s\n", cfg.Server.BaseURL)
	fmt.Println("Type a message and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Println()

	return app.loop(ctx)
}

type app struct {
	registry     *conversation.Registry
	updates      *conversation.UpdateBroadcaster
	client       *transport.Client
	prefs        *UserConfig
	historyLimit int
}

func (a *app) loop(ctx context.Context) error {
	scanner := bufio.NewScanner(os.Stdin)

	for {
		a.printPrompt()

		// Read input with context awareness
		inputCh := make(chan string, 1)
		errCh := make(chan error, 1)

		go func() {
			if scanner.Scan() {
				inputCh <- scanner.Text()
			} else {
				if err := scanner.Err(); err != nil {
					errCh <- err
				} else {
					errCh <- io.EOF
				}
			}
		}()

		var input string
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input = <-inputCh:
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if input == "/quit" || input == "/exit" || input == "/q" {
			return nil
		}

		if strings.HasPrefix(input, "/") {
			if err := a.handleCommand(ctx, input); err != nil {
				printError(err)
			}
			fmt.Println()
			continue
		}

		a.sendAndRender(ctx, input)
		fmt.Println()
	}
}

func (a *app) printPrompt() {
	s := a.registry.Current()
	if s == nil {
		fmt.Print(a.prefs.UI.Prompt)
		return
	}
	snap := s.Snapshot()
	label := snap.Title
	if label == "" {
		label = shortID(snap.ID)
	}
	if n := len(snap.Context); n > 0 {
		fmt.Printf("[%s +%d] %s", label, n, a.prefs.UI.Prompt)
	} else {
		fmt.Printf("[%s] %s", label, a.prefs.UI.Prompt)
	}
}

// sendAndRender sends one message on the current session and streams the
// reply to the terminal. Ctrl+C during the stream cancels the exchange
// without quitting.
func (a *app) sendAndRender(ctx context.Context, text string) {
	s := a.registry.Current()
	if s == nil {
		s = a.registry.CreateSession()
		fmt.Printf("Started session %s\n", shortID(s.ID()))
	}

	sendCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT)
	defer stop()

	subCtx, unsubscribe := context.WithCancel(context.Background())
	defer unsubscribe()
	snapshots := a.updates.Subscribe(subCtx, s.ID())

	if err := s.Send(sendCtx, text); err != nil {
		printError(err)
		return
	}

	printed := 0
	var final conversation.SessionSnapshot

render:
	for {
		select {
		case <-sendCtx.Done():
			s.Cancel()
			color.Yellow("\n[cancelled]")
			return
		case <-ctx.Done():
			s.Cancel()
			return
		case snap, open := <-snapshots:
			if !open {
				return
			}
			if reply := lastAssistantContent(snap); len(reply) > printed {
				fmt.Print(reply[printed:])
				printed = len(reply)
			}
			if snap.State == conversation.StateFailed {
				fmt.Println()
				color.Red("[error] %s", snap.LastError)
				return
			}
			if snap.State == conversation.StateIdle {
				final = snap
				break render
			}
		}
	}

	fmt.Println()
	a.renderCompletion(final)
}

func (a *app) renderCompletion(snap conversation.SessionSnapshot) {
	if a.prefs.UI.ShowSources && len(snap.Sources) > 0 {
		fmt.Println()
		color.Cyan("Sources:")
		for i, src := range snap.Sources {
			fmt.Printf("  %d. %s (%s, score %.2f)\n", i+1, src.Title, src.PaperID, src.Score)
		}
	}
	if a.prefs.UI.ShowFollowups && len(snap.Followups) > 0 {
		fmt.Println()
		color.Cyan("Follow-ups:")
		for _, f := range snap.Followups {
			fmt.Printf("  - %s\n", f)
		}
	}
}

func (a *app) handleCommand(ctx context.Context, input string) error {
	fields := strings.Fields(input)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/help":
		printHelp()
		return nil

	case "/new":
		s := a.registry.CreateSession(args...)
		fmt.Printf("Started session %s\n", shortID(s.ID()))
		return nil

	case "/sessions":
		return a.listSessions()

	case "/use":
		if len(args) != 1 {
			return fmt.Errorf("usage: /use <session-id>")
		}
		if err := a.registry.SetCurrent(args[0]); err != nil {
			return err
		}
		fmt.Printf("Now using %s\n", shortID(args[0]))
		return nil

	case "/context":
		return a.handleContext(args)

	case "/history":
		return a.showHistory()

	case "/delete":
		return a.deleteSession(ctx, args)

	case "/remote":
		return a.listRemoteSessions(ctx)

	case "/export":
		return a.exportSession(args)

	case "/reset":
		if err := a.registry.Reset(ctx); err != nil {
			return err
		}
		fmt.Println("All sessions deleted")
		return nil

	default:
		return fmt.Errorf("unknown command %s (try /help)", cmd)
	}
}

func (a *app) listSessions() error {
	snaps := a.registry.List()
	if len(snaps) == 0 {
		fmt.Println("No sessions. Send a message or /new to start one.")
		return nil
	}

	var currentID string
	if s := a.registry.Current(); s != nil {
		currentID = s.ID()
	}

	fmt.Println("Sessions:")
	for _, snap := range snaps {
		marker := "  "
		if snap.ID == currentID {
			marker = color.GreenString("* ")
		}
		title := snap.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("%s%s  %s  %d messages, %d papers\n",
			marker, shortID(snap.ID), title, len(snap.Messages), len(snap.Context))
	}
	return nil
}

func (a *app) handleContext(args []string) error {
	s := a.registry.Current()
	if s == nil {
		return fmt.Errorf("no session selected")
	}

	if len(args) == 0 {
		ids := s.Context().Snapshot()
		if len(ids) == 0 {
			fmt.Println("Context is empty. /context add <paper-id> to scope retrieval.")
			return nil
		}
		fmt.Println("Context papers:")
		for _, id := range ids {
			fmt.Printf("  %s\n", id)
		}
		return nil
	}

	switch args[0] {
	case "add":
		if len(args) < 2 {
			return fmt.Errorf("usage: /context add <paper-id> [paper-id...]")
		}
		for _, id := range args[1:] {
			if s.Context().Add(id) {
				fmt.Printf("Added %s\n", id)
			} else {
				fmt.Printf("%s already in context\n", id)
			}
		}
		return nil

	case "rm", "remove":
		if len(args) < 2 {
			return fmt.Errorf("usage: /context rm <paper-id>")
		}
		for _, id := range args[1:] {
			if s.Context().Remove(id) {
				fmt.Printf("Removed %s\n", id)
			} else {
				fmt.Printf("%s was not in context\n", id)
			}
		}
		return nil

	case "clear":
		s.Context().Clear()
		fmt.Println("Context cleared")
		return nil

	default:
		return fmt.Errorf("usage: /context [add|rm|clear]")
	}
}

func (a *app) showHistory() error {
	s := a.registry.Current()
	if s == nil {
		return fmt.Errorf("no session selected")
	}

	snap := s.Snapshot()
	msgs := snap.Messages
	if len(msgs) == 0 {
		fmt.Println("No messages yet")
		return nil
	}
	if a.historyLimit > 0 && len(msgs) > a.historyLimit {
		msgs = msgs[len(msgs)-a.historyLimit:]
	}

	fmt.Println(strings.Repeat("-", 60))
	for _, msg := range msgs {
		switch msg.Role {
		case conversation.RoleUser:
			color.Blue("you (%s):", msg.CreatedAt.Format("15:04"))
		case conversation.RoleAssistant:
			color.Green("assistant (%s):", msg.CreatedAt.Format("15:04"))
		default:
			fmt.Printf("%s:\n", msg.Role)
		}
		fmt.Println(msg.Content)
	}
	fmt.Println(strings.Repeat("-", 60))
	return nil
}

func (a *app) deleteSession(ctx context.Context, args []string) error {
	var id string
	switch len(args) {
	case 0:
		s := a.registry.Current()
		if s == nil {
			return fmt.Errorf("no session selected")
		}
		id = s.ID()
	case 1:
		id = args[0]
	default:
		return fmt.Errorf("usage: /delete [session-id]")
	}

	if err := a.registry.DeleteSession(ctx, id); err != nil {
		return err
	}
	fmt.Printf("Deleted %s\n", shortID(id))
	return nil
}

func (a *app) listRemoteSessions(ctx context.Context) error {
	sessions, err := a.client.ListSessions(ctx)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions on the server")
		return nil
	}
	fmt.Println("Server sessions:")
	for _, s := range sessions {
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("  %s  %s  %d papers\n", shortID(s.ID), title, len(s.PaperContext))
	}
	return nil
}

func (a *app) exportSession(args []string) error {
	s := a.registry.Current()
	if s == nil {
		return fmt.Errorf("no session selected")
	}
	if len(args) == 0 || (args[0] != "md" && args[0] != "html") {
		return fmt.Errorf("usage: /export md|html [path]")
	}

	snap := s.Snapshot()
	var content, path string
	switch args[0] {
	case "md":
		content = export.Markdown(snap)
		path = filepath.Join(a.prefs.Export.Dir, shortID(snap.ID)+".md")
	case "html":
		rendered, err := export.HTML(snap)
		if err != nil {
			return err
		}
		content = rendered
		path = filepath.Join(a.prefs.Export.Dir, shortID(snap.ID)+".html")
	}
	if len(args) > 1 {
		path = args[1]
	}

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing export: %w", err)
	}
	fmt.Printf("Exported to %s\n", path)
	return nil
}

// printHelp displays available commands.
func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /new [paper-id...]      Start a new session, optionally with context")
	fmt.Println("  /sessions               List local sessions")
	fmt.Println("  /use <id>               Switch to a session")
	fmt.Println("  /context                Show the current session's paper context")
	fmt.Println("  /context add <id...>    Add papers to the context")
	fmt.Println("  /context rm <id...>     Remove papers from the context")
	fmt.Println("  /context clear          Empty the context")
	fmt.Println("  /history                Show recent messages in this session")
	fmt.Println("  /delete [id]            Delete a session (current if omitted)")
	fmt.Println("  /remote                 List sessions known to the server")
	fmt.Println("  /export md|html [path]  Export the current transcript")
	fmt.Println("  /reset                  Delete every local session")
	fmt.Println("  /help                   Show this help")
	fmt.Println("  /quit                   Exit")
}

func printError(err error) {
	color.Red("[error] %v", err)
}

// lastAssistantContent returns the text of the trailing assistant
// message, if the transcript ends with one.
func lastAssistantContent(snap conversation.SessionSnapshot) string {
	if len(snap.Messages) == 0 {
		return ""
	}
	last := snap.Messages[len(snap.Messages)-1]
	if last.Role != conversation.RoleAssistant {
		return ""
	}
	return last.Content
}

// shortID abbreviates a session id for display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
