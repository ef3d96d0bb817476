// Command blockbot runs the block-program robot server.
//
// Subcommands:
//  1. "serve" (default) runs the HTTP server exposing the REST API, WebSocket and an /mcp endpoint
//  2. "mcp" runs an MCP stdio server, starting an internal HTTP API when no server is reachable
//  3. "run" executes one program headlessly against a level and prints the result
//
// Flags fall back to environment variables, and a .env file is loaded when
// present. ngrok tunneling is available for external access during development.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/urfave/cli/v3"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"

	"github.com/wricardo/mcp-training/blockbot/api"
	"github.com/wricardo/mcp-training/blockbot/game/config"
	"github.com/wricardo/mcp-training/blockbot/game/interpreter"
	"github.com/wricardo/mcp-training/blockbot/game/service"
	"github.com/wricardo/mcp-training/blockbot/game/session"
	"github.com/wricardo/mcp-training/blockbot/game/storage"
	"github.com/wricardo/mcp-training/blockbot/transport/mcp"
	"github.com/wricardo/mcp-training/blockbot/transport/websocket"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "Blockbot"
)

const (
	sessionMaxAge   = 24 * time.Hour
	cleanupInterval = time.Hour
	syncInterval    = 5 * time.Second
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn("error loading .env file", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

// newApp builds the command tree
func newApp() *cli.Command {
	return &cli.Command{
		Name:    "blockbot",
		Usage:   "drive a grid robot with block programs",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "levels-dir",
				Value:   "levels",
				Usage:   "directory containing level files",
				Sources: cli.EnvVars("LEVELS_DIR"),
			},
			&cli.StringFlag{
				Name:    "default-level",
				Usage:   "level used for sessions created without one",
				Sources: cli.EnvVars("DEFAULT_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "sessions-dir",
				Value:   "sessions",
				Usage:   "directory for persisted sessions (empty disables persistence)",
				Sources: cli.EnvVars("SESSIONS_DIR"),
			},
			&cli.StringFlag{
				Name:    "db",
				Value:   "~/.blockbot/runs.db",
				Usage:   "SQLite database for run results (empty disables recording)",
				Sources: cli.EnvVars("BLOCKBOT_DB"),
			},
			&cli.DurationFlag{
				Name:    "step-delay",
				Value:   interpreter.DefaultStepDelay,
				Usage:   "pause between executed commands",
				Sources: cli.EnvVars("STEP_DELAY"),
			},
			&cli.IntFlag{
				Name:    "max-steps",
				Value:   interpreter.DefaultMaxExecutionSteps,
				Usage:   "maximum commands executed per run",
				Sources: cli.EnvVars("MAX_STEPS"),
			},
			&cli.IntFlag{
				Name:    "max-loops",
				Value:   interpreter.DefaultMaxLoopIterations,
				Usage:   "maximum repeat passes without a command per run",
				Sources: cli.EnvVars("MAX_LOOPS"),
			},
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "enable debug logging",
				Sources: cli.EnvVars("DEBUG"),
			},
		},
		DefaultCommand: "serve",
		Commands: []*cli.Command{
			serveCommand(),
			mcpCommand(),
			runCommand(),
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"server", "http"},
		Usage:   "run the HTTP server with REST API, WebSocket and MCP endpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Value:   "localhost:8080",
				Usage:   "HTTP listen address",
				Sources: cli.EnvVars("ADDR"),
			},
			&cli.BoolFlag{
				Name:    "ngrok",
				Usage:   "enable ngrok tunnel",
				Sources: cli.EnvVars("NGROK_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "ngrok-auth",
				Usage:   "ngrok auth token",
				Sources: cli.EnvVars("NGROK_AUTHTOKEN", "NGROK_AUTH_TOKEN"),
			},
			&cli.StringFlag{
				Name:    "ngrok-domain",
				Usage:   "custom ngrok domain",
				Sources: cli.EnvVars("NGROK_DOMAIN"),
			},
		},
		Action: runServe,
	}
}

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:    "mcp",
		Aliases: []string{"stdio-mcp", "mcp-stdio"},
		Usage:   "run an MCP stdio server backed by the REST API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "api-url",
				Value:   "http://localhost:8080",
				Usage:   "REST API to proxy; an internal server starts when it is unreachable",
				Sources: cli.EnvVars("BLOCKBOT_API_URL"),
			},
		},
		Action: runMCP,
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "execute a program file (or - for stdin) against a level",
		ArgsUsage: "[program-file]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "level",
				Value: "tutorial",
				Usage: "level to play",
			},
			&cli.StringFlag{
				Name:  "source",
				Usage: "program text, instead of a file",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "print the run response as JSON",
			},
		},
		Action: runHeadless,
	}
}

// newLogger returns the process logger writing to w
func newLogger(w io.Writer, debug bool) *log.Logger {
	level := log.InfoLevel
	if debug {
		level = log.DebugLevel
	}
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Level:           level,
		Prefix:          "blockbot",
	})
}

// app holds the wired services
type app struct {
	logger      *log.Logger
	levels      *config.Manager
	sessions    *session.Manager
	persistence session.SessionPersistence
	store       *storage.Store
	hub         *websocket.Hub
	game        service.GameService
}

type setupOptions struct {
	persist   bool
	broadcast bool
}

// setup wires level, session and run storage into a game service
func setup(cmd *cli.Command, logger *log.Logger, opts setupOptions) (*app, error) {
	levels, err := config.NewManager(cmd.String("levels-dir"), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create level manager: %w", err)
	}
	if id := cmd.String("default-level"); id != "" {
		if err := levels.SetDefault(id); err != nil {
			return nil, fmt.Errorf("failed to set default level: %w", err)
		}
	}

	runOpts := interpreter.Options{
		MaxExecutionSteps: int(cmd.Int("max-steps")),
		MaxLoopIterations: int(cmd.Int("max-loops")),
		StepDelay:         cmd.Duration("step-delay"),
		Logger:            logger,
	}

	a := &app{logger: logger, levels: levels}

	if dir := cmd.String("sessions-dir"); opts.persist && dir != "" {
		persistence, err := session.NewFilePersistence(dir, levels, runOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to create session persistence: %w", err)
		}
		a.persistence = persistence
		a.sessions = session.NewManagerWithPersistence(persistence, runOpts)
		if err := a.sessions.LoadPersistedSessions(); err != nil {
			logger.Warn("failed to load persisted sessions", "err", err)
		}
	} else {
		a.sessions = session.NewManager(runOpts)
	}

	serviceOpts := []service.Option{service.WithLogger(logger)}

	if path := cmd.String("db"); path != "" {
		store, err := storage.Open(path)
		if err != nil {
			return nil, err
		}
		a.store = store
		serviceOpts = append(serviceOpts, service.WithRunStore(store))
	}

	if opts.broadcast {
		a.hub = websocket.NewHub(logger)
		serviceOpts = append(serviceOpts, service.WithBroadcaster(a.hub))
	}

	a.game = service.NewGameService(a.sessions, levels, serviceOpts...)
	return a, nil
}

// close stops runs, flushes sessions and closes the database
func (a *app) close(ctx context.Context) {
	if err := a.game.Shutdown(ctx); err != nil {
		a.logger.Warn("service shutdown", "err", err)
	}
	if err := a.sessions.SaveAllSessions(); err != nil {
		a.logger.Warn("failed to save sessions", "err", err)
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close database", "err", err)
		}
	}
}

// background starts the hub, level watcher and session maintenance loops
func (a *app) background(ctx context.Context, wg *sync.WaitGroup) {
	if a.hub != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.hub.Run(ctx)
		}()
	}

	wg.Add(3)
	go func() {
		defer wg.Done()
		if err := a.levels.Watch(ctx, nil); err != nil {
			a.logger.Warn("level watcher stopped", "err", err)
		}
	}()
	go func() {
		defer wg.Done()
		sessionCleanupRoutine(ctx, a.sessions, a.logger)
	}()
	go func() {
		defer wg.Done()
		filesystemSyncRoutine(ctx, a.sessions, a.persistence, a.logger)
	}()
}

// newMCPHandler serves single JSON-RPC messages over HTTP POST
func newMCPHandler(mcpServer *server.MCPServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		response := mcpServer.HandleMessage(r.Context(), body)

		w.Header().Set("Content-Type", "application/json")
		responseData, err := json.Marshal(response)
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Write(responseData)
	}
}

// newRouter combines the REST API with the /mcp endpoint
func newRouter(a *app, baseURL string) http.Handler {
	mcpClient := mcp.NewClient(baseURL)

	mainRouter := http.NewServeMux()
	mainRouter.Handle("/", api.NewServer(a.game, a.hub, a.logger))
	mainRouter.HandleFunc("/mcp", newMCPHandler(mcpClient.GetMCPServer()))
	return mainRouter
}

// runServe starts the HTTP server and an optional ngrok tunnel, and shuts
// both down when ctx is cancelled.
func runServe(ctx context.Context, cmd *cli.Command) error {
	logger := newLogger(os.Stderr, cmd.Bool("debug"))

	a, err := setup(cmd, logger, setupOptions{persist: true, broadcast: true})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	a.background(ctx, &wg)

	addr := cmd.String("addr")
	handler := newRouter(a, "http://"+addr)

	httpServer := &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// waited runs hold the response open
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		logger.Info("endpoints",
			"api", "http://"+addr+"/api",
			"ws", "ws://"+addr+"/ws?session=<id>",
			"mcp", "http://"+addr+"/mcp")

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	if cmd.Bool("ngrok") {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runNgrok(ctx, cmd, handler, logger)
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			cancel()
			wg.Wait()
			a.close(context.Background())
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown", "err", err)
	}
	cancel()
	a.close(shutdownCtx)
	wg.Wait()

	logger.Info("server stopped")
	return nil
}

// runNgrok serves handler through an ngrok tunnel until ctx is done
func runNgrok(ctx context.Context, cmd *cli.Command, handler http.Handler, logger *log.Logger) {
	authToken := cmd.String("ngrok-auth")
	if authToken == "" {
		logger.Warn("ngrok enabled but no auth token provided (use --ngrok-auth or NGROK_AUTHTOKEN)")
		return
	}

	var tunnel ngrokConfig.Tunnel
	if domain := cmd.String("ngrok-domain"); domain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(domain))
		logger.Info("using custom ngrok domain", "domain", domain)
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	logger.Info("starting ngrok tunnel")
	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(authToken))
	if err != nil {
		logger.Error("failed to start ngrok tunnel", "err", err)
		return
	}

	ngrokURL := tun.URL()
	logger.Info("ngrok tunnel established", "url", ngrokURL, "api", ngrokURL+"/api", "mcp", ngrokURL+"/mcp")

	go func() {
		<-ctx.Done()
		if err := tun.Close(); err != nil {
			logger.Warn("failed to close ngrok tunnel", "err", err)
		}
	}()

	if err := http.Serve(tun, handler); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
		logger.Error("ngrok server error", "err", err)
	}
	logger.Info("ngrok tunnel closed")
}

// apiReachable reports whether a blockbot server answers at baseURL
func apiReachable(ctx context.Context, baseURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(baseURL, "/")+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// runMCP runs an MCP stdio server. It reuses the API at --api-url when one
// answers, otherwise it starts an internal server on a loopback port.
func runMCP(ctx context.Context, cmd *cli.Command) error {
	logger := newLogger(os.Stderr, cmd.Bool("debug"))

	baseURL := cmd.String("api-url")
	if apiReachable(ctx, baseURL) {
		logger.Info("using external API server", "url", baseURL)
	} else {
		logger.Info("no external API server found, starting internal one")

		a, err := setup(cmd, logger, setupOptions{persist: true, broadcast: true})
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(ctx)
		var wg sync.WaitGroup
		defer func() {
			cancel()
			a.close(context.Background())
			wg.Wait()
		}()
		a.background(ctx, &wg)

		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("failed to get available port: %w", err)
		}
		baseURL = "http://" + listener.Addr().String()

		httpServer := &http.Server{Handler: api.NewServer(a.game, a.hub, logger)}
		go func() {
			if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("internal HTTP server error", "err", err)
			}
		}()
		defer httpServer.Close()

		logger.Info("internal HTTP server started", "url", baseURL)
	}

	mcpClient := mcp.NewClient(baseURL)
	logger.Info("MCP stdio server ready")

	stdio := server.NewStdioServer(mcpClient.GetMCPServer())
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server error: %w", err)
	}
	return nil
}

// readProgram returns the program text from --source, a file or stdin
func readProgram(cmd *cli.Command, stdin io.Reader) (string, error) {
	if src := cmd.String("source"); src != "" {
		return src, nil
	}

	path := cmd.Args().First()
	switch path {
	case "":
		return "", cli.Exit("a program file, - or --source is required", 2)
	case "-":
		data, err := io.ReadAll(stdin)
		return string(data), err
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read program: %w", err)
		}
		return string(data), nil
	}
}

// runHeadless executes one program in a throwaway session
func runHeadless(ctx context.Context, cmd *cli.Command) error {
	logger := newLogger(os.Stderr, cmd.Bool("debug"))

	source, err := readProgram(cmd, os.Stdin)
	if err != nil {
		return err
	}

	a, err := setup(cmd, logger, setupOptions{})
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	// Headless runs go flat out unless a delay was asked for
	delay := 0
	if cmd.IsSet("step-delay") {
		delay = int(cmd.Duration("step-delay") / time.Millisecond)
	}

	resp, err := executeProgram(ctx, a.game, cmd.String("level"), source, delay)
	if err != nil {
		return err
	}

	out := cmd.Root().Writer
	if out == nil {
		out = os.Stdout
	}
	if err := printRun(out, resp, cmd.Bool("json")); err != nil {
		return err
	}

	if resp.Status != interpreter.StatusCompleted || resp.Result == nil || !resp.Result.OnGoal {
		return cli.Exit("", 1)
	}
	return nil
}

// executeProgram creates a session on levelID, runs source to the end and
// deletes the session again.
func executeProgram(ctx context.Context, svc service.GameService, levelID, source string, delayMs int) (*service.RunResponse, error) {
	info, err := svc.CreateSession(ctx, levelID)
	if err != nil {
		return nil, err
	}
	defer svc.DeleteSession(context.Background(), info.ID)

	return svc.RunProgram(ctx, info.ID, service.RunRequest{
		Source:      source,
		Reset:       true,
		Wait:        true,
		StepDelayMs: &delayMs,
	})
}

func printRun(w io.Writer, resp *service.RunResponse, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	fmt.Fprintf(w, "status:   %s\n", resp.Status)
	if resp.Reason != "" {
		fmt.Fprintf(w, "reason:   %s\n", resp.Reason)
	}
	fmt.Fprintf(w, "commands: %d\n", resp.Commands)
	fmt.Fprintf(w, "stars:    %d\n", resp.Stars)
	if r := resp.Result; r != nil {
		fmt.Fprintf(w, "steps:    %d\n", r.StepsExecuted)
		fmt.Fprintf(w, "robot:    %s facing %s\n", r.Position, r.Orientation)
		if r.FailedNode != nil {
			fmt.Fprintf(w, "failed:   %v %s\n", r.FailedPath, r.FailedNode.Label())
		}
	}
	if resp.GameState != nil {
		fmt.Fprintln(w)
		for _, row := range resp.GameState.Grid {
			fmt.Fprintln(w, row)
		}
	}
	return nil
}

// sessionCleanupRoutine periodically removes sessions that have not been
// accessed within sessionMaxAge.
func sessionCleanupRoutine(ctx context.Context, manager *session.Manager, logger *log.Logger) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := manager.CleanupExpiredSessions(sessionMaxAge); removed > 0 {
				logger.Info("cleaned up expired sessions", "count", removed, "remaining", manager.Count())
			}
		}
	}
}

// filesystemSyncRoutine drops in-memory sessions whose files were deleted
func filesystemSyncRoutine(ctx context.Context, manager *session.Manager, persistence session.SessionPersistence, logger *log.Logger) {
	if persistence == nil {
		return
	}

	ticker := time.NewTicker(syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if pruned := pruneDeletedSessions(manager, persistence, logger); pruned > 0 {
				logger.Info("filesystem sync pruned orphaned sessions", "count", pruned)
			}
		}
	}
}

func pruneDeletedSessions(manager *session.Manager, persistence session.SessionPersistence, logger *log.Logger) int {
	pruned := 0
	for _, sess := range manager.List() {
		if persistence.Exists(sess.ID) {
			continue
		}
		if err := manager.DeleteFromMemory(sess.ID); err == nil {
			pruned++
			logger.Debug("pruned session from memory", "session", sess.ID)
		}
	}
	return pruned
}
