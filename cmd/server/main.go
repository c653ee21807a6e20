package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MegaGrindStone/go-mcp"
	threadchatui "github.com/MegaGrindStone/thread-chat-ui"
	"github.com/MegaGrindStone/thread-chat-ui/internal/handlers"
	"github.com/MegaGrindStone/thread-chat-ui/internal/services"
	"github.com/MegaGrindStone/thread-chat-ui/internal/session"
	"github.com/redis/go-redis/v9"
)

const errLoggerKey = "err"

func main() {
	env, err := loadEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := env.logger()
	if err := run(env, logger); err != nil {
		logger.Error("Server stopped", slog.String(errLoggerKey, err.Error()))
		os.Exit(1)
	}
}

func run(env envConfig, logger *slog.Logger) error {
	cfgFilePath, err := env.configPath()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cfgFilePath)
	if err != nil {
		return err
	}

	llm, err := cfg.LLM.llm(cfg.SystemPrompt, logger)
	if err != nil {
		return fmt.Errorf("failed to create llm: %w", err)
	}

	dbPath := filepath.Join(filepath.Dir(cfgFilePath), "store.db")
	boltDB, err := services.NewBoltDB(dbPath)
	if err != nil {
		return err
	}
	defer boltDB.Close()

	mcpClientInfo := mcp.Info{
		Name:    "thread-chat-ui",
		Version: "0.1.0",
	}

	mcpClients, stdIOCmds, err := populateMCPClients(cfg, mcpClientInfo)
	if err != nil {
		return err
	}

	var mcpCancels []context.CancelFunc
	defer func() {
		for _, cancel := range mcpCancels {
			cancel()
		}
		for _, stdIOCmd := range stdIOCmds {
			if err := stdIOCmd.Wait(); err != nil {
				logger.Warn("Failed to wait for stdIO command", slog.String(errLoggerKey, err.Error()))
			}
		}
	}()

	for i, cli := range mcpClients {
		logger.Info("Connecting to MCP server", slog.Int("index", i))

		connectCtx, connectCancel := context.WithCancel(context.Background())
		mcpCancels = append(mcpCancels, connectCancel)

		ready := make(chan struct{})
		errs := make(chan error, 1)

		go func() {
			if err := cli.Connect(connectCtx, ready); err != nil {
				errs <- err
			}
		}()

		select {
		case err := <-errs:
			return fmt.Errorf("failed to connect to MCP server at index %d: %w", i, err)
		case <-ready:
		}

		logger.Info("Connected to MCP server", slog.String("name", cli.ServerInfo().Name))
	}

	var tools services.ToolCaller
	if len(mcpClients) > 0 {
		toolset, err := services.NewToolset(context.Background(), mcpClients, logger)
		if err != nil {
			return err
		}
		logger.Info("Loaded MCP tools", slog.Int("count", len(toolset.Tools())))
		tools = toolset
	}

	agent := services.NewAgent(
		llm,
		boltDB,
		tools,
		services.NewTokenCounter(cfg.LLM.model()),
		cfg.ContextTokens,
		logger,
	)

	store, expirer, err := newSessionStore(env, logger)
	if err != nil {
		return err
	}

	m, err := handlers.NewMain(agent, store, logger)
	if err != nil {
		return err
	}

	if expirer != nil {
		cleanup := session.NewCleanupService(
			expirer,
			env.SessionIdleTimeout,
			session.DefaultCleanupInterval,
			m.EndSession,
			logger,
		)
		cleanup.Start(context.Background())
		defer cleanup.Stop()
	}

	// Serve static files
	staticFS, err := fs.Sub(threadchatui.StaticFS, "static")
	if err != nil {
		return fmt.Errorf("failed to open static files: %w", err)
	}
	fileServer := http.FileServer(http.FS(staticFS))

	mux := http.NewServeMux()
	mux.Handle("GET /static/", http.StripPrefix("/static/", fileServer))
	m.Register(mux)

	port := cfg.port(env)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := m.Shutdown(ctx); err != nil {
			logger.Warn("Failed to shutdown sse server", slog.String(errLoggerKey, err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Server starting", slog.String("port", port))
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt/terminate signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("Graceful shutdown failed", slog.String(errLoggerKey, err.Error()))
			if err := srv.Close(); err != nil {
				logger.Warn("Forcing server close", slog.String(errLoggerKey, err.Error()))
			}
		}
	}

	return nil
}

// newSessionStore builds the configured session backend. Sessions in memory are reaped by a cleanup
// service through the returned Expirer; Redis expires them by itself.
func newSessionStore(env envConfig, logger *slog.Logger) (session.Store, session.Expirer, error) {
	switch env.SessionBackend {
	case "memory":
		store := session.NewMemoryStore()
		return store, store, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     env.RedisAddr,
			Password: env.RedisPassword,
			DB:       env.RedisDB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", env.RedisAddr, err)
		}

		logger.Info("Using redis session store", slog.String("addr", env.RedisAddr))
		return session.NewRedisStore(rdb, env.SessionIdleTimeout), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown session backend: %s", env.SessionBackend)
	}
}

func populateMCPClients(cfg config, mcpClientInfo mcp.Info) ([]*mcp.Client, []*exec.Cmd, error) {
	var mcpClients []*mcp.Client

	for _, mcpSSEServerConfig := range cfg.MCPSSEServers {
		sseClient := mcp.NewSSEClient(mcpSSEServerConfig.URL, nil)
		cli := mcp.NewClient(mcpClientInfo, sseClient)
		mcpClients = append(mcpClients, cli)
	}

	var stdIOCmds []*exec.Cmd
	for name, mcpStdIOServerConfig := range cfg.MCPStdIO {
		cmd := exec.Command(mcpStdIOServerConfig.Command, mcpStdIOServerConfig.Args...)

		in, err := cmd.StdinPipe()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open stdin of MCP server %s: %w", name, err)
		}
		out, err := cmd.StdoutPipe()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open stdout of MCP server %s: %w", name, err)
		}
		if err := cmd.Start(); err != nil {
			return nil, nil, fmt.Errorf("failed to start MCP server %s: %w", name, err)
		}
		stdIOCmds = append(stdIOCmds, cmd)

		cliStdIO := mcp.NewStdIO(out, in)

		cli := mcp.NewClient(mcpClientInfo, cliStdIO)
		mcpClients = append(mcpClients, cli)
	}

	return mcpClients, stdIOCmds, nil
}
