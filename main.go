package main

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"chatd/config"
	"chatd/db"
	"chatd/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	store, err := openStore(cfg)
	if err != nil {
		logger.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}

	if cfg.SeedDemoUsers {
		n, err := db.Seed(context.Background(), store)
		if err != nil {
			logger.Error("failed to seed demo users", "error", err)
			os.Exit(1)
		}
		if n > 0 {
			logger.Info("seeded demo users", "count", n)
		}
	}

	srv := server.New(store, cfg, logger)

	var httpSrv *http.Server
	if cfg.HTTPAddr != "" {
		httpSrv = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("http server started", "addr", cfg.HTTPAddr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server failed", "error", err)
			}
		}()
	}

	shutdown := make(chan string, 1)

	if cfg.ControlSocket != "" {
		go startControlSocket(cfg.ControlSocket, srv, shutdown, logger)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)

		var reason string
		select {
		case sig := <-sigChan:
			reason = sig.String()
		case reason = <-shutdown:
		}
		logger.Info("shutting down", "reason", reason)

		if httpSrv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			httpSrv.Shutdown(ctx)
			cancel()
		}
		srv.Stop()
	}()

	if err := srv.Start(cfg.Port); err != nil {
		logger.Error("chat server failed", "error", err)
		srv.Stop()
		os.Exit(1)
	}
	<-stopped

	if cfg.ControlSocket != "" {
		os.Remove(cfg.ControlSocket)
	}
}

func openStore(cfg *config.Config) (db.Gateway, error) {
	hasher, err := db.NewHasher(cfg.PasswordHash)
	if err != nil {
		return nil, err
	}

	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return db.NewPostgres(ctx, cfg.DatabaseURL, hasher)
	}
	return db.NewSQLite(cfg.DBPath, hasher)
}

func startControlSocket(path string, srv *server.Server, shutdown chan<- string, logger *slog.Logger) {
	// Remove a stale socket file
	os.Remove(path)

	listener, err := net.Listen("unix", path)
	if err != nil {
		logger.Warn("failed to create control socket", "path", path, "error", err)
		return
	}
	defer listener.Close()

	logger.Info("control socket listening", "path", path)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}

		go handleControlCommand(conn, srv, shutdown)
	}
}

// handleControlCommand serves one command per connection:
//
//	stats             one-line session summary
//	users             online usernames, one per line
//	shutdown[|reason] stop the server; reason only goes to the server log
func handleControlCommand(conn net.Conn, srv *server.Server, shutdown chan<- string) {
	defer conn.Close()

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		return
	}

	parts := strings.SplitN(strings.TrimSpace(line), "|", 2)

	switch parts[0] {
	case "stats":
		conn.Write([]byte("OK|" + srv.Stats().String() + "\n"))

	case "users":
		var b strings.Builder
		b.WriteString("OK\n")
		for _, name := range srv.Online() {
			b.WriteString(name + "\n")
		}
		conn.Write([]byte(b.String()))

	case "shutdown":
		reason := "maintenance"
		if len(parts) == 2 && parts[1] != "" {
			reason = parts[1]
		}
		conn.Write([]byte("OK|Shutting down (" + reason + ")\n"))

		select {
		case shutdown <- reason:
		default:
		}

	default:
		conn.Write([]byte("ERROR|Unknown command\n"))
	}
}
