package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"strings"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Tyrowin/roomchat/internal/server"
)

func newRootCommand() *cobra.Command {
	v := viper.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "roomchat",
		Short: "Real-time room chat server",
		Long: `roomchat serves a WebSocket chat endpoint at /ws/{user_id} together
with a small HTTP API for listing and creating rooms and users.

Settings come from flags, environment variables (SERVER_PORT, DATABASE_PATH,
BROADCAST_SCOPE, ...) or a config file passed with --config.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfgFile != "" {
				v.SetConfigFile(cfgFile)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read config %s: %w", cfgFile, err)
				}
			}

			cfg, err := server.LoadConfig(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "path to a config file (yaml, json or toml)")
	flags.String("port", "", "listen address, e.g. :8080")
	flags.String("db", "", "SQLite file used to archive rooms, users and messages")
	flags.String("scope", "", "broadcast scope: global or room")
	flags.String("static-dir", "", "directory served under /static")

	for key, name := range map[string]string{
		server.KeyPort:           "port",
		server.KeyDatabasePath:   "db",
		server.KeyBroadcastScope: "scope",
		server.KeyStaticDir:      "static-dir",
	} {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			log.Fatalf("Failed to bind flag --%s: %v", name, err)
		}
	}

	return cmd
}

func run(ctx context.Context, cfg *server.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log.Println("Starting room chat server...")

	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ln, err := net.Listen("tcp", cfg.Port)
	if err != nil {
		_ = srv.Close(ctx)
		return fmt.Errorf("failed to listen on %s: %w", cfg.Port, err)
	}

	httpServer := server.CreateServer(cfg.Port, srv.Handler())
	go func() {
		if err := server.StartServer(httpServer, ln); err != nil {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	printStartupInfo(srv.Config())

	wait := gfshutdown.GracefulShutdown(
		ctx,
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"http-server": func(ctx context.Context) error {
				return server.ShutdownServer(ctx, httpServer)
			},
			"chat-server": func(ctx context.Context) error {
				return srv.Close(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Server exited with code: %d", exitCode)
	if exitCode != 0 {
		return fmt.Errorf("shutdown finished with exit code %d", exitCode)
	}
	return nil
}

func printStartupInfo(cfg server.Config) {
	database := cfg.DatabasePath
	if database == "" {
		database = "disabled (in-memory only)"
	}

	log.Printf("  Broadcast scope: %s", cfg.BroadcastScope)
	log.Printf("  Default room:    %s", cfg.DefaultRoomName)
	log.Printf("  Archive:         %s", database)
	log.Printf("  Allowed origins: %s", strings.Join(cfg.AllowedOrigins, ", "))
	log.Println("Endpoints:")
	log.Println("  GET  /ws/{user_id}            WebSocket session")
	log.Println("  GET  /rooms, POST /rooms      list / create rooms")
	log.Println("  GET  /rooms/{id}/messages     recent messages (limit, default 50)")
	log.Println("  GET  /users, POST /users      list / create users")
	log.Println("  GET  /health                  health check")
	log.Println("Press Ctrl+C to shutdown gracefully")
}
