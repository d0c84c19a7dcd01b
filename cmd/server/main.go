package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/statewire/statewire/internal/common"
	"github.com/statewire/statewire/internal/database"
	"github.com/statewire/statewire/internal/server"
)

var (
	configFile  string
	logLevel    string
	listenAddr  string
	wsAddr      string
	metricsAddr string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "statewire-server",
	Short: "Statewire Server - authoritative state synchronization endpoint",
	Long: `Statewire Server accepts peers over UDP or WebSocket, runs the sync
handshake, and relays entity state between connected peers.`,
	RunE: runServer,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to configuration file")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&listenAddr, "listen-addr", ":7700", "UDP address for game traffic")
	rootCmd.Flags().StringVar(&wsAddr, "ws-addr", "", "HTTP address for the WebSocket fallback")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Address for the Prometheus endpoint")

	sessionsCmd.Flags().IntVar(&sessionLimit, "limit", 20, "Maximum number of sessions to show")
	sessionsCmd.Flags().IntVar(&sessionOffset, "offset", 0, "Number of sessions to skip")

	rootCmd.AddCommand(addPeerCmd)
	rootCmd.AddCommand(listPeersCmd)
	rootCmd.AddCommand(sessionsCmd)
}

// openDatabase loads the configuration and opens the peer store the
// auth subcommands operate on.
func openDatabase() (*database.DB, error) {
	cfg := common.DefaultServerConfig()
	if configFile != "" {
		var err error
		cfg, err = common.LoadServerConfig(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	db, err := database.New(cfg.Auth.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open token store: %w", err)
	}
	return db, nil
}

func runServer(cmd *cobra.Command, args []string) error {
	logger := setupLogger(logLevel)

	var cfg *common.ServerConfig
	var err error

	if configFile != "" {
		cfg, err = common.LoadServerConfig(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logger.Info("loaded configuration", slog.String("file", configFile))
	} else {
		cfg = common.DefaultServerConfig()
		cfg.ListenAddr = listenAddr
		cfg.WSAddr = wsAddr
		cfg.MetricsAddr = metricsAddr
		cfg.LogLevel = logLevel
	}

	srv, err := server.NewServer(cfg, logger, nil)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	srv.SetHandler(server.NewRelayHandler(srv.Registry(), logger))

	return srv.Run()
}

var addPeerCmd = &cobra.Command{
	Use:   "add-peer <name>",
	Short: "Register a peer and print its token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase()
		if err != nil {
			return err
		}
		defer db.Close()

		if db.PeerExists(args[0]) {
			return fmt.Errorf("peer %s is already registered", args[0])
		}

		token := common.GenerateToken()
		if _, err := db.CreatePeer(args[0], token); err != nil {
			return fmt.Errorf("failed to register peer: %w", err)
		}
		fmt.Printf("peer %s registered\ntoken: %s\n", args[0], token)
		return nil
	},
}

var listPeersCmd = &cobra.Command{
	Use:   "list-peers",
	Short: "List registered peers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase()
		if err != nil {
			return err
		}
		defer db.Close()

		peers, err := db.ListPeers()
		if err != nil {
			return fmt.Errorf("failed to list peers: %w", err)
		}
		if len(peers) == 0 {
			fmt.Println("no peers registered")
			return nil
		}
		for _, p := range peers {
			fmt.Printf("%-24s %s  registered %s\n",
				p.Name, p.ID, p.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var (
	sessionLimit  int
	sessionOffset int
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions <peer>",
	Short: "Show a peer's recent session history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase()
		if err != nil {
			return err
		}
		defer db.Close()

		logs, err := db.GetSessionLogs(args[0], sessionLimit, sessionOffset)
		if err != nil {
			return fmt.Errorf("failed to load session history: %w", err)
		}
		if len(logs) == 0 {
			fmt.Printf("no sessions recorded for %s\n", args[0])
			return nil
		}
		for _, l := range logs {
			reason := l.Reason
			if reason == "" {
				reason = "clean"
			}
			fmt.Printf("%s  %s -> %s  %-21s %s\n",
				l.ID,
				l.ConnectedAt.Format("2006-01-02 15:04:05"),
				l.DisconnectedAt.Format("15:04:05"),
				l.RemoteAddr, reason)
		}
		return nil
	},
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler)
}
