package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/statewire/statewire/internal/client"
	"github.com/statewire/statewire/internal/common"
	"github.com/statewire/statewire/internal/conn"
	"github.com/statewire/statewire/internal/entity"
	"github.com/statewire/statewire/internal/protocol"
)

var (
	configFile string
	serverAddr string
	transport  string
	peerName   string
	token      string
	logLevel   string
	demo       bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "statewire [flags]",
	Short: "Statewire Client - connect to a state synchronization server",
	Long: `Statewire Client dials a sync server, completes the handshake, and
prints the entity state it receives. With --demo it also publishes a
wandering entity so two clients can watch each other move.`,
	RunE: runClient,
}

func init() {
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to configuration file")
	rootCmd.Flags().StringVarP(&serverAddr, "server", "s", "localhost:7700", "Sync server address")
	rootCmd.Flags().StringVarP(&transport, "transport", "t", "udp", "Transport: udp or ws")
	rootCmd.Flags().StringVar(&peerName, "peer", "", "Peer name for authentication")
	rootCmd.Flags().StringVar(&token, "token", "", "Authentication token")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().BoolVar(&demo, "demo", false, "Publish a wandering entity")
}

func runClient(cmd *cobra.Command, args []string) error {
	logger := setupLogger(logLevel)

	var cfg *common.ClientConfig
	var err error

	if configFile != "" {
		cfg, err = common.LoadClientConfig(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logger.Info("loaded configuration", slog.String("file", configFile))
	} else {
		cfg = common.DefaultClientConfig()
		cfg.ServerAddr = serverAddr
		cfg.Transport = transport
		cfg.PeerName = peerName
		cfg.Token = token
		cfg.LogLevel = logLevel
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	c := client.New(cfg, logger)
	go consumeEvents(c, logger)
	if demo {
		go runDemo(ctx, c)
	}

	return c.Run(ctx)
}

func consumeEvents(c *client.Client, logger *slog.Logger) {
	for ev := range c.Events() {
		switch e := ev.(type) {
		case conn.EventConnected:
			logger.Info("connected")
		case conn.EventUpdate:
			u := e.Update
			switch u.Kind {
			case protocol.MessageEntityCreate:
				fmt.Printf("frame %d: entity %d appeared at (%.1f, %.1f, %.1f)\n",
					e.Frame, u.Entity, u.Translation.X, u.Translation.Y, u.Translation.Z)
			case protocol.MessageEntityDestroy:
				fmt.Printf("frame %d: entity %d vanished\n", e.Frame, u.Entity)
			case protocol.MessageEntityTranslate:
				fmt.Printf("frame %d: entity %d moved to (%.1f, %.1f, %.1f)\n",
					e.Frame, u.Entity, u.Translation.X, u.Translation.Y, u.Translation.Z)
			}
		case conn.EventDisconnected:
			if e.Reason != nil {
				logger.Warn("disconnected", slog.String("reason", e.Reason.Error()))
			} else {
				logger.Info("disconnected")
			}
		}
	}
}

// runDemo publishes one entity circling the origin.
func runDemo(ctx context.Context, c *client.Client) {
	const id = entity.LocalID(1)

	created := false
	angle := 0.0
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !created {
			err := c.Enqueue(conn.Update{
				Kind:       protocol.MessageEntityCreate,
				Entity:     id,
				EntityKind: protocol.EntityActor,
				Rotation:   protocol.Quat{W: 1},
			})
			if err != nil {
				continue
			}
			created = true
		}

		angle += 0.1
		c.Enqueue(conn.Update{
			Kind:   protocol.MessageEntityTranslate,
			Entity: id,
			Translation: protocol.Vec3{
				X: float32(10 * math.Cos(angle)),
				Z: float32(10 * math.Sin(angle)),
			},
		})
	}
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

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	return slog.New(handler)
}
