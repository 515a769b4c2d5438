package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/recsync/recsync/internal/bridge"
	"github.com/recsync/recsync/internal/callmon"
	"github.com/recsync/recsync/internal/channel"
	"github.com/recsync/recsync/internal/config"
	"github.com/recsync/recsync/internal/journal"
	"github.com/recsync/recsync/internal/locator"
	"github.com/recsync/recsync/internal/telephony"
	"github.com/recsync/recsync/internal/uploader"
)

func main() {
	configPath := flag.String("config", "/etc/recsync/recsync.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	j, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		logger.Error("opening journal", "error", err)
		os.Exit(1)
	}
	defer j.Close()

	dial := &shimDialer{}

	var b *bridge.Bridge
	up := uploader.New(uploader.Options{
		BaseURL:     cfg.Server.BaseURL,
		Token:       cfg.Server.Token,
		MaxAttempts: cfg.Upload.MaxAttempts,
		BaseDelay:   cfg.Upload.BaseDelay.Std(),
		MaxDelay:    cfg.Upload.MaxDelay.Std(),
		Logger:      logger,
		OnResult: func(res uploader.Result) {
			b.UploadFinished(res)
		},
	})

	b, err = bridge.New(bridge.Options{
		Monitor:  callmon.New(),
		Locator:  locator.New(cfg.Recordings.Directories, cfg.Recordings.Window.Std(), cfg.Recordings.Skew.Std(), logger),
		Uploader: up,
		Dialer:   dial,
		Journal:  j,
		OpenChannel: func(userID string, onDial channel.DialHandler) (channel.Channel, error) {
			return channel.NewMQTTChannel(channel.MQTTOptions{
				Broker:      cfg.Channel.Broker,
				ClientID:    cfg.Channel.ClientID,
				TopicPrefix: cfg.Channel.TopicPrefix,
				UserID:      userID,
				QoS:         1,
				OnDial:      onDial,
				Logger:      logger,
			})
		},
		Permissions: bridge.StoragePermissions{Dirs: cfg.Recordings.Directories},
		SettleDelay: cfg.Recordings.SettleDelay.Std(),
		SessionTTL:  cfg.Recordings.SessionTTL.Std(),
		Logger:      logger,
	})
	if err != nil {
		logger.Error("building bridge", "error", err)
		os.Exit(1)
	}

	if err := b.Init(cfg.Server.UserID); err != nil {
		logger.Error("initializing bridge", "error", err)
		os.Exit(1)
	}
	defer b.Shutdown()

	if err := run(ctx, cfg, b, dial, logger); err != nil && ctx.Err() == nil {
		logger.Error("feed loop failed", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, b *bridge.Bridge, dial *shimDialer, logger *slog.Logger) error {
	for {
		err := runSession(ctx, cfg, b, dial, logger)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			logger.Warn("feed session error, reconnecting in 5s", "error", err)
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// runSession connects to the device shim and streams native call events
// into the bridge until the connection drops.
func runSession(ctx context.Context, cfg *config.Config, b *bridge.Bridge, dial *shimDialer, logger *slog.Logger) error {
	addr := cfg.Feed.Addr()
	logger.Info("connecting to call-event feed", "addr", addr)

	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return fmt.Errorf("dial feed: %w", err)
	}
	defer conn.Close()

	// Close connection when context is cancelled
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	dial.set(conn)
	defer dial.set(nil)

	logger.Info("call-event feed connected, processing events")

	parser := telephony.NewParser(conn)
	for {
		evt, ok := parser.Next()
		if !ok {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("feed connection closed")
		}
		b.HandleNative(evt)
	}
}

// shimDialer forwards dial commands to the device shim over the same
// socket that streams call events.
type shimDialer struct {
	mu   sync.Mutex
	conn net.Conn
}

func (d *shimDialer) set(conn net.Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conn = conn
}

func (d *shimDialer) Dial(number string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return fmt.Errorf("device shim not connected")
	}

	cmd, err := json.Marshal(map[string]string{"action": "dial", "number": number})
	if err != nil {
		return fmt.Errorf("marshaling dial command: %w", err)
	}
	if _, err := d.conn.Write(append(cmd, '\n')); err != nil {
		return fmt.Errorf("sending dial command: %w", err)
	}
	return nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
