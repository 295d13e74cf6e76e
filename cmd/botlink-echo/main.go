// botlink-echo connects to a OneBot gateway and echoes messages back.
// Private messages are returned verbatim; group messages that mention
// the bot get the reply addressed back at the sender.
//
// Usage: go run ./cmd/botlink-echo --config configs/botlink.local.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/codaki/botlink"
	"github.com/codaki/botlink/internal/config"
	"github.com/codaki/botlink/internal/version"
	"github.com/codaki/botlink/tag"
)

func main() {
	configPath := flag.String("config", "configs/botlink.local.yaml", "path to config file")
	flag.Parse()

	// Bootstrap logger until the configured one is available
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = slog.New(cfg.Log.Handler(os.Stdout))
	slog.SetDefault(logger)

	logger.Info("starting botlink-echo",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	bot, err := botlink.New(cfg.Client(), botlink.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create bot", "error", err)
		os.Exit(1)
	}

	// Keep faults visible instead of letting the default handler panic
	bot.On(botlink.EventError, func(ev *botlink.Event) {
		logger.Error("bot error", "error", ev.Err)
	})

	bot.On(botlink.EventReady, func(ev *botlink.Event) {
		logger.Info("gateway ready", "self_id", bot.SelfID())
	})

	bot.On(botlink.EventSocketConnecting, func(ev *botlink.Event) {
		logger.Info("connecting", "channel", ev.Channel, "attempt", ev.Attempt)
	})

	bot.On(botlink.EventSocketClose, func(ev *botlink.Event) {
		logger.Info("channel closed", "channel", ev.Channel, "code", ev.Code, "reason", ev.Reason)
	})

	// One-time gateway status check after the first ready
	bot.Once(botlink.EventReady, func(ev *botlink.Event) bool {
		status, err := bot.Call(ctx, "get_status", nil)
		if err != nil {
			logger.Warn("get_status failed", "error", err)
			return true
		}
		logger.Info("gateway status", "status", string(status))
		return true
	})

	// Echo private messages back to the sender
	bot.OnMessage("message.private", func(mc *botlink.MessageContext, ev *botlink.Event) botlink.Reply {
		text := plainText(ev.Payload.MessageText())
		if text == "" {
			return nil
		}
		logger.Info("echo", "user_id", ev.Payload.UserID, "text", text)
		return botlink.Text(text)
	})

	// Answer group mentions with the mention stripped
	bot.OnMessage("message.group.@me", func(mc *botlink.MessageContext, ev *botlink.Event) botlink.Reply {
		text := plainText(ev.Payload.MessageText())
		if text == "" {
			return nil
		}
		logger.Info("mention", "group_id", ev.Payload.GroupID, "user_id", ev.Payload.UserID, "text", text)
		return botlink.Text(tag.At(ev.Payload.UserID) + " " + text)
	})

	logger.Info("connecting", "gateway", gatewayAddr(cfg))
	if err := bot.Connect(); err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}

	logger.Info("botlink-echo running - press Ctrl+C to stop")

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")
	if err := bot.Disconnect(); err != nil {
		logger.Warn("disconnect", "error", err)
	}
	logger.Info("botlink-echo stopped")
}

// plainText flattens a message to its text segments, dropping mention
// and media tags.
func plainText(s string) string {
	var b strings.Builder
	for _, t := range tag.Parse(s) {
		b.WriteString(t.Text())
	}
	return strings.TrimSpace(b.String())
}

func gatewayAddr(cfg *config.BotConfig) string {
	if cfg.Gateway.URL != "" {
		return cfg.Gateway.URL
	}
	return fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
}
