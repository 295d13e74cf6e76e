// botlink-watch connects to a OneBot gateway and streams classified
// events to the console, one colored line per event.
//
// Usage: go run ./cmd/botlink-watch --config configs/botlink.local.yaml
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/codaki/botlink"
	"github.com/codaki/botlink/internal/config"
	"github.com/codaki/botlink/internal/version"
)

type counters struct {
	messages  atomic.Int64
	notices   atomic.Int64
	requests  atomic.Int64
	meta      atomic.Int64
	responses atomic.Int64
}

func main() {
	configPath := flag.String("config", "configs/botlink.local.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print full frame JSON")
	flag.Parse()

	// Logs go to stderr so the colored event stream on stdout stays clean
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = slog.New(cfg.Log.Handler(os.Stderr))

	logger.Info("starting botlink-watch",
		"version", version.Version,
		"config", *configPath,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	bot, err := botlink.New(cfg.Client(), botlink.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create bot", "error", err)
		os.Exit(1)
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	magenta := color.New(color.FgMagenta)
	cyan := color.New(color.FgCyan)
	dim := color.New(color.Faint)

	var stats counters

	bot.On(botlink.EventError, func(ev *botlink.Event) {
		color.Red("[ERROR] %v", ev.Err)
	})

	bot.On(botlink.EventReady, func(ev *botlink.Event) {
		green.Printf("[READY] self_id=%d\n", bot.SelfID())
	})

	bot.On(botlink.EventSocketConnect, func(ev *botlink.Event) {
		cyan.Printf("[SOCKET] %s connected\n", ev.Channel)
	})
	bot.On(botlink.EventSocketClose, func(ev *botlink.Event) {
		cyan.Printf("[SOCKET] %s closed code=%d reason=%q\n", ev.Channel, ev.Code, ev.Reason)
	})
	bot.On(botlink.EventSocketReconnecting, func(ev *botlink.Event) {
		cyan.Printf("[SOCKET] %s reconnecting\n", ev.Channel)
	})
	bot.On(botlink.EventSocketConnecting, func(ev *botlink.Event) {
		cyan.Printf("[SOCKET] %s connecting attempt=%d\n", ev.Channel, ev.Attempt)
	})
	bot.On(botlink.EventSocketMaxReconnect, func(ev *botlink.Event) {
		color.Red("[SOCKET] %s gave up reconnecting", ev.Channel)
	})

	bot.On("message", func(ev *botlink.Event) {
		stats.messages.Add(1)
		if *verbose {
			printRaw(green, "MESSAGE", ev)
			return
		}
		green.Printf("[MESSAGE] path=%s user=%d group=%d text=%s\n",
			ev.Path, ev.Payload.UserID, ev.Payload.GroupID, ev.Payload.MessageText())
	})

	bot.On("notice", func(ev *botlink.Event) {
		stats.notices.Add(1)
		if *verbose {
			printRaw(yellow, "NOTICE", ev)
			return
		}
		yellow.Printf("[NOTICE] path=%s user=%d group=%d\n",
			ev.Path, ev.Payload.UserID, ev.Payload.GroupID)
	})

	bot.On("request", func(ev *botlink.Event) {
		stats.requests.Add(1)
		if *verbose {
			printRaw(magenta, "REQUEST", ev)
			return
		}
		magenta.Printf("[REQUEST] path=%s user=%d group=%d\n",
			ev.Path, ev.Payload.UserID, ev.Payload.GroupID)
	})

	bot.On("meta_event", func(ev *botlink.Event) {
		stats.meta.Add(1)
		// Heartbeats are noise outside verbose mode
		if *verbose {
			printRaw(dim, "META", ev)
		}
	})

	bot.On(botlink.EventAPIResponse, func(ev *botlink.Event) {
		stats.responses.Add(1)
		if *verbose {
			printRaw(cyan, "RESPONSE", ev)
		}
	})

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logger.Info("stats",
					"messages", stats.messages.Load(),
					"notices", stats.notices.Load(),
					"requests", stats.requests.Load(),
					"meta_events", stats.meta.Load(),
					"api_responses", stats.responses.Load(),
				)
			}
		}
	}()

	if err := bot.Connect(); err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}

	logger.Info("watching - press Ctrl+C to stop")

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")
	if err := bot.Disconnect(); err != nil {
		logger.Warn("disconnect", "error", err)
	}
	logger.Info("botlink-watch stopped")
}

func printRaw(c *color.Color, label string, ev *botlink.Event) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, ev.Raw, "", "  "); err != nil {
		c.Printf("[%s] %s\n", label, ev.Raw)
		return
	}
	c.Printf("[%s] %s\n", label, buf.String())
}
