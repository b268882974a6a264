package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/rbright/waybar-meeting-room/internal/app"
	"github.com/rbright/waybar-meeting-room/internal/config"
)

func main() {
	args := os.Args[1:]
	if len(args) > 0 {
		switch args[0] {
		case "-h", "--help", "help":
			printUsage()
			return
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	// Joining waits for the browser to settle on top of the fetch.
	timeout := cfg.Timeout + 10*time.Second
	if timeout < 15*time.Second {
		timeout = 15 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := app.Run(ctx, args, cfg, os.Stdout); err != nil {
		slog.Debug("Command failed", "args", args, "error", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Println("waybar-meeting-room <status|refresh|auto|agenda|join-current|join-next|join-item N|pick|leave|mic on|off|toggle>")
}
