package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_ConfigFileOverrides(t *testing.T) {
	tmp := t.TempDir()
	xdgConfig := filepath.Join(tmp, "config")
	xdgState := filepath.Join(tmp, "state")
	if err := os.MkdirAll(filepath.Join(xdgConfig, "waybar"), 0o755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}

	configFile := filepath.Join(xdgConfig, "waybar", "meeting-room.env")
	content := "# room display\n" +
		"export ICS_URL='https://calendar.example/room.ics'\n" +
		"ICS_TIMEOUT=2.5\n" +
		"MAX_ITEMS=99\n" +
		"VISIO_BASE=\"https://visio.acme.fr/\"\n" +
		"WAYBAR_MEETING_ROOM_TIMEZONE=UTC\n" +
		"LOG_LEVEL=debug\n"
	if err := os.WriteFile(configFile, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Cleanup(func() {
		for _, key := range []string{"ICS_URL", "ICS_TIMEOUT", "MAX_ITEMS", "VISIO_BASE", "WAYBAR_MEETING_ROOM_TIMEZONE", "LOG_LEVEL"} {
			_ = os.Unsetenv(key)
		}
	})

	t.Setenv("XDG_CONFIG_HOME", xdgConfig)
	t.Setenv("XDG_STATE_HOME", xdgState)
	t.Setenv("HOME", tmp)
	t.Setenv("WAYBAR_MEETING_ROOM_CONFIG_FILE", configFile)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Source != "https://calendar.example/room.ics" {
		t.Fatalf("source mismatch: %s", cfg.Source)
	}
	if cfg.Timeout != 2500*time.Millisecond {
		t.Fatalf("timeout mismatch: %v", cfg.Timeout)
	}
	if cfg.MaxItems != maxAgendaItems {
		t.Fatalf("max items mismatch: %d", cfg.MaxItems)
	}
	if cfg.ConferenceBase != "https://visio.acme.fr/" {
		t.Fatalf("conference base mismatch: %s", cfg.ConferenceBase)
	}
	if cfg.Timezone != time.UTC {
		t.Fatalf("timezone mismatch: %v", cfg.Timezone)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("log level mismatch: %v", cfg.LogLevel)
	}
	if !cfg.ExpandRecurrences {
		t.Fatal("expected recurrence expansion by default")
	}

	expectedSnapshot := filepath.Join(xdgState, "waybar", "meeting-room", "meetings.json")
	if cfg.SnapshotPath != expectedSnapshot {
		t.Fatalf("snapshot path mismatch: %s", cfg.SnapshotPath)
	}
}

func TestLoad_RequiresSource(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "config"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(tmp, "state"))
	t.Setenv("WAYBAR_MEETING_ROOM_CONFIG_FILE", filepath.Join(tmp, "missing.env"))
	t.Setenv("ICS_URL", "")
	t.Setenv("WAYBAR_MEETING_ROOM_SOURCE", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error without a calendar source")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"":        slog.LevelWarn,
		"verbose": slog.LevelWarn,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
