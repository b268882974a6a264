package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const maxAgendaItems = 12

type Runtime struct {
	ConfigFile string

	Source    string
	Timeout   time.Duration
	UserAgent string
	Timezone  *time.Location

	Lookahead         time.Duration
	QueryLookback     time.Duration
	QueryAhead        time.Duration
	ExpandRecurrences bool
	MaxItems          int

	ConferenceBase string
	DisplayName    string
	Browser        string
	BrowserProfile string
	LockFile       string
	MicSource      string

	StateDir     string
	MenuDir      string
	MenuPath     string
	SnapshotPath string

	LogLevel slog.Level
}

func Load() (Runtime, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Runtime{}, fmt.Errorf("resolve home dir: %w", err)
	}

	xdgConfig := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	if xdgConfig == "" {
		xdgConfig = filepath.Join(home, ".config")
	}

	xdgState := strings.TrimSpace(os.Getenv("XDG_STATE_HOME"))
	if xdgState == "" {
		xdgState = filepath.Join(home, ".local", "state")
	}

	xdgRuntime := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR"))
	if xdgRuntime == "" {
		xdgRuntime = os.TempDir()
	}

	defaultConfig := filepath.Join(xdgConfig, "waybar", "meeting-room.env")
	configFile := strings.TrimSpace(os.Getenv("WAYBAR_MEETING_ROOM_CONFIG_FILE"))
	if configFile == "" {
		configFile = defaultConfig
	}

	if err := loadEnvFile(configFile); err != nil {
		return Runtime{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("WAYBAR_MEETING_ROOM")
	v.AutomaticEnv()

	_ = v.BindEnv("source", "WAYBAR_MEETING_ROOM_SOURCE", "ICS_URL")
	_ = v.BindEnv("timeout_seconds", "WAYBAR_MEETING_ROOM_TIMEOUT_SECONDS", "ICS_TIMEOUT")
	_ = v.BindEnv("user_agent", "WAYBAR_MEETING_ROOM_USER_AGENT")
	_ = v.BindEnv("timezone", "WAYBAR_MEETING_ROOM_TIMEZONE", "ICS_TIMEZONE")
	_ = v.BindEnv("lookahead_minutes", "WAYBAR_MEETING_ROOM_LOOKAHEAD_MINUTES", "LOOKAHEAD_MINUTES")
	_ = v.BindEnv("query_lookback_minutes", "WAYBAR_MEETING_ROOM_QUERY_LOOKBACK_MINUTES")
	_ = v.BindEnv("query_ahead_days", "WAYBAR_MEETING_ROOM_QUERY_AHEAD_DAYS")
	_ = v.BindEnv("expand_recurrences", "WAYBAR_MEETING_ROOM_EXPAND_RECURRENCES", "EXPAND_RECURRENCES")
	_ = v.BindEnv("max_items", "WAYBAR_MEETING_ROOM_MAX_ITEMS", "MAX_ITEMS")
	_ = v.BindEnv("conference_base", "WAYBAR_MEETING_ROOM_CONFERENCE_BASE", "VISIO_BASE")
	_ = v.BindEnv("display_name", "WAYBAR_MEETING_ROOM_DISPLAY_NAME", "DISPLAY_NAME")
	_ = v.BindEnv("browser", "WAYBAR_MEETING_ROOM_BROWSER", "FIREFOX_BIN")
	_ = v.BindEnv("browser_profile", "WAYBAR_MEETING_ROOM_BROWSER_PROFILE", "FIREFOX_PROFILE")
	_ = v.BindEnv("lock_file", "WAYBAR_MEETING_ROOM_LOCK_FILE", "JITSI_LOCKFILE")
	_ = v.BindEnv("mic_source", "WAYBAR_MEETING_ROOM_MIC_SOURCE")
	_ = v.BindEnv("state_dir", "WAYBAR_MEETING_ROOM_STATE_DIR")
	_ = v.BindEnv("menu_dir", "WAYBAR_MEETING_ROOM_MENU_DIR")
	_ = v.BindEnv("log_level", "WAYBAR_MEETING_ROOM_LOG_LEVEL", "LOG_LEVEL")

	v.SetDefault("timeout_seconds", 20)
	v.SetDefault("user_agent", "waybar-meeting-room")
	v.SetDefault("lookahead_minutes", 12*60)
	v.SetDefault("query_lookback_minutes", 240)
	v.SetDefault("query_ahead_days", 7)
	v.SetDefault("expand_recurrences", true)
	v.SetDefault("max_items", 6)
	v.SetDefault("display_name", "Meeting Room")
	v.SetDefault("browser", "/usr/bin/firefox")
	v.SetDefault("browser_profile", "meetingroom")
	v.SetDefault("lock_file", filepath.Join(xdgRuntime, "waybar-meeting-room.lock"))
	v.SetDefault("mic_source", "default")
	v.SetDefault("state_dir", filepath.Join(xdgState, "waybar", "meeting-room"))
	v.SetDefault("menu_dir", filepath.Join(xdgState, "waybar", "menus"))
	v.SetDefault("log_level", "warn")

	source := strings.TrimSpace(v.GetString("source"))
	if source == "" {
		return Runtime{}, fmt.Errorf("no calendar source configured: set ICS_URL or WAYBAR_MEETING_ROOM_SOURCE in %s", configFile)
	}

	timeoutSeconds := v.GetFloat64("timeout_seconds")
	if timeoutSeconds <= 0 {
		timeoutSeconds = 20
	}

	location := time.Local
	if name := strings.TrimSpace(v.GetString("timezone")); name != "" {
		loaded, loadErr := time.LoadLocation(name)
		if loadErr != nil {
			return Runtime{}, fmt.Errorf("load timezone %q: %w", name, loadErr)
		}
		location = loaded
	}

	maxItems := v.GetInt("max_items")
	if maxItems < 1 {
		maxItems = 1
	}
	if maxItems > maxAgendaItems {
		maxItems = maxAgendaItems
	}

	lookaheadMinutes := v.GetInt("lookahead_minutes")
	if lookaheadMinutes < 0 {
		lookaheadMinutes = 0
	}

	queryLookbackMinutes := v.GetInt("query_lookback_minutes")
	if queryLookbackMinutes < 0 {
		queryLookbackMinutes = 0
	}

	queryAheadDays := v.GetInt("query_ahead_days")
	if queryAheadDays <= 0 {
		queryAheadDays = 7
	}

	stateDir := strings.TrimSpace(v.GetString("state_dir"))
	if stateDir == "" {
		stateDir = filepath.Join(xdgState, "waybar", "meeting-room")
	}

	menuDir := strings.TrimSpace(v.GetString("menu_dir"))
	if menuDir == "" {
		menuDir = filepath.Join(xdgState, "waybar", "menus")
	}

	return Runtime{
		ConfigFile:        configFile,
		Source:            source,
		Timeout:           time.Duration(timeoutSeconds * float64(time.Second)),
		UserAgent:         strings.TrimSpace(v.GetString("user_agent")),
		Timezone:          location,
		Lookahead:         time.Duration(lookaheadMinutes) * time.Minute,
		QueryLookback:     time.Duration(queryLookbackMinutes) * time.Minute,
		QueryAhead:        time.Duration(queryAheadDays) * 24 * time.Hour,
		ExpandRecurrences: v.GetBool("expand_recurrences"),
		MaxItems:          maxItems,
		ConferenceBase:    strings.TrimSpace(v.GetString("conference_base")),
		DisplayName:       strings.TrimSpace(v.GetString("display_name")),
		Browser:           strings.TrimSpace(v.GetString("browser")),
		BrowserProfile:    strings.TrimSpace(v.GetString("browser_profile")),
		LockFile:          strings.TrimSpace(v.GetString("lock_file")),
		MicSource:         strings.TrimSpace(v.GetString("mic_source")),
		StateDir:          stateDir,
		MenuDir:           menuDir,
		MenuPath:          filepath.Join(menuDir, "meeting-room.xml"),
		SnapshotPath:      filepath.Join(stateDir, "meetings.json"),
		LogLevel:          parseLevel(v.GetString("log_level")),
	}, nil
}

func parseLevel(value string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return slog.LevelWarn
	}
	return level
}

func loadEnvFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open env file %s: %w", path, err)
	}
	defer func() {
		_ = file.Close()
	}()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" {
			continue
		}

		if len(value) >= 2 {
			if (value[0] == '\'' && value[len(value)-1] == '\'') ||
				(value[0] == '"' && value[len(value)-1] == '"') {
				value = value[1 : len(value)-1]
			}
		}

		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, value)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan env file %s: %w", path, err)
	}
	return nil
}
