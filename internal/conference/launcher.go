package conference

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const defaultSettle = 5 * time.Second

// Process is a started browser.
type Process interface {
	Wait() error
	Stderr() string
}

// Runner runs the external commands the launcher needs.
type Runner interface {
	// Run executes a command to completion.
	Run(ctx context.Context, name string, args ...string) error
	// Start launches a long-lived command without waiting for it.
	Start(name string, args ...string) (Process, error)
}

// Launcher opens one conference at a time in a kiosk browser profile. The
// joined URL is kept in LockFile so repeated joins are idempotent across
// invocations.
type Launcher struct {
	Browser  string
	Profile  string
	LockFile string

	// Settle is how long a fresh browser must survive before the join counts.
	Settle time.Duration
	Runner Runner
}

func (l *Launcher) runner() Runner {
	if l.Runner == nil {
		return execRunner{}
	}
	return l.Runner
}

// processPattern matches the browser command line for the configured
// profile, for pgrep and pkill.
func (l *Launcher) processPattern() string {
	return regexp.QuoteMeta(filepath.Base(l.Browser)) + ".*-P " + regexp.QuoteMeta(l.Profile)
}

func (l *Launcher) running(ctx context.Context) bool {
	return l.runner().Run(ctx, "pgrep", "-f", l.processPattern()) == nil
}

// Joined returns the URL of the conference currently open, or "".
func (l *Launcher) Joined(ctx context.Context) (string, error) {
	if err := l.cleanupStaleLock(ctx); err != nil {
		return "", err
	}
	return l.readLock()
}

// Join opens link. It reports false when link was already open.
func (l *Launcher) Join(ctx context.Context, link string) (bool, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return false, fmt.Errorf("empty conference url")
	}

	current, err := l.Joined(ctx)
	if err != nil {
		return false, err
	}
	if current == link {
		slog.Info("Conference already open", "url", link)
		return false, nil
	}
	if current != "" {
		if err := l.Leave(ctx); err != nil {
			return false, err
		}
	}

	if err := l.writeLock(link); err != nil {
		return false, err
	}

	args := []string{"-P", l.Profile, "--no-remote", "--new-instance", "--kiosk", link}
	process, err := l.runner().Start(l.Browser, args...)
	if err != nil {
		_ = l.removeLock()
		return false, fmt.Errorf("start browser: %w", err)
	}

	settle := l.Settle
	if settle <= 0 {
		settle = defaultSettle
	}

	exited := make(chan error, 1)
	go func() {
		exited <- process.Wait()
	}()

	select {
	case waitErr := <-exited:
		_ = l.removeLock()
		stderr := strings.TrimSpace(process.Stderr())
		slog.Warn("Browser exited during startup", "error", waitErr, "stderr", stderr)
		if stderr == "" {
			return false, fmt.Errorf("browser exited during startup: %v", waitErr)
		}
		return false, fmt.Errorf("browser exited during startup: %s", stderr)
	case <-time.After(settle):
	case <-ctx.Done():
	}

	room, roomErr := ParseRoom(link)
	if roomErr == nil {
		slog.Info("Joined conference", "room", room.String())
	} else {
		slog.Info("Joined conference", "url", link)
	}
	return true, nil
}

// Leave closes the kiosk browser and clears the lock.
func (l *Launcher) Leave(ctx context.Context) error {
	err := l.runner().Run(ctx, "pkill", "-f", l.processPattern())
	if err != nil && !isNoMatch(err) {
		return fmt.Errorf("stop browser: %w", err)
	}
	return l.removeLock()
}

func (l *Launcher) cleanupStaleLock(ctx context.Context) error {
	if _, err := os.Stat(l.LockFile); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat lock file: %w", err)
	}
	if l.running(ctx) {
		return nil
	}
	slog.Debug("Removing stale conference lock", "path", l.LockFile)
	return l.removeLock()
}

func (l *Launcher) readLock() (string, error) {
	raw, err := os.ReadFile(l.LockFile)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read lock file: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func (l *Launcher) writeLock(link string) error {
	if err := os.MkdirAll(filepath.Dir(l.LockFile), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	if err := os.WriteFile(l.LockFile, []byte(link+"\n"), 0o600); err != nil {
		return fmt.Errorf("write lock file: %w", err)
	}
	return nil
}

func (l *Launcher) removeLock() error {
	if err := os.Remove(l.LockFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// isNoMatch reports pkill's "no processes matched" status.
func isNoMatch(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) && exitErr.ExitCode() == 1
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

func (execRunner) Start(name string, args ...string) (Process, error) {
	cmd := exec.Command(name, args...)
	process := &execProcess{cmd: cmd}
	cmd.Stderr = &process.stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return process, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stderr bytes.Buffer
}

func (p *execProcess) Wait() error {
	return p.cmd.Wait()
}

func (p *execProcess) Stderr() string {
	return p.stderr.String()
}
