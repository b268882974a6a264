package eds

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	registryPrefix = "org.gnome.evolution.dataserver.Sources"
	factoryPrefix  = "org.gnome.evolution.dataserver.Calendar"

	sourceManagerPath   = dbus.ObjectPath("/org/gnome/evolution/dataserver/SourceManager")
	calendarFactoryPath = dbus.ObjectPath("/org/gnome/evolution/dataserver/CalendarFactory")
)

// session is one session-bus connection with the versioned EDS service names
// the room calendar is read through.
type session struct {
	conn     *dbus.Conn
	registry string
	factory  string
}

func dial(ctx context.Context) (*session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, err := dbus.ConnectSessionBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}

	s := &session{conn: conn}
	if err := s.discover(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) close() {
	if s != nil && s.conn != nil {
		_ = s.conn.Close()
	}
}

// discover resolves the registry and calendar factory names. EDS services are
// usually bus-activated, so activatable names count too.
func (s *session) discover(ctx context.Context) error {
	bus := s.conn.BusObject()

	var names []string
	if err := bus.CallWithContext(ctx, "org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		return fmt.Errorf("list bus names: %w", err)
	}
	var activatable []string
	if err := bus.CallWithContext(ctx, "org.freedesktop.DBus.ListActivatableNames", 0).Store(&activatable); err == nil {
		names = append(names, activatable...)
	}

	s.registry = newestService(names, registryPrefix)
	s.factory = newestService(names, factoryPrefix)
	if s.registry == "" || s.factory == "" {
		return fmt.Errorf("evolution data server is not available on the session bus")
	}
	return nil
}

// newestService returns the name with the highest numeric suffix after
// prefix, e.g. ...Calendar8 over ...Calendar7. Names with the same version
// resolve to the lexically smallest.
func newestService(names []string, prefix string) string {
	best, bestVersion := "", -1
	for _, name := range names {
		suffix, ok := strings.CutPrefix(name, prefix)
		if !ok {
			continue
		}
		version, err := strconv.Atoi(strings.TrimSpace(suffix))
		if err != nil {
			version = 0
		}
		if version > bestVersion || (version == bestVersion && name < best) {
			best, bestVersion = name, version
		}
	}
	return best
}
