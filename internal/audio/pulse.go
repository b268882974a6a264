package audio

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

// Device is a PulseAudio source as seen by the room microphone control.
type Device struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Available   bool   `json:"available"`
	Muted       bool   `json:"muted"`
	Default     bool   `json:"default"`
}

// undefinedIndex tells the server to address a source by name.
const undefinedIndex = 0xFFFFFFFF

type Mic struct {
	client *pulse.Client
}

func Open(_ context.Context) (*Mic, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("waybar-meeting-room"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}
	return &Mic{client: client}, nil
}

func (m *Mic) Close() {
	if m == nil || m.client == nil {
		return
	}
	m.client.Close()
}

func (m *Mic) ListDevices(ctx context.Context) ([]Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	defaultSource, err := m.client.DefaultSource()
	if err != nil {
		return nil, fmt.Errorf("read default source: %w", err)
	}
	defaultID := defaultSource.ID()

	var sourceInfos pulseproto.GetSourceInfoListReply
	if err := m.client.RawRequest(&pulseproto.GetSourceInfoList{}, &sourceInfos); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	devices := make([]Device, 0, len(sourceInfos))
	for _, source := range sourceInfos {
		if source == nil {
			continue
		}
		devices = append(devices, Device{
			ID:          source.SourceName,
			Description: source.Device,
			Available:   sourceAvailable(source),
			Muted:       source.Mute,
			Default:     source.SourceName == defaultID,
		})
	}

	return devices, nil
}

// Resolve returns the configured source, or the first usable input when the
// configured one is not present.
func (m *Mic) Resolve(ctx context.Context, configured string) (Device, error) {
	devices, err := m.ListDevices(ctx)
	if err != nil {
		return Device{}, err
	}
	device, ok := pickDevice(devices, configured)
	if !ok {
		return Device{}, fmt.Errorf("no microphone matches %q", configured)
	}
	return device, nil
}

func (m *Mic) SetMute(ctx context.Context, configured string, mute bool) (Device, error) {
	device, err := m.Resolve(ctx, configured)
	if err != nil {
		return Device{}, err
	}

	request := &pulseproto.SetSourceMute{
		SourceIndex: undefinedIndex,
		SourceName:  device.ID,
		Mute:        mute,
	}
	if err := m.client.RawRequest(request, nil); err != nil {
		return Device{}, fmt.Errorf("set mute on %s: %w", device.ID, err)
	}
	device.Muted = mute
	return device, nil
}

func (m *Mic) Toggle(ctx context.Context, configured string) (Device, error) {
	device, err := m.Resolve(ctx, configured)
	if err != nil {
		return Device{}, err
	}
	return m.SetMute(ctx, device.ID, !device.Muted)
}

func pickDevice(devices []Device, configured string) (Device, bool) {
	if device, ok := MatchConfiguredDevice(devices, configured); ok {
		return device, true
	}
	active := FilterActiveInputDevices(devices)
	if len(active) == 0 {
		return Device{}, false
	}
	return active[0], true
}

func FilterActiveInputDevices(devices []Device) []Device {
	active := make([]Device, 0, len(devices))
	for _, device := range devices {
		if !device.Available {
			continue
		}
		if isMonitorSource(device) {
			continue
		}
		active = append(active, device)
	}

	sort.SliceStable(active, func(i, j int) bool {
		left := strings.ToLower(DisplayName(active[i]))
		right := strings.ToLower(DisplayName(active[j]))
		if left == right {
			return strings.ToLower(active[i].ID) < strings.ToLower(active[j].ID)
		}
		return left < right
	})

	return active
}

// MatchConfiguredDevice finds the default source for "" or "default", an
// exact ID match, or else a substring of the ID or description.
func MatchConfiguredDevice(devices []Device, configuredInput string) (Device, bool) {
	input := strings.TrimSpace(strings.ToLower(configuredInput))

	if input == "" || input == "default" {
		for _, device := range devices {
			if device.Default {
				return device, true
			}
		}
		return Device{}, false
	}

	for _, device := range devices {
		if strings.ToLower(device.ID) == input {
			return device, true
		}
	}
	for _, device := range devices {
		if deviceMatches(device, input) {
			return device, true
		}
	}
	return Device{}, false
}

func DisplayName(device Device) string {
	description := strings.TrimSpace(device.Description)
	if description != "" {
		return description
	}
	return strings.TrimSpace(device.ID)
}

func deviceMatches(device Device, term string) bool {
	if term == "" {
		return false
	}
	id := strings.ToLower(device.ID)
	desc := strings.ToLower(device.Description)
	return strings.Contains(id, term) || strings.Contains(desc, term)
}

func isMonitorSource(device Device) bool {
	id := strings.ToLower(strings.TrimSpace(device.ID))
	description := strings.ToLower(strings.TrimSpace(device.Description))
	return strings.Contains(id, ".monitor") || strings.HasPrefix(description, "monitor of ")
}

func sourceAvailable(source *pulseproto.GetSourceInfoReply) bool {
	if source == nil {
		return false
	}
	if len(source.Ports) == 0 {
		return true
	}
	for _, port := range source.Ports {
		if port.Name != source.ActivePortName {
			continue
		}
		// unknown=0, no=1, yes=2
		return port.Available == 0 || port.Available == 2
	}
	return true
}
