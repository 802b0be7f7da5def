package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	mprisBusPrefix  = "org.mpris.MediaPlayer2."
	mprisObjectPath = "/org/mpris/MediaPlayer2"
	playerInterface = "org.mpris.MediaPlayer2.Player"
	propsInterface  = "org.freedesktop.DBus.Properties"
)

var errNoPlayer = errors.New("no active music player")

// PlayerSnapshot is the last observed state of the active player. It is
// replaced wholesale on each poll, never patched field by field.
type PlayerSnapshot struct {
	Connected  bool
	PlayerName string
	Status     string // "Playing", "Paused" or "Stopped"
	Title      string
	Artist     string
	Album      string
	ArtURL     string // raw mpris:artUrl, unnormalized
	Position   time.Duration
	Duration   time.Duration
	Volume     float64
}

// PlayerSource abstracts the MPRIS player connection so the update loop
// can be tested without a session bus. All calls are synchronous; any
// error means "player unavailable this cycle", never fatal.
type PlayerSource interface {
	ListPlayers() ([]string, error)
	Snapshot() (PlayerSnapshot, error)
	PlayPause() error
	Next() error
	Previous() error
	SetPosition(pos time.Duration) error
	SetVolume(level float64) error
	Close() error
}

// MprisPlayer talks to MPRIS players over the D-Bus session bus. It
// attaches to one player at a time, preferring names from the configured
// list, and transparently reconnects when the player leaves the bus.
type MprisPlayer struct {
	conn      *dbus.Conn
	busName   string
	preferred []string
}

// NewMprisPlayer connects to the session bus. Failure here is the only
// fatal startup error; everything after is retried per poll cycle.
func NewMprisPlayer(preferred []string) (*MprisPlayer, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return &MprisPlayer{conn: conn, preferred: preferred}, nil
}

// ListPlayers returns the bus names of all running MPRIS players.
func (m *MprisPlayer) ListPlayers() ([]string, error) {
	var names []string
	err := m.conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names)
	if err != nil {
		return nil, fmt.Errorf("failed to list bus names: %w", err)
	}
	var players []string
	for _, name := range names {
		if strings.HasPrefix(name, mprisBusPrefix) {
			players = append(players, name)
		}
	}
	return players, nil
}

// connect picks a player, trying the preferred list in order before
// falling back to the first one found.
func (m *MprisPlayer) connect() error {
	players, err := m.ListPlayers()
	if err != nil {
		return err
	}
	if len(players) == 0 {
		return errNoPlayer
	}
	for _, want := range m.preferred {
		want = strings.ToLower(want)
		for _, name := range players {
			if strings.Contains(strings.ToLower(name), want) {
				m.busName = name
				return nil
			}
		}
	}
	m.busName = players[0]
	return nil
}

func (m *MprisPlayer) ensureConnected() error {
	if m.busName != "" {
		var owned bool
		err := m.conn.BusObject().Call("org.freedesktop.DBus.NameHasOwner", 0, m.busName).Store(&owned)
		if err == nil && owned {
			return nil
		}
		m.busName = ""
	}
	return m.connect()
}

func (m *MprisPlayer) player() dbus.BusObject {
	return m.conn.Object(m.busName, mprisObjectPath)
}

// Snapshot queries the attached player and returns its full state. Any
// failure drops the attachment so the next poll reconnects.
func (m *MprisPlayer) Snapshot() (PlayerSnapshot, error) {
	if err := m.ensureConnected(); err != nil {
		return PlayerSnapshot{}, err
	}
	obj := m.player()

	statusVar, err := obj.GetProperty(playerInterface + ".PlaybackStatus")
	if err != nil {
		m.busName = ""
		return PlayerSnapshot{}, fmt.Errorf("failed to read playback status: %w", err)
	}
	status, _ := statusVar.Value().(string)

	mdVar, err := obj.GetProperty(playerInterface + ".Metadata")
	if err != nil {
		m.busName = ""
		return PlayerSnapshot{}, fmt.Errorf("failed to read metadata: %w", err)
	}
	md, _ := mdVar.Value().(map[string]dbus.Variant)

	// Position and Volume are optional on some players; treat failures as
	// zero values rather than losing the whole snapshot.
	var position time.Duration
	if posVar, err := obj.GetProperty(playerInterface + ".Position"); err == nil {
		if micros, ok := posVar.Value().(int64); ok {
			position = time.Duration(micros) * time.Microsecond
		}
	}
	volume := 1.0
	if volVar, err := obj.GetProperty(playerInterface + ".Volume"); err == nil {
		if v, ok := volVar.Value().(float64); ok {
			volume = clampFloat(v, 0, 1)
		}
	}

	return PlayerSnapshot{
		Connected:  true,
		PlayerName: strings.TrimPrefix(m.busName, mprisBusPrefix),
		Status:     status,
		Title:      metadataString(md, "xesam:title"),
		Artist:     metadataStrings(md, "xesam:artist"),
		Album:      metadataString(md, "xesam:album"),
		ArtURL:     metadataString(md, "mpris:artUrl"),
		Position:   position,
		Duration:   metadataLength(md),
		Volume:     volume,
	}, nil
}

func (m *MprisPlayer) call(method string, args ...interface{}) error {
	if err := m.ensureConnected(); err != nil {
		return err
	}
	call := m.player().Call(playerInterface+"."+method, 0, args...)
	if call.Err != nil {
		return fmt.Errorf("%s failed: %w", method, call.Err)
	}
	return nil
}

func (m *MprisPlayer) PlayPause() error {
	return m.call("PlayPause")
}

func (m *MprisPlayer) Next() error {
	return m.call("Next")
}

func (m *MprisPlayer) Previous() error {
	return m.call("Previous")
}

// SetPosition moves playback to an absolute position. MPRIS requires the
// current track id; if the player doesn't report one, fall back to a
// relative Seek from whatever position it reports now.
func (m *MprisPlayer) SetPosition(pos time.Duration) error {
	if err := m.ensureConnected(); err != nil {
		return err
	}
	obj := m.player()

	if mdVar, err := obj.GetProperty(playerInterface + ".Metadata"); err == nil {
		if md, ok := mdVar.Value().(map[string]dbus.Variant); ok {
			if v, ok := md["mpris:trackid"]; ok {
				if trackID, ok := v.Value().(dbus.ObjectPath); ok && trackID != "" {
					return m.call("SetPosition", trackID, pos.Microseconds())
				}
			}
		}
	}

	var current time.Duration
	if posVar, err := obj.GetProperty(playerInterface + ".Position"); err == nil {
		if micros, ok := posVar.Value().(int64); ok {
			current = time.Duration(micros) * time.Microsecond
		}
	}
	return m.call("Seek", (pos - current).Microseconds())
}

func (m *MprisPlayer) SetVolume(level float64) error {
	if err := m.ensureConnected(); err != nil {
		return err
	}
	call := m.player().Call(propsInterface+".Set", 0,
		playerInterface, "Volume", dbus.MakeVariant(clampFloat(level, 0, 1)))
	if call.Err != nil {
		return fmt.Errorf("SetVolume failed: %w", call.Err)
	}
	return nil
}

func (m *MprisPlayer) Close() error {
	return m.conn.Close()
}

// metadataString extracts a string field from MPRIS metadata.
func metadataString(md map[string]dbus.Variant, key string) string {
	if v, ok := md[key]; ok {
		if s, ok := v.Value().(string); ok {
			return s
		}
	}
	return ""
}

// metadataStrings extracts a string-list field (like xesam:artist) joined
// with commas. Some players report a plain string instead of a list.
func metadataStrings(md map[string]dbus.Variant, key string) string {
	v, ok := md[key]
	if !ok {
		return ""
	}
	switch val := v.Value().(type) {
	case []string:
		return strings.Join(val, ", ")
	case string:
		return val
	}
	return ""
}

// metadataLength extracts mpris:length, which players report in
// microseconds as varying integer types.
func metadataLength(md map[string]dbus.Variant) time.Duration {
	v, ok := md["mpris:length"]
	if !ok {
		return 0
	}
	var micros int64
	switch val := v.Value().(type) {
	case int64:
		micros = val
	case uint64:
		micros = int64(val)
	case int32:
		micros = int64(val)
	case uint32:
		micros = int64(val)
	case int:
		micros = int64(val)
	case float64:
		micros = int64(val)
	}
	if micros < 0 {
		micros = 0
	}
	return time.Duration(micros) * time.Microsecond
}

// clampFloat saturates v to [lo, hi].
func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
