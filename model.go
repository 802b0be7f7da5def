package main

import (
	"image"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// model is the Bubble Tea model for the TUI application. Update is the
// only place the snapshot and the cover cache are mutated; background
// fetches reach it solely through the fetcher's result channel.
type model struct {
	source  PlayerSource
	cache   *CoverCache
	fetcher *CoverFetcher

	// Last observed player state, replaced wholesale each poll
	snapshot PlayerSnapshot

	// Artwork display state
	artLocator     string       // normalized locator for the current track, "" if none
	pending        *fetchHandle // in-flight fetch for artLocator
	artUnavailable bool         // fetch failed, show placeholder until metadata changes
	artworkEncoded string       // Kitty protocol-encoded artwork for display
	supportsKitty  bool         // whether terminal supports Kitty graphics
	forceDeleteImg bool         // clear stale image placements after a resize

	color  string
	width  int
	height int

	// When snapshot.Position was observed, for smooth interpolation
	lastPositionTime time.Time

	// Text scrolling state
	scrollOffset int
	scrollPause  int
	scrollTick   int

	// UI state
	showHelp bool
}

func newModel(source PlayerSource, cfg Config) model {
	return model{
		source:        source,
		cache:         NewCoverCache(cfg.Cover.Capacity),
		fetcher:       NewCoverFetcher(cfg.Cover.MaxFetchBytes),
		color:         cfg.UI.Color,
		supportsKitty: supportsKittyGraphics(),
	}
}

// UI refresh tick - fires every ui_refresh_ms for smooth rendering
type tickMsg time.Time

// Player poll tick - fires every poll_ms to get a fresh snapshot
type pollMsg time.Time

// Result of polling the player in the background
type snapshotMsg struct {
	snap PlayerSnapshot
	err  error
}

// Schedule next UI refresh tick
func tickCmd() tea.Cmd {
	cfg := config.Get()
	return tea.Tick(time.Duration(cfg.Timing.UIRefreshMs)*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Schedule next player poll
func pollCmd() tea.Cmd {
	cfg := config.Get()
	return tea.Tick(time.Duration(cfg.Timing.PollMs)*time.Millisecond, func(t time.Time) tea.Msg {
		return pollMsg(t)
	})
}

// Poll the player in background (doesn't block the UI)
func (m model) pollSnapshot() tea.Cmd {
	src := m.source
	return func() tea.Msg {
		snap, err := src.Snapshot()
		return snapshotMsg{snap: snap, err: err}
	}
}

// currentPosition interpolates playback position between polls
func (m model) currentPosition() time.Duration {
	if !strings.EqualFold(m.snapshot.Status, "playing") {
		return m.snapshot.Position
	}
	pos := m.snapshot.Position + time.Since(m.lastPositionTime)
	if m.snapshot.Duration > 0 && pos > m.snapshot.Duration {
		pos = m.snapshot.Duration
	}
	return pos
}

// seekBy moves playback by delta, saturating at [0, duration].
func (m *model) seekBy(delta time.Duration) {
	if !m.snapshot.Connected {
		return
	}
	target := m.currentPosition() + delta
	if target < 0 {
		target = 0
	}
	if m.snapshot.Duration > 0 && target > m.snapshot.Duration {
		target = m.snapshot.Duration
	}
	// Command failures are not surfaced; the next poll re-syncs
	_ = m.source.SetPosition(target)
}

// adjustVolume changes volume by delta, saturating at [0, 1].
func (m *model) adjustVolume(delta float64) {
	if !m.snapshot.Connected {
		return
	}
	level := clampFloat(m.snapshot.Volume+delta, 0, 1)
	if err := m.source.SetVolume(level); err == nil {
		// Optimistic update so repeated presses compound before the next poll
		m.snapshot.Volume = level
	}
}

// displayArt encodes a decoded cover for the terminal and, in auto color
// mode, retints the UI from it.
func (m *model) displayArt(img image.Image) {
	cfg := config.Get()
	m.artUnavailable = false
	if !m.supportsKitty || !cfg.Artwork.Enabled {
		return
	}
	color, encoded, err := processArtwork(img, cfg.UI.ColorMode == "auto")
	if err != nil {
		m.artUnavailable = true
		return
	}
	if encoded != "" {
		m.artworkEncoded = encoded
	}
	if color != "" {
		m.color = color
	}
}

// drainFetchResults consumes every completed cover fetch without blocking.
// Success lands in the cache; failures leave the placeholder until a later
// poll re-requests the artwork. A Success that raced a cancel is treated
// as Cancelled: once a handle is cancelled, nothing from it may reach the
// cache.
func (m *model) drainFetchResults() {
	for {
		r, ok := m.fetcher.TryResult()
		if !ok {
			return
		}
		handle := m.fetcher.inflight[r.locator]
		m.fetcher.Done(r.locator)
		if m.pending != nil && m.pending.locator == r.locator {
			m.pending = nil
		}

		switch {
		case r.cancelled || (handle != nil && handle.cancelled.Load()):
			// A cancelled fetch for a locator we still want happens when a
			// track bounces A -> B -> A before A's fetch unwinds; re-request.
			if r.locator == m.artLocator && !m.cache.Contains(r.locator) {
				m.pending = m.fetcher.Request(r.locator)
			}
		case r.img != nil:
			m.cache.Insert(r.locator, r.img)
			if r.locator == m.artLocator {
				m.displayArt(r.img)
			}
		default:
			if r.locator == m.artLocator {
				m.artUnavailable = true
			}
		}
	}
}

// onArtChanged reacts to a change in the player-reported artwork
// reference: it supersedes any in-flight fetch and either serves the new
// locator from cache or requests it.
func (m *model) onArtChanged(raw string) {
	cancelPending := func() {
		if m.pending != nil {
			m.pending.Cancel()
			m.pending = nil
		}
	}

	if raw == "" {
		cancelPending()
		m.artLocator = ""
		m.artworkEncoded = ""
		m.artUnavailable = false
		return
	}

	locator, err := normalizeArtURL(raw)
	if err != nil {
		cancelPending()
		m.artLocator = ""
		m.artworkEncoded = ""
		m.artUnavailable = true
		return
	}
	if locator == m.artLocator {
		// Reference string changed but normalizes to the same source
		return
	}

	cancelPending()
	m.artLocator = locator
	m.artworkEncoded = ""
	m.artUnavailable = false

	if img, ok := m.cache.Get(locator); ok {
		m.displayArt(img)
		return
	}
	m.pending = m.fetcher.Request(locator)
}

// handleDisconnect switches to the explicit "no player" state: the stale
// snapshot is discarded, in-flight fetches are superseded, and the cache
// is emptied.
func (m *model) handleDisconnect() {
	if m.pending != nil {
		m.pending.Cancel()
		m.pending = nil
	}
	m.snapshot = PlayerSnapshot{}
	m.artLocator = ""
	m.artworkEncoded = ""
	m.artUnavailable = false
	m.cache.Clear()
}

// advanceScroll moves the text scroll animation one tick forward
func (m *model) advanceScroll() {
	cfg := config.Get()

	if m.scrollPause > 0 {
		m.scrollPause--
		return
	}
	if m.scrollTick%3 != 0 { // Scroll every 3rd tick (300ms)
		return
	}
	m.scrollOffset++

	maxLen := cfg.Text.MaxLengthWithArt
	if !m.supportsKitty || !cfg.Artwork.Enabled {
		maxLen = cfg.Text.MaxLengthNoArt
	}

	// Longest of title/artist/album determines the loop point
	longestLen := len([]rune(m.snapshot.Title))
	if l := len([]rune(m.snapshot.Artist)); l > longestLen {
		longestLen = l
	}
	if l := len([]rune(m.snapshot.Album)); l > longestLen {
		longestLen = l
	}

	if longestLen > maxLen {
		loopPoint := longestLen + 5 // Text length + separator length
		if m.scrollOffset >= loopPoint {
			m.scrollOffset = 0
			m.scrollPause = 30 // Pause for 3 seconds when looping back
		}
	}
}

func (m model) Init() tea.Cmd {
	// Start the UI refresh loop, the poll loop, and an immediate first poll
	return tea.Batch(
		tickCmd(),
		pollCmd(),
		m.pollSnapshot(),
		watchConfigCmd(),
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.fetcher.CancelAll()
			return m, tea.Quit
		case "p", " ":
			_ = m.source.PlayPause()
			return m, m.pollSnapshot()
		case "n":
			_ = m.source.Next()
			return m, m.pollSnapshot()
		case "b":
			_ = m.source.Previous()
			return m, m.pollSnapshot()
		case "l", "right":
			cfg := config.Get()
			m.seekBy(time.Duration(cfg.Keys.SeekSeconds) * time.Second)
			return m, m.pollSnapshot()
		case "h", "left":
			cfg := config.Get()
			m.seekBy(-time.Duration(cfg.Keys.SeekSeconds) * time.Second)
			return m, m.pollSnapshot()
		case "k", "up":
			m.adjustVolume(config.Get().Keys.VolumeStep)
			return m, nil
		case "j", "down":
			m.adjustVolume(-config.Get().Keys.VolumeStep)
			return m, nil
		case "a":
			// Toggle artwork on/off
			cfg := config.Get()
			cfg.Artwork.Enabled = !cfg.Artwork.Enabled
			config.Set(cfg)
			if !cfg.Artwork.Enabled {
				m.artworkEncoded = ""
			} else if m.supportsKitty && m.artLocator != "" {
				if img, ok := m.cache.Get(m.artLocator); ok {
					m.displayArt(img)
				} else if m.pending == nil && !m.artUnavailable {
					m.pending = m.fetcher.Request(m.artLocator)
				}
			}
			return m, nil
		case "?":
			m.showHelp = !m.showHelp
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.forceDeleteImg = true

	case configReloadMsg:
		cfg := config.Get()
		if cfg.UI.ColorMode == "manual" {
			m.color = cfg.UI.Color
		}
		if !cfg.Artwork.Enabled {
			m.artworkEncoded = ""
		} else if m.supportsKitty && m.artworkEncoded == "" && m.artLocator != "" {
			if img, ok := m.cache.Get(m.artLocator); ok {
				m.displayArt(img)
			} else if m.pending == nil && !m.artUnavailable {
				m.pending = m.fetcher.Request(m.artLocator)
			}
		}
		// Continue watching for more config changes
		return m, watchConfigCmd()

	case tickMsg:
		// UI refresh tick: drain completed fetches, advance animations,
		// re-render. Never waits on a fetch.
		m.scrollTick++
		m.drainFetchResults()
		m.advanceScroll()
		// The resize-triggered delete-all prefix has rendered by now
		m.forceDeleteImg = false
		return m, tickCmd()

	case pollMsg:
		// Poll tick: query the player in background and schedule the next poll
		return m, tea.Batch(pollCmd(), m.pollSnapshot())

	case snapshotMsg:
		if msg.err != nil {
			m.handleDisconnect()
			return m, nil
		}
		prev := m.snapshot
		m.snapshot = msg.snap
		m.lastPositionTime = time.Now()

		// Only a change in the artwork reference triggers fetch logic
		if msg.snap.ArtURL != prev.ArtURL {
			m.onArtChanged(msg.snap.ArtURL)
		}
		// Reset scroll when the track changes
		if msg.snap.Title != prev.Title || msg.snap.Artist != prev.Artist {
			m.scrollOffset = 0
			m.scrollPause = 30
			m.scrollTick = 0
		}
		return m, nil
	}

	return m, nil
}
