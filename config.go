package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	defaultCacheCapacity = 50
	defaultPollMs        = 500
	defaultUIRefreshMs   = 100
	defaultMaxFetchBytes = 10 * 1024 * 1024
)

// Config holds all application configuration
type Config struct {
	Players []string `mapstructure:"players"`
	UI      struct {
		Color     string `mapstructure:"color"`
		ColorMode string `mapstructure:"color_mode"`
		MaxWidth  int    `mapstructure:"max_width"`
	} `mapstructure:"ui"`
	Artwork struct {
		Enabled      bool `mapstructure:"enabled"`
		Padding      int  `mapstructure:"padding"`
		WidthPixels  int  `mapstructure:"width_pixels"`
		WidthColumns int  `mapstructure:"width_columns"`
	} `mapstructure:"artwork"`
	Text struct {
		MaxLengthWithArt int `mapstructure:"max_length_with_art"`
		MaxLengthNoArt   int `mapstructure:"max_length_no_art"`
	} `mapstructure:"text"`
	Timing struct {
		UIRefreshMs int `mapstructure:"ui_refresh_ms"`
		PollMs      int `mapstructure:"poll_ms"`
	} `mapstructure:"timing"`
	Cover struct {
		Capacity      int   `mapstructure:"capacity"`
		MaxFetchBytes int64 `mapstructure:"max_fetch_bytes"`
	} `mapstructure:"cover"`
	Keys struct {
		SeekSeconds int     `mapstructure:"seek_seconds"`
		VolumeStep  float64 `mapstructure:"volume_step"`
	} `mapstructure:"keys"`
}

// validate rejects configuration the steady-state loop cannot run with.
// It runs once before the program loop starts, so the loop never sees an
// invalid config.
func (c Config) validate() error {
	if c.Cover.Capacity < 1 {
		return fmt.Errorf("cover.capacity must be at least 1, got %d", c.Cover.Capacity)
	}
	if c.Cover.MaxFetchBytes < 1 {
		return fmt.Errorf("cover.max_fetch_bytes must be positive, got %d", c.Cover.MaxFetchBytes)
	}
	if c.Timing.UIRefreshMs < 1 {
		return fmt.Errorf("timing.ui_refresh_ms must be positive, got %d", c.Timing.UIRefreshMs)
	}
	if c.Timing.PollMs < 1 {
		return fmt.Errorf("timing.poll_ms must be positive, got %d", c.Timing.PollMs)
	}
	if c.UI.MaxWidth < 20 {
		return fmt.Errorf("ui.max_width must be at least 20, got %d", c.UI.MaxWidth)
	}
	if c.Keys.VolumeStep <= 0 || c.Keys.VolumeStep > 1 {
		return fmt.Errorf("keys.volume_step must be in (0, 1], got %f", c.Keys.VolumeStep)
	}
	return nil
}

// SafeConfig wraps Config with thread-safe access
type SafeConfig struct {
	mu  sync.RWMutex
	cfg Config
}

// Get returns a copy of the current config (thread-safe read)
func (sc *SafeConfig) Get() Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.cfg
}

// Set updates the config (thread-safe write)
func (sc *SafeConfig) Set(cfg Config) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.cfg = cfg
}

var config = &SafeConfig{}

// Config file changed notification
type configReloadMsg struct{}

var configChangeChan = make(chan struct{}, 1)

// Watch for config file changes
func watchConfigCmd() tea.Cmd {
	return func() tea.Msg {
		<-configChangeChan
		return configReloadMsg{}
	}
}

func initConfig() error {
	// Set defaults
	viper.SetDefault("players", []string{"spotify", "vlc", "mpd"})
	viper.SetDefault("ui.color", "2")
	viper.SetDefault("ui.color_mode", "manual")
	viper.SetDefault("ui.max_width", 45)
	viper.SetDefault("artwork.enabled", true)
	viper.SetDefault("artwork.padding", 15)
	viper.SetDefault("artwork.width_pixels", 300)
	viper.SetDefault("artwork.width_columns", 13)
	viper.SetDefault("text.max_length_with_art", 22)
	viper.SetDefault("text.max_length_no_art", 36)
	viper.SetDefault("timing.ui_refresh_ms", defaultUIRefreshMs)
	viper.SetDefault("timing.poll_ms", defaultPollMs)
	viper.SetDefault("cover.capacity", defaultCacheCapacity)
	viper.SetDefault("cover.max_fetch_bytes", int64(defaultMaxFetchBytes))
	viper.SetDefault("keys.seek_seconds", 5)
	viper.SetDefault("keys.volume_step", 0.05)

	// Set config file location following XDG standard
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	// Check XDG_CONFIG_HOME first, fallback to ~/.config
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			configHome = filepath.Join(homeDir, ".config")
		}
	}

	if configHome != "" {
		viper.AddConfigPath(filepath.Join(configHome, "mplay"))
	}

	// Environment variable support with MPLAY_ prefix
	viper.SetEnvPrefix("MPLAY")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file (ignore error if not found)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Bind command-line flags (they take precedence)
	if colorFlag != "2" { // Only override if flag was explicitly set
		viper.Set("ui.color", colorFlag)
	}
	if noArtworkFlag {
		viper.Set("artwork.enabled", false)
	}
	if playerFlag != "" {
		viper.Set("players", []string{playerFlag})
	}

	// Unmarshal into config struct
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("error parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	config.Set(cfg)

	// Watch for config file changes and live reload. Structural knobs
	// (cache capacity, tick rates, fetch ceiling) are constructor-time
	// only; a reload that fails validation is dropped.
	viper.OnConfigChange(func(e fsnotify.Event) {
		var newCfg Config
		if err := viper.Unmarshal(&newCfg); err != nil {
			return
		}
		if err := newCfg.validate(); err != nil {
			return
		}
		config.Set(newCfg)
		select {
		case configChangeChan <- struct{}{}:
		default:
			// Channel full, skip notification
		}
	})
	viper.WatchConfig()

	return nil
}
