package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
)

var colorFlag string
var noArtworkFlag bool
var playerFlag string

func init() {
	flag.StringVar(&colorFlag, "color", "2", "Set the desired color (name or hex)")
	flag.StringVar(&colorFlag, "c", "2", "Set the desired color (shorthand)")
	flag.BoolVar(&noArtworkFlag, "no-artwork", false, "Disable album artwork display")
	flag.StringVar(&playerFlag, "player", "", "Prefer players whose bus name contains this string")
}

func main() {
	flag.Parse()

	// Malformed configuration is rejected here, before the loop starts
	if err := initConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "mplay: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Get()

	// Failing to attach to the session bus is the only fatal startup error
	source, err := NewMprisPlayer(cfg.Players)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mplay: %v\n", err)
		os.Exit(1)
	}
	defer source.Close()

	if _, err := tea.NewProgram(newModel(source, cfg), tea.WithAltScreen()).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "mplay: %v\n", err)
		os.Exit(1)
	}
}
