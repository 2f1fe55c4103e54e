// cmd/stagehand/main.go
//
// This is the entry point for the stagehand CLI.
// When you run `stagehand` from any directory, this is what executes.
//
// Flow:
// 1. Treat the current working directory as the project
// 2. Initialize the .stagehand control directory (first run seeds a
//    workflow template)
// 3. Launch the TUI

package main

import (
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/stagehand/internal/config"
	"github.com/kingrea/stagehand/internal/engine"
	"github.com/kingrea/stagehand/internal/logbook"
	"github.com/kingrea/stagehand/internal/logging"
	"github.com/kingrea/stagehand/internal/tui"
)

func main() {
	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error getting working directory: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.New(cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error resolving project directory: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing .stagehand directory: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	book, err := logbook.New(filepath.Join(cfg.LogPath(), "logbook.log"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening logbook: %v\n", err)
		os.Exit(1)
	}

	eng, err := engine.Open(cfg, engine.WithLogbook(book))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading workflow: %v\n", err)
		os.Exit(1)
	}

	// tea.NewProgram creates a new bubbletea application
	// tui.NewApp returns our main application model
	p := tea.NewProgram(
		tui.NewApp(eng, book, logger),
		tea.WithAltScreen(), // Use the full terminal screen
	)

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running stagehand: %v\n", err)
		os.Exit(1)
	}
}
