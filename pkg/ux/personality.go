// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// Mode defines the richness of CLI output
type Mode string

const (
	// ModeRich enables colors, icons and boxes
	ModeRich Mode = "rich"

	// ModePlain uses icons without color
	ModePlain Mode = "plain"

	// ModeMachine outputs plain text suitable for scripting and parsing
	ModeMachine Mode = "machine"
)

// EnvOutputMode overrides the detected mode.
const EnvOutputMode = "BENCHLAB_OUTPUT"

var (
	currentMode = ModeRich
	modeMu      sync.RWMutex
)

// GetMode returns the current output mode
func GetMode() Mode {
	modeMu.RLock()
	defer modeMu.RUnlock()
	return currentMode
}

// SetMode updates the output mode. Colors are disabled outside ModeRich.
func SetMode(m Mode) {
	modeMu.Lock()
	defer modeMu.Unlock()
	currentMode = m
	if m == ModeRich {
		lipgloss.SetColorProfile(termenv.ColorProfile())
	} else {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// ParseMode converts a string to Mode
func ParseMode(s string) Mode {
	switch strings.ToLower(s) {
	case "rich", "full", "r":
		return ModeRich
	case "plain", "minimal", "p":
		return ModePlain
	case "machine", "quiet", "q":
		return ModeMachine
	default:
		return ModeRich
	}
}

// InitMode picks the mode from the environment, then from whether stdout
// is a terminal.
func InitMode() {
	if env := os.Getenv(EnvOutputMode); env != "" {
		SetMode(ParseMode(env))
		return
	}
	if !IsTerminal(os.Stdout) {
		SetMode(ModePlain)
		return
	}
	SetMode(ModeRich)
}

// IsTerminal reports whether f is a terminal, including Cygwin ptys.
func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// ShouldShowColors returns true if we should use colors
func ShouldShowColors() bool {
	return GetMode() == ModeRich
}
