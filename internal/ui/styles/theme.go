// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme holds the styles of the terminal chat panel.
type Theme struct {
	IsDark       bool
	HasTrueColor bool
	ColorProfile termenv.Profile

	Header       lipgloss.Style
	Response     lipgloss.Style
	Input        lipgloss.Style
	StatusLine   lipgloss.Style
	StatusOK     lipgloss.Style
	StatusError  lipgloss.Style
	StatusCancel lipgloss.Style
	Hint         lipgloss.Style
	Spinner      lipgloss.Style
}

// NewTheme detects the terminal's color support and builds the styles.
func NewTheme() *Theme {
	return NewThemeForProfile(termenv.ColorProfile(), termenv.HasDarkBackground())
}

// NewThemeForProfile builds the styles for a known terminal profile.
// termenv.Ascii yields styles without any color.
func NewThemeForProfile(profile termenv.Profile, isDark bool) *Theme {
	t := &Theme{
		IsDark:       isDark,
		HasTrueColor: profile == termenv.TrueColor,
		ColorProfile: profile,
	}
	t.initStyles()
	return t
}

func (t *Theme) initStyles() {
	r := lipgloss.NewRenderer(io.Discard)
	r.SetColorProfile(t.ColorProfile)
	r.SetHasDarkBackground(t.IsDark)

	t.Header = r.NewStyle().
		Bold(true).
		Foreground(Cyan).
		Background(SurfaceDim).
		Padding(0, 1)

	t.Response = r.NewStyle().
		Foreground(TextPrimary).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Purple).
		Padding(0, 1)

	t.Input = r.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(Overlay)

	t.StatusLine = r.NewStyle().Foreground(TextMuted)
	t.StatusOK = r.NewStyle().Foreground(Emerald)
	t.StatusError = r.NewStyle().Foreground(Rose).Bold(true)
	t.StatusCancel = r.NewStyle().Foreground(Amber)
	t.Hint = r.NewStyle().Foreground(TextMuted).Italic(true)
	t.Spinner = r.NewStyle().Foreground(Purple)
}
