// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/codeassist/internal/util"
)

// View implements tea.Model.
func (m Model) View() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.theme.Response.Width(max(m.width-2, 10)).Render(m.viewport.View()),
		m.renderStatus(),
		m.theme.Input.Render(m.textarea.View()),
	)
}

func (m Model) renderHeader() string {
	title := m.opts.Title
	if m.opts.ModelName != "" {
		title += " - " + m.opts.ModelName
	}
	return m.theme.Header.Render(util.TruncateWidth(title, max(m.width-2, 1)))
}

func (m Model) renderStatus() string {
	width := max(m.width, 1)

	if m.busy() {
		label := " waiting for model"
		if m.streaming {
			label = " streaming"
		}
		return m.spinner.View() + m.theme.StatusLine.Render(util.TruncateWidth(label+"  (esc to stop)", width-2))
	}

	if m.status != "" {
		text := util.TruncateWidth(util.FirstLine(m.status), width)
		switch m.statusKind {
		case statusFailed:
			return m.theme.StatusError.Render(text)
		case statusCanceled:
			return m.theme.StatusCancel.Render(text)
		default:
			return m.theme.StatusOK.Render(text)
		}
	}

	var help []string
	for _, b := range m.keys.ShortHelp() {
		h := b.Help()
		help = append(help, h.Key+" "+h.Desc)
	}
	return m.theme.Hint.Render(util.TruncateWidth(strings.Join(help, "  "), width))
}
