// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jeranaias/codeassist/internal/panel"
	"github.com/jeranaias/codeassist/internal/relay"
)

// Run shows the chat panel in the terminal until the user quits or ctx
// ends. It takes ownership of r.
func Run(ctx context.Context, r *relay.Relay, log zerolog.Logger, opts Options, panelOpts ...panel.Option) error {
	s := NewSurface("tui-" + uuid.NewString())
	p := tea.NewProgram(New(s, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	s.Attach(p)

	ctrl := panel.Open(s, r, log, panelOpts...)
	defer ctrl.Close()
	defer s.Close()

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("terminal panel failed: %w", err)
	}
	return nil
}
