// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/jeranaias/codeassist/internal/logging"
	"github.com/jeranaias/codeassist/internal/panel"
	"github.com/jeranaias/codeassist/internal/ui/chat"
)

func newTUICmd(o *rootOptions) *cobra.Command {
	var plain bool

	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Open the chat panel in the terminal",
		Long: `Open the chat panel in the terminal.

Keys: enter asks, ctrl+j inserts a newline, esc stops the answer,
pgup/pgdown scroll, ctrl+c quits. Logs go to a file because the panel
owns the screen.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !IsTTY() || !IsStdoutTTY() {
				return errors.New("the terminal panel needs an interactive terminal; use 'codeassist chat' or 'codeassist ask' instead")
			}

			cfg, _, err := o.loadConfig()
			if err != nil {
				return err
			}

			logPath, err := dataFile(cfg.Log.File, "codeassist.log")
			if err != nil {
				return err
			}
			log, closer, err := logging.NewFile(logConfig(cfg), logPath)
			if err != nil {
				return err
			}
			defer closer.Close()

			r, err := newRelay(cfg, log)
			if err != nil {
				return err
			}
			defer r.Close()

			log.Info().Str("backend", cfg.Backend.Kind).Str("model", cfg.Backend.Model).Msg("terminal panel started")
			return chat.Run(cmd.Context(), r, logging.Component(log, "panel"), chat.Options{
				ModelName: cfg.Backend.Model,
				Markdown:  cfg.UI.Markdown && !plain,
			}, panel.WithLegacyErrorText(cfg.UI.LegacyErrorText))
		},
	}

	cmd.Flags().BoolVar(&plain, "plain", false, "show responses as plain text instead of markdown")
	return cmd
}
