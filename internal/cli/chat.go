// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"github.com/spf13/cobra"

	"github.com/jeranaias/codeassist/internal/console"
)

func newChatCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Converse line by line in a plain terminal",
		Long: `Converse line by line. Each line is one prompt; its answer streams
before the next prompt. ctrl+c stops an answer, and ctrl+c at the
prompt, ctrl+d or "exit" leaves. On a terminal, arrow keys recall
earlier prompts, kept across sessions in the history file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := o.loadConfig()
			if err != nil {
				return err
			}
			log := newLogger(cfg)
			r, err := newRelay(cfg, log)
			if err != nil {
				return err
			}
			defer r.Close()

			opts := console.Options{
				In:          cmd.InOrStdin(),
				Out:         cmd.OutOrStdout(),
				Err:         cmd.ErrOrStderr(),
				Interactive: stdinIsTTY(cmd),
				Theme:       consoleTheme(),
				Log:         log,
			}
			if opts.Interactive {
				if opts.HistoryFile, err = dataFile(cfg.UI.HistoryFile, "chat_history"); err != nil {
					log.Debug().Err(err).Msg("history disabled")
				}
			}
			return console.Chat(cmd.Context(), r, opts)
		},
	}
}
