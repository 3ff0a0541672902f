// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jeranaias/codeassist/internal/console"
)

// maxStdinPrompt bounds a prompt read from a pipe.
const maxStdinPrompt = 1 << 20

func newAskCmd(o *rootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "ask [prompt...]",
		Short: "Ask one question and stream the answer to stdout",
		Long: `Ask one question and stream the answer to stdout.

The prompt is the arguments joined by spaces, or stdin when no arguments
are given and stdin is not a terminal. Failures go to stderr with a
non-zero exit status; text already received stays on stdout.

Examples:
  codeassist ask "what does sync.Once guarantee?"
  codeassist ask --file main.go "find the race"
  git diff | codeassist ask`,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			if prompt == "" && !stdinIsTTY(cmd) {
				data, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), maxStdinPrompt))
				if err != nil {
					return fmt.Errorf("failed to read prompt from stdin: %w", err)
				}
				prompt = string(data)
			}
			if file != "" {
				attached, err := attachFile(prompt, file)
				if err != nil {
					return err
				}
				prompt = attached
			}

			cfg, _, err := o.loadConfig()
			if err != nil {
				return err
			}
			r, err := newRelay(cfg, newLogger(cfg))
			if err != nil {
				return err
			}
			defer r.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return console.Ask(ctx, r, prompt, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "append a file's contents to the prompt")
	return cmd
}

// attachFile appends path's contents to prompt as a fenced block.
func attachFile(prompt, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	var b strings.Builder
	if strings.TrimSpace(prompt) != "" {
		b.WriteString(prompt)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "File: %s\n```\n%s", filepath.Base(path), data)
	if len(data) > 0 && data[len(data)-1] != '\n' {
		b.WriteByte('\n')
	}
	b.WriteString("```\n")
	return b.String(), nil
}

// stdinIsTTY reports whether the command reads from the terminal.
func stdinIsTTY(cmd *cobra.Command) bool {
	return cmd.InOrStdin() == os.Stdin && IsTTY()
}
