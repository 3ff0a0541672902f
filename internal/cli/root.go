// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeranaias/codeassist/internal/relay"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Exit codes returned by Execute.
const (
	ExitOK       = 0
	ExitError    = 1
	ExitCanceled = 130
)

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	backend    string
	model      string
	logLevel   string
	offline    bool
}

// NewRootCmd builds the codeassist command tree. Without a subcommand it
// opens the terminal panel.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "codeassist",
		Short: "Stream answers from a local code model",
		Long: `codeassist relays prompts to a local model server (Ollama by default)
and streams the growing answer to a chat panel.

Examples:
  codeassist                          # terminal panel
  codeassist ask "explain defer"      # one answer on stdout
  codeassist chat                     # line-by-line conversation
  codeassist serve --port 8787        # web panel for browsers and editors
  codeassist models                   # installed Ollama models`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
		Args:              cobra.NoArgs,
	}
	tui := newTUICmd(opts)
	cmd.RunE = tui.RunE
	cmd.Flags().AddFlagSet(tui.Flags())

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/codeassist/config.toml)")
	pf.StringVar(&opts.backend, "backend", "", `model server kind: "ollama" or "openai"`)
	pf.StringVarP(&opts.model, "model", "m", "", "model to ask")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	pf.BoolVar(&opts.offline, "offline", false, "only talk to a model server on this machine")

	cmd.AddCommand(
		tui,
		newServeCmd(opts),
		newAskCmd(opts),
		newChatCmd(opts),
		newModelsCmd(opts),
		newHTMLCmd(),
		newConfigCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	return run(NewRootCmd(), os.Args[1:])
}

func run(cmd *cobra.Command, args []string) int {
	cmd.SetArgs(args)
	err := cmd.Execute()
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, relay.ErrCanceled):
		return ExitCanceled
	default:
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		return ExitError
	}
}
