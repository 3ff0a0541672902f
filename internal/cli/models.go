// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jeranaias/codeassist/internal/ollama"
	"github.com/jeranaias/codeassist/internal/server"
)

// modelsTimeout bounds the model list request.
const modelsTimeout = 10 * time.Second

type modelLister interface {
	ListModels(ctx context.Context) ([]ollama.ModelInfo, error)
}

func newModelsCmd(o *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models installed on the Ollama server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := o.loadConfig()
			if err != nil {
				return err
			}
			b, err := newBackend(cfg)
			if err != nil {
				return err
			}
			ml, ok := b.(modelLister)
			if !ok {
				return fmt.Errorf("backend %q cannot list models", b.Name())
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), modelsTimeout)
			defer cancel()
			models, err := ml.ListModels(ctx)
			if err != nil {
				if ollama.IsNotRunning(err) {
					return fmt.Errorf("Ollama is not running at %s. Start it with: ollama serve", cfg.Ollama.URL)
				}
				return err
			}

			if asJSON {
				resp := server.ModelsResponse{Models: make([]server.ModelEntry, 0, len(models))}
				for _, m := range models {
					resp.Models = append(resp.Models, server.ModelEntry{
						Name:       m.Name,
						Size:       m.Size,
						SizeText:   m.FormatSize(),
						ModifiedAt: m.ModifiedAt,
					})
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}

			if len(models) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No models installed. Pull one with: ollama pull "+cfg.Backend.Model)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), modelsTable(models, cfg.Backend.Model))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

// modelsTable renders models with the configured one marked.
func modelsTable(models []ollama.ModelInfo, current string) string {
	rows := make([][]string, 0, len(models))
	for _, m := range models {
		mark := " "
		if m.Name == current {
			mark = "*"
		}
		modified := "-"
		if !m.ModifiedAt.IsZero() {
			modified = humanize.Time(m.ModifiedAt)
		}
		rows = append(rows, []string{mark, m.Name, m.FormatSize(), modified})
	}

	cell := lipgloss.NewStyle().PaddingRight(2)
	return table.New().
		Border(lipgloss.HiddenBorder()).
		Headers("", "NAME", "SIZE", "MODIFIED").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style { return cell }).
		String()
}
