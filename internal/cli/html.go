// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeranaias/codeassist/internal/panel"
	"github.com/jeranaias/codeassist/internal/util"
)

func newHTMLCmd() *cobra.Command {
	var (
		transport string
		nonce     string
		wsPath    string
		title     string
		output    string
	)

	cmd := &cobra.Command{
		Use:   "html",
		Short: "Print the chat panel page",
		Long: `Print the chat panel page for embedding in an editor webview.

With --transport vscode the page talks to its host through
acquireVsCodeApi(); with --transport websocket it connects to a
'codeassist serve' endpoint. --nonce adds a Content-Security-Policy that
only allows inline code carrying that nonce.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := panel.DefaultHTMLOptions()
			opts.Transport = panel.Transport(transport)
			opts.Nonce = nonce
			if wsPath != "" {
				opts.WebSocketPath = wsPath
			}
			if title != "" {
				opts.Title = title
				opts.Heading = title
			}

			page, err := panel.HTML(opts)
			if err != nil {
				return err
			}
			if output == "" {
				_, err = fmt.Fprint(cmd.OutOrStdout(), page)
				return err
			}
			return util.AtomicWriteFile(output, []byte(page), 0644)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", string(panel.TransportVSCode), "host transport: vscode or websocket")
	cmd.Flags().StringVar(&nonce, "nonce", "", "CSP nonce for inline style and script")
	cmd.Flags().StringVar(&wsPath, "ws-path", "", "WebSocket path for the websocket transport")
	cmd.Flags().StringVar(&title, "title", "", "page title and heading")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to a file instead of stdout")
	return cmd
}
