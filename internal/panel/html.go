// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package panel

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
)

// Transport selects how the page script talks to the assistant.
type Transport string

const (
	// TransportVSCode uses the editor webview messaging API.
	TransportVSCode Transport = "vscode"
	// TransportWebSocket connects to the endpoint served by `codeassist serve`.
	TransportWebSocket Transport = "websocket"
)

// HTMLOptions are the inputs of the panel page. Zero fields take the
// defaults of DefaultHTMLOptions.
type HTMLOptions struct {
	Title       string
	Heading     string
	Placeholder string
	ButtonLabel string
	CancelLabel string

	Transport Transport
	// WebSocketPath is resolved against the page URL (websocket transport only).
	WebSocketPath string
	// Nonce, when set, adds a Content-Security-Policy restricting inline
	// style and script to this nonce, as editor webviews require.
	Nonce string
}

// DefaultHTMLOptions returns the page labels of the original chat panel.
func DefaultHTMLOptions() HTMLOptions {
	return HTMLOptions{
		Title:         "DeepSeek Chat",
		Heading:       "DeepSeek Chat",
		Placeholder:   "Ask DeepSeek R1...",
		ButtonLabel:   "Ask",
		CancelLabel:   "Stop",
		Transport:     TransportVSCode,
		WebSocketPath: "/ws",
	}
}

//go:embed panel.html
var pageSource string

var pageTemplate = template.Must(template.New("panel").Parse(pageSource))

// HTML renders the panel page. It depends only on opts.
func HTML(opts HTMLOptions) (string, error) {
	d := DefaultHTMLOptions()
	if opts.Title == "" {
		opts.Title = d.Title
	}
	if opts.Heading == "" {
		opts.Heading = d.Heading
	}
	if opts.Placeholder == "" {
		opts.Placeholder = d.Placeholder
	}
	if opts.ButtonLabel == "" {
		opts.ButtonLabel = d.ButtonLabel
	}
	if opts.CancelLabel == "" {
		opts.CancelLabel = d.CancelLabel
	}
	if opts.Transport == "" {
		opts.Transport = d.Transport
	}
	if opts.WebSocketPath == "" {
		opts.WebSocketPath = d.WebSocketPath
	}

	switch opts.Transport {
	case TransportVSCode, TransportWebSocket:
	default:
		return "", fmt.Errorf("unknown panel transport %q", opts.Transport)
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, opts); err != nil {
		return "", fmt.Errorf("failed to render panel: %w", err)
	}
	return buf.String(), nil
}
