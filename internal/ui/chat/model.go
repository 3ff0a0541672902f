// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/codeassist/internal/relay"
	"github.com/jeranaias/codeassist/internal/surface"
	"github.com/jeranaias/codeassist/internal/ui/styles"
)

// =============================================================================
// OPTIONS
// =============================================================================

// Options configures the chat panel.
type Options struct {
	// Title is shown in the header. Defaults to "DeepSeek Chat".
	Title string
	// ModelName is shown next to the title when set.
	ModelName string
	// Placeholder of the prompt box. Defaults to "Ask DeepSeek R1...".
	Placeholder string
	// Markdown renders responses with glamour.
	Markdown bool
	// Theme defaults to styles.NewTheme().
	Theme *styles.Theme
}

// =============================================================================
// STATE
// =============================================================================

type statusKind int

const (
	statusNone statusKind = iota
	statusDone
	statusFailed
	statusCanceled
)

// Layout rows outside the viewport: header, status line, bordered prompt
// (textarea height plus two border rows) and the response border.
const (
	promptHeight = 3
	chromeRows   = 1 + 1 + (promptHeight + 2) + 2
	minViewport  = 3
)

// =============================================================================
// MODEL
// =============================================================================

// Model is the bubbletea model of the chat panel. It renders the latest
// chatResponse text and turns keys into chat and cancel commands on its
// Surface.
type Model struct {
	surface *Surface
	opts    Options
	theme   *styles.Theme
	keys    KeyMap

	textarea textarea.Model
	viewport viewport.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer

	width  int
	height int

	// pending is set from submit until the first event for the request.
	pending   bool
	streaming bool
	requestID string
	text      string

	status     string
	statusKind statusKind
}

// New creates the panel model for s.
func New(s *Surface, opts Options) Model {
	if opts.Title == "" {
		opts.Title = "DeepSeek Chat"
	}
	if opts.Placeholder == "" {
		opts.Placeholder = "Ask DeepSeek R1..."
	}
	theme := opts.Theme
	if theme == nil {
		theme = styles.NewTheme()
	}

	ta := textarea.New()
	ta.Placeholder = opts.Placeholder
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetHeight(promptHeight)
	ta.KeyMap.InsertNewline.SetEnabled(false)
	ta.Focus()

	vp := viewport.New(80, 20)

	sp := spinner.New()
	sp.Spinner = spinner.Spinner{
		Frames: []string{"|", "/", "-", "\\"},
		FPS:    time.Second / 10,
	}
	sp.Style = theme.Spinner

	m := Model{
		surface:  s,
		opts:     opts,
		theme:    theme,
		keys:     DefaultKeyMap(),
		textarea: ta,
		viewport: vp,
		spinner:  sp,
	}
	m.resize(80, 24)
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return textarea.Blink
}

// busy reports whether a response is awaited or streaming.
func (m Model) busy() bool {
	return m.pending || m.streaming
}

// =============================================================================
// UPDATE
// =============================================================================

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case ResponseMsg:
		m.handleResponse(surface.Message(msg))
		return m, nil

	case spinner.TickMsg:
		if !m.busy() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.surface.Close()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Cancel):
		if m.busy() {
			m.surface.Deliver(surface.Message{Command: surface.CommandCancel})
		}
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		return m.submit()

	case key.Matches(msg, m.keys.Newline):
		m.textarea.InsertString("\n")
		return m, nil

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		return m, nil
	}

	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	return m, cmd
}

// submit sends the prompt box as one chat command. While a response is
// streaming the relay rejects it, and the rejection shows in the status line.
func (m Model) submit() (tea.Model, tea.Cmd) {
	prompt := m.textarea.Value()
	if strings.TrimSpace(prompt) == "" {
		return m, nil
	}

	m.surface.Deliver(surface.Message{Command: surface.CommandChat, Text: prompt})
	m.textarea.Reset()

	if m.busy() {
		return m, nil
	}
	m.pending = true
	m.status = ""
	m.statusKind = statusNone
	return m, m.spinner.Tick
}

func (m *Model) handleResponse(msg surface.Message) {
	if msg.Command != surface.CommandChatResponse {
		return
	}

	if msg.RequestID != m.requestID {
		// A rejected send ends immediately without text and never replaces
		// the response on screen.
		if msg.Done && msg.Error != "" && msg.Text == "" {
			m.pending = false
			m.finish(msg.Error)
			return
		}
		m.requestID = msg.RequestID
		m.pending = false
		m.streaming = true
	}

	m.text = msg.Text
	m.refresh()

	if !msg.Done {
		return
	}
	m.streaming = false
	m.finish(msg.Error)
}

func (m *Model) finish(errMsg string) {
	switch {
	case errMsg == relay.ErrCanceled.Error():
		m.setStatus(statusCanceled, "stopped")
	case errMsg != "":
		m.setStatus(statusFailed, errMsg)
	default:
		m.setStatus(statusDone, "done")
	}
}

func (m *Model) setStatus(kind statusKind, text string) {
	m.statusKind = kind
	m.status = text
}

// =============================================================================
// LAYOUT
// =============================================================================

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height

	m.textarea.SetWidth(max(width-2, 10))

	m.viewport.Width = max(width-4, 10)
	m.viewport.Height = max(height-chromeRows, minViewport)

	if m.opts.Markdown {
		style := "dark"
		if !m.theme.IsDark {
			style = "light"
		}
		r, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(style),
			glamour.WithWordWrap(m.viewport.Width),
		)
		if err == nil {
			m.renderer = r
		}
	}
	m.refresh()
}

// refresh re-renders the response into the viewport, following the bottom
// while the user has not scrolled up.
func (m *Model) refresh() {
	follow := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderText())
	if follow {
		m.viewport.GotoBottom()
	}
}

func (m Model) renderText() string {
	if m.text == "" || m.renderer == nil {
		return m.text
	}
	out, err := m.renderer.Render(m.text)
	if err != nil {
		return m.text
	}
	return strings.TrimRight(out, "\n")
}
