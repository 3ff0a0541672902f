// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/jeranaias/codeassist/internal/relay"
	"github.com/jeranaias/codeassist/internal/ui/styles"
)

// Prompt is shown before every line in interactive mode.
const Prompt = "codeassist> "

// Options configures a console session. Zero fields take the process's
// standard streams.
type Options struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer

	// Interactive enables line editing and history. It requires In to be
	// the terminal's stdin.
	Interactive bool
	// HistoryFile persists interactive history. Empty disables it.
	HistoryFile string

	Theme *styles.Theme
	Log   zerolog.Logger

	// Interrupts stops the streaming response. Defaults to SIGINT and
	// SIGTERM.
	Interrupts <-chan os.Signal
}

func (o *Options) fill() {
	if o.In == nil {
		o.In = os.Stdin
	}
	if o.Out == nil {
		o.Out = os.Stdout
	}
	if o.Err == nil {
		o.Err = os.Stderr
	}
	if o.Theme == nil {
		o.Theme = styles.NewTheme()
	}
}

// =============================================================================
// ONE-SHOT
// =============================================================================

// ResponseError is a response that ended with a failure. Partial text has
// already been written when it is returned.
type ResponseError struct {
	RequestID string
	Message   string
}

func (e *ResponseError) Error() string {
	return e.Message
}

// Ask relays one prompt and streams the response text to out. Each update
// writes only what was appended since the previous one. A failed response
// returns a *ResponseError; a cancelled one returns relay.ErrCanceled.
func Ask(ctx context.Context, r *relay.Relay, prompt string, out io.Writer) error {
	p := &printer{w: out}
	done := make(chan relay.UpdateEvent, 1)

	_, err := r.Send(ctx, prompt, func(ev relay.UpdateEvent) {
		p.update(ev.Text)
		if ev.Done {
			done <- ev
		}
	})
	if err != nil {
		return err
	}

	ev := <-done
	p.endLine()
	return result(ev)
}

func result(ev relay.UpdateEvent) error {
	switch {
	case !ev.Failed():
		return nil
	case ev.Kind == relay.KindCanceled:
		return relay.ErrCanceled
	default:
		return &ResponseError{RequestID: ev.RequestID, Message: ev.Err}
	}
}

// printer writes the suffix of cumulative text.
type printer struct {
	mu      sync.Mutex
	w       io.Writer
	written int
	last    byte
}

func (p *printer) update(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(text) <= p.written {
		return
	}
	delta := text[p.written:]
	p.written = len(text)
	p.last = delta[len(delta)-1]
	_, _ = io.WriteString(p.w, delta)
}

// endLine terminates output that did not end with a newline.
func (p *printer) endLine() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.written > 0 && p.last != '\n' {
		_, _ = io.WriteString(p.w, "\n")
	}
}

// =============================================================================
// REPL
// =============================================================================

// Chat runs a line-based conversation: each line is one prompt, answered
// before the next is read. An interrupt while a response streams stops it
// and returns to the prompt. Chat returns nil on end of input or "exit".
func Chat(ctx context.Context, r *relay.Relay, opts Options) error {
	opts.fill()

	interrupts := opts.Interrupts
	if interrupts == nil {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sig)
		interrupts = sig
	}

	var lines lineReader
	if opts.Interactive {
		lines = newLinerReader(opts.HistoryFile, opts.Log)
	} else {
		lines = newScanReader(opts.In)
	}
	defer lines.Close()

	for {
		input, err := lines.ReadLine(Prompt)
		if err != nil {
			if opts.Interactive {
				fmt.Fprintln(opts.Out)
			}
			if errors.Is(err, io.EOF) || errors.Is(err, errAborted) {
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		switch strings.ToLower(input) {
		case "":
			continue
		case "exit", "quit", "/exit", "/quit":
			return nil
		}

		if err := converse(ctx, r, input, interrupts, opts); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// converse relays one prompt and waits for its end or an interrupt.
func converse(ctx context.Context, r *relay.Relay, prompt string, interrupts <-chan os.Signal, opts Options) error {
	p := &printer{w: opts.Out}
	done := make(chan relay.UpdateEvent, 1)

	_, err := r.Send(ctx, prompt, func(ev relay.UpdateEvent) {
		p.update(ev.Text)
		if ev.Done {
			done <- ev
		}
	})
	if errors.Is(err, relay.ErrClosed) {
		return err
	}
	if err != nil {
		printError(opts, err.Error())
		return nil
	}

	select {
	case ev := <-done:
		p.endLine()
		if err := result(ev); err != nil && !errors.Is(err, relay.ErrCanceled) {
			printError(opts, ev.Err)
		}
	case <-interrupts:
		r.Cancel()
		p.endLine()
		fmt.Fprintln(opts.Err, opts.Theme.StatusCancel.Render("[stopped]"))
	}
	return nil
}

func printError(opts Options, msg string) {
	fmt.Fprintf(opts.Err, "%s %s\n", opts.Theme.StatusError.Render("[Error]"), msg)
}
