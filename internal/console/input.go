// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package console

import (
	"bufio"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/rs/zerolog"
)

var errAborted = errors.New("prompt aborted")

// lineReader yields one line of input per call.
type lineReader interface {
	ReadLine(prompt string) (string, error)
	Close() error
}

// scanReader reads piped input without prompting.
type scanReader struct {
	scanner *bufio.Scanner
}

func newScanReader(r io.Reader) *scanReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &scanReader{scanner: s}
}

func (s *scanReader) ReadLine(string) (string, error) {
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return s.scanner.Text(), nil
}

func (s *scanReader) Close() error { return nil }

// linerReader edits lines on the terminal with arrow-key history.
type linerReader struct {
	line        *liner.State
	historyFile string
	log         zerolog.Logger
}

func newLinerReader(historyFile string, log zerolog.Logger) *linerReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	lr := &linerReader{line: line, historyFile: historyFile, log: log}
	if historyFile != "" {
		if f, err := os.Open(historyFile); err == nil {
			if _, err := line.ReadHistory(f); err != nil {
				log.Debug().Err(err).Str("file", historyFile).Msg("history not loaded")
			}
			f.Close()
		}
	}
	return lr
}

func (l *linerReader) ReadLine(prompt string) (string, error) {
	input, err := l.line.Prompt(prompt)
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", errAborted
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		l.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history with owner-only permissions and restores the terminal.
func (l *linerReader) Close() error {
	defer l.line.Close()
	if l.historyFile == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.historyFile), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(l.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		l.log.Debug().Err(err).Str("file", l.historyFile).Msg("history not saved")
		return err
	}
	defer f.Close()
	_, err = l.line.WriteHistory(f)
	return err
}
