// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package offline

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNonLocalhost is returned for a model server or listen address off
	// this machine while offline mode is on.
	ErrNonLocalhost = errors.New("offline mode: only localhost connections are allowed")

	// ErrInvalidURLScheme is returned for model server URLs that are not
	// http or https, in any mode.
	ErrInvalidURLScheme = errors.New("only http and https model server URLs are allowed")
)

// =============================================================================
// HOST CHECKS
// =============================================================================

// IsLocalhost reports whether host, with or without a port, names the
// loopback interface: "localhost" or any address in 127.0.0.0/8 or ::1.
func IsLocalhost(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.Trim(host, "[]"))

	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// CheckModelServer validates a model server base URL. The scheme must be
// http or https; in offline mode the host must also be loopback.
func CheckModelServer(rawURL string, offline bool) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid model server URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrInvalidURLScheme
	}
	if offline && !IsLocalhost(parsed.Hostname()) {
		return fmt.Errorf("%w: %s", ErrNonLocalhost, parsed.Hostname())
	}
	return nil
}

// CheckListenHost refuses to serve the panel beyond this machine in
// offline mode. An empty host means the default loopback address.
func CheckListenHost(host string, offline bool) error {
	if !offline || host == "" || IsLocalhost(host) {
		return nil
	}
	return fmt.Errorf("%w: cannot listen on %s", ErrNonLocalhost, host)
}
