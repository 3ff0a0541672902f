// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jeranaias/codeassist/internal/config"
	"github.com/jeranaias/codeassist/internal/logging"
	"github.com/jeranaias/codeassist/internal/offline"
	"github.com/jeranaias/codeassist/internal/server"
)

// shutdownTimeout bounds the graceful close of open panels.
const shutdownTimeout = 10 * time.Second

func newServeCmd(o *rootOptions) *cobra.Command {
	var (
		host    string
		port    int
		token   string
		noWatch bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat panel over HTTP and WebSocket",
		Long: `Serve the chat panel page at / and a WebSocket panel connection at /ws.
Every connection gets its own relay, so browser tabs never share a session.

Editing the config file while the server runs switches the backend for
panels opened afterwards; open panels keep their current backend.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := o.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cmd.Flags().Changed("token") {
				cfg.Server.Token = token
			}
			if err := offline.CheckListenHost(cfg.Server.Host, cfg.Backend.Offline); err != nil {
				return err
			}

			log := newLogger(cfg)
			b, err := newBackend(cfg)
			if err != nil {
				return err
			}
			srv := server.New(serverConfig(cfg), b, logging.Component(log, "server"), relayOptions(cfg, log)...)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if !noWatch {
				if _, err := os.Stat(path); err == nil {
					go watchConfig(ctx, o, path, srv, log)
				}
			}

			errc := make(chan error, 1)
			go func() { errc <- srv.ListenAndServe() }()
			cmd.Printf("codeassist panel at http://%s/\n", serverConfig(cfg).Addr())

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return <-errc
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "listen address (default from config)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default from config)")
	cmd.Flags().StringVar(&token, "token", "", "require this bearer token")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not reload the config file on change")
	return cmd
}

func serverConfig(cfg *config.Config) server.Config {
	return server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		Token:           cfg.Server.Token,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		RateLimit:       cfg.Server.RateLimit,
		RateBurst:       cfg.Server.RateBurst,
		LegacyErrorText: cfg.UI.LegacyErrorText,
	}
}

func watchConfig(ctx context.Context, o *rootOptions, path string, srv *server.Server, log zerolog.Logger) {
	err := config.Watch(ctx, path, config.DefaultWatchDebounce, func(next *config.Config, err error) {
		reloadBackend(o, srv, next, err, log)
	})
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("config watch stopped")
	}
}

// reloadBackend points new panels at the backend of a reloaded config.
// A config that fails to load keeps the previous backend.
func reloadBackend(o *rootOptions, srv *server.Server, next *config.Config, err error, log zerolog.Logger) {
	if err != nil {
		log.Warn().Err(err).Msg("config reload failed, keeping current backend")
		return
	}
	o.applyOverrides(next)
	if err := next.Validate(); err != nil {
		log.Warn().Err(err).Msg("config reload failed, keeping current backend")
		return
	}
	b, err := newBackend(next)
	if err != nil {
		log.Warn().Err(err).Msg("config reload failed, keeping current backend")
		return
	}
	srv.SetBackend(b, relayOptions(next, log)...)
	log.Info().Str("backend", b.Name()).Str("model", next.Backend.Model).Msg("backend reloaded")
}
