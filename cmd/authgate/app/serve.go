// SPDX-FileCopyrightText: Copyright 2026 The authgate Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/authgate/authgate/pkg/authserver"
	"github.com/authgate/authgate/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authorization server",
		Long: `Run the authorization server until interrupted. Every flag can also be
set through an AUTHGATE_-prefixed environment variable (for example
AUTHGATE_ISSUER) or a config file passed with --config.`,
		RunE: runServe,
	}

	flags := cmd.Flags()
	flags.String("config", "", "Path to a config file (YAML)")
	flags.String("listen", ":8080", "Address to listen on")
	flags.String("issuer", "", "External base URL of this server (required)")
	flags.String("storage", authserver.StorageMemory, "Storage backend: memory or redis")
	flags.String("redis-url", "", "Redis connection URL for the redis backend")
	flags.String("access-token-expiry", "", `Access token lifetime ("<int>[smhd]")`)
	flags.String("refresh-token-expiry", "", `Refresh token lifetime ("<int>[smhd]")`)
	flags.String("auth-code-expiry", "", `Authorization code lifetime ("<int>[smhd]")`)
	flags.Bool("require-pkce", false, "Require PKCE for every authorization-code flow")
	flags.Bool("rotate-refresh-tokens", false, "Rotate refresh tokens on every refresh grant")
	flags.Bool("persist-audit-events", false, "Write audit events to the record store")
	flags.StringSlice("scopes", nil, "Supported scopes (defaults to the OIDC base set)")

	return cmd
}

// loadConfig resolves flags, environment, and the optional config file
// into a server configuration.
func loadConfig(cmd *cobra.Command) (*authserver.Config, string, error) {
	v := viper.New()
	v.SetEnvPrefix("AUTHGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, "", err
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, "", fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := authserver.DefaultConfig()
	cfg.Issuer = v.GetString("issuer")
	cfg.Storage.Backend = v.GetString("storage")
	cfg.Storage.RedisURL = v.GetString("redis-url")
	cfg.RequirePKCE = v.GetBool("require-pkce")
	cfg.RefreshTokenRotation = v.GetBool("rotate-refresh-tokens")
	cfg.PersistAuditEvents = v.GetBool("persist-audit-events")
	if s := v.GetString("access-token-expiry"); s != "" {
		cfg.AccessTokenExpiry = s
	}
	if s := v.GetString("refresh-token-expiry"); s != "" {
		cfg.RefreshTokenExpiry = s
	}
	if s := v.GetString("auth-code-expiry"); s != "" {
		cfg.AuthCodeExpiry = s
	}
	if scopes := v.GetStringSlice("scopes"); len(scopes) > 0 {
		cfg.SupportedScopes = scopes
	}

	return cfg, v.GetString("listen"), nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		logger.Initialize(true)
	}

	cfg, listen, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := authserver.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = srv.Close() }()

	srv.StartJanitor(ctx, time.Minute)

	httpServer := &http.Server{
		Addr:              listen,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("listening", "addr", listen, "issuer", cfg.Issuer)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
