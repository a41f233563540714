// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/rplogin/config"
	"github.com/hashicorp/rplogin/handler"
	"github.com/hashicorp/rplogin/identity"
	"github.com/hashicorp/rplogin/login"
	"github.com/hashicorp/rplogin/provider"
	"github.com/hashicorp/rplogin/session"
	"github.com/hashicorp/rplogin/state"
	"github.com/hashicorp/rplogin/user"
	"github.com/hashicorp/rplogin/user/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// serverEnv holds the process settings that are not part of the provider
// configuration. Values are read from RPLOGIN_* variables.
type serverEnv struct {
	ListenAddr        string        `env:"LISTEN_ADDR"         envDefault:":8080"`
	RedisAddr         string        `env:"REDIS_ADDR"`
	RedisPassword     string        `env:"REDIS_PASSWORD,unset"`
	RedisDB           int           `env:"REDIS_DB"`
	SQLitePath        string        `env:"SQLITE_PATH"`
	SessionSigningKey string        `env:"SESSION_SIGNING_KEY,required,notEmpty,unset"`
	SessionIssuer     string        `env:"SESSION_ISSUER"      envDefault:"rplogin"`
	SessionTTL        time.Duration `env:"SESSION_TTL"         envDefault:"1h"`
	RefreshTTL        time.Duration `env:"REFRESH_TTL"         envDefault:"168h"`
	EmailFallback     bool          `env:"EMAIL_FALLBACK"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT"    envDefault:"10s"`
}

func loadServerEnv() (serverEnv, error) {
	var se serverEnv
	if err := env.ParseWithOptions(&se, env.Options{Prefix: config.EnvPrefix}); err != nil {
		return serverEnv{}, fmt.Errorf("unable to parse server environment: %w", err)
	}
	return se, nil
}

func newServeCmd(root *rootFlags) *cobra.Command {
	var listenAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the login-url and callback endpoints",
		Long: `Starts an HTTP server with two endpoints:

  GET  ` + handler.LoginURLPath + `?redirectUri=...
  POST ` + handler.CallbackPath + `   {"code","redirectUri","state"}

Provider settings are read from RPLOGIN_* environment variables (client id and
secret, redirect URLs, endpoints). Login state is kept in Redis when
RPLOGIN_REDIS_ADDR is set, otherwise in memory. Users are kept in SQLite when
RPLOGIN_SQLITE_PATH is set, otherwise in memory. Identity tokens are also
verified locally when RPLOGIN_JWKS_URL or RPLOGIN_JWKS_PUBLIC_KEYS is set.
RPLOGIN_SESSION_SIGNING_KEY is required.

The server stops gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(root, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return err
			}
			se, err := loadServerEnv()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen-addr") {
				se.ListenAddr = listenAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, logger, cfg, se)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					logger.Error("unable to close backing stores", "error", err)
				}
			}()

			ln, err := net.Listen("tcp", se.ListenAddr)
			if err != nil {
				return fmt.Errorf("unable to listen on %s: %w", se.ListenAddr, err)
			}
			return a.serve(ctx, ln)
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen-addr", "", "Address to listen on; overrides RPLOGIN_LISTEN_ADDR")
	return cmd
}

// app is a fully wired server.
type app struct {
	logger          hclog.Logger
	handler         http.Handler
	shutdownTimeout time.Duration
	closers         []func() error
}

// newApp wires the login flow and its collaborators. Backing stores are
// chosen from se, and each store opened is released by Close.
func newApp(ctx context.Context, logger hclog.Logger, cfg *config.Config, se serverEnv) (_ *app, retErr error) {
	a := &app{
		logger:          logger,
		shutdownTimeout: se.ShutdownTimeout,
	}
	defer func() {
		if retErr != nil {
			_ = a.Close()
		}
	}()

	states, err := a.stateStore(ctx, cfg, se)
	if err != nil {
		return nil, err
	}
	repo, err := a.userRepository(se)
	if err != nil {
		return nil, err
	}

	client, err := provider.NewClient(cfg, provider.WithLogger(logger.Named("provider")))
	if err != nil {
		return nil, err
	}

	validatorOpts := []identity.Option{identity.WithIssuers(cfg.Issuers)}
	switch {
	case cfg.JWKSURL != "":
		ks, err := identity.NewJSONWebKeySet(ctx, cfg.JWKSURL, cfg.ProviderCA)
		if err != nil {
			return nil, err
		}
		validatorOpts = append(validatorOpts, identity.WithKeySet(ks))
	case len(cfg.JWKSPublicKeys) > 0:
		ks, err := identity.NewStaticKeySet(cfg.JWKSPublicKeys)
		if err != nil {
			return nil, err
		}
		validatorOpts = append(validatorOpts, identity.WithKeySet(ks))
	}
	validator, err := identity.NewValidator(cfg.ClientID, validatorOpts...)
	if err != nil {
		return nil, err
	}

	provisionerOpts := []user.Option{user.WithLogger(logger.Named("user"))}
	if se.EmailFallback {
		provisionerOpts = append(provisionerOpts, user.WithEmailFallback())
	}
	users, err := user.NewProvisioner(repo, provisionerOpts...)
	if err != nil {
		return nil, err
	}

	sessions, err := session.NewJWTIssuer(
		[]byte(se.SessionSigningKey),
		session.WithIssuer(se.SessionIssuer),
		session.WithAccessTTL(se.SessionTTL),
		session.WithRefreshTTL(se.RefreshTTL),
	)
	if err != nil {
		return nil, err
	}

	flow, err := login.NewFlow(cfg, states, client, validator, users, sessions, login.WithLogger(logger.Named("login")))
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	if err := handler.Register(mux, flow, handler.WithLogger(logger.Named("http"))); err != nil {
		return nil, err
	}
	a.handler = mux
	return a, nil
}

func (a *app) stateStore(ctx context.Context, cfg *config.Config, se serverEnv) (state.Store, error) {
	if se.RedisAddr == "" {
		a.logger.Info("using in-memory state store")
		return state.NewMemoryStore(state.WithTTL(cfg.StateTTL))
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{se.RedisAddr},
		Password: se.RedisPassword,
		DB:       se.RedisDB,
	})
	a.closers = append(a.closers, client.Close)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("unable to reach redis at %s: %w", se.RedisAddr, err)
	}
	a.logger.Info("using redis state store", "addr", se.RedisAddr)
	return state.NewRedisStore(client, state.WithTTL(cfg.StateTTL))
}

func (a *app) userRepository(se serverEnv) (user.Repository, error) {
	if se.SQLitePath == "" {
		a.logger.Info("using in-memory user repository")
		return user.NewMemoryRepository(), nil
	}
	store, err := sqlite.Open(se.SQLitePath)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)
	a.logger.Info("using sqlite user repository", "path", se.SQLitePath)
	return store, nil
}

// serve runs the HTTP server on ln until ctx is done, then shuts it down
// within the configured timeout.
func (a *app) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          a.logger.StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true}),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close releases every backing store opened by newApp.
func (a *app) Close() error {
	var result *multierror.Error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}
	a.closers = nil
	return result.ErrorOrNil()
}
