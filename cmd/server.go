/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/blnkfinance/ordersync"
	"github.com/blnkfinance/ordersync/api"
	"github.com/blnkfinance/ordersync/config"
	pg_listener "github.com/blnkfinance/ordersync/internal/pg-listener"
	trace "github.com/blnkfinance/ordersync/internal/traces"
	"github.com/caddyserver/certmagic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/posthog/posthog-go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// manageTLS obtains certificates for the configured domain with CertMagic.
// Without a domain it defaults to localhost.
func manageTLS(ctx context.Context, conf config.ServerConfig) (*certmagic.Config, error) {
	certmagic.DefaultACME.Agreed = true
	certmagic.DefaultACME.Email = conf.Email
	cfg := certmagic.NewDefault()

	domains := []string{conf.Domain}
	if conf.Domain == "" {
		log.Println("No domain specified, defaulting to localhost")
		domains = []string{"localhost"}
	}

	if err := cfg.ManageSync(ctx, domains); err != nil {
		return nil, err
	}
	return cfg, nil
}

// startServer serves router until ctx is cancelled, then shuts down gracefully.
func startServer(ctx context.Context, router *gin.Engine, conf config.ServerConfig) error {
	server := &http.Server{
		Addr:              ":" + conf.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if conf.SSL {
		tls, err := manageTLS(ctx, conf)
		if err != nil {
			return err
		}
		server.TLSConfig = tls.TLSConfig()
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if server.TLSConfig != nil {
			log.Printf("Starting HTTPS server on %s\n", conf.Port)
			err = server.ListenAndServeTLS("", "")
		} else {
			log.Printf("Starting server on http://localhost:%s", conf.Port)
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

// sendHeartbeat periodically reports that the server is alive.
func sendHeartbeat(ctx context.Context, client posthog.Client, heartbeatID string) {
	ticker := time.NewTicker(5 * time.Minute)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := client.Enqueue(posthog.Capture{
					DistinctId: heartbeatID,
					Event:      "server_heartbeat",
					Properties: map[string]interface{}{
						"timestamp": time.Now().UTC(),
					},
				}); err != nil {
					logrus.WithError(err).Warn("failed to send heartbeat")
				}
			}
		}
	}()
}

func initializePostHog(ctx context.Context, key string) (posthog.Client, error) {
	client, err := posthog.NewWithConfig(key, posthog.Config{Endpoint: "https://us.i.posthog.com"})
	if err != nil {
		return nil, err
	}
	sendHeartbeat(ctx, client, uuid.New().String())
	return client, nil
}

// initializeObservability sets up tracing and the optional heartbeat when
// telemetry is enabled. The returned shutdown is never nil.
func initializeObservability(ctx context.Context, cfg *config.Configuration) (posthog.Client, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if !cfg.EnableTelemetry {
		return nil, noop, nil
	}

	shutdown, err := trace.SetupOTelSDK(ctx, cfg.Tracing.ServiceName, cfg.Tracing.Endpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("error setting up OTel SDK: %v", err)
	}

	if cfg.PosthogKey == "" {
		return nil, shutdown, nil
	}
	phClient, err := initializePostHog(ctx, cfg.PosthogKey)
	if err != nil {
		logrus.WithError(err).Warn("posthog disabled")
		return nil, shutdown, nil
	}
	return phClient, shutdown, nil
}

// newOrderListener forwards order_change notifications into the engine's
// change feed. Engines served by it must be built WithDatabaseListener.
func newOrderListener(cfg *config.Configuration, engine *ordersync.Engine) *pg_listener.DBListener {
	return pg_listener.NewDBListener(pg_listener.ListenerConfig{
		PgConnStr: cfg.DataSource.Dns,
		Channel:   pg_listener.DefaultChannel,
	}, engine.Feed())
}

// serverCommands returns the command that runs the HTTP API together with
// the Postgres change listener feeding the sync engine.
func serverCommands(app *ordersyncInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start ordersync server",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg := app.cnf
			phClient, shutdown, err := initializeObservability(ctx, cfg)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()
			if phClient != nil {
				defer phClient.Close()
			}

			if err := app.setupEngine(ctx, ordersync.WithDatabaseListener()); err != nil {
				log.Fatal(err)
			}
			defer app.engine.Close()

			server := api.NewAPI(app.engine)
			if server == nil {
				log.Fatal("unable to create api")
			}
			router := server.Router()

			listener := newOrderListener(cfg, app.engine)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return startServer(gctx, router, cfg.Server)
			})
			g.Go(func() error {
				return listener.Start(gctx)
			})

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				log.Fatal(err)
			}
		},
	}

	return cmd
}
