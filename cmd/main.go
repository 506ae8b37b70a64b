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
	"fmt"
	"log"
	"os"
	"time"

	"github.com/blnkfinance/ordersync"
	"github.com/blnkfinance/ordersync/config"
	"github.com/blnkfinance/ordersync/database"
	"github.com/blnkfinance/ordersync/internal/notification"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// connectTimeout bounds how long startup keeps retrying Postgres and Redis.
const connectTimeout = 2 * time.Minute

// OrderSync represents the CLI application, encapsulating the root Cobra command.
type OrderSync struct {
	cmd *cobra.Command
}

// ordersyncInstance holds what the subcommands share at runtime.
type ordersyncInstance struct {
	configFile string
	cnf        *config.Configuration
	db         database.IDataSource
	engine     *ordersync.Engine
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration before any command runs.
func preRun(app *ordersyncInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := config.InitConfig(app.configFile); err != nil {
			log.Fatal("error loading config ", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}
		app.cnf = cnf
		return nil
	}
}

// retry runs op with exponential backoff until it succeeds, ctx ends or
// connectTimeout passes.
func retry(ctx context.Context, name string, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = connectTimeout
	return backoff.RetryNotify(op, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		logrus.WithError(err).WithField("retry_in", next.String()).Warnf("%s not reachable", name)
	})
}

// connectDatabase opens the order store, retrying while Postgres comes up.
func (app *ordersyncInstance) connectDatabase(ctx context.Context) error {
	if app.db != nil {
		return nil
	}
	return retry(ctx, "postgres", func() error {
		db, err := database.NewDataSource(app.cnf)
		if err != nil {
			return err
		}
		app.db = db
		return nil
	})
}

// setupEngine connects the order store and Redis and builds the sync engine.
func (app *ordersyncInstance) setupEngine(ctx context.Context, opts ...ordersync.EngineOption) error {
	if err := app.connectDatabase(ctx); err != nil {
		return fmt.Errorf("error getting datasource: %w", err)
	}
	err := retry(ctx, "redis", func() error {
		engine, err := ordersync.NewEngine(app.db, opts...)
		if err != nil {
			return err
		}
		app.engine = engine
		return nil
	})
	if err != nil {
		notification.NotifyError(err)
		return fmt.Errorf("error creating engine: %w", err)
	}
	return nil
}

// NewCLI creates the command-line interface and registers its subcommands.
func NewCLI() *OrderSync {
	app := &ordersyncInstance{}

	var rootCmd = &cobra.Command{
		Use:   "ordersync",
		Short: "Order lifecycle sync and notification engine",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&app.configFile, "config", "./ordersync.json", "Configuration file for ordersync")
	rootCmd.PersistentPreRunE = preRun(app)

	rootCmd.AddCommand(serverCommands(app))
	rootCmd.AddCommand(workerCommands(app))
	rootCmd.AddCommand(migrateCommands(app))
	rootCmd.AddCommand(syncCommands(app))
	rootCmd.AddCommand(configCommands())

	return &OrderSync{cmd: rootCmd}
}

func (o OrderSync) executeCLI() {
	if err := o.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()
	cli := NewCLI()
	cli.executeCLI()
}
