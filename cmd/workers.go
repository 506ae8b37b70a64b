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
	"time"

	"github.com/blnkfinance/ordersync"
	"github.com/blnkfinance/ordersync/config"
	"github.com/blnkfinance/ordersync/internal/push"
	redis_db "github.com/blnkfinance/ordersync/internal/redis-db"
	"github.com/blnkfinance/ordersync/internal/tokens"
	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/module/apmlogrus/v2"
)

func init() {
	logrus.AddHook(&apmlogrus.Hook{})
}

func initializeQueues(conf *config.Configuration) map[string]int {
	return map[string]int{conf.Queue.PushQueue: 1}
}

func initializeWorkerServer(conf *config.Configuration, conn asynq.RedisConnOpt) *asynq.Server {
	return asynq.NewServer(conn, asynq.Config{
		Concurrency: conf.Queue.Concurrency,
		Queues:      initializeQueues(conf),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logrus.WithError(err).WithField("type", task.Type()).Error("task failed")
		}),
	})
}

func initializeTaskHandlers(mux *asynq.ServeMux, handler *ordersync.ConfirmationHandler) {
	mux.HandleFunc(ordersync.TypeOrderConfirmation, handler.ProcessTask)
}

func connectRedis(ctx context.Context, conf *config.Configuration) (*redis_db.Redis, error) {
	var rdb *redis_db.Redis
	err := retry(ctx, "redis", func() error {
		client, err := redis_db.NewRedisClient(redis_db.SplitAddresses(conf.Redis.Dns))
		if err != nil {
			return err
		}
		rdb = client
		return nil
	})
	return rdb, err
}

// startMonitoring serves the asynqmon dashboard under /monitoring.
func startMonitoring(conf *config.Configuration, conn asynq.RedisConnOpt) *http.Server {
	h := asynqmon.New(asynqmon.Options{
		RootPath:     "/monitoring",
		RedisConnOpt: conn,
	})
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", conf.Queue.MonitoringPort),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("Asynqmon server listening on %s/monitoring", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Error("could not start asynqmon server")
		}
	}()
	return server
}

// workerCommands defines the "workers" command that delivers queued order
// confirmation pushes.
func workerCommands(app *ordersyncInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start ordersync workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			conf := app.cnf

			phClient, shutdown, err := initializeObservability(ctx, conf)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(ctx); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()
			if phClient != nil {
				defer phClient.Close()
			}

			if err := app.connectDatabase(ctx); err != nil {
				log.Fatal("Error connecting to database: ", err)
			}
			rdb, err := connectRedis(ctx, conf)
			if err != nil {
				log.Fatal("Error connecting to redis: ", err)
			}

			handler := ordersync.NewConfirmationHandler(app.db, tokens.NewRedisRegistry(rdb.Client()), push.NewClientFromConfig(conf))
			mux := asynq.NewServeMux()
			initializeTaskHandlers(mux, handler)

			monitor := startMonitoring(conf, rdb)
			defer func() {
				_ = monitor.Close()
			}()

			// Run blocks until SIGTERM or SIGINT.
			srv := initializeWorkerServer(conf, rdb)
			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
