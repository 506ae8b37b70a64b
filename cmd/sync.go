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
	"log"
	"os/signal"
	"syscall"

	"github.com/blnkfinance/ordersync"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// syncCommands runs one user's order sync in the foreground and logs every
// change of the active set.
func syncCommands(app *ordersyncInstance) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "watch a user's active orders and send status pushes",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := app.setupEngine(ctx, ordersync.WithDatabaseListener()); err != nil {
				log.Fatal(err)
			}
			defer app.engine.Close()

			listener := newOrderListener(app.cnf, app.engine)
			go func() {
				if err := listener.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logrus.WithError(err).Error("order change listener stopped")
				}
			}()

			_, updates, err := app.engine.StartSync(userID)
			if err != nil {
				log.Fatal(err)
			}
			logrus.WithField("user_id", userID).Info("sync started")

			for {
				select {
				case <-ctx.Done():
					app.engine.StopSync(userID)
					return
				case set, ok := <-updates:
					if !ok {
						return
					}
					logActiveSet(set)
				}
			}
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "id of the user whose orders are synced")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func logActiveSet(set ordersync.ActiveOrderSet) {
	ids := make([]string, 0, len(set.Orders))
	for _, order := range set.Orders {
		ids = append(ids, order.ID)
	}
	logrus.WithFields(logrus.Fields{
		"user_id": set.OwnerID,
		"active":  len(set.Orders),
		"orders":  ids,
	}).Info("active orders changed")
}
