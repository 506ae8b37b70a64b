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

package model

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

const txnAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// GenerateUUIDWithSuffix generates a UUID with a given module name as a prefix,
// e.g. order_1f0c....
func GenerateUUIDWithSuffix(module string) string {
	return fmt.Sprintf("%s_%s", module, uuid.New().String())
}

// GenerateTxnID returns a client transaction id of the form
// TXN_<epoch-ms>_<6 lowercase alphanumerics>.
func GenerateTxnID(now time.Time) string {
	return fmt.Sprintf("TXN_%d_%s", now.UnixMilli(), randomString(6))
}

func randomString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = txnAlphabet[rand.IntN(len(txnAlphabet))]
	}
	return string(b)
}
