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

package pg_listener

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	table string
	data  map[string]interface{}
	err   error
	calls int
}

func (h *recordingHandler) HandleNotification(table string, data map[string]interface{}) error {
	h.calls++
	h.table = table
	h.data = data
	return h.err
}

func TestParsePayload(t *testing.T) {
	payload, err := parsePayload(`{"table":"orders","data":{"id":"order_1","user_id":"u1"}}`)
	require.NoError(t, err)
	assert.Equal(t, "orders", payload.Table)
	assert.Equal(t, "order_1", payload.Data["id"])
	assert.Equal(t, "u1", payload.Data["user_id"])
}

func TestParsePayload_NumericID(t *testing.T) {
	payload, err := parsePayload(`{"table":"orders","data":{"id":42}}`)
	require.NoError(t, err)
	assert.Equal(t, "42", payload.Data["id"])
}

func TestHandleNotification(t *testing.T) {
	h := &recordingHandler{}
	l := NewDBListener(ListenerConfig{}, h)
	assert.Equal(t, DefaultChannel, l.config.Channel)

	l.handleNotification(`{"table":"orders","data":{"id":"order_1"}}`)
	assert.Equal(t, 1, h.calls)
	assert.Equal(t, "orders", h.table)

	l.handleNotification(`not json`)
	assert.Equal(t, 1, h.calls)

	h.err = errors.New("boom")
	l.handleNotification(`{"table":"orders","data":{"id":"order_2"}}`)
	assert.Equal(t, 2, h.calls)
}
