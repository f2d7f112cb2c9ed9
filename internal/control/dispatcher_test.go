// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package control

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/perrito/internal/log"
	"github.com/tombee/perrito/internal/registry"
)

func mustRequest(t *testing.T, frame string) *Request {
	t.Helper()
	req, err := DecodeRequest([]byte(frame))
	require.NoError(t, err)
	return req
}

func TestDispatcher_Actions(t *testing.T) {
	reg := &fakeRegistry{servers: []registry.ServerSnapshot{{ID: "s1", Clients: []registry.ClientSnapshot{}}}}
	d := NewDispatcher(reg, log.Discard())

	tests := []struct {
		name     string
		frame    string
		wantCall string
		wantData string
	}{
		{
			name:     "start",
			frame:    `{"action":"start","correlationId":"c1","id":"s1","name":"My Server","host":"127.0.0.1","port":9001}`,
			wantCall: "start s1",
			wantData: `{"id":"s1","name":"My Server","host":"127.0.0.1","port":9001,"clients":[]}`,
		},
		{
			name:     "stop",
			frame:    `{"action":"stop","correlationId":"c2","id":"s1"}`,
			wantCall: "stop s1",
			wantData: `{"name":"SUCCESS","message":"Server with id s1 stopped."}`,
		},
		{
			name:     "restart",
			frame:    `{"action":"restart","correlationId":"c3","id":"s1"}`,
			wantCall: "restart s1",
			wantData: `{"id":"s1","name":"","host":"","port":0,"clients":[]}`,
		},
		{
			name:     "get-servers",
			frame:    `{"action":"get-servers","correlationId":"c4"}`,
			wantCall: "get-servers",
			wantData: `[{"id":"s1","name":"","host":"","port":0,"clients":[]}]`,
		},
		{
			name:     "send-message",
			frame:    `{"action":"send-message","correlationId":"c5","serverId":"s1","clientId":"Client_1","message":"ping"}`,
			wantCall: "send s1/Client_1 ping",
			wantData: `{"name":"SUCCESS","message":"Message sent to client Client_1."}`,
		},
		{
			name:     "disconnect-client",
			frame:    `{"action":"disconnect-client","correlationId":"c6","serverId":"s1","clientId":"Client_1"}`,
			wantCall: "disconnect s1/Client_1",
			wantData: `{"name":"SUCCESS","message":"Client with id Client_1 disconnected."}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := mustRequest(t, tt.frame)
			resp := d.Handle(context.Background(), req, Meta{Transport: "test"})

			assert.Equal(t, req.CorrelationID, resp.CorrelationID)
			assert.Nil(t, resp.Error)
			assert.JSONEq(t, tt.wantData, string(resp.Data))
			assert.Contains(t, reg.Calls(), tt.wantCall)
		})
	}
}

func TestDispatcher_GetServersEmptyIsArray(t *testing.T) {
	d := NewDispatcher(&fakeRegistry{}, log.Discard())

	resp := d.Handle(context.Background(), mustRequest(t, `{"action":"get-servers","correlationId":"c1"}`), Meta{})
	require.Nil(t, resp.Error)
	assert.JSONEq(t, `[]`, string(resp.Data))
}

func TestDispatcher_Errors(t *testing.T) {
	t.Run("registry error is surfaced verbatim", func(t *testing.T) {
		reg := &fakeRegistry{err: &registry.Error{Kind: registry.KindAlreadyExists, ServerID: "s1"}}
		d := NewDispatcher(reg, log.Discard())

		resp := d.Handle(context.Background(), mustRequest(t, `{"action":"start","correlationId":"c1","id":"s1"}`), Meta{})
		require.NotNil(t, resp.Error)
		assert.Equal(t, "server with id s1 already exists", *resp.Error)
		assert.Nil(t, resp.Data)
	})

	t.Run("unknown action", func(t *testing.T) {
		d := NewDispatcher(&fakeRegistry{}, log.Discard())

		resp := d.Handle(context.Background(), mustRequest(t, `{"action":"explode","correlationId":"c1"}`), Meta{})
		require.NotNil(t, resp.Error)
		assert.Contains(t, *resp.Error, "unknown action")
		assert.Equal(t, "c1", resp.CorrelationID)
	})

	t.Run("invalid params", func(t *testing.T) {
		reg := &fakeRegistry{}
		d := NewDispatcher(reg, log.Discard())

		resp := d.Handle(context.Background(), mustRequest(t, `{"action":"start","correlationId":"c1","port":"x"}`), Meta{})
		require.NotNil(t, resp.Error)
		assert.Contains(t, *resp.Error, "invalid parameters")
		assert.Empty(t, reg.Calls())
	})

	t.Run("panic is resolved as an error", func(t *testing.T) {
		d := NewDispatcher(&fakeRegistry{panics: true}, log.Discard())

		resp := d.Handle(context.Background(), mustRequest(t, `{"action":"stop","correlationId":"c1","id":"s1"}`), Meta{})
		require.NotNil(t, resp.Error)
		assert.Contains(t, *resp.Error, "registry exploded")
	})
}

func TestDispatcher_Register(t *testing.T) {
	d := NewDispatcher(&fakeRegistry{}, log.Discard())
	_, ok := d.lookup(ActionStart)
	assert.True(t, ok)
	_, ok = d.lookup("echo")
	assert.False(t, ok)

	d.Register("echo", func(_ context.Context, req *Request) (any, error) {
		var p map[string]any
		if err := req.Decode(&p); err != nil {
			return nil, err
		}
		return p["text"], nil
	})
	_, ok = d.lookup("echo")
	assert.True(t, ok)

	resp := d.Handle(context.Background(), mustRequest(t, `{"action":"echo","correlationId":"c1","text":"hi"}`), Meta{})
	require.Nil(t, resp.Error)
	assert.JSONEq(t, `"hi"`, string(resp.Data))
}

func TestDispatcher_DispatchFrame(t *testing.T) {
	reg := &fakeRegistry{}
	d := NewDispatcher(reg, log.Discard())

	var (
		mu        sync.Mutex
		responses []*Response
		wg        sync.WaitGroup
	)
	respond := func(resp *Response) {
		mu.Lock()
		defer mu.Unlock()
		responses = append(responses, resp)
	}

	d.dispatchFrame(context.Background(), []byte(`garbage`), Meta{}, &wg, respond)
	d.dispatchFrame(context.Background(), []byte(`{"action":"stop","id":"s1"}`), Meta{}, &wg, respond)
	d.dispatchFrame(context.Background(), []byte(`{"action":"stop","correlationId":"c1","id":"s1"}`), Meta{}, &wg, respond)
	wg.Wait()

	require.Len(t, responses, 1)
	assert.Equal(t, "c1", responses[0].CorrelationID)
}

func TestDispatcher_DispatchFrameIgnoresCancellation(t *testing.T) {
	block := make(chan struct{})
	reg := &fakeRegistry{block: block}
	d := NewDispatcher(reg, log.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	got := make(chan *Response, 1)
	d.dispatchFrame(ctx, []byte(`{"action":"stop","correlationId":"c1","id":"s1"}`), Meta{}, &wg, func(r *Response) { got <- r })

	cancel()
	close(block)

	select {
	case resp := <-got:
		assert.Nil(t, resp.Error)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatched request was never resolved")
	}
	wg.Wait()
}

func TestDispatcher_RealRegistry(t *testing.T) {
	reg := registry.New(registry.Options{Logger: log.Discard()})
	go func() { _ = reg.Run(context.Background()) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = reg.Shutdown(ctx)
	})
	d := NewDispatcher(reg, log.Discard())

	resp := d.Handle(context.Background(),
		mustRequest(t, `{"action":"start","correlationId":"c1","id":"s1","name":"My Server","host":"127.0.0.1","port":0}`), Meta{})
	require.Nil(t, resp.Error)

	var snap registry.ServerSnapshot
	require.NoError(t, json.Unmarshal(resp.Data, &snap))
	assert.Equal(t, "s1", snap.ID)
	assert.NotZero(t, snap.Port)
	assert.Empty(t, snap.Clients)

	resp = d.Handle(context.Background(),
		mustRequest(t, `{"action":"start","correlationId":"c2","id":"bad id!","name":"x","host":"127.0.0.1","port":0}`), Meta{})
	require.NotNil(t, resp.Error)
	assert.Contains(t, *resp.Error, "invalid server configuration")

	resp = d.Handle(context.Background(), mustRequest(t, `{"action":"stop","correlationId":"c3","id":"nope"}`), Meta{})
	require.NotNil(t, resp.Error)
	assert.Equal(t, "server with id nope does not exist", *resp.Error)

	resp = d.Handle(context.Background(), mustRequest(t, `{"action":"stop","correlationId":"c4","id":"s1"}`), Meta{})
	require.Nil(t, resp.Error)

	resp = d.Handle(context.Background(), mustRequest(t, `{"action":"get-servers","correlationId":"c5"}`), Meta{})
	require.Nil(t, resp.Error)
	assert.JSONEq(t, `[]`, string(resp.Data))
}
