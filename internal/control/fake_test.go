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
	"sync"

	"github.com/tombee/perrito/internal/registry"
)

// fakeRegistry records calls and returns canned results.
type fakeRegistry struct {
	mu      sync.Mutex
	calls   []string
	servers []registry.ServerSnapshot
	err     error
	panics  bool
	block   chan struct{}
}

func (f *fakeRegistry) record(call string) error {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	err, panics, block := f.err, f.panics, f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if panics {
		panic("registry exploded")
	}
	return err
}

func (f *fakeRegistry) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRegistry) StartServer(_ context.Context, id, name, host string, port int) (registry.ServerSnapshot, error) {
	if err := f.record("start " + id); err != nil {
		return registry.ServerSnapshot{}, err
	}
	return registry.ServerSnapshot{ID: id, Name: name, Host: host, Port: port, Clients: []registry.ClientSnapshot{}}, nil
}

func (f *fakeRegistry) StopServer(_ context.Context, id string) error {
	return f.record("stop " + id)
}

func (f *fakeRegistry) RestartServer(_ context.Context, id string) (registry.ServerSnapshot, error) {
	if err := f.record("restart " + id); err != nil {
		return registry.ServerSnapshot{}, err
	}
	return registry.ServerSnapshot{ID: id, Clients: []registry.ClientSnapshot{}}, nil
}

func (f *fakeRegistry) GetServers(context.Context) ([]registry.ServerSnapshot, error) {
	if err := f.record("get-servers"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.servers, nil
}

func (f *fakeRegistry) SendMessage(_ context.Context, serverID, clientID, payload string) error {
	return f.record("send " + serverID + "/" + clientID + " " + payload)
}

func (f *fakeRegistry) DisconnectClient(_ context.Context, serverID, clientID string) error {
	return f.record("disconnect " + serverID + "/" + clientID)
}
