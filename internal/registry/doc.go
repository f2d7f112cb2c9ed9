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

/*
Package registry owns the managed WebSocket servers and their clients.

A Registry is a single aggregate mutated by exactly one goroutine, the
reactor started with Run. Listener accepts, inbound frames and socket closes
arrive as typed events on a channel; control operations (StartServer,
StopServer, SendMessage, ...) are submitted as closures on another channel.
The reactor handles one item at a time to completion, so registry state needs
no locks.

Work that may block runs off the reactor: binding a listener, writing frames
(one writer goroutine per client) and close handshakes. Once a control
operation has been handed to the reactor it runs to completion; there is no
cancellation.

After every mutation the reactor publishes a full snapshot through the
configured Publisher.

	reg := registry.New(registry.Options{Publisher: b, Logger: logger})
	go reg.Run(ctx)

	snap, err := reg.StartServer(ctx, "s1", "My Server", "127.0.0.1", 9001)
*/
package registry
