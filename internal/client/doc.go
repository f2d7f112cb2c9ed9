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
Package client is a Go supervisor for perritod's WebSocket control endpoint.

A Client holds one control connection. Requests are correlated by ID so
several may be in flight at once, and state pushes arrive on Updates:

	c, err := client.Dial(ctx, "127.0.0.1:9876", client.WithToken(token))
	if err != nil {
	    return err
	}
	defer c.Close()

	snap, err := c.StartServer(ctx, control.StartParams{
	    ID: "s1", Name: "My Server", Host: "127.0.0.1", Port: 8080,
	})

	for servers := range c.Updates() {
	    render(servers)
	}

# Addressing

ResolveAddr picks the control address: an explicit value, then
PERRITO_ADDR, then the address file perritod writes on startup, then the
configured fallback.
*/
package client
