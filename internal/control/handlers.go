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
)

func registerHandlers(d *Dispatcher, reg Registry) {
	d.Register(ActionStart, func(ctx context.Context, req *Request) (any, error) {
		var p StartParams
		if err := req.Decode(&p); err != nil {
			return nil, err
		}
		return reg.StartServer(ctx, p.ID, p.Name, p.Host, p.Port)
	})

	d.Register(ActionStop, func(ctx context.Context, req *Request) (any, error) {
		var p ServerParams
		if err := req.Decode(&p); err != nil {
			return nil, err
		}
		if err := reg.StopServer(ctx, p.ID); err != nil {
			return nil, err
		}
		return success("Server with id %s stopped.", p.ID), nil
	})

	d.Register(ActionRestart, func(ctx context.Context, req *Request) (any, error) {
		var p ServerParams
		if err := req.Decode(&p); err != nil {
			return nil, err
		}
		return reg.RestartServer(ctx, p.ID)
	})

	d.Register(ActionGetServers, func(ctx context.Context, req *Request) (any, error) {
		servers, err := reg.GetServers(ctx)
		if err != nil {
			return nil, err
		}
		return NewPush(servers).Data, nil
	})

	d.Register(ActionSendMessage, func(ctx context.Context, req *Request) (any, error) {
		var p SendMessageParams
		if err := req.Decode(&p); err != nil {
			return nil, err
		}
		if err := reg.SendMessage(ctx, p.ServerID, p.ClientID, p.Message); err != nil {
			return nil, err
		}
		return success("Message sent to client %s.", p.ClientID), nil
	})

	d.Register(ActionDisconnectClient, func(ctx context.Context, req *Request) (any, error) {
		var p ClientParams
		if err := req.Decode(&p); err != nil {
			return nil, err
		}
		if err := reg.DisconnectClient(ctx, p.ServerID, p.ClientID); err != nil {
			return nil, err
		}
		return success("Client with id %s disconnected.", p.ClientID), nil
	})
}
