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

// Package watch implements `perrito watch`, a live view of daemon state.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tombee/perrito/internal/client"
	"github.com/tombee/perrito/internal/commands/shared"
	"github.com/tombee/perrito/internal/registry"
)

const clearScreen = "\x1b[H\x1b[2J"

// NewCommand creates the watch command.
func NewCommand() *cobra.Command {
	var serverID string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow server and client state as it changes",
		Long: `Print the daemon's state every time it changes.

On a terminal the screen is redrawn as a table. Otherwise, or with --json,
each snapshot is written as one JSON line so the output can be piped.`,
		Example: `  perrito watch
  perrito watch --server s1
  perrito watch --json | jq '.[].clients | length'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runWatch(ctx, cmd, serverID)
		},
	}

	cmd.Flags().StringVar(&serverID, "server", "", "Only show this server, with message history")

	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, serverID string) error {
	cfg, err := shared.LoadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := shared.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	out := cmd.OutOrStdout()
	r := &renderer{
		out:      out,
		serverID: serverID,
		table:    !shared.GetJSON() && shared.IsTerminal(out),
	}

	initial, err := c.GetServers(ctx)
	if err != nil {
		return err
	}
	if err := r.render(initial); err != nil {
		return err
	}
	return follow(ctx, c, r)
}

func follow(ctx context.Context, c *client.Client, r *renderer) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case servers, ok := <-c.Updates():
			if !ok {
				if err := c.Err(); err != nil && err != client.ErrClosed {
					return fmt.Errorf("lost connection to daemon: %w", err)
				}
				return nil
			}
			if err := r.render(servers); err != nil {
				return err
			}
		}
	}
}

// renderer draws snapshots as a table or JSON lines.
type renderer struct {
	out      io.Writer
	serverID string
	table    bool
}

func (r *renderer) render(servers []registry.ServerSnapshot) error {
	if r.serverID != "" {
		servers = filter(servers, r.serverID)
	}
	if !r.table {
		data, err := json.Marshal(servers)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(r.out, "%s\n", data)
		return err
	}

	fmt.Fprint(r.out, clearScreen)
	shared.RenderServers(r.out, servers)
	if r.serverID == "" {
		return nil
	}
	for _, s := range servers {
		for _, c := range s.Clients {
			fmt.Fprintf(r.out, "\n%s\n", shared.Bold.Render(c.ID))
			shared.RenderMessages(r.out, c)
		}
	}
	return nil
}

// filter keeps only the server with id, and never returns nil.
func filter(servers []registry.ServerSnapshot, id string) []registry.ServerSnapshot {
	out := []registry.ServerSnapshot{}
	if s, ok := registry.FindServer(servers, id); ok {
		out = append(out, s)
	}
	return out
}
