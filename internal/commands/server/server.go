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

// Package server implements the `perrito server` commands.
package server

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tombee/perrito/internal/client"
	"github.com/tombee/perrito/internal/commands/shared"
	"github.com/tombee/perrito/internal/config"
	"github.com/tombee/perrito/internal/control"
	"github.com/tombee/perrito/internal/registry"
	"github.com/tombee/perrito/internal/validate"
)

// NewCommand creates the server command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "server",
		Aliases: []string{"servers"},
		Short:   "Manage WebSocket servers",
		Long:    `Start, stop, restart and list the WebSocket servers held by the daemon.`,
	}

	cmd.AddCommand(newStartCommand())
	cmd.AddCommand(newStopCommand())
	cmd.AddCommand(newRestartCommand())
	cmd.AddCommand(newListCommand())

	return cmd
}

type startFlags struct {
	id   string
	name string
	host string
	port int
}

func newStartCommand() *cobra.Command {
	var flags startFlags

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a WebSocket server",
		Long: `Start a WebSocket server in the daemon.

Omitted fields come from the defaults section of the config. When --name
is omitted and randomize_name is set, a random name is picked. When --id is
omitted it is derived from the name ("Brave Otter" becomes "brave-otter").
Port 0 lets the OS choose.`,
		Example: `  perrito server start --port 8080
  perrito server start --id chat --name "Chat Room" --host 0.0.0.0 --port 9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return shared.WithClient(func(ctx context.Context, cfg *config.Config, c *client.Client) error {
				params, err := resolveStartParams(cmd, cfg.Defaults, flags)
				if err != nil {
					return err
				}
				snap, err := c.StartServer(ctx, params)
				if err != nil {
					return err
				}
				return printSnapshot(cmd, "server start", snap, "Server %s started on %s")
			})
		},
	}

	cmd.Flags().StringVar(&flags.id, "id", "", "Server id ([a-z0-9-]+, default: derived from name)")
	cmd.Flags().StringVar(&flags.name, "name", "", "Display name (default from config)")
	cmd.Flags().StringVar(&flags.host, "host", "", "Interface to bind (default from config)")
	cmd.Flags().IntVar(&flags.port, "port", 0, "Port to bind, 0 for any (default from config)")

	return cmd
}

// resolveStartParams fills unset flags from defaults.
func resolveStartParams(cmd *cobra.Command, defaults config.ServerDefaults, flags startFlags) (control.StartParams, error) {
	p := control.StartParams{ID: flags.id, Name: flags.name, Host: flags.host, Port: flags.port}
	if p.Name == "" {
		p.Name = defaults.ServerName()
	}
	if p.Host == "" {
		p.Host = defaults.Host
	}
	if !cmd.Flags().Changed("port") {
		p.Port = defaults.Port
	}
	if p.ID == "" {
		p.ID = validate.SlugID(p.Name)
		if p.ID == "" {
			return p, shared.NewInvalidArgsError(fmt.Sprintf("cannot derive an id from name %q", p.Name), nil)
		}
	}
	if err := validate.ServerSpec(p.ID, p.Name, p.Host, p.Port); err != nil {
		return p, shared.NewInvalidArgsError("invalid server", err)
	}
	return p, nil
}

func newStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <id>",
		Short: "Stop a server and close its clients",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return shared.WithClient(func(ctx context.Context, _ *config.Config, c *client.Client) error {
				res, err := c.StopServer(ctx, args[0])
				if err != nil {
					return err
				}
				return printResult(cmd, "server stop", res)
			})
		},
	}
}

func newRestartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "restart <id>",
		Short: "Restart a server on the same address",
		Long: `Stop a server and start it again with the same id, name, host and port.
Connected clients are closed; the restarted server has none.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return shared.WithClient(func(ctx context.Context, _ *config.Config, c *client.Client) error {
				snap, err := c.RestartServer(ctx, args[0])
				if err != nil {
					return err
				}
				return printSnapshot(cmd, "server restart", snap, "Server %s restarted on %s")
			})
		},
	}
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List servers and their clients",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return shared.WithClient(func(ctx context.Context, _ *config.Config, c *client.Client) error {
				servers, err := c.GetServers(ctx)
				if err != nil {
					return err
				}
				if shared.GetJSON() {
					return shared.EmitJSONResult(cmd.OutOrStdout(), "server list", servers)
				}
				shared.RenderServers(cmd.OutOrStdout(), servers)
				return nil
			})
		},
	}
}

func printSnapshot(cmd *cobra.Command, command string, snap registry.ServerSnapshot, format string) error {
	if shared.GetJSON() {
		return shared.EmitJSONResult(cmd.OutOrStdout(), command, snap)
	}
	addr := net.JoinHostPort(snap.Host, strconv.Itoa(snap.Port))
	shared.Printf(cmd.OutOrStdout(), "%s\n", shared.RenderOK(fmt.Sprintf(format, snap.ID, addr)))
	return nil
}

func printResult(cmd *cobra.Command, command string, res control.Result) error {
	if shared.GetJSON() {
		return shared.EmitJSONResult(cmd.OutOrStdout(), command, res)
	}
	shared.Printf(cmd.OutOrStdout(), "%s\n", shared.RenderOK(res.Message))
	return nil
}
