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

// Package clients implements the `perrito client` commands.
package clients

import (
	"context"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/perrito/internal/client"
	"github.com/tombee/perrito/internal/commands/shared"
	"github.com/tombee/perrito/internal/config"
	"github.com/tombee/perrito/internal/control"
	"github.com/tombee/perrito/internal/registry"
	perritoerrors "github.com/tombee/perrito/pkg/errors"
)

// NewCommand creates the client command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "client",
		Aliases: []string{"clients"},
		Short:   "Talk to clients connected to a server",
	}

	cmd.AddCommand(newSendCommand())
	cmd.AddCommand(newDisconnectCommand())
	cmd.AddCommand(newHistoryCommand())

	return cmd
}

func newSendCommand() *cobra.Command {
	var preset string

	cmd := &cobra.Command{
		Use:   "send <server-id> <client-id> [message]",
		Short: "Send a text message to a client",
		Long: `Send a text frame to one client. The payload is either the message
argument or a named preset from the presets section of the config.`,
		Example: `  perrito client send s1 Client_1 "hello"
  perrito client send s1 Client_1 --preset ping`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return shared.WithClient(func(ctx context.Context, cfg *config.Config, c *client.Client) error {
				message, err := resolveMessage(args, preset, cfg.Presets)
				if err != nil {
					return err
				}
				res, err := c.SendMessage(ctx, args[0], args[1], message)
				if err != nil {
					return err
				}
				return printResult(cmd, "client send", res)
			})
		},
	}

	cmd.Flags().StringVar(&preset, "preset", "", "Send a named payload from the config presets")

	return cmd
}

// resolveMessage picks the payload from the argument or a preset. Exactly
// one source must be given.
func resolveMessage(args []string, preset string, presets map[string]string) (string, error) {
	hasArg := len(args) == 3
	switch {
	case hasArg && preset != "":
		return "", shared.NewInvalidArgsError("give either a message or --preset, not both", nil)
	case hasArg:
		return args[2], nil
	case preset == "":
		return "", shared.NewInvalidArgsError("a message or --preset is required", nil)
	}

	message, ok := presets[preset]
	if !ok {
		names := make([]string, 0, len(presets))
		for name := range presets {
			names = append(names, name)
		}
		sort.Strings(names)
		known := "no presets configured"
		if len(names) > 0 {
			known = "known presets: " + strings.Join(names, ", ")
		}
		return "", shared.NewInvalidArgsError("unknown preset ("+known+")", &perritoerrors.NotFoundError{Resource: "preset", ID: preset})
	}
	return message, nil
}

func newDisconnectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect <server-id> <client-id>",
		Short: "Close a client connection",
		Long: `Start a normal close handshake with a client. The client shows as
CLOSING until it answers, then CLOSED.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return shared.WithClient(func(ctx context.Context, _ *config.Config, c *client.Client) error {
				res, err := c.DisconnectClient(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printResult(cmd, "client disconnect", res)
			})
		},
	}
}

func newHistoryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history <server-id> <client-id>",
		Short: "Show the messages exchanged with a client",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return shared.WithClient(func(ctx context.Context, _ *config.Config, c *client.Client) error {
				servers, err := c.GetServers(ctx)
				if err != nil {
					return err
				}
				snap, ok := findClient(servers, args[0], args[1])
				if !ok {
					return shared.NewRejectedError("server "+args[0], &perritoerrors.NotFoundError{Resource: "client", ID: args[1]})
				}
				if shared.GetJSON() {
					return shared.EmitJSONResult(cmd.OutOrStdout(), "client history", snap.Messages)
				}
				shared.RenderMessages(cmd.OutOrStdout(), snap)
				return nil
			})
		},
	}
}

func findClient(servers []registry.ServerSnapshot, serverID, clientID string) (registry.ClientSnapshot, bool) {
	s, ok := registry.FindServer(servers, serverID)
	if !ok {
		return registry.ClientSnapshot{}, false
	}
	return s.Client(clientID)
}

func printResult(cmd *cobra.Command, command string, res control.Result) error {
	if shared.GetJSON() {
		return shared.EmitJSONResult(cmd.OutOrStdout(), command, res)
	}
	shared.Printf(cmd.OutOrStdout(), "%s\n", shared.RenderOK(res.Message))
	return nil
}
