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

// Package cli builds the perrito root command and its global flags.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/tombee/perrito/internal/commands/clients"
	"github.com/tombee/perrito/internal/commands/daemon"
	"github.com/tombee/perrito/internal/commands/server"
	"github.com/tombee/perrito/internal/commands/shared"
	"github.com/tombee/perrito/internal/commands/version"
	"github.com/tombee/perrito/internal/commands/watch"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root Cobra command for perrito
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "perrito",
		Short: "perrito - run and inspect WebSocket test servers",
		Long: `perrito spins up WebSocket servers on demand, shows who is connected to
them, and lets you talk to those clients. The servers live in a background
daemon (perritod); this command is one way to supervise it.

Run 'perrito daemon start' to launch the daemon, then
'perrito server start --port 8080' to open a server.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}

	verbose, quiet, json, config := shared.RegisterFlagPointers()
	addr, token := shared.RegisterConnectionFlagPointers()

	cmd.PersistentFlags().BoolVarP(verbose, "verbose", "v", false, "Enable verbose output")
	cmd.PersistentFlags().BoolVarP(quiet, "quiet", "q", false, "Suppress non-error output")
	cmd.PersistentFlags().BoolVar(json, "json", false, "Output in JSON format")
	cmd.PersistentFlags().StringVar(config, "config", "", "Path to config file (default: ~/.config/perrito/config.yaml)")
	cmd.PersistentFlags().StringVar(addr, "addr", "", "Daemon control address host:port (env: PERRITO_ADDR)")
	cmd.PersistentFlags().StringVar(token, "token", "", "Daemon auth token (env: PERRITO_AUTH_TOKEN)")

	cmd.AddCommand(daemon.NewCommand())
	cmd.AddCommand(server.NewCommand())
	cmd.AddCommand(clients.NewCommand())
	cmd.AddCommand(watch.NewCommand())
	cmd.AddCommand(version.NewVersionCommand())

	return cmd
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return shared.GetVersion()
}

// HandleExitError handles exit errors with proper exit codes
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
