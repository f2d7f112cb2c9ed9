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

package daemon

import (
	"github.com/spf13/cobra"

	"github.com/tombee/perrito/internal/commands/shared"
	daemonpkg "github.com/tombee/perrito/internal/daemon"
)

// NewServeCommand runs the daemon in the foreground.
func NewServeCommand() *cobra.Command {
	var (
		transport   string
		listen      string
		pidFile     string
		allowRemote bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon in the foreground",
		Long: `Run perritod in the current process until interrupted.

With --transport stdio the control protocol is spoken on stdin/stdout,
one JSON document per line, and the daemon exits when stdin closes. This
is how a supervising program embeds perrito.`,
		Example: `  # Serve the control endpoint on the first free port in 9876-9899
  perrito daemon serve

  # Be driven by a parent process over stdio
  perrito daemon serve --transport stdio`,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, c, b := shared.GetVersion()
			return daemonpkg.Run(daemonpkg.RunOptions{
				Version:     v,
				Commit:      c,
				BuildDate:   b,
				ConfigPath:  shared.GetConfigPath(),
				Transport:   transport,
				TCPAddr:     listen,
				AuthToken:   shared.GetToken(),
				PIDFile:     pidFile,
				AllowRemote: allowRemote,
			})
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "", "Control transport: websocket or stdio (default from config)")
	cmd.Flags().StringVar(&listen, "listen", "", "Exact control address, e.g. 127.0.0.1:9876 (default: first free port in range)")
	cmd.Flags().StringVar(&pidFile, "pid-file", "", "PID file path")
	cmd.Flags().BoolVar(&allowRemote, "allow-remote", false, "Allow a non-loopback control address")

	return cmd
}
