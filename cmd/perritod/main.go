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

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tombee/perrito/internal/daemon"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Config file (default: $XDG_CONFIG_HOME/perrito/config.yaml)")
		transport   = flag.String("transport", "", "Control transport: websocket or stdio")
		listen      = flag.String("listen", "", "Exact control address (default: first free port in range)")
		pidFile     = flag.String("pid-file", "", "PID file path")
		authToken   = flag.String("token", "", "Require this token on control connections")
		allowRemote = flag.Bool("allow-remote", false, "Allow a non-loopback control address (SECURITY WARNING)")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	opts := daemon.RunOptions{
		Version:     version,
		Commit:      commit,
		BuildDate:   buildDate,
		ConfigPath:  *configPath,
		Transport:   *transport,
		TCPAddr:     *listen,
		AuthToken:   *authToken,
		PIDFile:     *pidFile,
		AllowRemote: *allowRemote,
	}

	if *showVersion {
		fmt.Println(daemon.VersionString("perritod", opts))
		os.Exit(0)
	}

	if err := daemon.Run(opts); err != nil {
		os.Exit(1)
	}
}
