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

package shared

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/tombee/perrito/internal/client"
	"github.com/tombee/perrito/internal/config"
	"github.com/tombee/perrito/internal/log"
	pkgerrors "github.com/tombee/perrito/pkg/errors"
)

// LoadConfig loads --config, or the default file when the flag is unset.
func LoadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := GetConfigPath(); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to load config")
	}
	return cfg, nil
}

// Logger returns the CLI logger: text on stderr, debug with --verbose and
// warnings only otherwise.
func Logger() *slog.Logger {
	level := "warn"
	if GetVerbose() {
		level = "debug"
	}
	return log.New(&log.Config{Level: level, Format: log.FormatText, Output: os.Stderr})
}

// ControlAddr resolves the address commands dial: --addr, PERRITO_ADDR, the
// running daemon's address file, then the configured default.
func ControlAddr(cfg *config.Config) string {
	addrFile, err := cfg.Daemon.AddrFilePath()
	if err != nil {
		addrFile = ""
	}
	return client.ResolveAddr(GetAddr(), addrFile, cfg.Daemon.ControlAddr())
}

// Connect dials the daemon's control endpoint.
func Connect(ctx context.Context, cfg *config.Config) (*client.Client, error) {
	token := client.ResolveToken(GetToken())
	if token == "" {
		token = cfg.Daemon.AuthToken
	}
	return client.Dial(ctx, ControlAddr(cfg), client.WithToken(token), client.WithLogger(Logger()))
}

// RequestTimeout bounds one CLI round trip to the daemon.
const RequestTimeout = 10 * time.Second

// WithClient loads config, connects, and runs fn with a bounded context.
func WithClient(fn func(ctx context.Context, cfg *config.Config, c *client.Client) error) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), RequestTimeout)
	defer cancel()

	c, err := Connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	return fn(ctx, cfg, c)
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Printf writes to w unless --quiet is set.
func Printf(w io.Writer, format string, args ...any) {
	if GetQuiet() {
		return
	}
	fmt.Fprintf(w, format, args...)
}
