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
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/perrito/internal/client"
	"github.com/tombee/perrito/internal/commands/shared"
)

// StatusInfo is the status command's JSON output.
type StatusInfo struct {
	Running     bool   `json:"running"`
	PID         int    `json:"pid,omitempty"`
	Addr        string `json:"addr"`
	Status      string `json:"status,omitempty"`
	Version     string `json:"version,omitempty"`
	Connections int    `json:"connections"`
	Subscribers int    `json:"subscribers"`
	Servers     int    `json:"servers"`
	Clients     int    `json:"clients"`
}

// NewStatusCommand reports whether the daemon is up and what it manages.
func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Long:  `Display the health, version and managed server count of the perrito daemon.`,
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := shared.LoadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	info := StatusInfo{Addr: shared.ControlAddr(cfg)}
	if pidPath, err := cfg.Daemon.PIDFilePath(); err == nil {
		info.PID, _ = runningPID(pidPath)
	}

	health, err := client.Health(ctx, info.Addr)
	if err != nil {
		if !client.IsDaemonNotRunning(err) {
			return fmt.Errorf("failed to get daemon health: %w", err)
		}
		return renderStatus(cmd, info, err)
	}
	info.Running = true
	info.Status = health.Status
	info.Version = health.Version
	info.Connections = health.Connections
	info.Subscribers = health.Subscribers

	c, err := shared.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	servers, err := c.GetServers(ctx)
	if err != nil {
		return err
	}
	info.Servers = len(servers)
	for _, s := range servers {
		info.Clients += len(s.Clients)
	}
	return renderStatus(cmd, info, nil)
}

// renderStatus prints info. A daemon that is down is reported, then
// returned as the error so the exit code reflects it.
func renderStatus(cmd *cobra.Command, info StatusInfo, downErr error) error {
	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		if err := shared.EmitJSONResult(out, "daemon status", info); err != nil {
			return err
		}
		return downErr
	}

	fmt.Fprintln(out, shared.Header.Render("perrito daemon"))
	if !info.Running {
		fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("Status: "), shared.StatusError.Render("not running"))
		fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("Address:"), info.Addr)
		return downErr
	}

	fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("Status: "), shared.StatusOK.Render(info.Status))
	if info.PID != 0 {
		fmt.Fprintf(out, "%s %d\n", shared.RenderLabel("PID:    "), info.PID)
	}
	fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("Address:"), info.Addr)
	fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("Version:"), info.Version)
	fmt.Fprintf(out, "%s %d\n", shared.RenderLabel("Servers:"), info.Servers)
	fmt.Fprintf(out, "%s %d\n", shared.RenderLabel("Clients:"), info.Clients)
	fmt.Fprintf(out, "%s %d\n", shared.RenderLabel("Watchers:"), info.Subscribers)
	return nil
}
