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
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/tombee/perrito/internal/registry"
)

var (
	colID      = lipgloss.NewStyle().Width(16)
	colName    = lipgloss.NewStyle().Width(24)
	colAddress = lipgloss.NewStyle().Width(22)
)

// RenderServers writes a table of servers with their clients indented
// below each row.
func RenderServers(w io.Writer, servers []registry.ServerSnapshot) {
	if len(servers) == 0 {
		fmt.Fprintln(w, Muted.Render("No servers running."))
		return
	}

	fmt.Fprintln(w, lipgloss.JoinHorizontal(lipgloss.Top,
		colID.Render(Header.Render("ID")),
		colName.Render(Header.Render("NAME")),
		colAddress.Render(Header.Render("ADDRESS")),
		Header.Render("CLIENTS"),
	))
	for _, s := range servers {
		fmt.Fprintln(w, lipgloss.JoinHorizontal(lipgloss.Top,
			colID.Render(s.ID),
			colName.Render(s.Name),
			colAddress.Render(net.JoinHostPort(s.Host, strconv.Itoa(s.Port))),
			strconv.Itoa(len(s.Clients)),
		))
		for _, c := range s.Clients {
			fmt.Fprintf(w, "  %s %s %s %s\n",
				Muted.Render(SymbolInfo),
				c.ID,
				RenderReadyState(c.ReadyState),
				Muted.Render(fmt.Sprintf("%s, %d messages", c.Request.Path, len(c.Messages))),
			)
		}
	}
}

// RenderMessages writes one client's message history, oldest first.
func RenderMessages(w io.Writer, c registry.ClientSnapshot) {
	for _, m := range c.Messages {
		arrow := StatusOK.Render("→")
		if m.Direction == registry.Inbound {
			arrow = StatusWarn.Render("←")
		}
		ts := time.UnixMilli(m.Timestamp).Format("15:04:05.000")
		fmt.Fprintf(w, "%s %s %s\n", Muted.Render(ts), arrow, m.Data)
	}
}
