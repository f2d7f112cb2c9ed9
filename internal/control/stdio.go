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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/tombee/perrito/internal/broadcast"
	"github.com/tombee/perrito/internal/log"
	"github.com/tombee/perrito/internal/metrics"
	"github.com/tombee/perrito/internal/registry"
)

// TransportStdio names the newline-delimited JSON transport.
const TransportStdio = "stdio"

// maxFrameSize bounds a single stdio request line.
const maxFrameSize = 4 << 20

// Snapshots is the broadcaster the daemon publishes registry state to.
type Snapshots = broadcast.Broadcaster[[]registry.ServerSnapshot]

// NewSnapshots creates an empty snapshot broadcaster.
func NewSnapshots() *Snapshots {
	return broadcast.New[[]registry.ServerSnapshot]()
}

// Stdio serves the control protocol over a reader/writer pair, one JSON
// document per line. It is meant for a supervisor that spawned the daemon
// and owns its stdin and stdout.
type Stdio struct {
	dispatcher *Dispatcher
	snapshots  *Snapshots
	logger     *slog.Logger

	in io.Reader

	mu  sync.Mutex
	enc *json.Encoder
}

// NewStdio creates a stdio transport. snapshots may be nil to disable pushes.
func NewStdio(d *Dispatcher, snapshots *Snapshots, in io.Reader, out io.Writer, logger *slog.Logger) *Stdio {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stdio{
		dispatcher: d,
		snapshots:  snapshots,
		logger:     log.WithComponent(logger, "stdio"),
		in:         in,
		enc:        json.NewEncoder(out),
	}
}

// Serve reads requests until in reaches EOF or ctx is cancelled. On EOF it
// waits for in-flight requests to be answered and returns nil: the
// supervisor has gone away.
func (s *Stdio) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var pushWG sync.WaitGroup
	if s.snapshots != nil {
		sub := s.snapshots.Subscribe()
		defer sub.Close()
		pushWG.Add(1)
		go func() {
			defer pushWG.Done()
			s.forwardPushes(ctx, sub)
		}()
	}

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(s.in)
		scanner.Buffer(make([]byte, 64*1024), maxFrameSize)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	meta := Meta{Transport: TransportStdio}
	var inflight sync.WaitGroup
	defer func() {
		inflight.Wait()
		cancel()
		pushWG.Wait()
	}()

	s.logger.Info("control transport ready")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("reading control input: %w", err)
			}
			s.logger.Info("control input closed")
			return nil
		case line := <-lines:
			if len(line) == 0 {
				continue
			}
			s.dispatcher.dispatchFrame(ctx, line, meta, &inflight, func(resp *Response) {
				if err := s.write(resp); err != nil {
					s.logger.Error("failed to write response",
						log.CorrelationIDKey, resp.CorrelationID,
						log.Error(err))
				}
			})
		}
	}
}

func (s *Stdio) forwardPushes(ctx context.Context, sub *broadcast.Subscription[[]registry.ServerSnapshot]) {
	for {
		select {
		case <-ctx.Done():
			return
		case servers, ok := <-sub.C():
			if !ok {
				return
			}
			if err := s.write(NewPush(servers)); err != nil {
				s.logger.Warn("failed to write push", log.Error(err))
				continue
			}
			metrics.RecordPush(TransportStdio)
		}
	}
}

func (s *Stdio) write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(v)
}
