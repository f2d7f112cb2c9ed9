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

package client

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/perrito/internal/lifecycle"
)

func TestResolveAddr(t *testing.T) {
	addrFile := filepath.Join(t.TempDir(), "perritod.addr")
	require.NoError(t, lifecycle.WriteAddrFile(addrFile, "127.0.0.1:9880"))

	t.Setenv(AddrEnv, "")
	assert.Equal(t, "127.0.0.1:1", ResolveAddr("127.0.0.1:1", addrFile, "fallback"))
	assert.Equal(t, "127.0.0.1:9880", ResolveAddr("", addrFile, "fallback"))
	assert.Equal(t, "fallback", ResolveAddr("", filepath.Join(t.TempDir(), "missing"), "fallback"))

	t.Setenv(AddrEnv, "127.0.0.1:2")
	assert.Equal(t, "127.0.0.1:2", ResolveAddr("", addrFile, "fallback"))
}

func TestResolveToken(t *testing.T) {
	t.Setenv(TokenEnv, "from-env")
	assert.Equal(t, "flag", ResolveToken("flag"))
	assert.Equal(t, "from-env", ResolveToken(""))
}

func TestIsDaemonNotRunning(t *testing.T) {
	assert.False(t, IsDaemonNotRunning(nil))
	assert.False(t, IsDaemonNotRunning(errors.New("boom")))
	assert.True(t, IsDaemonNotRunning(&DaemonNotRunningError{Addr: "x"}))
	assert.True(t, IsDaemonNotRunning(errors.New("dial tcp: connection refused")))
}
