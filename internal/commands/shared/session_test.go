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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/perrito/internal/client"
	"github.com/tombee/perrito/internal/config"
	pkgerrors "github.com/tombee/perrito/pkg/errors"
)

func TestLoadConfig_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")
	SetConfigPathForTest(path)
	defer SetConfigPathForTest("")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")

	var cfgErr *pkgerrors.ConfigError
	require.True(t, pkgerrors.As(err, &cfgErr))
	assert.Equal(t, "config_file", cfgErr.Key)
}

func TestWithClient_ConfigErrorSkipsDial(t *testing.T) {
	SetConfigPathForTest(filepath.Join(t.TempDir(), "missing.yaml"))
	defer SetConfigPathForTest("")

	called := false
	err := WithClient(func(context.Context, *config.Config, *client.Client) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called)
}
