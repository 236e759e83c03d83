/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, 5*time.Minute, c.SyncInterval)
	assert.True(t, c.DeleteOrphans)
	assert.Equal(t, "bw", c.BWCommand)
	assert.Equal(t, 10*time.Second, c.ClusterCallTimeout)
	assert.Equal(t, "namespaces", c.Directives.Namespaces)
	assert.Equal(t, "secret-name", c.Directives.SecretName)
	assert.Equal(t, "secret-key-username", c.Directives.UsernameKey)
	assert.Equal(t, "secret-key-password", c.Directives.PasswordKey)
	assert.Equal(t, "secret-key", c.Directives.LegacyPasswordKey)
	assert.Equal(t, "ignore-field", c.Directives.IgnoreFields)
	assert.Equal(t, "secret-annotations", c.Directives.Annotations)
	assert.Equal(t, "secret-labels", c.Directives.Labels)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvSyncInterval, "30s")
	t.Setenv(EnvDeleteOrphans, "false")
	t.Setenv(EnvDatabaseDSN, "postgres://sync:sync@db:5432/sync")
	t.Setenv(EnvFieldNamespaces, "k8s-namespaces")
	t.Setenv(EnvBWSession, "session-token")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.SyncInterval)
	assert.False(t, cfg.DeleteOrphans)
	assert.Equal(t, "postgres://sync:sync@db:5432/sync", cfg.DatabaseDSN)
	assert.Equal(t, "k8s-namespaces", cfg.Directives.Namespaces)
	assert.Equal(t, "session-token", cfg.BWSession)

	// Untouched fields keep their defaults.
	assert.Equal(t, "secret-name", cfg.Directives.SecretName)
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv(EnvSyncInterval, "not-a-duration")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvSyncInterval)
}

func TestLoad_InvalidBool(t *testing.T) {
	t.Setenv(EnvDeleteOrphans, "maybe")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvDeleteOrphans)
}
