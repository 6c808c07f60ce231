/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package resources_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kentakayama/zeus-over-http/internal/config"
	"github.com/kentakayama/zeus-over-http/resources"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExampleConfigMatchesDefaults(t *testing.T) {
	for _, k := range []string{"ZEUS_ADDR", "ZEUS_REGISTRY", "ZEUS_DB", "ZEUS_ADMIN", "ZEUS_ADMIN_TOKEN"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	path := filepath.Join(t.TempDir(), "zeus.yaml")
	require.NoError(t, os.WriteFile(path, resources.ExampleConfig, 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}
