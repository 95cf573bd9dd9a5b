// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

package main

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrder(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "api", "dependencies: [cache]\n", "")
	writePlugin(t, root, "cache", "dependencies: [db]\n", "")
	writePlugin(t, root, "db", "", "")

	t.Run("table", func(t *testing.T) {
		out, _, err := execute(t, "order", "--plugins-dir", root)
		require.NoError(t, err)

		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.Len(t, lines, 4)
		assert.Equal(t, []string{"STEP", "LOAD", "UNLOAD"}, strings.Fields(lines[0]))
		assert.Equal(t, []string{"1", "db", "api"}, strings.Fields(lines[1]))
		assert.Equal(t, []string{"3", "api", "db"}, strings.Fields(lines[3]))
	})

	t.Run("json", func(t *testing.T) {
		out, _, err := execute(t, "order", "--plugins-dir", root, "--json")
		require.NoError(t, err)

		var plan planOutput
		require.NoError(t, json.Unmarshal([]byte(out), &plan))
		assert.Equal(t, []string{"db", "cache", "api"}, plan.Load)
		assert.Equal(t, []string{"api", "cache", "db"}, plan.Unload)
	})
}

func TestOrder_Cycle(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "a", "dependencies: [b]\n", "")
	writePlugin(t, root, "b", "dependencies: [a]\n", "")

	_, _, err := execute(t, "order", "--plugins-dir", root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolve load order")
}
