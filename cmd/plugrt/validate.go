// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

package main

import (
	"sort"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/zhangyu-521/my-doc-sub002/internal/plugin"
)

// NewValidateCmd creates the validate subcommand.
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate every plugin manifest",
		Long: `Check every plugin manifest in the plugins directory against the
manifest schema and descriptor rules, and verify the set has a load order.
Exits non-zero when any manifest is invalid.`,
		RunE: runValidate,
	}
}

func runValidate(cmd *cobra.Command, _ []string) error {
	c, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	found, problems, err := plugin.NewLoader(c.Plugins.Dir).Check(cmd.Context())
	if err != nil {
		return err
	}

	for _, dp := range found {
		cmd.Printf("ok      %s %s\n", dp.Manifest.Name, dp.Manifest.Version)
	}
	dirs := make([]string, 0, len(problems))
	for dir := range problems {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	for _, dir := range dirs {
		cmd.Printf("invalid %s: %s\n", dir, plugin.FormatSchemaError(problems[dir]))
	}

	if _, err := plugin.Order(found); err != nil {
		cmd.Printf("invalid load order: %v\n", err)
		return oops.In("cli").Wrapf(err, "resolve load order")
	}
	if len(problems) > 0 {
		return oops.In("cli").With("invalid", len(problems)).Errorf("%d invalid plugin manifest(s)", len(problems))
	}
	cmd.Printf("%d plugin(s) valid\n", len(found))
	return nil
}
