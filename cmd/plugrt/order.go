// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

package main

import (
	"encoding/json"
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/zhangyu-521/my-doc-sub002/internal/plugin"
)

// orderConfig holds configuration for the order command.
type orderConfig struct {
	jsonOutput bool
}

// planOutput is the JSON form of the order command.
type planOutput struct {
	Load   []string `json:"load"`
	Unload []string `json:"unload"`
}

// NewOrderCmd creates the order subcommand.
func NewOrderCmd() *cobra.Command {
	cfg := &orderConfig{}

	cmd := &cobra.Command{
		Use:   "order",
		Short: "Print the load and unload order of the plugins directory",
		Long: `Discover the plugin manifests in the plugins directory and print the
order in which they would be loaded, dependencies first, and unloaded.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOrder(cmd, cfg)
		},
	}

	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output the order as JSON")

	return cmd
}

func runOrder(cmd *cobra.Command, cfg *orderConfig) error {
	c, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd, c)
	if err != nil {
		return err
	}

	found, err := plugin.NewLoader(c.Plugins.Dir, plugin.WithLogger(logger)).Discover(cmd.Context())
	if err != nil {
		return err
	}
	ordered, err := plugin.Order(found)
	if err != nil {
		return oops.In("cli").With("dir", c.Plugins.Dir).Wrapf(err, "resolve load order")
	}

	plan := planOutput{Load: make([]string, 0, len(ordered))}
	for _, dp := range ordered {
		plan.Load = append(plan.Load, dp.Manifest.Name)
	}
	plan.Unload = slices.Clone(plan.Load)
	slices.Reverse(plan.Unload)

	if cfg.jsonOutput {
		data, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			return oops.In("cli").Wrapf(err, "marshal order")
		}
		cmd.Println(string(data))
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STEP\tLOAD\tUNLOAD")
	for i := range plan.Load {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\n", i+1, plan.Load[i], plan.Unload[i])
	}
	return w.Flush()
}
