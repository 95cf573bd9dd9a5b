// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

package main

import (
	"log/slog"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/zhangyu-521/my-doc-sub002/internal/config"
	"github.com/zhangyu-521/my-doc-sub002/internal/logging"
	"github.com/zhangyu-521/my-doc-sub002/internal/xdg"
)

// serviceName tags every log record.
const serviceName = "plugrt"

// NewRootCmd creates the root command for the plugrt CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugrt",
		Short: "plugrt - a plugin runtime",
		Long: `plugrt loads manifest-described plugins, resolves their dependencies
and drives them through their lifecycle, connecting them through hooks,
events, a shared store and message queues.`,
		SilenceUsage: true,
	}

	config.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewOrderCmd())
	cmd.AddCommand(NewValidateCmd())
	cmd.AddCommand(NewSchemaCmd())

	return cmd
}

// loadConfig resolves the configuration for cmd from its flags, the
// environment and the --config file. Without --config the user file in
// the XDG config directory is used when present.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, oops.In("cli").Wrapf(err, "read --config")
	}
	if path == "" {
		if path, err = xdg.ConfigFile(); err != nil {
			return nil, err
		}
	}
	return config.Load(path, cmd.Flags())
}

// newLogger builds the process logger writing to cmd's error stream.
func newLogger(cmd *cobra.Command, cfg *config.Config) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return logging.Setup(serviceName, version, cfg.Log.Format, level, cmd.ErrOrStderr()), nil
}
