// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/zhangyu-521/my-doc-sub002/internal/lifecycle"
	"github.com/zhangyu-521/my-doc-sub002/internal/observability"
	"github.com/zhangyu-521/my-doc-sub002/internal/plugin"
	"github.com/zhangyu-521/my-doc-sub002/internal/plugin/capability"
	pluginlua "github.com/zhangyu-521/my-doc-sub002/internal/plugin/lua"
	"github.com/zhangyu-521/my-doc-sub002/internal/runtime"
	"github.com/zhangyu-521/my-doc-sub002/pkg/errutil"
)

// shutdownTimeout bounds plugin teardown and server stop after a signal.
const shutdownTimeout = 10 * time.Second

// runSummary is printed when the runtime stops.
type runSummary struct {
	Loaded   []string             `json:"loaded"`
	Failed   map[string]string    `json:"failed,omitempty"`
	Status   runtime.SystemStatus `json:"status"`
	Shutdown []outcome            `json:"shutdown"`
}

type outcome struct {
	Plugin string `json:"plugin"`
	Action string `json:"action"`
	State  string `json:"state"`
	Error  string `json:"error,omitempty"`
}

// NewRunCmd creates the run subcommand.
func NewRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Load plugins and run until interrupted",
		Long: `Load every plugin manifest in the plugins directory, start the runtime
and serve metrics and health probes until SIGINT or SIGTERM. On exit the
runtime shuts down and a JSON summary is printed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runRuntime(ctx, cmd)
		},
	}
}

// runRuntime runs until ctx is done or the metrics server fails.
func runRuntime(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}

	opts := []runtime.Option{runtime.WithConfig(*cfg), runtime.WithLogger(logger)}
	var server *observability.Server
	if cfg.Metrics.Addr != "" {
		server = observability.NewServer(cfg.Metrics.Addr, logger.With("component", "observability"))
		opts = append(opts, runtime.WithRegisterer(server.Registry()))
	}

	rt, err := runtime.New(opts...)
	if err != nil {
		return oops.In("cli").Wrapf(err, "create runtime")
	}
	defer rt.Close()

	loader := plugin.NewLoader(cfg.Plugins.Dir,
		plugin.WithHost(pluginlua.NewHost(capability.NewEnforcer())),
		plugin.WithLogger(logger.With("component", "loader")))
	loaded, err := loader.LoadAll(ctx, rt)
	if err != nil {
		return oops.In("cli").With("dir", cfg.Plugins.Dir).Wrapf(err, "load plugins")
	}

	report, err := rt.Start(ctx)
	if err != nil {
		return oops.In("cli").Wrapf(err, "start runtime")
	}
	for _, o := range report.Failed() {
		errutil.LogError(logger, "plugin failed to start", o.Err)
	}

	var serverErr <-chan error
	if server != nil {
		server.SetReadiness(func() bool { return rt.Status().Healthy })
		if serverErr, err = server.Start(); err != nil {
			shutdown(rt, nil, logger)
			return oops.In("cli").Wrapf(err, "start observability server")
		}
	}

	logger.Info("plugrt ready", "plugins", len(loaded.Loaded), "dir", cfg.Plugins.Dir)

	select {
	case <-ctx.Done():
		logger.Info("shutting down", "reason", context.Cause(ctx))
	case err := <-serverErr:
		if err != nil {
			errutil.LogError(logger, "observability server failed", err)
		}
	}

	summary := runSummary{Loaded: loaded.Loaded, Status: rt.Status()}
	if len(loaded.Failed) > 0 {
		summary.Failed = make(map[string]string, len(loaded.Failed))
		for name, err := range loaded.Failed {
			summary.Failed[name] = err.Error()
		}
	}
	summary.Shutdown = outcomes(shutdown(rt, server, logger))

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return oops.In("cli").Wrapf(err, "write summary")
	}
	return nil
}

// shutdown stops the runtime and server, logging failures. It returns the
// shutdown report.
func shutdown(rt *runtime.Runtime, server *observability.Server, logger *slog.Logger) lifecycle.Report {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	report, err := rt.Shutdown(ctx)
	if err != nil {
		errutil.LogError(logger, "runtime shutdown", err)
	}
	if server != nil {
		if err := server.Stop(ctx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}
	return report
}

func outcomes(r lifecycle.Report) []outcome {
	out := make([]outcome, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		oc := outcome{Plugin: o.Plugin, Action: o.Action, State: o.State.String()}
		if o.Err != nil {
			oc.Error = o.Err.Error()
		}
		out = append(out, oc)
	}
	return out
}
