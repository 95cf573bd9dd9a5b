// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

package lifecycle

import (
	"fmt"

	"github.com/samber/oops"

	"github.com/zhangyu-521/my-doc-sub002/pkg/plugin"
)

func errNotFound(name string) error {
	return oops.Code(plugin.CodeNotFound).
		With("plugin", name).
		Wrapf(plugin.ErrPluginNotFound, "plugin %q", name)
}

func errInvalidTransition(name string, from, to State) error {
	return oops.Code(plugin.CodeInvalidTransition).
		With("plugin", name).
		With("from", from.String()).
		With("to", to.String()).
		Wrapf(plugin.ErrInvalidTransition, "plugin %q: %s -> %s", name, from, to)
}

func errDuplicate(name string, state State) error {
	return oops.Code(plugin.CodeDuplicate).
		With("plugin", name).
		With("state", state.String()).
		Wrapf(plugin.ErrDuplicateRegistration, "plugin %q", name)
}

func errMissing(name string, missing []string) error {
	return oops.Code(plugin.CodeMissingDependency).
		With("plugin", name).
		With("missing", missing).
		Wrapf(plugin.ErrMissingDependency, "plugin %q requires %v", name, missing)
}

func errIncompatible(name, dep, version, constraint string) error {
	return oops.Code(plugin.CodeMissingDependency).
		With("plugin", name).
		With("dependency", dep).
		With("version", version).
		With("constraint", constraint).
		Wrapf(plugin.ErrMissingDependency, "plugin %q requires %s %s, found %s", name, dep, constraint, version)
}

func errNotReady(name, dep string, state State) error {
	return oops.Code(plugin.CodeDependencyNotReady).
		With("plugin", name).
		With("dependency", dep).
		With("dependency_state", state.String()).
		Wrapf(plugin.ErrDependencyNotReady, "plugin %q: dependency %q is %s", name, dep, state)
}

// errInit wraps a failure of the plugin's own Initialize.
func errInit(name string, attempt int, cause error) error {
	return oops.Code(plugin.CodePluginInit).
		With("plugin", name).
		With("attempt", attempt).
		Wrap(fmt.Errorf("%w: %w", plugin.ErrPluginInit, cause))
}

// errRuntime wraps a failure during enable, disable or unload.
func errRuntime(name, op string, cause error) error {
	return oops.Code(plugin.CodePluginRuntime).
		With("plugin", name).
		With("operation", op).
		Wrap(fmt.Errorf("%w: %s: %w", plugin.ErrPluginRuntime, op, cause))
}

// errDependencyFailed wraps the failure of a dependency brought up on
// behalf of name.
func errDependencyFailed(name, dep string, cause error) error {
	return oops.Code(plugin.CodeDependencyNotReady).
		With("plugin", name).
		With("dependency", dep).
		Wrap(fmt.Errorf("%w: %q: %w", plugin.ErrDependencyNotReady, dep, cause))
}
