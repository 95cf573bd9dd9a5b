// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

package plugin

import (
	"context"

	api "github.com/zhangyu-521/my-doc-sub002/pkg/plugin"
)

// Host builds runtime plugins of one manifest type.
type Host interface {
	// Type is the manifest type this host handles.
	Type() Type

	// Build creates a plugin from its manifest. dir is the plugin's
	// directory; entry paths in the manifest are relative to it.
	Build(ctx context.Context, manifest *Manifest, dir string) (api.Plugin, error)
}

// Registrar accepts built plugins. *runtime.Runtime satisfies it.
type Registrar interface {
	Register(ctx context.Context, p api.Plugin) error
}
