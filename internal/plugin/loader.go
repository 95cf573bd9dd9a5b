// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

package plugin

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/samber/oops"

	"github.com/zhangyu-521/my-doc-sub002/internal/resolver"
)

// DiscoveredPlugin contains a manifest and its directory.
type DiscoveredPlugin struct {
	Manifest *Manifest
	Dir      string
}

// LoadResult summarizes a LoadAll run.
type LoadResult struct {
	// Loaded lists registered plugins in registration order.
	Loaded []string
	// Failed maps plugin names to the error that stopped them. A plugin
	// rejected by dependency resolution stays registered in the error state.
	Failed map[string]error
}

// Loader discovers manifests in a directory and registers the plugins
// they describe.
type Loader struct {
	dir    string
	hosts  map[Type]Host
	logger *slog.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithHost adds a host for its manifest type.
func WithHost(h Host) LoaderOption {
	return func(l *Loader) {
		l.hosts[h.Type()] = h
	}
}

// WithLogger sets the loader's logger.
func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewLoader creates a loader for dir.
func NewLoader(dir string, opts ...LoaderOption) *Loader {
	l := &Loader{
		dir:    dir,
		hosts:  make(map[Type]Host),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Dir returns the directory the loader scans.
func (l *Loader) Dir() string { return l.dir }

// Discover finds every valid manifest under the loader's directory, in
// directory order. Invalid manifests are logged and skipped. A missing
// directory yields no plugins.
func (l *Loader) Discover(ctx context.Context) ([]*DiscoveredPlugin, error) {
	found, problems, err := l.scan(ctx)
	for dir, perr := range problems {
		l.logger.Warn("skipping plugin", "dir", dir, "error", perr)
	}
	return found, err
}

// Check scans the directory like Discover and returns every problem
// instead of logging it, keyed by plugin directory name.
func (l *Loader) Check(ctx context.Context) ([]*DiscoveredPlugin, map[string]error, error) {
	return l.scan(ctx)
}

func (l *Loader) scan(ctx context.Context) ([]*DiscoveredPlugin, map[string]error, error) {
	problems := make(map[string]error)
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, problems, nil
		}
		return nil, nil, oops.In("loader").With("dir", l.dir).Wrapf(err, "read plugins directory")
	}

	var (
		found []*DiscoveredPlugin
		names = make(map[string]string)
	)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if !entry.IsDir() {
			continue
		}

		dir := filepath.Join(l.dir, entry.Name())
		m, err := readManifest(dir)
		if err != nil {
			problems[entry.Name()] = err
			continue
		}
		if prev, dup := names[m.Name]; dup {
			problems[entry.Name()] = oops.In("loader").
				With("plugin", m.Name).
				Errorf("plugin %q already declared in %s", m.Name, prev)
			continue
		}
		names[m.Name] = entry.Name()
		found = append(found, &DiscoveredPlugin{Manifest: m, Dir: dir})
	}
	return found, problems, nil
}

func readManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile)) //nolint:gosec // path is built from ReadDir entries
	if err != nil {
		return nil, oops.In("loader").With("dir", dir).Wrapf(err, "read manifest")
	}
	if err := ValidateSchema(data); err != nil {
		return nil, err
	}
	return ParseManifest(data)
}

// Order sorts discovered plugins so that dependencies come before their
// dependents. A cycle leaves the input order unchanged and is returned.
func Order(plugins []*DiscoveredPlugin) ([]*DiscoveredPlugin, error) {
	res := resolver.New()
	byName := make(map[string]*DiscoveredPlugin, len(plugins))
	for _, dp := range plugins {
		res.Add(dp.Manifest.Descriptor())
		byName[dp.Manifest.Name] = dp
	}

	names, err := res.LoadOrder()
	if err != nil {
		return plugins, err
	}
	out := make([]*DiscoveredPlugin, 0, len(names))
	for _, name := range names {
		out = append(out, byName[name])
	}
	return out, nil
}

// LoadAll discovers plugins, builds each with the host for its type and
// registers them in dependency order. Individual failures are logged and
// reported in the result without failing the whole load; only an
// unreadable plugins directory is an error.
func (l *Loader) LoadAll(ctx context.Context, reg Registrar) (*LoadResult, error) {
	discovered, err := l.Discover(ctx)
	if err != nil {
		return nil, err
	}

	ordered, err := Order(discovered)
	if err != nil {
		l.logger.Warn("plugin dependencies contain a cycle, registering in directory order", "error", err)
	}

	result := &LoadResult{Failed: make(map[string]error)}
	for _, dp := range ordered {
		name := dp.Manifest.Name
		if err := l.load(ctx, reg, dp); err != nil {
			l.logger.Error("failed to load plugin", "plugin", name, "error", err)
			result.Failed[name] = err
			continue
		}
		result.Loaded = append(result.Loaded, name)
		l.logger.Info("loaded plugin",
			"plugin", name,
			"type", dp.Manifest.Type,
			"version", dp.Manifest.Version)
	}
	return result, nil
}

func (l *Loader) load(ctx context.Context, reg Registrar, dp *DiscoveredPlugin) error {
	errb := oops.In("loader").With("plugin", dp.Manifest.Name)

	host, ok := l.hosts[dp.Manifest.Type]
	if !ok {
		return errb.With("type", dp.Manifest.Type).Errorf("no host for plugin type %q", dp.Manifest.Type)
	}
	p, err := host.Build(ctx, dp.Manifest, dp.Dir)
	if err != nil {
		return errb.Wrapf(err, "build plugin")
	}
	if err := reg.Register(ctx, p); err != nil {
		return errb.Wrapf(err, "register plugin")
	}
	return nil
}
