// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

// Package plugin defines the contract between the runtime and the plugins it
// hosts: descriptors, the lifecycle interfaces a plugin implements, the
// Context handed to a plugin at initialization, and the error taxonomy.
package plugin

import (
	"context"
	"regexp"
	"slices"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
)

// maxNameLength is the maximum allowed length for plugin names.
const maxNameLength = 64

// namePattern validates plugin names: must start with lowercase letter,
// followed by lowercase letters, digits, or hyphens.
// Cannot end with a hyphen. Single character names are allowed.
var namePattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

// Metadata is free-form descriptive information about a plugin.
type Metadata struct {
	Author      string            `yaml:"author,omitempty" json:"author,omitempty"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Extra       map[string]string `yaml:"extra,omitempty" json:"extra,omitempty"`
}

// Descriptor is the identity and static metadata of a plugin.
// The runtime keeps its own copy once the plugin is registered.
type Descriptor struct {
	Name                 string   `yaml:"name" json:"name"`
	Version              string   `yaml:"version" json:"version"`
	Dependencies         []string `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	OptionalDependencies []string `yaml:"optional_dependencies,omitempty" json:"optional_dependencies,omitempty"`
	// Constraints maps a required dependency to a semver constraint
	// (e.g. ">= 1.2, < 2") its registered version must satisfy.
	Constraints map[string]string `yaml:"constraints,omitempty" json:"constraints,omitempty"`
	Metadata    Metadata          `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Validate checks descriptor constraints.
func (d Descriptor) Validate() error {
	errb := oops.Code(CodeInvalidDescriptor).With("plugin", d.Name)

	if d.Name == "" || !namePattern.MatchString(d.Name) {
		return errb.Wrapf(ErrInvalidDescriptor,
			"name %q must start with a-z, contain only a-z, 0-9, hyphens, and not end with a hyphen", d.Name)
	}
	if len(d.Name) > maxNameLength {
		return errb.Wrapf(ErrInvalidDescriptor, "name must be %d characters or less, got %d", maxNameLength, len(d.Name))
	}
	if d.Version == "" {
		return errb.Wrapf(ErrInvalidDescriptor, "version is required")
	}
	if _, err := semver.NewVersion(d.Version); err != nil {
		return errb.With("version", d.Version).Wrapf(ErrInvalidDescriptor, "version is not a semantic version: %v", err)
	}

	seen := make(map[string]bool, len(d.Dependencies))
	for _, dep := range d.Dependencies {
		switch {
		case dep == d.Name:
			return errb.Wrapf(ErrInvalidDescriptor, "plugin cannot depend on itself")
		case seen[dep]:
			return errb.With("dependency", dep).Wrapf(ErrInvalidDescriptor, "dependency %q declared twice", dep)
		case !namePattern.MatchString(dep):
			return errb.With("dependency", dep).Wrapf(ErrInvalidDescriptor, "dependency name %q is invalid", dep)
		}
		seen[dep] = true
	}

	for dep, constraint := range d.Constraints {
		if !seen[dep] {
			return errb.With("dependency", dep).Wrapf(ErrInvalidDescriptor, "constraint for undeclared dependency %q", dep)
		}
		if _, err := semver.NewConstraint(constraint); err != nil {
			return errb.With("dependency", dep).Wrapf(ErrInvalidDescriptor, "constraint %q: %v", constraint, err)
		}
	}

	return nil
}

// Clone returns a deep copy of the descriptor.
func (d Descriptor) Clone() Descriptor {
	c := d
	c.Dependencies = slices.Clone(d.Dependencies)
	c.OptionalDependencies = slices.Clone(d.OptionalDependencies)
	if d.Constraints != nil {
		c.Constraints = make(map[string]string, len(d.Constraints))
		for k, v := range d.Constraints {
			c.Constraints[k] = v
		}
	}
	if d.Metadata.Extra != nil {
		c.Metadata.Extra = make(map[string]string, len(d.Metadata.Extra))
		for k, v := range d.Metadata.Extra {
			c.Metadata.Extra[k] = v
		}
	}
	return c
}

// Plugin is the interface every plugin implements.
type Plugin interface {
	// Descriptor returns the plugin's identity and dependencies.
	Descriptor() Descriptor

	// Initialize is called once the plugin's dependencies are initialized.
	// The Context stays valid until the plugin is unloaded.
	Initialize(ctx context.Context, rt Context) error
}

// Enabler is implemented by plugins that do work when enabled.
type Enabler interface {
	Enable(ctx context.Context) error
}

// Disabler is implemented by plugins that do work when disabled.
type Disabler interface {
	Disable(ctx context.Context) error
}

// Unloader is implemented by plugins that release resources on unload.
type Unloader interface {
	Unload(ctx context.Context) error
}
