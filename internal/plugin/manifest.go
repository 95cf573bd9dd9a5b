// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

// Package plugin discovers manifest-described plugins on disk and loads
// them into a runtime.
package plugin

import (
	"regexp"
	"strings"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	api "github.com/zhangyu-521/my-doc-sub002/pkg/plugin"
)

// Type identifies how a manifest plugin is executed.
type Type string

// TypeLua is the only supported manifest plugin type.
const TypeLua Type = "lua"

// ManifestFile is the file name looked up in each plugin directory.
const ManifestFile = "plugin.yaml"

// Manifest represents a plugin.yaml file.
type Manifest struct {
	Name                 string            `yaml:"name" json:"name" jsonschema:"required,minLength=1,maxLength=64,pattern=^[a-z]([a-z0-9-]*[a-z0-9])?$"`
	Version              string            `yaml:"version" json:"version" jsonschema:"required,minLength=1"`
	Type                 Type              `yaml:"type" json:"type" jsonschema:"required,enum=lua"`
	Description          string            `yaml:"description,omitempty" json:"description,omitempty"`
	Author               string            `yaml:"author,omitempty" json:"author,omitempty"`
	Dependencies         []string          `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	OptionalDependencies []string          `yaml:"optional_dependencies,omitempty" json:"optional_dependencies,omitempty"`
	Constraints          map[string]string `yaml:"constraints,omitempty" json:"constraints,omitempty"`
	Capabilities         []string          `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
	LuaPlugin            *LuaConfig        `yaml:"lua-plugin,omitempty" json:"lua-plugin,omitempty"`
}

// LuaConfig holds Lua-specific configuration.
type LuaConfig struct {
	Entry string `yaml:"entry" json:"entry" jsonschema:"required,minLength=1"`
}

// capabilityPattern allows dot-separated segments of word characters and globs.
var capabilityPattern = regexp.MustCompile(`^[a-z0-9_*-]+(\.[a-z0-9_*-]+)*$`)

// ParseManifest parses and validates a plugin.yaml file.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, oops.In("manifest").Errorf("manifest data is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, oops.In("manifest").Wrapf(err, "invalid YAML")
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the manifest and the descriptor it produces.
func (m *Manifest) Validate() error {
	errb := oops.In("manifest").With("plugin", m.Name)

	// Name, version and dependency rules live on the descriptor.
	if err := m.Descriptor().Validate(); err != nil {
		return errb.Wrapf(err, "invalid manifest")
	}

	switch m.Type {
	case TypeLua:
		if m.LuaPlugin == nil {
			return errb.Errorf("lua-plugin is required when type is lua")
		}
		if strings.TrimSpace(m.LuaPlugin.Entry) == "" {
			return errb.Errorf("lua-plugin.entry is required")
		}
	default:
		return errb.Errorf("type must be 'lua', got %q", m.Type)
	}

	for _, c := range m.Capabilities {
		if !capabilityPattern.MatchString(c) {
			return errb.With("capability", c).Errorf("invalid capability %q", c)
		}
	}

	return nil
}

// Descriptor converts the manifest into the runtime's plugin descriptor.
func (m *Manifest) Descriptor() api.Descriptor {
	d := api.Descriptor{
		Name:                 m.Name,
		Version:              m.Version,
		Dependencies:         append([]string(nil), m.Dependencies...),
		OptionalDependencies: append([]string(nil), m.OptionalDependencies...),
		Metadata: api.Metadata{
			Author:      m.Author,
			Description: m.Description,
		},
	}
	if len(m.Constraints) > 0 {
		d.Constraints = make(map[string]string, len(m.Constraints))
		for k, v := range m.Constraints {
			d.Constraints[k] = v
		}
	}
	return d
}
