// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

package runtime

import (
	"github.com/zhangyu-521/my-doc-sub002/internal/lifecycle"
	"github.com/zhangyu-521/my-doc-sub002/pkg/plugin"
)

// PluginStatus is the reported state of one plugin.
type PluginStatus struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	State   string `json:"state"`
	Error   string `json:"error,omitempty"`
}

// SystemStatus is a point-in-time report of the whole runtime.
type SystemStatus struct {
	Plugins []PluginStatus `json:"plugins"`
	// Counts maps state names to the number of plugins in that state.
	Counts  map[string]int `json:"counts"`
	Healthy bool           `json:"healthy"`
}

// Status reports every plugin's state. Healthy is false when any plugin
// is in the Error state.
func (r *Runtime) Status() SystemStatus {
	snap := r.lifecycle.Snapshot()
	st := SystemStatus{
		Plugins: make([]PluginStatus, 0, len(snap)),
		Counts:  make(map[string]int),
		Healthy: true,
	}
	for _, s := range snap {
		ps := PluginStatus{Name: s.Name, Version: s.Version, State: s.State.String()}
		if s.Err != nil {
			ps.Error = s.Err.Error()
		}
		st.Plugins = append(st.Plugins, ps)
		st.Counts[ps.State]++
		if s.State == lifecycle.Error {
			st.Healthy = false
		}
	}
	return st
}

// GetPlugin returns a view of name including its implementation.
func (r *Runtime) GetPlugin(name string) (plugin.Info, bool) {
	desc, ok := r.lifecycle.Descriptor(name)
	if !ok {
		return plugin.Info{}, false
	}
	state, ok := r.lifecycle.State(name)
	if !ok {
		return plugin.Info{}, false
	}
	impl, ok := r.lifecycle.Plugin(name)
	if !ok {
		return plugin.Info{}, false
	}
	return plugin.Info{
		Descriptor: desc,
		State:      state.String(),
		Err:        r.lifecycle.Err(name),
		Plugin:     impl,
	}, true
}

// GetAllPlugins returns every registered plugin in registration order.
func (r *Runtime) GetAllPlugins() []plugin.Info {
	names := r.lifecycle.Plugins()
	out := make([]plugin.Info, 0, len(names))
	for _, name := range names {
		if info, ok := r.GetPlugin(name); ok {
			out = append(out, info)
		}
	}
	return out
}
