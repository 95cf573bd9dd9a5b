// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

package lifecycle

import "time"

// State is the lifecycle state of a plugin instance.
type State uint8

// Lifecycle states.
const (
	Unregistered State = iota
	Registered
	Resolving
	Resolved
	Initializing
	Initialized
	Enabling
	Enabled
	Disabling
	Disabled
	Error
	Unloading
	Unloaded
)

var stateNames = [...]string{
	Unregistered: "unregistered",
	Registered:   "registered",
	Resolving:    "resolving",
	Resolved:     "resolved",
	Initializing: "initializing",
	Initialized:  "initialized",
	Enabling:     "enabling",
	Enabled:      "enabled",
	Disabling:    "disabling",
	Disabled:     "disabled",
	Error:        "error",
	Unloading:    "unloading",
	Unloaded:     "unloaded",
}

// String returns the lowercase state name.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// States returns every state in declaration order.
func States() []State {
	out := make([]State, 0, len(stateNames))
	for s := range stateNames {
		out = append(out, State(s))
	}
	return out
}

var transitions = map[State][]State{
	Unregistered: {Registered},
	Registered:   {Resolving, Unloaded},
	Resolving:    {Resolved, Error},
	Resolved:     {Initializing, Unloading},
	Initializing: {Initialized, Error},
	Initialized:  {Enabling, Unloading},
	Enabling:     {Enabled, Error},
	Enabled:      {Disabling, Error, Unloading},
	Disabling:    {Disabled, Error},
	Disabled:     {Enabling, Unloading},
	Error:        {Resolved, Unloading},
	Unloading:    {Unloaded},
}

// CanTransition reports whether from -> to is an allowed transition.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Initialized reports whether a plugin in state s has completed
// initialization and has not since failed or been unloaded.
func (s State) Initialized() bool {
	return s >= Initialized && s <= Disabled
}

// Transition records one state change.
type Transition struct {
	Plugin string
	From   State
	To     State
	// Err is the recorded error when To is Error.
	Err error
	At  time.Time
}
