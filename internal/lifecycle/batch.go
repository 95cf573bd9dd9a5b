// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

package lifecycle

import (
	"context"
	"errors"
	"slices"
)

// ActionSkip marks a plugin a batch operation left alone because it was
// already past, or not eligible for, the operation.
const ActionSkip = "skip"

// Outcome is the result of a batch operation for one plugin.
type Outcome struct {
	Plugin string
	Action string
	State  State
	Err    error
}

// Report collects per-plugin outcomes of a batch operation.
type Report struct {
	Outcomes []Outcome
}

// Failed returns the outcomes that carry an error.
func (r Report) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// Err joins every per-plugin error, or returns nil.
func (r Report) Err() error {
	var errs []error
	for _, o := range r.Failed() {
		errs = append(errs, o.Err)
	}
	return errors.Join(errs...)
}

// Merge appends the outcomes of other.
func (r Report) Merge(other Report) Report {
	return Report{Outcomes: append(slices.Clone(r.Outcomes), other.Outcomes...)}
}

// InitializeAll initializes every Resolved plugin in load order.
// Failures are recorded in the report; the pass always completes.
func (m *Manager) InitializeAll(ctx context.Context) (Report, error) {
	return m.batch(ctx, OpInitialize, false, func(st State) bool {
		return !st.Initialized()
	}, m.Initialize)
}

// EnableAll enables every plugin in load order that is not yet Enabled.
func (m *Manager) EnableAll(ctx context.Context) (Report, error) {
	return m.batch(ctx, OpEnable, false, func(st State) bool {
		return st != Enabled
	}, m.Enable)
}

// DisableAll disables every Enabled plugin in reverse load order.
func (m *Manager) DisableAll(ctx context.Context) (Report, error) {
	return m.batch(ctx, OpDisable, true, func(st State) bool {
		return st == Enabled
	}, m.Disable)
}

func (m *Manager) batch(
	ctx context.Context,
	action string,
	reverse bool,
	eligible func(State) bool,
	op func(context.Context, string) error,
) (Report, error) {
	order, err := m.resolver.LoadOrder()
	if err != nil {
		return Report{}, err
	}
	if reverse {
		slices.Reverse(order)
	}

	var report Report
	for _, name := range order {
		st, ok := m.State(name)
		if !ok {
			continue
		}
		if !eligible(st) {
			report.Outcomes = append(report.Outcomes, Outcome{Plugin: name, Action: ActionSkip, State: st})
			continue
		}
		opErr := op(ctx, name)
		st, _ = m.State(name)
		report.Outcomes = append(report.Outcomes, Outcome{Plugin: name, Action: action, State: st, Err: opErr})
	}
	return report, nil
}
