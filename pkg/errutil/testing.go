// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

package errutil

import (
	"errors"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mustOops fails the test unless err is a non-nil oops error.
func mustOops(t *testing.T, err error) oops.OopsError {
	t.Helper()
	require.Error(t, err, "runtime operation should have failed")
	oe, ok := oops.AsOops(err)
	require.True(t, ok, "error %q is %T, not built with oops", err, err)
	return oe
}

// AssertErrorCode checks the stable code a runtime error carries, such as
// PLUGIN_MISSING_DEPENDENCY.
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	assert.Equal(t, code, mustOops(t, err).Code(), "code of %q", err)
}

// AssertErrorContext checks one context attribute of a runtime error, for
// example the plugin or hook it names.
func AssertErrorContext(t *testing.T, err error, key string, value any) {
	t.Helper()
	attrs := mustOops(t, err).Context()
	if assert.Contains(t, attrs, key, "context of %q", err) {
		assert.Equal(t, value, attrs[key], "context %q of %q", key, err)
	}
}

// AssertSentinel checks both halves of the error contract: target is in
// the chain for errors.Is, and the code matches.
func AssertSentinel(t *testing.T, err, target error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, target), "expected %v in chain of %v", target, err)
	AssertErrorCode(t, err, code)
}
