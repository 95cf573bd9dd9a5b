// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

package errutil_test

import (
	"errors"
	"testing"

	"github.com/samber/oops"

	"github.com/zhangyu-521/my-doc-sub002/pkg/errutil"
)

func TestAssertErrorCode_MatchingCode(t *testing.T) {
	err := oops.Code("MY_CODE").Errorf("test error")
	errutil.AssertErrorCode(t, err, "MY_CODE")
}

func TestAssertErrorContext_MatchingKeyValue(t *testing.T) {
	err := oops.With("plugin", "alpha").Errorf("test error")
	errutil.AssertErrorContext(t, err, "plugin", "alpha")
}

func TestAssertSentinel_WrappedSentinel(t *testing.T) {
	sentinel := errors.New("sentinel")
	err := oops.Code("WRAPPED").Wrapf(sentinel, "context")
	errutil.AssertSentinel(t, err, sentinel, "WRAPPED")
}

func TestAssertErrorContext_NumericValue(t *testing.T) {
	err := oops.With("attempt", 3).Wrapf(errors.New("boom"), "initialize")
	errutil.AssertErrorContext(t, err, "attempt", 3)
}
