// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

package errutil

import "github.com/samber/oops"

// Safely runs fn and converts a panic into an error built by b.
// Errors returned by fn are passed through unchanged.
func Safely(b oops.OopsErrorBuilder, fn func() error) (err error) {
	if perr := b.Recover(func() { err = fn() }); perr != nil {
		return perr
	}
	return err
}
