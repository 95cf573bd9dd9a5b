// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

//go:build tools

// Package main pins test dependencies that are only imported under build
// tags to go.mod.
package main

import (
	_ "github.com/onsi/ginkgo/v2"
	_ "github.com/onsi/gomega"
)
