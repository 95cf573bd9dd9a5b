// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

package plugin

import "errors"

// Sentinel errors. Errors returned by the runtime wrap one of these and
// can be matched with errors.Is.
var (
	ErrDuplicateRegistration = errors.New("plugin already registered")
	ErrMissingDependency     = errors.New("missing dependency")
	ErrCircularDependency    = errors.New("circular dependency")
	ErrInvalidTransition     = errors.New("invalid state transition")
	ErrHookNotFound          = errors.New("hook not found")
	ErrKindMismatch          = errors.New("hook kind mismatch")
	ErrPluginInit            = errors.New("plugin initialization failed")
	ErrPluginRuntime         = errors.New("plugin runtime failure")
	ErrDuplicateHook         = errors.New("hook already exists")
	ErrPluginNotFound        = errors.New("plugin not found")
	ErrInvalidDescriptor     = errors.New("invalid plugin descriptor")
	ErrDependencyNotReady    = errors.New("dependency not ready")
	ErrHandlerFailed         = errors.New("handler failed")
)

// Error codes attached to returned errors with oops.Code.
const (
	CodeDuplicate          = "PLUGIN_DUPLICATE"
	CodeMissingDependency  = "PLUGIN_MISSING_DEPENDENCY"
	CodeCircularDependency = "PLUGIN_CIRCULAR_DEPENDENCY"
	CodeInvalidTransition  = "PLUGIN_INVALID_TRANSITION"
	CodeHookNotFound       = "HOOK_NOT_FOUND"
	CodeKindMismatch       = "HOOK_KIND_MISMATCH"
	CodeDuplicateHook      = "HOOK_DUPLICATE"
	CodeHookFailed         = "HOOK_CALLBACK_FAILED"
	CodePluginInit         = "PLUGIN_INIT_FAILED"
	CodePluginRuntime      = "PLUGIN_RUNTIME_FAILED"
	CodeNotFound           = "PLUGIN_NOT_FOUND"
	CodeInvalidDescriptor  = "PLUGIN_INVALID_DESCRIPTOR"
	CodeDependencyNotReady = "PLUGIN_DEPENDENCY_NOT_READY"
	CodeHandlerFailed      = "BUS_HANDLER_FAILED"
	CodePanic              = "PLUGIN_PANIC"
)
