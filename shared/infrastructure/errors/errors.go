/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package errors provides domain-specific error types for the sync engine.
// These errors help distinguish between different failure modes and enable
// appropriate handling strategies (abort the run, fail one secret, retry).
package errors

import (
	"errors"
	"fmt"
)

// FetchError indicates the vault items could not be retrieved at all.
// This is fatal for the run: there is nothing meaningful to reconcile
// without source data.
type FetchError struct {
	Source string // e.g., "bw list items"
	Cause  error  // The underlying error
}

func (e *FetchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("vault fetch via %s failed: %v", e.Source, e.Cause)
	}
	return fmt.Sprintf("vault fetch via %s failed", e.Source)
}

// Unwrap returns the underlying cause for errors.As/Is support.
func (e *FetchError) Unwrap() error {
	return e.Cause
}

// NewFetchError creates a FetchError.
func NewFetchError(source string, cause error) *FetchError {
	return &FetchError{Source: source, Cause: cause}
}

// IsFetchError returns true if the error is a FetchError.
func IsFetchError(err error) bool {
	var fetchErr *FetchError
	return errors.As(err, &fetchErr)
}

// DirectiveError indicates a malformed sync directive on a vault item whose
// namespace directive itself is present. It is isolated to the secrets derived
// from that one item; all other secrets proceed.
type DirectiveError struct {
	ItemName  string // Name of the vault item carrying the directive
	Directive string // The directive field that failed to parse
	Message   string // Why parsing failed
}

func (e *DirectiveError) Error() string {
	return fmt.Sprintf("item %q has malformed %s directive: %s", e.ItemName, e.Directive, e.Message)
}

// NewDirectiveError creates a DirectiveError.
func NewDirectiveError(itemName, directive, message string) *DirectiveError {
	return &DirectiveError{ItemName: itemName, Directive: directive, Message: message}
}

// IsDirectiveError returns true if the error is a DirectiveError.
func IsDirectiveError(err error) bool {
	var dirErr *DirectiveError
	return errors.As(err, &dirErr)
}

// ValidationError indicates an invalid desired secret (bad secret name,
// payload key collision). This is a permanent, per-secret error: retrying
// won't help without the operator correcting the vault item.
type ValidationError struct {
	Field   string // The field that failed validation
	Value   string // The invalid value
	Message string // Why validation failed
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, value, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// IsValidationError returns true if the error is a ValidationError.
func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

// TransientError indicates a temporary cluster failure that should be retried.
// Common causes: network issues, API server conflicts, rate limiting.
type TransientError struct {
	Operation string // What operation was attempted
	Cause     error  // The underlying error
}

func (e *TransientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transient error during %s: %v", e.Operation, e.Cause)
	}
	return fmt.Sprintf("transient error during %s", e.Operation)
}

// Unwrap returns the underlying cause for errors.As/Is support.
func (e *TransientError) Unwrap() error {
	return e.Cause
}

// NewTransientError creates a TransientError.
func NewTransientError(operation string, cause error) *TransientError {
	return &TransientError{Operation: operation, Cause: cause}
}

// IsTransientError returns true if the error is a TransientError.
func IsTransientError(err error) bool {
	var transientErr *TransientError
	return errors.As(err, &transientErr)
}

// PermissionError indicates the cluster rejected an operation for
// authorization reasons. Retrying cannot help; the error is surfaced
// verbatim so an operator can fix RBAC.
type PermissionError struct {
	Operation string // What operation was attempted
	Namespace string // Target namespace
	Name      string // Target secret name
	Cause     error  // The underlying API error
}

func (e *PermissionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("permission denied during %s of %s/%s: %v", e.Operation, e.Namespace, e.Name, e.Cause)
	}
	return fmt.Sprintf("permission denied during %s of %s/%s", e.Operation, e.Namespace, e.Name)
}

// Unwrap returns the underlying cause for errors.As/Is support.
func (e *PermissionError) Unwrap() error {
	return e.Cause
}

// NewPermissionError creates a PermissionError.
func NewPermissionError(operation, namespace, name string, cause error) *PermissionError {
	return &PermissionError{Operation: operation, Namespace: namespace, Name: name, Cause: cause}
}

// IsPermissionError returns true if the error is a PermissionError.
func IsPermissionError(err error) bool {
	var permErr *PermissionError
	return errors.As(err, &permErr)
}

// IsRetryableError reports whether the applier should retry the operation.
// Only transient errors are retryable; validation, directive, and permission
// errors are permanent until the operator intervenes.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	return IsTransientError(err)
}
