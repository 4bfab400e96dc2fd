// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package ebs

import (
	stderrors "errors"
	"fmt"

	"github.com/aws/smithy-go"
	"github.com/juju/errors"
)

const (
	// ErrDeviceNamespaceExhausted is returned when every candidate
	// block device name on the instance is already occupied.
	ErrDeviceNamespaceExhausted = errors.ConstError("no unused block device names available")
)

// LimitKind identifies which resource ceiling a limit check tripped.
type LimitKind string

const (
	LimitTotalSize     LimitKind = "total created volume size"
	LimitCreatedCount  LimitKind = "created volume count"
	LimitAttachedCount LimitKind = "attached volume count"
)

// LimitError reports a resource ceiling that is already met or
// exceeded for the instance.
type LimitError struct {
	Kind    LimitKind
	Current int
	Ceiling int
}

// Error is part of the error interface.
func (e *LimitError) Error() string {
	return fmt.Sprintf("%s limit reached: %d of allowed %d", e.Kind, e.Current, e.Ceiling)
}

// IsLimitExceeded returns whether the cause of this error was a
// tripped resource ceiling.
func IsLimitExceeded(err error) bool {
	_, ok := errors.Cause(err).(*LimitError)
	return ok
}

// AttachmentError reports a failed volume attachment. By the time the
// caller sees one, the compensating delete of the volume has already
// been attempted.
type AttachmentError struct {
	VolumeID string
	Device   string
	Cause    error
}

// Error is part of the error interface.
func (e *AttachmentError) Error() string {
	return fmt.Sprintf("attaching volume %q at %q: %v", e.VolumeID, e.Device, e.Cause)
}

// Unwrap returns the underlying provider error.
func (e *AttachmentError) Unwrap() error {
	return e.Cause
}

// IsAttachmentFailure returns whether the cause of this error was a
// failed attach request.
func IsAttachmentFailure(err error) bool {
	_, ok := errors.Cause(err).(*AttachmentError)
	return ok
}

// providerErrorDetail preserves the provider-side error code and
// message verbatim; this command may run unattended, so the raw API
// failure has to survive into the log and the returned error.
func providerErrorDetail(err error) string {
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		return fmt.Sprintf("%s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage())
	}
	return err.Error()
}
