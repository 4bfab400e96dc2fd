// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package ebs provisions EBS volumes and attaches them to the running
// instance, enforcing per-instance resource ceilings and rolling back
// a created volume whenever attachment fails.
package ebs

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/mutex/v2"

	"github.com/eyeonall/amazon-ebs-autoscale/internal/metadata"
)

var logger = loggo.GetLogger("ebsautoscale.ebs")

// allocationMutexName names the machine-wide mutex held from device
// name allocation through attachment. The free-device check is
// point-in-time rather than a reservation, so without the mutex two
// concurrent invocations could select the same device name.
const allocationMutexName = "ebs-autoscale-alloc"

const defaultPollInterval = time.Second

// Config holds the dependencies and tunables of a Provisioner.
type Config struct {
	// API is the EC2 client used for all volume operations.
	API API

	// Instance identifies the instance to attach to.
	Instance metadata.InstanceContext

	// Limits are the ceilings enforced before creating anything.
	Limits ResourceLimits

	// Clock drives the polling waits.
	Clock clock.Clock

	// WaitTimeout bounds each blocking wait (volume available, device
	// visible). Zero means wait indefinitely, subject only to context
	// cancellation.
	WaitTimeout time.Duration

	// PollInterval is the cadence of the polling waits. Defaults to
	// one second.
	PollInterval time.Duration

	// DeviceExists reports whether a block device is present at a
	// path. Defaults to stat'ing the path.
	DeviceExists func(string) bool

	// AcquireMutex is replaceable for testing.
	AcquireMutex func(mutex.Spec) (mutex.Releaser, error)
}

// Validate returns an error if the config is missing anything it
// needs.
func (cfg Config) Validate() error {
	if cfg.API == nil {
		return errors.NotValidf("nil API")
	}
	if err := cfg.Instance.Validate(); err != nil {
		return errors.Annotate(err, "instance context")
	}
	if err := cfg.Limits.Validate(); err != nil {
		return errors.Annotate(err, "resource limits")
	}
	if cfg.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	return nil
}

// Provisioner runs the provision-and-attach sequence for a single
// invocation.
type Provisioner struct {
	api          API
	instance     metadata.InstanceContext
	limits       ResourceLimits
	clock        clock.Clock
	waitTimeout  time.Duration
	pollInterval time.Duration
	deviceExists func(string) bool
	acquireMutex func(mutex.Spec) (mutex.Releaser, error)
}

// NewProvisioner returns a Provisioner with the given config.
func NewProvisioner(cfg Config) (*Provisioner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	p := &Provisioner{
		api:          cfg.API,
		instance:     cfg.Instance,
		limits:       cfg.Limits,
		clock:        cfg.Clock,
		waitTimeout:  cfg.WaitTimeout,
		pollInterval: cfg.PollInterval,
		deviceExists: cfg.DeviceExists,
		acquireMutex: cfg.AcquireMutex,
	}
	if p.pollInterval <= 0 {
		p.pollInterval = defaultPollInterval
	}
	if p.deviceExists == nil {
		p.deviceExists = blockDeviceExists
	}
	if p.acquireMutex == nil {
		p.acquireMutex = mutex.Acquire
	}
	return p, nil
}

// Provision creates a volume per the request, attaches it to the
// instance and enables delete-on-termination, returning the device
// path the volume is attached at.
//
// Any failure before a successful attachment aborts the sequence with
// no cloud-side residue beyond what compensation already handled. A
// failure after successful attachment (the delete-on-termination
// step) is logged and the device path is still returned: the volume
// is attached and usable, only the termination cleanup guarantee is
// degraded.
func (p *Provisioner) Provision(ctx context.Context, req VolumeRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", errors.Trace(err)
	}

	releaser, err := p.acquireMutex(mutex.Spec{
		Name:   allocationMutexName,
		Clock:  p.clock,
		Delay:  250 * time.Millisecond,
		Cancel: ctx.Done(),
	})
	if err != nil {
		return "", errors.Annotate(err, "acquiring device allocation lock")
	}
	defer releaser.Release()

	if err := checkLimits(ctx, p.api, p.instance, p.limits); err != nil {
		return "", errors.Trace(err)
	}

	device, err := nextDevice(p.deviceExists)
	if err != nil {
		return "", errors.Trace(err)
	}
	logger.Debugf("allocated device name %q", device)

	handle, err := p.createVolume(ctx, req)
	if err != nil {
		return "", errors.Trace(err)
	}

	if err := p.attachVolume(ctx, handle, device); err != nil {
		return "", errors.Trace(err)
	}

	if err := p.setDeleteOnTermination(ctx, device); err != nil {
		logger.Warningf(
			"volume %q is attached and usable at %q, but will not be deleted on instance termination: %v",
			handle.VolumeID, device, err,
		)
	}
	return device, nil
}
