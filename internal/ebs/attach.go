// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package ebs

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/juju/errors"
	"github.com/juju/retry"
)

// attachVolume attaches the created volume at the allocated device
// name. On attach failure the volume is deleted (best-effort) before
// the error is returned: an unattached volume still bills, and no
// later step will come back for it. On success the call does not
// return until the block device is visible on the instance, since the
// API accepting the attachment precedes the device's appearance in
// the local device table by an unspecified delay.
func (p *Provisioner) attachVolume(ctx context.Context, handle VolumeHandle, device string) error {
	_, err := p.api.AttachVolume(ctx, &ec2.AttachVolumeInput{
		Device:     aws.String(device),
		InstanceId: aws.String(p.instance.InstanceID),
		VolumeId:   aws.String(handle.VolumeID),
	})
	if err != nil {
		logger.Errorf("attaching volume %q at %q: %s", handle.VolumeID, device, providerErrorDetail(err))
		p.deleteVolume(ctx, handle.VolumeID)
		return &AttachmentError{VolumeID: handle.VolumeID, Device: device, Cause: err}
	}
	logger.Infof("attachment of volume %q at %q accepted, waiting for device", handle.VolumeID, device)

	if err := p.waitDeviceVisible(ctx, device); err != nil {
		// The attach itself succeeded; the volume stays attached and
		// is not deleted.
		logger.Warningf("volume %q remains attached at %q: %v", handle.VolumeID, device, err)
		return errors.Trace(err)
	}
	logger.Infof("device %q is visible", device)
	return nil
}

// waitDeviceVisible polls the local device namespace until the block
// device appears at the given path.
func (p *Provisioner) waitDeviceVisible(ctx context.Context, device string) error {
	errNotVisible := errors.Errorf("device %q not yet visible", device)
	err := retry.Call(retry.CallArgs{
		Clock:       p.clock,
		Delay:       p.pollInterval,
		Attempts:    retry.UnlimitedAttempts,
		MaxDuration: p.waitTimeout,
		Stop:        ctx.Done(),
		Func: func() error {
			if p.deviceExists(device) {
				return nil
			}
			return errNotVisible
		},
		IsFatalError: func(err error) bool {
			return err != errNotVisible
		},
		NotifyFunc: func(lastError error, attempt int) {
			logger.Debugf("waiting for device %q to appear, attempt %d", device, attempt)
		},
	})
	switch {
	case err == nil:
		return nil
	case retry.IsDurationExceeded(err):
		return errors.Timeoutf("device %q did not appear within %v", device, p.waitTimeout)
	case retry.IsRetryStopped(err):
		return errors.Annotatef(ctx.Err(), "waiting for device %q to appear", device)
	}
	return errors.Trace(err)
}

// setDeleteOnTermination marks the attachment so the volume is
// deleted automatically when the instance terminates. Failure here
// never rolls back the attachment; only the cleanup-on-termination
// guarantee is degraded.
func (p *Provisioner) setDeleteOnTermination(ctx context.Context, device string) error {
	_, err := p.api.ModifyInstanceAttribute(ctx, &ec2.ModifyInstanceAttributeInput{
		InstanceId: aws.String(p.instance.InstanceID),
		BlockDeviceMappings: []types.InstanceBlockDeviceMappingSpecification{{
			DeviceName: aws.String(device),
			Ebs: &types.EbsInstanceBlockDeviceSpecification{
				DeleteOnTermination: aws.Bool(true),
			},
		}},
	})
	if err != nil {
		logger.Errorf("enabling delete-on-termination for %q: %s", device, providerErrorDetail(err))
		return errors.Annotatef(err, "enabling delete-on-termination for %q", device)
	}
	logger.Infof("delete-on-termination enabled for %q", device)
	return nil
}
