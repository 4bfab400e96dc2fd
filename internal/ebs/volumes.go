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

// nameTagValue is the Name tag applied to every volume this tool
// creates.
const nameTagValue = "ebs-autoscale-volume"

// VolumeRequest describes the volume to create. It is validated once
// and never mutated afterwards.
type VolumeRequest struct {
	// SizeGB is the requested volume size in GiB.
	SizeGB int

	// Type is the EBS volume type.
	Type string

	// IOPS is the provisioned IOPS rate. Required for io1 and io2,
	// optional for gp3, invalid elsewhere.
	IOPS int

	// ThroughputMBs is the provisioned throughput in MiB/s, gp3 only.
	ThroughputMBs int

	// Encrypted requests encryption at rest.
	Encrypted bool
}

var volumeTypes = map[string]bool{
	"standard": true,
	"gp2":      true,
	"gp3":      true,
	"io1":      true,
	"io2":      true,
	"st1":      true,
	"sc1":      true,
}

// VolumeTypeRequiresIOPS reports whether the volume type cannot be
// created without a provisioned IOPS rate.
func VolumeTypeRequiresIOPS(volumeType string) bool {
	return volumeType == "io1" || volumeType == "io2"
}

// VolumeTypeAcceptsIOPS reports whether the volume type takes a
// provisioned IOPS rate at all.
func VolumeTypeAcceptsIOPS(volumeType string) bool {
	return VolumeTypeRequiresIOPS(volumeType) || volumeType == "gp3"
}

// Validate returns an error if the request is incomplete or
// internally inconsistent.
func (req VolumeRequest) Validate() error {
	if req.SizeGB <= 0 {
		return errors.NotValidf("volume size %d GiB", req.SizeGB)
	}
	if !volumeTypes[req.Type] {
		return errors.NotValidf("volume type %q", req.Type)
	}
	if VolumeTypeRequiresIOPS(req.Type) && req.IOPS <= 0 {
		return errors.NotValidf("volume type %q without an IOPS rate", req.Type)
	}
	if req.IOPS > 0 && !VolumeTypeAcceptsIOPS(req.Type) {
		return errors.NotValidf("IOPS rate with volume type %q", req.Type)
	}
	if req.ThroughputMBs > 0 && req.Type != "gp3" {
		return errors.NotValidf("throughput with volume type %q", req.Type)
	}
	return nil
}

// VolumeHandle tracks a created volume until ownership passes to the
// instance's block device table on successful attachment.
type VolumeHandle struct {
	VolumeID string
}

// createVolume issues the create request in the instance's
// availability zone and waits for the volume to become available. A
// volume that never reaches the available state is deleted before the
// error is returned, so no billable residue is left behind.
func (p *Provisioner) createVolume(ctx context.Context, req VolumeRequest) (VolumeHandle, error) {
	input := &ec2.CreateVolumeInput{
		AvailabilityZone: aws.String(p.instance.AvailabilityZone),
		Size:             aws.Int32(int32(req.SizeGB)),
		VolumeType:       types.VolumeType(req.Type),
		TagSpecifications: []types.TagSpecification{{
			ResourceType: types.ResourceTypeVolume,
			Tags: []types.Tag{{
				Key:   aws.String(sourceInstanceTag),
				Value: aws.String(p.instance.InstanceID),
			}, {
				Key:   aws.String("Name"),
				Value: aws.String(nameTagValue),
			}},
		}},
	}
	if VolumeTypeAcceptsIOPS(req.Type) && req.IOPS > 0 {
		input.Iops = aws.Int32(int32(req.IOPS))
	}
	if req.Type == "gp3" && req.ThroughputMBs > 0 {
		input.Throughput = aws.Int32(int32(req.ThroughputMBs))
	}
	if req.Encrypted {
		input.Encrypted = aws.Bool(true)
	}

	out, err := p.api.CreateVolume(ctx, input)
	if err != nil {
		logger.Errorf("creating %d GiB %s volume: %s", req.SizeGB, req.Type, providerErrorDetail(err))
		return VolumeHandle{}, errors.Annotatef(err, "creating %d GiB %s volume", req.SizeGB, req.Type)
	}
	volumeID := aws.ToString(out.VolumeId)
	logger.Infof("created volume %q (%d GiB, %s) in %s", volumeID, req.SizeGB, req.Type, p.instance.AvailabilityZone)

	if err := p.waitVolumeAvailable(ctx, volumeID); err != nil {
		p.deleteVolume(ctx, volumeID)
		return VolumeHandle{}, errors.Trace(err)
	}
	return VolumeHandle{VolumeID: volumeID}, nil
}

// waitVolumeAvailable polls until the provider reports the volume in
// the available state.
func (p *Provisioner) waitVolumeAvailable(ctx context.Context, volumeID string) error {
	errNotAvailable := errors.Errorf("volume %q not yet available", volumeID)
	err := retry.Call(retry.CallArgs{
		Clock:       p.clock,
		Delay:       p.pollInterval,
		Attempts:    retry.UnlimitedAttempts,
		MaxDuration: p.waitTimeout,
		Stop:        ctx.Done(),
		Func: func() error {
			out, err := p.api.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{
				VolumeIds: []string{volumeID},
			})
			if err != nil {
				// Eventual consistency: a just-created volume may not
				// be visible to describe yet.
				logger.Debugf("describing volume %q: %s", volumeID, providerErrorDetail(err))
				return errNotAvailable
			}
			for _, vol := range out.Volumes {
				switch vol.State {
				case types.VolumeStateAvailable:
					return nil
				case types.VolumeStateError:
					return errors.Errorf("volume %q entered error state", volumeID)
				}
			}
			return errNotAvailable
		},
		IsFatalError: func(err error) bool {
			return err != errNotAvailable
		},
		NotifyFunc: func(lastError error, attempt int) {
			logger.Debugf("waiting for volume %q to become available, attempt %d", volumeID, attempt)
		},
	})
	switch {
	case err == nil:
		logger.Infof("volume %q is available", volumeID)
		return nil
	case retry.IsDurationExceeded(err):
		return errors.Timeoutf("volume %q did not become available within %v", volumeID, p.waitTimeout)
	case retry.IsRetryStopped(err):
		return errors.Annotatef(ctx.Err(), "waiting for volume %q to become available", volumeID)
	}
	return errors.Trace(err)
}

// deleteVolume is the compensating action for a volume that never
// made it to attached. Deletion is best-effort: its own failure is
// logged loudly but not surfaced, per the attachment error contract.
func (p *Provisioner) deleteVolume(ctx context.Context, volumeID string) {
	// Compensation must still run when the invocation itself was
	// cancelled; the alternative is an orphaned, billed volume.
	ctx = context.WithoutCancel(ctx)
	if _, err := p.api.DeleteVolume(ctx, &ec2.DeleteVolumeInput{
		VolumeId: aws.String(volumeID),
	}); err != nil {
		logger.Warningf(
			"compensating delete of volume %q failed, volume may be orphaned (tagged %s=%s): %s",
			volumeID, sourceInstanceTag, p.instance.InstanceID, providerErrorDetail(err),
		)
		return
	}
	logger.Infof("deleted volume %q", volumeID)
}
