// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package ebs

import (
	"context"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/juju/errors"
)

// API is the subset of the EC2 API consumed when provisioning and
// attaching volumes.
type API interface {
	// DescribeVolumes returns volumes matching the given filters or IDs.
	DescribeVolumes(
		ctx context.Context,
		params *ec2.DescribeVolumesInput,
		optFns ...func(*ec2.Options),
	) (*ec2.DescribeVolumesOutput, error)

	// CreateVolume creates a new volume in an availability zone.
	CreateVolume(
		ctx context.Context,
		params *ec2.CreateVolumeInput,
		optFns ...func(*ec2.Options),
	) (*ec2.CreateVolumeOutput, error)

	// DeleteVolume deletes an unattached volume.
	DeleteVolume(
		ctx context.Context,
		params *ec2.DeleteVolumeInput,
		optFns ...func(*ec2.Options),
	) (*ec2.DeleteVolumeOutput, error)

	// AttachVolume exposes a volume to an instance at a device name.
	AttachVolume(
		ctx context.Context,
		params *ec2.AttachVolumeInput,
		optFns ...func(*ec2.Options),
	) (*ec2.AttachVolumeOutput, error)

	// ModifyInstanceAttribute updates the instance's block device
	// mappings, in particular the delete-on-termination flag.
	ModifyInstanceAttribute(
		ctx context.Context,
		params *ec2.ModifyInstanceAttributeInput,
		optFns ...func(*ec2.Options),
	) (*ec2.ModifyInstanceAttributeOutput, error)
}

// NewAPI dials an EC2 client for the given region using the ambient
// credential chain.
func NewAPI(ctx context.Context, region string) (API, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, errors.Annotate(err, "loading AWS configuration")
	}
	return ec2.NewFromConfig(cfg), nil
}
