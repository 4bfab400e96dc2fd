// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package ebs

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/juju/collections/set"
	"github.com/juju/errors"

	"github.com/eyeonall/amazon-ebs-autoscale/internal/metadata"
)

// sourceInstanceTag marks volumes created by this tool with the
// instance that created them. The quota evaluator reads the same tag
// back, and it is what makes external reconciliation of interrupted
// runs possible.
const sourceInstanceTag = "source-instance"

// ResourceLimits are the per-instance ceilings enforced before any
// volume is created.
type ResourceLimits struct {
	// MaxTotalCreatedSizeGB bounds the summed size of volumes this
	// instance has created for itself.
	MaxTotalCreatedSizeGB int

	// MaxCreatedVolumes bounds how many volumes this instance may
	// create for itself.
	MaxCreatedVolumes int

	// MaxAttachedVolumes bounds how many volumes may be attached to
	// the instance, regardless of who created them.
	MaxAttachedVolumes int
}

// Validate returns an error if any ceiling is not a positive integer.
func (l ResourceLimits) Validate() error {
	if l.MaxTotalCreatedSizeGB <= 0 {
		return errors.NotValidf("max total created size %d", l.MaxTotalCreatedSizeGB)
	}
	if l.MaxCreatedVolumes <= 0 {
		return errors.NotValidf("max created volumes %d", l.MaxCreatedVolumes)
	}
	if l.MaxAttachedVolumes <= 0 {
		return errors.NotValidf("max attached volumes %d", l.MaxAttachedVolumes)
	}
	return nil
}

// checkLimits evaluates the three ceilings against live provider
// state. Concurrent invocations on the same instance are possible, so
// nothing here may be cached between calls. The first ceiling found
// met or exceeded wins: total size, then created count, then attached
// count.
func checkLimits(ctx context.Context, api API, inst metadata.InstanceContext, limits ResourceLimits) error {
	created, err := describeAllVolumes(ctx, api, []types.Filter{{
		Name:   aws.String("tag:" + sourceInstanceTag),
		Values: []string{inst.InstanceID},
	}})
	if err != nil {
		return errors.Annotate(err, "describing created volumes")
	}
	var totalSizeGB int
	createdIDs := set.NewStrings()
	for _, vol := range created {
		totalSizeGB += int(aws.ToInt32(vol.Size))
		createdIDs.Add(aws.ToString(vol.VolumeId))
	}

	attached, err := describeAllVolumes(ctx, api, []types.Filter{{
		Name:   aws.String("attachment.instance-id"),
		Values: []string{inst.InstanceID},
	}})
	if err != nil {
		return errors.Annotate(err, "describing attached volumes")
	}
	attachedIDs := set.NewStrings()
	for _, vol := range attached {
		attachedIDs.Add(aws.ToString(vol.VolumeId))
	}

	logger.Debugf(
		"instance %q usage: %d GiB over %d created volumes, %d attached",
		inst.InstanceID, totalSizeGB, createdIDs.Size(), attachedIDs.Size(),
	)
	if totalSizeGB >= limits.MaxTotalCreatedSizeGB {
		return &LimitError{Kind: LimitTotalSize, Current: totalSizeGB, Ceiling: limits.MaxTotalCreatedSizeGB}
	}
	if createdIDs.Size() >= limits.MaxCreatedVolumes {
		return &LimitError{Kind: LimitCreatedCount, Current: createdIDs.Size(), Ceiling: limits.MaxCreatedVolumes}
	}
	if attachedIDs.Size() >= limits.MaxAttachedVolumes {
		return &LimitError{Kind: LimitAttachedCount, Current: attachedIDs.Size(), Ceiling: limits.MaxAttachedVolumes}
	}
	return nil
}

// describeAllVolumes pages through DescribeVolumes results for the
// given filters.
func describeAllVolumes(ctx context.Context, api API, filters []types.Filter) ([]types.Volume, error) {
	var volumes []types.Volume
	var nextToken *string
	for {
		out, err := api.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{
			Filters:   filters,
			NextToken: nextToken,
		})
		if err != nil {
			return nil, errors.Trace(err)
		}
		volumes = append(volumes, out.Volumes...)
		if out.NextToken == nil {
			return volumes, nil
		}
		nextToken = out.NextToken
	}
}
