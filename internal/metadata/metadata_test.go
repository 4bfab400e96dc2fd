// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package metadata_test

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/eyeonall/amazon-ebs-autoscale/internal/metadata"
)

type identityClientFunc func(
	context.Context,
	*imds.GetInstanceIdentityDocumentInput,
	...func(*imds.Options),
) (*imds.GetInstanceIdentityDocumentOutput, error)

func (f identityClientFunc) GetInstanceIdentityDocument(
	ctx context.Context,
	params *imds.GetInstanceIdentityDocumentInput,
	optFns ...func(*imds.Options),
) (*imds.GetInstanceIdentityDocumentOutput, error) {
	return f(ctx, params, optFns...)
}

type metadataSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&metadataSuite{})

func (s *metadataSuite) TestFetchInstanceContext(c *gc.C) {
	client := identityClientFunc(func(
		_ context.Context,
		_ *imds.GetInstanceIdentityDocumentInput,
		_ ...func(*imds.Options),
	) (*imds.GetInstanceIdentityDocumentOutput, error) {
		return &imds.GetInstanceIdentityDocumentOutput{
			InstanceIdentityDocument: imds.InstanceIdentityDocument{
				InstanceID:       "i-0123456789abcdef0",
				AvailabilityZone: "us-east-1a",
				Region:           "us-east-1",
			},
		}, nil
	})
	instCtx, err := metadata.FetchInstanceContext(context.Background(), client)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(instCtx, gc.DeepEquals, metadata.InstanceContext{
		InstanceID:       "i-0123456789abcdef0",
		AvailabilityZone: "us-east-1a",
		Region:           "us-east-1",
	})
}

func (s *metadataSuite) TestFetchInstanceContextError(c *gc.C) {
	client := identityClientFunc(func(
		_ context.Context,
		_ *imds.GetInstanceIdentityDocumentInput,
		_ ...func(*imds.Options),
	) (*imds.GetInstanceIdentityDocumentOutput, error) {
		return nil, errors.New("metadata service unreachable")
	})
	_, err := metadata.FetchInstanceContext(context.Background(), client)
	c.Assert(err, gc.ErrorMatches, "resolving instance identity: metadata service unreachable")
}

func (s *metadataSuite) TestFetchInstanceContextIncomplete(c *gc.C) {
	client := identityClientFunc(func(
		_ context.Context,
		_ *imds.GetInstanceIdentityDocumentInput,
		_ ...func(*imds.Options),
	) (*imds.GetInstanceIdentityDocumentOutput, error) {
		return &imds.GetInstanceIdentityDocumentOutput{
			InstanceIdentityDocument: imds.InstanceIdentityDocument{
				InstanceID: "i-0123456789abcdef0",
			},
		}, nil
	})
	_, err := metadata.FetchInstanceContext(context.Background(), client)
	c.Assert(err, jc.ErrorIs, errors.NotValid)
}
