// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package metadata resolves the identity of the EC2 instance the
// process is running on from the instance metadata service.
package metadata

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
)

var logger = loggo.GetLogger("ebsautoscale.metadata")

// InstanceContext identifies the instance volumes will be created for
// and attached to. It is resolved once per invocation and treated as
// immutable thereafter.
type InstanceContext struct {
	InstanceID       string
	AvailabilityZone string
	Region           string
}

// Validate returns an error if the context is incomplete.
func (c InstanceContext) Validate() error {
	if c.InstanceID == "" {
		return errors.NotValidf("empty instance ID")
	}
	if c.AvailabilityZone == "" {
		return errors.NotValidf("empty availability zone")
	}
	if c.Region == "" {
		return errors.NotValidf("empty region")
	}
	return nil
}

// IdentityClient is the subset of the instance metadata service client
// used to resolve instance identity.
type IdentityClient interface {
	GetInstanceIdentityDocument(
		ctx context.Context,
		params *imds.GetInstanceIdentityDocumentInput,
		optFns ...func(*imds.Options),
	) (*imds.GetInstanceIdentityDocumentOutput, error)
}

// FetchInstanceContext queries the metadata service for the identity
// document of the running instance.
func FetchInstanceContext(ctx context.Context, client IdentityClient) (InstanceContext, error) {
	out, err := client.GetInstanceIdentityDocument(ctx, &imds.GetInstanceIdentityDocumentInput{})
	if err != nil {
		return InstanceContext{}, errors.Annotate(err, "resolving instance identity")
	}
	doc := out.InstanceIdentityDocument
	instCtx := InstanceContext{
		InstanceID:       doc.InstanceID,
		AvailabilityZone: doc.AvailabilityZone,
		Region:           doc.Region,
	}
	if err := instCtx.Validate(); err != nil {
		return InstanceContext{}, errors.Annotate(err, "incomplete instance identity document")
	}
	logger.Debugf("running on instance %q in %s", instCtx.InstanceID, instCtx.AvailabilityZone)
	return instCtx, nil
}
