// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package ebs

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/eyeonall/amazon-ebs-autoscale/internal/ebs/internal/ec2test"
)

type volumesSuite struct {
	baseSuite
}

var _ = gc.Suite(&volumesSuite{})

func (s *volumesSuite) TestVolumeRequestValidate(c *gc.C) {
	for i, test := range []struct {
		req VolumeRequest
		err string
	}{{
		req: VolumeRequest{SizeGB: 20, Type: "standard"},
	}, {
		req: VolumeRequest{SizeGB: 20, Type: "gp3", IOPS: 3000, ThroughputMBs: 125, Encrypted: true},
	}, {
		req: VolumeRequest{SizeGB: 100, Type: "io2", IOPS: 8000},
	}, {
		req: VolumeRequest{Type: "gp3"},
		err: "volume size 0 GiB not valid",
	}, {
		req: VolumeRequest{SizeGB: -5, Type: "gp3"},
		err: "volume size -5 GiB not valid",
	}, {
		req: VolumeRequest{SizeGB: 20, Type: "floppy"},
		err: `volume type "floppy" not valid`,
	}, {
		req: VolumeRequest{SizeGB: 20, Type: "io1"},
		err: `volume type "io1" without an IOPS rate not valid`,
	}, {
		req: VolumeRequest{SizeGB: 20, Type: "standard", IOPS: 100},
		err: `IOPS rate with volume type "standard" not valid`,
	}, {
		req: VolumeRequest{SizeGB: 20, Type: "gp2", ThroughputMBs: 125},
		err: `throughput with volume type "gp2" not valid`,
	}} {
		c.Logf("test %d: %+v", i, test.req)
		err := test.req.Validate()
		if test.err == "" {
			c.Check(err, jc.ErrorIsNil)
		} else {
			c.Check(err, gc.ErrorMatches, test.err)
			c.Check(err, jc.ErrorIs, errors.NotValid)
		}
	}
}

func (s *volumesSuite) TestCreateVolumeTagsAndParameters(c *gc.C) {
	p := s.newProvisioner(c, nil)
	handle, err := p.createVolume(context.Background(), VolumeRequest{
		SizeGB:    100,
		Type:      "io2",
		IOPS:      8000,
		Encrypted: true,
	})
	c.Assert(err, jc.ErrorIsNil)

	vol, ok := s.server.Volume(handle.VolumeID)
	c.Assert(ok, jc.IsTrue)
	c.Assert(vol.SizeGB, gc.Equals, int32(100))
	c.Assert(vol.Type, gc.Equals, types.VolumeTypeIo2)
	c.Assert(vol.IOPS, gc.Equals, int32(8000))
	c.Assert(vol.Encrypted, jc.IsTrue)
	c.Assert(vol.State, gc.Equals, types.VolumeStateAvailable)
	c.Assert(vol.Tags["source-instance"], gc.Equals, testInstanceID)
	c.Assert(vol.Tags["Name"], gc.Equals, "ebs-autoscale-volume")
}

func (s *volumesSuite) TestCreateVolumeOmitsInapplicableParameters(c *gc.C) {
	p := s.newProvisioner(c, nil)
	handle, err := p.createVolume(context.Background(), VolumeRequest{
		SizeGB: 20,
		Type:   "standard",
	})
	c.Assert(err, jc.ErrorIsNil)

	vol, ok := s.server.Volume(handle.VolumeID)
	c.Assert(ok, jc.IsTrue)
	c.Assert(vol.IOPS, gc.Equals, int32(0))
	c.Assert(vol.Throughput, gc.Equals, int32(0))
	c.Assert(vol.Encrypted, jc.IsFalse)
}

func (s *volumesSuite) TestCreateVolumeGp3Throughput(c *gc.C) {
	p := s.newProvisioner(c, nil)
	handle, err := p.createVolume(context.Background(), VolumeRequest{
		SizeGB:        20,
		Type:          "gp3",
		IOPS:          3000,
		ThroughputMBs: 250,
	})
	c.Assert(err, jc.ErrorIsNil)

	vol, ok := s.server.Volume(handle.VolumeID)
	c.Assert(ok, jc.IsTrue)
	c.Assert(vol.IOPS, gc.Equals, int32(3000))
	c.Assert(vol.Throughput, gc.Equals, int32(250))
}

func (s *volumesSuite) TestCreateVolumeProviderErrorPreserved(c *gc.C) {
	s.server.CreateError = ec2test.APIError(
		"VolumeLimitExceeded", "you have exceeded your maximum gp3 storage limit",
	)
	p := s.newProvisioner(c, nil)
	_, err := p.createVolume(context.Background(), VolumeRequest{SizeGB: 20, Type: "gp3"})
	c.Assert(err, gc.ErrorMatches,
		`creating 20 GiB gp3 volume: .*VolumeLimitExceeded.*maximum gp3 storage limit.*`)
}

func (s *volumesSuite) TestCreateVolumeWaitsForAvailable(c *gc.C) {
	// The volume only reports available after several describes.
	s.server.AvailableAfterDescribes = 3
	p := s.newProvisioner(c, nil)
	handle, err := p.createVolume(context.Background(), VolumeRequest{SizeGB: 20, Type: "gp3"})
	c.Assert(err, jc.ErrorIsNil)

	vol, ok := s.server.Volume(handle.VolumeID)
	c.Assert(ok, jc.IsTrue)
	c.Assert(vol.State, gc.Equals, types.VolumeStateAvailable)
}

func (s *volumesSuite) TestCreateVolumeWaitTimeoutDeletesVolume(c *gc.C) {
	// Never becomes available within the wait budget.
	s.server.AvailableAfterDescribes = 1 << 30
	p := s.newProvisioner(c, func(cfg *Config) {
		cfg.WaitTimeout = 20 * time.Millisecond
	})
	_, err := p.createVolume(context.Background(), VolumeRequest{SizeGB: 20, Type: "gp3"})
	c.Assert(err, jc.Satisfies, errors.IsTimeout)
	// The unusable volume was cleaned up.
	c.Assert(s.server.DeleteCalls, gc.HasLen, 1)
}

func (s *volumesSuite) TestCreateVolumeWaitCancelled(c *gc.C) {
	s.server.AvailableAfterDescribes = 1 << 30
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := s.newProvisioner(c, nil)
	_, err := p.createVolume(ctx, VolumeRequest{SizeGB: 20, Type: "gp3"})
	c.Assert(err, gc.NotNil)
	c.Assert(s.server.DeleteCalls, gc.HasLen, 1)
}
