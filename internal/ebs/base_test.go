// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package ebs

import (
	"time"

	"github.com/juju/clock"
	"github.com/juju/collections/set"
	"github.com/juju/mutex/v2"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/eyeonall/amazon-ebs-autoscale/internal/ebs/internal/ec2test"
	"github.com/eyeonall/amazon-ebs-autoscale/internal/metadata"
)

const testInstanceID = "i-0feedfacedeadbeef"

type baseSuite struct {
	testing.IsolationSuite

	server *ec2test.Server
	inst   metadata.InstanceContext

	// occupiedDevices are paths that already hold a block device
	// before the provisioner runs.
	occupiedDevices set.Strings

	// deviceVisibleDelay is how many visibility polls an attached
	// device stays invisible for, simulating the lag between the API
	// accepting an attachment and the device appearing locally.
	deviceVisibleDelay int
	devicePolls        map[string]int

	mutexAcquired int
	mutexReleased int
}

func (s *baseSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.server = ec2test.NewServer()
	s.inst = metadata.InstanceContext{
		InstanceID:       testInstanceID,
		AvailabilityZone: "us-east-1a",
		Region:           "us-east-1",
	}
	s.occupiedDevices = set.NewStrings()
	s.deviceVisibleDelay = 0
	s.devicePolls = make(map[string]int)
	s.mutexAcquired = 0
	s.mutexReleased = 0
}

// deviceExists is the provisioner's view of the local device table:
// pre-occupied paths exist, and a device attached through the fake
// server appears after deviceVisibleDelay polls.
func (s *baseSuite) deviceExists(path string) bool {
	if s.occupiedDevices.Contains(path) {
		return true
	}
	if !s.server.DeviceAttached(testInstanceID, path) {
		return false
	}
	s.devicePolls[path]++
	return s.devicePolls[path] > s.deviceVisibleDelay
}

type fakeReleaser struct {
	released *int
}

func (r *fakeReleaser) Release() {
	*r.released++
}

func (s *baseSuite) acquireMutex(spec mutex.Spec) (mutex.Releaser, error) {
	s.mutexAcquired++
	return &fakeReleaser{released: &s.mutexReleased}, nil
}

// newProvisioner builds a provisioner against the fake server with
// short polling so waits resolve quickly in tests.
func (s *baseSuite) newProvisioner(c *gc.C, tweak func(*Config)) *Provisioner {
	cfg := Config{
		API:      s.server,
		Instance: s.inst,
		Limits: ResourceLimits{
			MaxTotalCreatedSizeGB: 1024,
			MaxCreatedVolumes:     16,
			MaxAttachedVolumes:    16,
		},
		Clock:        clock.WallClock,
		PollInterval: time.Millisecond,
		WaitTimeout:  time.Second,
		DeviceExists: s.deviceExists,
		AcquireMutex: s.acquireMutex,
	}
	if tweak != nil {
		tweak(&cfg)
	}
	p, err := NewProvisioner(cfg)
	c.Assert(err, jc.ErrorIsNil)
	return p
}
