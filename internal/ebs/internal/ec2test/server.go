// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package ec2test implements an in-memory double of the subset of the
// EC2 API used by the provisioner.
package ec2test

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
)

// Volume is the server's record of a volume.
type Volume struct {
	ID         string
	SizeGB     int32
	Type       types.VolumeType
	IOPS       int32
	Throughput int32
	Encrypted  bool
	State      types.VolumeState
	Tags       map[string]string

	// AttachedTo and Device are set once the volume is attached.
	AttachedTo string
	Device     string

	// DeleteOnTermination mirrors the instance block device mapping
	// flag for the attachment.
	DeleteOnTermination bool

	// describesRemaining counts describe calls left before a creating
	// volume flips to available.
	describesRemaining int
}

// Server fakes the EC2 volume API.
type Server struct {
	mu      sync.Mutex
	volumes map[string]*Volume
	nextID  int

	// AvailableAfterDescribes makes newly created volumes report the
	// creating state for that many describe calls before becoming
	// available. Zero means immediately available.
	AvailableAfterDescribes int

	// CreateError, AttachError, DeleteError and ModifyError, when
	// set, fail the corresponding API call.
	CreateError error
	AttachError error
	DeleteError error
	ModifyError error

	// Call recorders.
	CreateCalls int
	AttachCalls int
	DeleteCalls []string
	ModifyCalls int
}

// NewServer returns an empty fake EC2 server.
func NewServer() *Server {
	return &Server{
		volumes: make(map[string]*Volume),
	}
}

// APIError builds a provider error with the given code, as the real
// service would return it.
func APIError(code, format string, args ...interface{}) error {
	return &smithy.GenericAPIError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

func apiError(code, format string, args ...interface{}) error {
	return APIError(code, format, args...)
}

// AddVolume seeds the server with an existing volume and returns its
// ID.
func (s *Server) AddVolume(v Volume) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	v.ID = fmt.Sprintf("vol-%08d", s.nextID)
	if v.State == "" {
		v.State = types.VolumeStateAvailable
	}
	if v.AttachedTo != "" {
		v.State = types.VolumeStateInUse
	}
	if v.Tags == nil {
		v.Tags = make(map[string]string)
	}
	s.volumes[v.ID] = &v
	return v.ID
}

// DeviceAttached reports whether a volume is attached to the instance
// at the given device name.
func (s *Server) DeviceAttached(instanceID, device string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.volumes {
		if v.AttachedTo == instanceID && v.Device == device {
			return true
		}
	}
	return false
}

// Volume returns a copy of the server's record for the given ID.
func (s *Server) Volume(id string) (Volume, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.volumes[id]
	if !ok {
		return Volume{}, false
	}
	return *v, true
}

// DescribeVolumes implements the provisioner's API interface.
func (s *Server) DescribeVolumes(
	_ context.Context,
	input *ec2.DescribeVolumesInput,
	_ ...func(*ec2.Options),
) (*ec2.DescribeVolumesOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*Volume
	if len(input.VolumeIds) > 0 {
		for _, id := range input.VolumeIds {
			v, ok := s.volumes[id]
			if !ok {
				return nil, apiError("InvalidVolume.NotFound", "volume %s does not exist", id)
			}
			matched = append(matched, v)
		}
	} else {
		for _, v := range s.volumes {
			matched = append(matched, v)
		}
	}

	var out []types.Volume
	for _, v := range matched {
		if !matchesFilters(v, input.Filters) {
			continue
		}
		if v.State == types.VolumeStateCreating {
			if v.describesRemaining > 0 {
				v.describesRemaining--
			} else {
				v.State = types.VolumeStateAvailable
			}
		}
		out = append(out, toAPIVolume(v))
	}
	return &ec2.DescribeVolumesOutput{Volumes: out}, nil
}

func matchesFilters(v *Volume, filters []types.Filter) bool {
	for _, f := range filters {
		name := aws.ToString(f.Name)
		switch {
		case name == "attachment.instance-id":
			if v.AttachedTo == "" || !containsValue(f.Values, v.AttachedTo) {
				return false
			}
		case strings.HasPrefix(name, "tag:"):
			key := strings.TrimPrefix(name, "tag:")
			value, ok := v.Tags[key]
			if !ok || !containsValue(f.Values, value) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func containsValue(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

func toAPIVolume(v *Volume) types.Volume {
	out := types.Volume{
		VolumeId:   aws.String(v.ID),
		Size:       aws.Int32(v.SizeGB),
		VolumeType: v.Type,
		State:      v.State,
		Encrypted:  aws.Bool(v.Encrypted),
	}
	for key, value := range v.Tags {
		out.Tags = append(out.Tags, types.Tag{
			Key:   aws.String(key),
			Value: aws.String(value),
		})
	}
	if v.AttachedTo != "" {
		out.Attachments = []types.VolumeAttachment{{
			VolumeId:            aws.String(v.ID),
			InstanceId:          aws.String(v.AttachedTo),
			Device:              aws.String(v.Device),
			State:               types.VolumeAttachmentStateAttached,
			DeleteOnTermination: aws.Bool(v.DeleteOnTermination),
		}}
	}
	return out
}

// CreateVolume implements the provisioner's API interface.
func (s *Server) CreateVolume(
	_ context.Context,
	input *ec2.CreateVolumeInput,
	_ ...func(*ec2.Options),
) (*ec2.CreateVolumeOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CreateCalls++
	if s.CreateError != nil {
		return nil, s.CreateError
	}
	if aws.ToString(input.AvailabilityZone) == "" {
		return nil, apiError("MissingParameter", "availability zone is required")
	}

	s.nextID++
	v := &Volume{
		ID:                 fmt.Sprintf("vol-%08d", s.nextID),
		SizeGB:             aws.ToInt32(input.Size),
		Type:               input.VolumeType,
		IOPS:               aws.ToInt32(input.Iops),
		Throughput:         aws.ToInt32(input.Throughput),
		Encrypted:          aws.ToBool(input.Encrypted),
		State:              types.VolumeStateCreating,
		Tags:               make(map[string]string),
		describesRemaining: s.AvailableAfterDescribes,
	}
	for _, spec := range input.TagSpecifications {
		if spec.ResourceType != types.ResourceTypeVolume {
			continue
		}
		for _, tag := range spec.Tags {
			v.Tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
		}
	}
	s.volumes[v.ID] = v

	return &ec2.CreateVolumeOutput{
		VolumeId:         aws.String(v.ID),
		Size:             input.Size,
		VolumeType:       input.VolumeType,
		AvailabilityZone: input.AvailabilityZone,
		State:            types.VolumeStateCreating,
	}, nil
}

// DeleteVolume implements the provisioner's API interface.
func (s *Server) DeleteVolume(
	_ context.Context,
	input *ec2.DeleteVolumeInput,
	_ ...func(*ec2.Options),
) (*ec2.DeleteVolumeOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := aws.ToString(input.VolumeId)
	s.DeleteCalls = append(s.DeleteCalls, id)
	if s.DeleteError != nil {
		return nil, s.DeleteError
	}
	v, ok := s.volumes[id]
	if !ok {
		return nil, apiError("InvalidVolume.NotFound", "volume %s does not exist", id)
	}
	if v.State == types.VolumeStateInUse {
		return nil, apiError("VolumeInUse", "volume %s is attached to %s", id, v.AttachedTo)
	}
	delete(s.volumes, id)
	return &ec2.DeleteVolumeOutput{}, nil
}

// AttachVolume implements the provisioner's API interface.
func (s *Server) AttachVolume(
	_ context.Context,
	input *ec2.AttachVolumeInput,
	_ ...func(*ec2.Options),
) (*ec2.AttachVolumeOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AttachCalls++
	if s.AttachError != nil {
		return nil, s.AttachError
	}
	id := aws.ToString(input.VolumeId)
	v, ok := s.volumes[id]
	if !ok {
		return nil, apiError("InvalidVolume.NotFound", "volume %s does not exist", id)
	}
	if v.State != types.VolumeStateAvailable {
		return nil, apiError("IncorrectState", "volume %s is %s", id, v.State)
	}
	device := aws.ToString(input.Device)
	for _, other := range s.volumes {
		if other.AttachedTo == aws.ToString(input.InstanceId) && other.Device == device {
			return nil, apiError("InvalidParameterValue", "device %s is already in use", device)
		}
	}
	v.State = types.VolumeStateInUse
	v.AttachedTo = aws.ToString(input.InstanceId)
	v.Device = device
	return &ec2.AttachVolumeOutput{
		VolumeId:   input.VolumeId,
		InstanceId: input.InstanceId,
		Device:     input.Device,
		State:      types.VolumeAttachmentStateAttaching,
	}, nil
}

// ModifyInstanceAttribute implements the provisioner's API interface.
func (s *Server) ModifyInstanceAttribute(
	_ context.Context,
	input *ec2.ModifyInstanceAttributeInput,
	_ ...func(*ec2.Options),
) (*ec2.ModifyInstanceAttributeOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ModifyCalls++
	if s.ModifyError != nil {
		return nil, s.ModifyError
	}
	instanceID := aws.ToString(input.InstanceId)
	for _, mapping := range input.BlockDeviceMappings {
		device := aws.ToString(mapping.DeviceName)
		var found bool
		for _, v := range s.volumes {
			if v.AttachedTo == instanceID && v.Device == device {
				if mapping.Ebs != nil {
					v.DeleteOnTermination = aws.ToBool(mapping.Ebs.DeleteOnTermination)
				}
				found = true
			}
		}
		if !found {
			return nil, apiError("InvalidParameterValue", "no volume attached at %s", device)
		}
	}
	return &ec2.ModifyInstanceAttributeOutput{}, nil
}
