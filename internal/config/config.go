// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package config loads the ebs-autoscale configuration file and
// resolves defaults for volume creation and resource ceilings.
package config

import (
	"encoding/json"
	"os"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/schema"
)

var logger = loggo.GetLogger("ebsautoscale.config")

// DefaultPath is where the installer writes the configuration file.
const DefaultPath = "/etc/ebs-autoscale.json"

const (
	attrVolumeType          = "volume-type"
	attrVolumeIOPS          = "volume-iops"
	attrVolumeThroughput    = "volume-throughput"
	attrEncrypted           = "encrypted"
	attrMaxTotalCreatedSize = "max-total-created-size"
	attrMaxCreatedVolumes   = "max-created-volumes"
	attrMaxAttachedVolumes  = "max-attached-volumes"
)

var configChecker = schema.FieldMap(schema.Fields{
	attrVolumeType:          schema.String(),
	attrVolumeIOPS:          schema.ForceInt(),
	attrVolumeThroughput:    schema.ForceInt(),
	attrEncrypted:           schema.Bool(),
	attrMaxTotalCreatedSize: schema.ForceInt(),
	attrMaxCreatedVolumes:   schema.ForceInt(),
	attrMaxAttachedVolumes:  schema.ForceInt(),
}, schema.Defaults{
	attrVolumeType:          "gp3",
	attrVolumeIOPS:          3000,
	attrVolumeThroughput:    125,
	attrEncrypted:           true,
	attrMaxTotalCreatedSize: 1024,
	attrMaxCreatedVolumes:   16,
	attrMaxAttachedVolumes:  16,
})

// Settings holds the defaults used when creating volumes. CLI flags
// override individual fields after loading; the struct is not read
// again once the provisioner has been configured.
type Settings struct {
	VolumeType            string
	VolumeIOPS            int
	VolumeThroughput      int
	Encrypted             bool
	MaxTotalCreatedSizeGB int
	MaxCreatedVolumes     int
	MaxAttachedVolumes    int
}

// Default returns the settings used when no configuration file exists.
func Default() Settings {
	settings, err := fromAttrs(map[string]interface{}{})
	if err != nil {
		// The empty document always coerces.
		panic(err)
	}
	return settings
}

// Load reads settings from the JSON configuration file at path. A
// missing file at the default path is not an error; the defaults are
// returned instead.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) && path == DefaultPath {
		logger.Debugf("no configuration file at %q, using defaults", path)
		return Default(), nil
	} else if err != nil {
		return Settings{}, errors.Annotatef(err, "reading configuration file %q", path)
	}
	var attrs map[string]interface{}
	if err := json.Unmarshal(data, &attrs); err != nil {
		return Settings{}, errors.Annotatef(err, "parsing configuration file %q", path)
	}
	settings, err := fromAttrs(attrs)
	if err != nil {
		return Settings{}, errors.Annotatef(err, "invalid configuration file %q", path)
	}
	logger.Debugf("loaded configuration from %q", path)
	return settings, nil
}

func fromAttrs(attrs map[string]interface{}) (Settings, error) {
	coerced, err := configChecker.Coerce(attrs, nil)
	if err != nil {
		return Settings{}, errors.Trace(err)
	}
	valid := coerced.(map[string]interface{})
	return Settings{
		VolumeType:            valid[attrVolumeType].(string),
		VolumeIOPS:            valid[attrVolumeIOPS].(int),
		VolumeThroughput:      valid[attrVolumeThroughput].(int),
		Encrypted:             valid[attrEncrypted].(bool),
		MaxTotalCreatedSizeGB: valid[attrMaxTotalCreatedSize].(int),
		MaxCreatedVolumes:     valid[attrMaxCreatedVolumes].(int),
		MaxAttachedVolumes:    valid[attrMaxAttachedVolumes].(int),
	}, nil
}
