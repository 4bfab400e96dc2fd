// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// create-ebs-volume provisions an EBS volume and attaches it to the
// instance the command runs on, printing the resulting block device
// path on success. It is intended to be invoked by the disk
// autoscaling service when the monitored filesystem nears capacity.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"

	"github.com/eyeonall/amazon-ebs-autoscale/internal/config"
	"github.com/eyeonall/amazon-ebs-autoscale/internal/ebs"
	"github.com/eyeonall/amazon-ebs-autoscale/internal/metadata"
)

const usageDoc = `Usage: create-ebs-volume --size <GiB> [options]

Creates an EBS volume in the availability zone of the instance this
command runs on, attaches it at the first unused /dev/xvdb* device
name, marks it for deletion on instance termination, and prints the
device path on standard output.

Defaults for the volume type, IOPS, throughput, encryption and the
resource ceilings come from the configuration file; command line
options override them for a single invocation.

Options:
`

func main() {
	os.Exit(Main(os.Args[1:]))
}

// Main runs the command with the given arguments and returns the
// process exit code.
func Main(args []string) int {
	cmd := &createCommand{}
	f := gnuflag.NewFlagSetWithFlagKnownAs("create-ebs-volume", gnuflag.ContinueOnError, "option")
	f.SetOutput(io.Discard)
	cmd.setFlags(f)
	if err := f.Parse(true, args); err != nil {
		if err == gnuflag.ErrHelp {
			printUsage(f, os.Stdout)
			return 0
		}
		fmt.Fprintf(os.Stderr, "ERROR %v\n", err)
		printUsage(f, os.Stderr)
		return 1
	}
	if err := cmd.init(f.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR %v\n", err)
		printUsage(f, os.Stderr)
		return 1
	}

	spec := "<root>=WARNING"
	if cmd.verbose {
		spec = "<root>=DEBUG"
	}
	if err := loggo.ConfigureLoggers(spec); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR %v\n", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	device, err := cmd.run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR %v\n", err)
		return 1
	}
	fmt.Fprintln(os.Stdout, device)
	return 0
}

func printUsage(f *gnuflag.FlagSet, w io.Writer) {
	fmt.Fprint(w, usageDoc)
	f.SetOutput(w)
	f.PrintDefaults()
	f.SetOutput(io.Discard)
}

type createCommand struct {
	size         int
	volumeType   string
	iops         int
	throughput   int
	notEncrypted bool
	maxTotalSize int
	maxCreated   int
	maxAttached  int
	configPath   string
	timeout      time.Duration
	verbose      bool
}

func (c *createCommand) setFlags(f *gnuflag.FlagSet) {
	f.IntVar(&c.size, "size", 0, "size of the volume to create, in GiB (required)")
	f.StringVar(&c.volumeType, "type", "", "EBS volume type")
	f.IntVar(&c.iops, "iops", 0, "provisioned IOPS rate; io1, io2 and gp3 volumes only")
	f.IntVar(&c.throughput, "throughput", 0, "provisioned throughput in MiB/s; gp3 volumes only")
	f.BoolVar(&c.notEncrypted, "not-encrypted", false, "do not encrypt the volume")
	f.IntVar(&c.maxTotalSize, "max-total-created-size", 0, "ceiling on summed GiB of volumes created by this instance")
	f.IntVar(&c.maxCreated, "max-created-volumes", 0, "ceiling on the number of volumes created by this instance")
	f.IntVar(&c.maxAttached, "max-attached-volumes", 0, "ceiling on the number of volumes attached to this instance")
	f.StringVar(&c.configPath, "config", config.DefaultPath, "path to the configuration file")
	f.DurationVar(&c.timeout, "timeout", 10*time.Minute, "bound on each wait for cloud-side state; 0 waits forever")
	f.BoolVar(&c.verbose, "verbose", false, "log every state transition")
	f.BoolVar(&c.verbose, "v", false, "")
}

func (c *createCommand) init(args []string) error {
	if len(args) != 0 {
		return errors.Errorf("unrecognized arguments: %v", args)
	}
	if c.size <= 0 {
		return errors.New("--size is required and must be a positive number of GiB")
	}
	return nil
}

// resolve merges configuration defaults and flag overrides into the
// request and limits handed to the provisioner. Configured IOPS and
// throughput defaults only apply when the resolved volume type can
// take them, so a --type=standard override does not drag an
// inapplicable default along.
func (c *createCommand) resolve(settings config.Settings) (ebs.VolumeRequest, ebs.ResourceLimits) {
	req := ebs.VolumeRequest{
		SizeGB:    c.size,
		Type:      settings.VolumeType,
		Encrypted: settings.Encrypted,
	}
	if c.volumeType != "" {
		req.Type = c.volumeType
	}
	if c.iops > 0 {
		req.IOPS = c.iops
	} else if ebs.VolumeTypeAcceptsIOPS(req.Type) {
		req.IOPS = settings.VolumeIOPS
	}
	if c.throughput > 0 {
		req.ThroughputMBs = c.throughput
	} else if req.Type == "gp3" {
		req.ThroughputMBs = settings.VolumeThroughput
	}
	if c.notEncrypted {
		req.Encrypted = false
	}

	limits := ebs.ResourceLimits{
		MaxTotalCreatedSizeGB: settings.MaxTotalCreatedSizeGB,
		MaxCreatedVolumes:     settings.MaxCreatedVolumes,
		MaxAttachedVolumes:    settings.MaxAttachedVolumes,
	}
	if c.maxTotalSize > 0 {
		limits.MaxTotalCreatedSizeGB = c.maxTotalSize
	}
	if c.maxCreated > 0 {
		limits.MaxCreatedVolumes = c.maxCreated
	}
	if c.maxAttached > 0 {
		limits.MaxAttachedVolumes = c.maxAttached
	}
	return req, limits
}

func (c *createCommand) run(ctx context.Context) (string, error) {
	settings, err := config.Load(c.configPath)
	if err != nil {
		return "", errors.Trace(err)
	}
	req, limits := c.resolve(settings)

	instCtx, err := metadata.FetchInstanceContext(ctx, imds.New(imds.Options{}))
	if err != nil {
		return "", errors.Trace(err)
	}
	api, err := ebs.NewAPI(ctx, instCtx.Region)
	if err != nil {
		return "", errors.Trace(err)
	}
	provisioner, err := ebs.NewProvisioner(ebs.Config{
		API:         api,
		Instance:    instCtx,
		Limits:      limits,
		Clock:       clock.WallClock,
		WaitTimeout: c.timeout,
	})
	if err != nil {
		return "", errors.Trace(err)
	}
	device, err := provisioner.Provision(ctx, req)
	if err != nil {
		return "", errors.Trace(err)
	}
	return device, nil
}
