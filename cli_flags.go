// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/peterbourgon/ff/v3"

	"go.opentelemetry.io/fleet-profiler/internal/controller"
	"go.opentelemetry.io/fleet-profiler/reporter"
)

const (
	// Default values for CLI flags
	defaultArgDuration          = 60 * time.Second
	defaultArgFrequency         = 11
	defaultArgRuntimes          = "all"
	defaultArgOutputFormat      = string(reporter.FormatJSON)
	defaultArgCompression       = string(reporter.CompressionNone)
	defaultArgReportInterval    = 10 * time.Second
	defaultArgClockSyncInterval = 3 * time.Minute
	defaultArgPySpyPath         = "py-spy"
	defaultArgRbspyPath         = "rbspy"
	defaultArgJattachPath       = "jattach"
)

// Help strings for command line arguments
var (
	durationHelp = "Sampling duration of every round. A new window is started " +
		"after each round."
	frequencyHelp = fmt.Sprintf("Sampling frequency in Hz (1..%d). Ruby is capped "+
		"at 100 Hz.", controller.MaxFrequency)
	roundTimeoutHelp = "Hard deadline of a round. Processes still being sampled are " +
		"abandoned and the window is sealed. Defaults to twice the duration."
	roundsHelp   = "Number of rounds to run before exiting. 0 runs until interrupted."
	runtimesHelp = "Comma-separated list of runtimes to profile " +
		"(native, jvm, python, ruby or all)."
	pidsHelp       = "Comma-separated list of process IDs to profile. Default is all processes."
	containersHelp = "Comma-separated list of container IDs to profile. " +
		"Default is all containers and the host."
	includeCommHelp  = "Prepend the process name as the root frame of every stack."
	outputFormatHelp = "Payload format: json, collapsed or pprof."
	compressionHelp  = "Payload compression: none, gzip or zstd."
	configHelp       = "Path of a configuration file with one 'flag value' pair per line."
	outputDirHelp    = "Write one payload file per window into this directory."
	uploadURLHelp    = "POST every payload to this HTTP(S) endpoint."
	s3BucketHelp     = "Upload every payload to this S3 bucket. Credentials and region " +
		"are taken from the default AWS configuration chain."
	s3PrefixHelp          = "Object key prefix for S3 uploads."
	s3EndpointHelp        = "Custom S3 endpoint, e.g. for S3 compatible object stores."
	reportIntervalHelp    = "Interval between deliveries of queued payloads."
	clockSyncIntervalHelp = "Set the sync interval with the realtime clock. " +
		"If zero, monotonic-realtime clock sync will be performed once, " +
		"on startup, but not periodically."
	pySpyPathHelp    = "Path of the py-spy binary used for Python processes."
	pythonNativeHelp = "Include native frames in Python stacks. Native frames are " +
		"suffixed with _[pn]."
	rbspyPathHelp   = "Path of the rbspy binary used for Ruby processes."
	jattachPathHelp = "Path of the jattach binary used for JVM processes."
	pprofHelp       = "Listening address (e.g. localhost:6060) to serve pprof information."
	verboseModeHelp = "Enable verbose logging and debugging capabilities."
	versionHelp     = "Show version."
)

// extraFlags are registered by conditionally compiled files.
var extraFlags []func(fs *flag.FlagSet, args *controller.Config)

func parseArgs(arguments []string) (*controller.Config, error) {
	var args controller.Config

	fs := flag.NewFlagSet("fleet-profiler", flag.ExitOnError)

	// Please keep the parameters ordered alphabetically in the source-code.
	fs.DurationVar(&args.ClockSyncInterval, "clock-sync-interval", defaultArgClockSyncInterval,
		clockSyncIntervalHelp)

	fs.StringVar(&args.Compression, "compression", defaultArgCompression, compressionHelp)
	fs.String("config", "", configHelp)
	fs.StringVar(&args.Containers, "containers", "", containersHelp)

	fs.DurationVar(&args.Duration, "d", defaultArgDuration, "Shorthand for -duration.")
	fs.DurationVar(&args.Duration, "duration", defaultArgDuration, durationHelp)

	fs.IntVar(&args.Frequency, "f", defaultArgFrequency, "Shorthand for -frequency.")
	fs.IntVar(&args.Frequency, "frequency", defaultArgFrequency, frequencyHelp)

	fs.BoolVar(&args.IncludeComm, "include-comm", false, includeCommHelp)

	fs.StringVar(&args.JattachPath, "jattach-path", defaultArgJattachPath, jattachPathHelp)

	fs.StringVar(&args.OutputDir, "o", "", "Shorthand for -output-dir.")
	fs.StringVar(&args.OutputDir, "output-dir", "", outputDirHelp)
	fs.StringVar(&args.OutputFormat, "output-format", defaultArgOutputFormat, outputFormatHelp)

	fs.StringVar(&args.PIDs, "pids", "", pidsHelp)
	fs.StringVar(&args.PprofAddr, "pprof", "", pprofHelp)
	fs.StringVar(&args.PySpyPath, "py-spy-path", defaultArgPySpyPath, pySpyPathHelp)
	fs.BoolVar(&args.PythonNative, "python-native", false, pythonNativeHelp)

	fs.StringVar(&args.RbspyPath, "rbspy-path", defaultArgRbspyPath, rbspyPathHelp)
	fs.DurationVar(&args.ReportInterval, "report-interval", defaultArgReportInterval,
		reportIntervalHelp)
	fs.DurationVar(&args.RoundTimeout, "round-timeout", 0, roundTimeoutHelp)
	fs.IntVar(&args.Rounds, "rounds", 0, roundsHelp)
	fs.StringVar(&args.Runtimes, "runtimes", defaultArgRuntimes, runtimesHelp)

	fs.StringVar(&args.S3Bucket, "s3-bucket", "", s3BucketHelp)
	fs.StringVar(&args.S3Endpoint, "s3-endpoint", "", s3EndpointHelp)
	fs.StringVar(&args.S3Prefix, "s3-prefix", "", s3PrefixHelp)

	fs.StringVar(&args.UploadURL, "upload-url", "", uploadURLHelp)

	fs.BoolVar(&args.VerboseMode, "v", false, "Shorthand for -verbose.")
	fs.BoolVar(&args.VerboseMode, "verbose", false, verboseModeHelp)
	fs.BoolVar(&args.Version, "version", false, versionHelp)

	for _, register := range extraFlags {
		register(fs, &args)
	}

	fs.Usage = func() {
		fs.PrintDefaults()
	}

	args.Fs = fs

	return &args, ff.Parse(fs, arguments,
		ff.WithEnvVarPrefix("FLEET_PROFILER"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		// This will ignore configuration file (only) options that the current
		// version does not recognize.
		ff.WithIgnoreUndefined(true),
		ff.WithAllowMissingConfigFile(true),
	)
}
