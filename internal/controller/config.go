// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "go.opentelemetry.io/fleet-profiler/internal/controller"

import (
	"errors"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/fleet-profiler/libpf"
	"go.opentelemetry.io/fleet-profiler/reporter"
)

const (
	// MaxFrequency is the highest sampling frequency accepted on the command line.
	MaxFrequency = 1000
	// MaxRoundDuration caps the sampling duration of a single round.
	MaxRoundDuration = 10 * time.Minute
)

type Config struct {
	// Sampling
	Duration     time.Duration
	Frequency    int
	RoundTimeout time.Duration
	Rounds       int
	Runtimes     string
	PIDs         string
	Containers   string
	IncludeComm  bool
	IncludeSelf  bool

	// Output
	OutputFormat   string
	Compression    string
	OutputDir      string
	UploadURL      string
	S3Bucket       string
	S3Prefix       string
	S3Endpoint     string
	ReportInterval time.Duration

	// External tools
	PySpyPath    string
	RbspyPath    string
	JattachPath  string
	PythonNative bool

	ClockSyncInterval time.Duration
	PprofAddr         string
	VerboseMode       bool
	Version           bool

	// Sink overrides the sink selected by OutputDir, UploadURL and S3Bucket.
	Sink reporter.Sink
	// OnShutdown is called once the controller stopped.
	OnShutdown func() error

	Fs *flag.FlagSet
}

// Dump visits all flag sets, and dumps them all to debug
// Used for verbose mode logging.
func (cfg *Config) Dump() {
	if cfg.Fs == nil {
		return
	}
	log.Debug("Config:")
	cfg.Fs.VisitAll(func(f *flag.Flag) {
		log.Debug(fmt.Sprintf("%s: %v", f.Name, f.Value))
	})
}

// Validate runs validations on the provided configuration, and returns errors
// if invalid values were provided.
func (cfg *Config) Validate() error {
	if cfg.Duration <= 0 || cfg.Duration > MaxRoundDuration {
		return fmt.Errorf("invalid argument for duration: %v (must be in (0, %v])",
			cfg.Duration, MaxRoundDuration)
	}

	if cfg.Frequency < 1 || cfg.Frequency > MaxFrequency {
		return fmt.Errorf("invalid argument for frequency: %d (must be in [1, %d])",
			cfg.Frequency, MaxFrequency)
	}

	if cfg.RoundTimeout != 0 && cfg.RoundTimeout < cfg.Duration {
		return fmt.Errorf("round timeout %v is shorter than the sampling duration %v",
			cfg.RoundTimeout, cfg.Duration)
	}

	if cfg.Rounds < 0 {
		return fmt.Errorf("invalid argument for rounds: %d", cfg.Rounds)
	}

	if cfg.ReportInterval <= 0 {
		return fmt.Errorf("invalid argument for report interval: %v", cfg.ReportInterval)
	}

	if _, err := libpf.ParseRuntimes(cfg.Runtimes); err != nil {
		return err
	}

	if _, err := parsePIDs(cfg.PIDs); err != nil {
		return err
	}

	format, err := reporter.ParseFormat(cfg.OutputFormat)
	if err != nil {
		return err
	}

	compression, err := reporter.ParseCompression(cfg.Compression)
	if err != nil {
		return err
	}

	if err = reporter.CheckCompression(format, compression); err != nil {
		return err
	}

	if cfg.Sink != nil {
		return nil
	}
	sinks := 0
	for _, s := range []string{cfg.OutputDir, cfg.UploadURL, cfg.S3Bucket} {
		if s != "" {
			sinks++
		}
	}
	switch {
	case sinks == 0:
		return errors.New("no output configured, set one of output-dir, upload-url or s3-bucket")
	case sinks > 1:
		return errors.New("output-dir, upload-url and s3-bucket are mutually exclusive")
	}
	return nil
}

// parsePIDs parses a comma separated list of process IDs.
func parsePIDs(s string) ([]libpf.PID, error) {
	var pids []libpf.PID
	for field := range strings.SplitSeq(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		pid, err := strconv.ParseUint(field, 10, 32)
		if err != nil || pid == 0 {
			return nil, fmt.Errorf("invalid PID %q", field)
		}
		pids = append(pids, libpf.PID(pid))
	}
	return pids, nil
}

// splitList splits a comma separated list and drops empty elements.
func splitList(s string) []string {
	var out []string
	for field := range strings.SplitSeq(s, ",") {
		if field = strings.TrimSpace(field); field != "" {
			out = append(out, field)
		}
	}
	return out
}
