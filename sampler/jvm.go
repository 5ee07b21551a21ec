// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package sampler // import "go.opentelemetry.io/fleet-profiler/sampler"

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/fleet-profiler/libpf"
	"go.opentelemetry.io/fleet-profiler/metrics"
	"go.opentelemetry.io/fleet-profiler/proc"
	"go.opentelemetry.io/fleet-profiler/registry"
)

// maxErrorReportSize bounds the part of a HotSpot error report that is read.
const maxErrorReportSize = 256 * 1024

var (
	hsErrVMInfoRe  = regexp.MustCompile(`(?m)^vm_info: (.*)$`)
	hsErrSigInfoRe = regexp.MustCompile(`(?m)^siginfo: (.*)$`)
	hsErrFrameRe   = regexp.MustCompile(`(?m)^# Problematic frame:\n# (.*)$`)
)

// jvmTarget is the file system view of a JVM. The root stays usable after the JVM
// exited, as long as it is open.
type jvmTarget struct {
	root *os.Root
	// nspid is the PID the JVM knows itself by, used in error report names.
	nspid libpf.PID
	// cwd is the working directory of the JVM inside root.
	cwd string
}

func openJVMTarget(pid libpf.PID) (*jvmTarget, error) {
	nspid, err := proc.NamespacePID(pid)
	if err != nil {
		return nil, err
	}
	cwd, err := os.Readlink(fmt.Sprintf("/proc/%d/cwd", pid))
	if err != nil {
		return nil, err
	}
	root, err := os.OpenRoot(fmt.Sprintf("/proc/%d/root", pid))
	if err != nil {
		return nil, err
	}
	return &jvmTarget{root: root, nspid: nspid, cwd: cwd}, nil
}

// jvmDriver samples JVMs with periodic thread dumps. Once a sampled JVM left a
// HotSpot error report behind, JVM profiling is disabled until the profiler restarts.
type jvmDriver struct {
	*snapshotDriver
	openTarget func(libpf.PID) (*jvmTarget, error)
	// disabled holds the reason JVM profiling was disabled.
	disabled atomic.Pointer[string]
}

var _ Driver = (*jvmDriver)(nil)

func newJVMDriver(cfg Config, limiter *captureLimiter) *jvmDriver {
	return &jvmDriver{
		snapshotDriver: newSnapshotDriver(cfg, limiter, newJattachSnapshotter(cfg)),
		openTarget:     openJVMTarget,
	}
}

func (d *jvmDriver) Sample(ctx context.Context, h *registry.ProcessHandle,
	duration time.Duration, emit EmitFunc) error {
	if reason := d.disabled.Load(); reason != nil {
		return fmt.Errorf("%w: JVM profiling disabled after %s", ErrAttach, *reason)
	}

	target, err := d.openTarget(h.PID)
	if err != nil {
		if d.exited(h.PID) {
			return fmt.Errorf("%v: %w", h, ErrProcessExited)
		}
		log.Debugf("No crash detection for %v: %v", h, err)
	} else {
		defer target.root.Close()
	}

	err = d.snapshotDriver.Sample(ctx, h, duration, emit)
	if err != nil && target != nil {
		d.checkErrorReport(target, h)
	}
	return err
}

// checkErrorReport looks for a HotSpot error report written since h was discovered
// and disables JVM profiling if there is one.
func (d *jvmDriver) checkErrorReport(target *jvmTarget, h *registry.ProcessHandle) {
	for _, name := range hotspotErrorFiles(target.nspid, target.cwd, h.Cmdline) {
		rel := strings.TrimPrefix(name, "/")
		info, err := target.root.Stat(rel)
		if err != nil || info.ModTime().Before(h.DiscoveredAt) {
			continue
		}

		log.Warnf("Found HotSpot error report of %v at %s: %s", h, name,
			summarizeErrorReport(target.root, rel))
		metrics.Add(metrics.IDJVMCrashReports, 1)
		reason := fmt.Sprintf("HotSpot error report of %v", h)
		if d.disabled.CompareAndSwap(nil, &reason) {
			log.Warnf("JVM profiling disabled, no JVM will be profiled anymore")
		}
		return
	}
}

// hotspotErrorFiles returns the absolute candidate paths of the error report of a
// JVM, in the order HotSpot tries them.
func hotspotErrorFiles(nspid libpf.PID, cwd string, cmdline []string) []string {
	pid := strconv.Itoa(int(nspid))
	resolve := func(name string) string {
		if !path.IsAbs(name) {
			name = path.Join(cwd, name)
		}
		return path.Clean(name)
	}

	var files []string
	for _, arg := range cmdline {
		if value, ok := strings.CutPrefix(arg, "-XX:ErrorFile="); ok && value != "" {
			value = strings.NewReplacer("%p", pid, "%%", "%").Replace(value)
			files = append(files, resolve(value))
		}
	}
	defaultName := "hs_err_pid" + pid + ".log"
	return append(files, resolve(defaultName), path.Join("/tmp", defaultName))
}

// summarizeErrorReport extracts the crash cause from an error report.
func summarizeErrorReport(root *os.Root, name string) string {
	f, err := root.Open(name)
	if err != nil {
		return err.Error()
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxErrorReportSize))
	if err != nil {
		return err.Error()
	}

	var parts []string
	for _, re := range []*regexp.Regexp{hsErrSigInfoRe, hsErrFrameRe, hsErrVMInfoRe} {
		if m := re.FindSubmatch(data); m != nil {
			parts = append(parts, strings.TrimSpace(string(m[1])))
		}
	}
	if len(parts) == 0 {
		return "no crash details"
	}
	return strings.Join(parts, "; ")
}
