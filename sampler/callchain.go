// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package sampler // import "go.opentelemetry.io/fleet-profiler/sampler"

import "go.opentelemetry.io/fleet-profiler/libpf"

// Context markers the kernel inserts into perf_event call chains, see
// enum perf_callchain_context in include/uapi/linux/perf_event.h.
const (
	perfContextHV          = ^uint64(32) + 1   // -32
	perfContextKernel      = ^uint64(128) + 1  // -128
	perfContextUser        = ^uint64(512) + 1  // -512
	perfContextGuest       = ^uint64(2048) + 1 // -2048
	perfContextGuestKernel = ^uint64(2176) + 1 // -2176
	perfContextGuestUser   = ^uint64(2560) + 1 // -2560
	perfContextMax         = ^uint64(4095) + 1 // -4095
)

// framesFromCallchain converts a perf call chain into frames, leaf first. Context
// markers switch the frame type of the following entries; hypervisor and guest
// entries are dropped.
func framesFromCallchain(callchain []uint64) []Frame {
	frames := make([]Frame, 0, len(callchain))
	typ := libpf.NativeFrame
	skip := false
	for _, ip := range callchain {
		if ip >= perfContextMax {
			switch ip {
			case perfContextKernel:
				typ, skip = libpf.KernelFrame, false
			case perfContextUser:
				typ, skip = libpf.NativeFrame, false
			default:
				skip = true
			}
			continue
		}
		if skip || ip == 0 {
			continue
		}
		frames = append(frames, Frame{Type: typ, Address: libpf.Address(ip)})
	}
	return frames
}
