// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libpf // import "go.opentelemetry.io/fleet-profiler/libpf"

// FrameType defines the type of a captured frame. It determines how a frame is
// symbolized and which suffix, if any, it carries in a folded stack.
type FrameType uint8

const (
	// UnknownFrame indicates a frame of an unknown origin.
	UnknownFrame FrameType = iota
	// NativeFrame identifies user space machine code frames given as an address.
	NativeFrame
	// KernelFrame identifies kernel frames given as an address.
	KernelFrame
	// JVMFrame identifies Java frames reported by the JVM.
	JVMFrame
	// PythonFrame identifies Python frames reported by the interpreter.
	PythonFrame
	// RubyFrame identifies Ruby frames reported by the interpreter.
	RubyFrame
	// ManagedNativeFrame identifies native frames reported by a managed runtime's
	// stack dump tool, e.g. C extension frames interleaved with Python frames.
	ManagedNativeFrame
)

var frameTypeToString = map[FrameType]string{
	UnknownFrame:       "unknown",
	NativeFrame:        "native",
	KernelFrame:        "kernel",
	JVMFrame:           "jvm",
	PythonFrame:        "python",
	RubyFrame:          "ruby",
	ManagedNativeFrame: "managed-native",
}

// String implements the Stringer interface.
func (ty FrameType) String() string {
	if s, ok := frameTypeToString[ty]; ok {
		return s
	}
	return "<invalid>"
}

// IsAddress reports whether frames of this type carry an address that still needs
// symbolization.
func (ty FrameType) IsAddress() bool {
	return ty == NativeFrame || ty == KernelFrame
}

// Suffix returns the annotation appended to a symbolized frame name of this type.
func (ty FrameType) Suffix() string {
	switch ty {
	case KernelFrame:
		return "_[k]"
	case ManagedNativeFrame:
		return "_[pn]"
	default:
		return ""
	}
}

// Frame returns the frame type managed code of the runtime kind is reported as.
func (k RuntimeKind) Frame() FrameType {
	switch k {
	case Native:
		return NativeFrame
	case JVM:
		return JVMFrame
	case Python:
		return PythonFrame
	case Ruby:
		return RubyFrame
	default:
		return UnknownFrame
	}
}
