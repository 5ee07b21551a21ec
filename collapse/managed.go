// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package collapse // import "go.opentelemetry.io/fleet-profiler/collapse"

import (
	"path"
	"strings"

	"go.opentelemetry.io/fleet-profiler/libpf"
	"go.opentelemetry.io/fleet-profiler/sampler"
)

// managedName renders a symbolic frame reported by a managed runtime. Python and
// Ruby frames are qualified with the module derived from the source file, JVM frames
// already carry the fully qualified method name. An empty result marks the frame
// as unknown.
func managedName(f sampler.Frame) string {
	name := strings.TrimSpace(f.Name)
	if name == "" {
		return ""
	}
	name = nameReplacer.Replace(name)

	switch f.Type {
	case libpf.PythonFrame:
		return qualify(moduleName(f.File, ".py"), name)
	case libpf.RubyFrame:
		return qualify(moduleName(f.File, ".rb"), name)
	case libpf.ManagedNativeFrame:
		return name + f.Type.Suffix()
	default:
		return name
	}
}

// moduleName returns the file's base name without ext.
func moduleName(file, ext string) string {
	if file == "" {
		return ""
	}
	base := path.Base(file)
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, ext)
}

func qualify(module, name string) string {
	if module == "" {
		return name
	}
	return module + "." + name
}
