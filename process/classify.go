// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package process // import "go.opentelemetry.io/fleet-profiler/process"

import (
	"bufio"
	"debug/buildinfo"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"go.opentelemetry.io/fleet-profiler/libpf"
)

var (
	pythonExeRe = regexp.MustCompile(`^python[23]?(\.[0-9]+)?[dmu]*$`)
	rubyExeRe   = regexp.MustCompile(`^ruby([0-9.]+)?$`)

	jvmLibRe    = regexp.MustCompile(`/libjvm\.so$`)
	pythonLibRe = regexp.MustCompile(`/libpython[23](\.[0-9]+)?[dmu]*\.so`)
	rubyLibRe   = regexp.MustCompile(`/libruby(-[0-9.]+)?\.so`)

	// libpython3.11.so.1.0, python3.11
	pythonVersionRe = regexp.MustCompile(`python([23]\.[0-9]+)`)
	// libruby.so.3.2.2, libruby-3.1.so.3.1, ruby3.2
	rubyLibVersionRe = regexp.MustCompile(`/libruby(?:-[0-9.]+)?\.so\.([0-9]+\.[0-9]+(?:\.[0-9]+)?)`)
	rubyExeVersionRe = regexp.MustCompile(`^ruby([0-9]+\.[0-9]+)`)
	// JAVA_VERSION="17.0.9"
	javaReleaseVersionRe = regexp.MustCompile(`^JAVA_VERSION="([^"]+)"`)

	muslRe  = regexp.MustCompile(`/(ld-musl-[^/]+\.so\.1|libc\.musl-[^/]+\.so\.1)$`)
	glibcRe = regexp.MustCompile(`/(libc\.so\.6|libc-2\.[0-9]+\.so)$`)
)

// Classify determines the runtime kind of a process from its executable and its
// mapped libraries. Processes that match no managed runtime are native.
func Classify(executable string, mappings []Mapping) libpf.RuntimeKind {
	switch base := filepath.Base(executable); {
	case base == "java":
		return libpf.JVM
	case pythonExeRe.MatchString(base):
		return libpf.Python
	case rubyExeRe.MatchString(base):
		return libpf.Ruby
	}

	// Embedded runtimes, e.g. uwsgi with libpython or a custom JVM launcher.
	for i := range mappings {
		path := mappings[i].Path
		switch {
		case path == "":
			continue
		case jvmLibRe.MatchString(path):
			return libpf.JVM
		case pythonLibRe.MatchString(path):
			return libpf.Python
		case rubyLibRe.MatchString(path):
			return libpf.Ruby
		}
	}
	return libpf.Native
}

// RuntimeVersion returns the version of the managed runtime of a process, or an
// empty string if it cannot be told. root is the root file system of the process.
func RuntimeVersion(kind libpf.RuntimeKind, executable string, mappings []Mapping,
	root fs.FS) string {
	switch kind {
	case libpf.Python:
		if m := pythonVersionRe.FindStringSubmatch(filepath.Base(executable)); m != nil {
			return m[1]
		}
		for i := range mappings {
			if !pythonLibRe.MatchString(mappings[i].Path) {
				continue
			}
			if m := pythonVersionRe.FindStringSubmatch(filepath.Base(mappings[i].Path)); m != nil {
				return m[1]
			}
		}
	case libpf.Ruby:
		for i := range mappings {
			if m := rubyLibVersionRe.FindStringSubmatch(mappings[i].Path); m != nil {
				return m[1]
			}
		}
		if m := rubyExeVersionRe.FindStringSubmatch(filepath.Base(executable)); m != nil {
			return m[1]
		}
	case libpf.JVM:
		return javaVersion(executable, mappings, root)
	}
	return ""
}

// javaVersion reads the version from the release file of the Java installation,
// found next to bin/java or, for JDK 8, above jre/lib/<arch>/server/libjvm.so.
func javaVersion(executable string, mappings []Mapping, root fs.FS) string {
	if root == nil {
		return ""
	}
	var homes []string
	if filepath.Base(executable) == "java" {
		bin := path.Dir(executable)
		homes = append(homes, path.Dir(bin), path.Dir(path.Dir(bin)))
	}
	for i := range mappings {
		if jvmLibRe.MatchString(mappings[i].Path) {
			// <home>/lib/server/libjvm.so or <home>/jre/lib/<arch>/server/libjvm.so
			lib := path.Dir(path.Dir(mappings[i].Path))
			homes = append(homes, path.Dir(lib), path.Dir(path.Dir(lib)),
				path.Dir(path.Dir(path.Dir(lib))))
			break
		}
	}
	for _, home := range homes {
		if version := readJavaRelease(root, path.Join(home, "release")); version != "" {
			return version
		}
	}
	return ""
}

func readJavaRelease(root fs.FS, name string) string {
	name = strings.TrimPrefix(path.Clean(name), "/")
	if !fs.ValidPath(name) || name == "." {
		return ""
	}
	f, err := root.Open(name)
	if err != nil {
		return ""
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if m := javaReleaseVersionRe.FindStringSubmatch(scanner.Text()); m != nil {
			return m[1]
		}
	}
	return ""
}

// DetectLibc returns the C library flavour from the mapped files.
func DetectLibc(mappings []Mapping) Libc {
	if len(mappings) == 0 {
		return LibcUnknown
	}
	for i := range mappings {
		switch path := mappings[i].Path; {
		case muslRe.MatchString(path):
			return LibcMusl
		case glibcRe.MatchString(path):
			return LibcGlibc
		}
	}
	return LibcStatic
}

// goVersion returns the Go toolchain version a binary was built with, or an empty
// string for non-Go binaries.
func goVersion(pid libpf.PID) string {
	info, err := buildinfo.ReadFile(fmt.Sprintf("/proc/%d/exe", pid))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(info.GoVersion)
}
