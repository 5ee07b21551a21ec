// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package process // import "go.opentelemetry.io/fleet-profiler/process"

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	lru "github.com/elastic/go-freelru"
	log "github.com/sirupsen/logrus"
	"github.com/zeebo/xxh3"

	"go.opentelemetry.io/fleet-profiler/libpf"
)

var (
	// cgroupContainerIDRe matches a container ID in a cgroup v1 or v2 path, covering the
	// docker, containerd, cri-o and kubepods layouts.
	cgroupContainerIDRe = regexp.MustCompile(`^.*/(?:.*-)?([0-9a-f]{64})(?:\.|\s*$)`)
	// cgroupv2ContainerIDRe matches the unified hierarchy line, which may carry a
	// trailing sub-cgroup such as /init.
	cgroupv2ContainerIDRe = regexp.MustCompile(
		`0:.*?:.*?([0-9a-fA-F]{64})(?:\.scope)?(?:/[a-z]+)?$`)
)

// containerIDCacheSize bounds the number of processes whose container ID is remembered.
const containerIDCacheSize = 4096

// containerKey identifies one process across PID reuse.
type containerKey struct {
	pid       libpf.PID
	startTime int64
}

func (k containerKey) hash32() uint32 {
	var buf [12]byte
	binary.LittleEndian.PutUint32(buf[0:], uint32(k.pid))
	binary.LittleEndian.PutUint64(buf[4:], uint64(k.startTime))
	return uint32(xxh3.Hash(buf[:]))
}

// ContainerIDCache resolves and caches the container ID of processes. Empty results
// are cached too, to avoid rereading /proc for processes outside containers.
type ContainerIDCache struct {
	cache *lru.SyncedLRU[containerKey, string]
}

// NewContainerIDCache creates a cache whose entries expire after lifetime.
func NewContainerIDCache(lifetime time.Duration) (*ContainerIDCache, error) {
	cache, err := lru.NewSynced[containerKey, string](containerIDCacheSize,
		containerKey.hash32)
	if err != nil {
		return nil, err
	}
	cache.SetLifetime(lifetime)
	return &ContainerIDCache{cache: cache}, nil
}

// Lookup returns the container ID of the process pid started at startTime. A
// process reusing pid has another start time and is looked up afresh.
func (c *ContainerIDCache) Lookup(pid libpf.PID, startTime time.Time) (string, error) {
	key := containerKey{pid: pid, startTime: startTime.UnixNano()}
	if id, ok := c.cache.Get(key); ok {
		return id, nil
	}

	// Slow path
	f, err := os.Open(fmt.Sprintf("/proc/%d/cgroup", pid))
	if err != nil {
		return "", err
	}
	defer f.Close()

	id := parseContainerID(f)
	c.cache.Add(key, id)
	return id, nil
}

// parseContainerID returns the first container ID found in a /proc/PID/cgroup file.
func parseContainerID(cgroupFile io.Reader) string {
	scanner := bufio.NewScanner(cgroupFile)
	// With a maximum of 4096 characters path in the kernel, 8192 should be fine here.
	scanner.Buffer(make([]byte, 512), 8192)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "0::/" {
			continue
		}
		if m := cgroupv2ContainerIDRe.FindStringSubmatch(line); m != nil {
			return m[1]
		}
		if m := cgroupContainerIDRe.FindStringSubmatch(line); m != nil {
			return m[1]
		}
	}
	if err := scanner.Err(); err != nil {
		log.Debugf("Failed to scan cgroup file: %v", err)
	}
	return ""
}
