// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package reporter // import "go.opentelemetry.io/fleet-profiler/reporter"

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileSink writes every payload to its own file below a directory.
type FileSink struct {
	dir string
}

var _ Sink = (*FileSink)(nil)

// NewFileSink creates dir if needed and returns a sink writing into it.
func NewFileSink(dir string) (*FileSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("no output directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

func (s *FileSink) Name() string {
	return "file:" + s.dir
}

// Send writes the payload through a temporary file so that readers never observe a
// partially written payload.
func (s *FileSink) Send(_ context.Context, p *Payload) error {
	target := filepath.Join(s.dir, filepath.FromSlash(p.Name))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".payload-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err = tmp.Write(p.Data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), target)
}
