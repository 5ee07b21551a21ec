// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "go.opentelemetry.io/fleet-profiler/internal/controller"

// Exit codes of the profiler binary.
const (
	ExitSuccess    = 0
	ExitFailure    = 1
	ExitParseError = 2
)

// ErrorWithExitCode provides an error with an exit code
// Used to be able to return errors with the exit code the CLI is expected to
// return when exiting.
type ErrorWithExitCode struct {
	error
	code int
}

// NewErrorWithExitCode wraps err with the exit code the CLI returns for it.
func NewErrorWithExitCode(err error, code int) ErrorWithExitCode {
	return ErrorWithExitCode{error: err, code: code}
}

func (e ErrorWithExitCode) Code() int {
	return e.code
}

func (e ErrorWithExitCode) Unwrap() error {
	return e.error
}
