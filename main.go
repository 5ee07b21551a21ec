// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	//nolint:gosec
	_ "net/http/pprof"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"go.opentelemetry.io/fleet-profiler/internal/controller"
	"go.opentelemetry.io/fleet-profiler/vc"
)

type exitCode int

const (
	exitSuccess exitCode = controller.ExitSuccess
	exitFailure exitCode = controller.ExitFailure

	// Go 'flag' package calls os.Exit(2) on flag parse errors, if ExitOnError is set
	exitParseError exitCode = controller.ExitParseError
)

func main() {
	os.Exit(int(mainWithExitCode()))
}

func mainWithExitCode() exitCode {
	cfg, err := parseArgs(os.Args[1:])
	if err != nil {
		return parseError("Failure to parse arguments: %v", err)
	}

	if cfg.Version {
		fmt.Printf("%s\n", vc.Version())
		return exitSuccess
	}

	if cfg.VerboseMode {
		log.SetLevel(log.DebugLevel)
		// Dump the arguments in debug mode.
		cfg.Dump()
	}

	if err = cfg.Validate(); err != nil {
		return parseError("%v", err)
	}

	// Context to drive main goroutine and the rounds.
	mainCtx, mainCancel := signal.NotifyContext(context.Background(),
		unix.SIGINT, unix.SIGTERM, unix.SIGABRT)
	defer mainCancel()

	if cfg.PprofAddr != "" {
		go func() {
			//nolint:gosec
			if err := http.ListenAndServe(cfg.PprofAddr, nil); err != nil {
				log.Errorf("Serving pprof on %s failed: %s", cfg.PprofAddr, err)
			}
		}()
	}

	startTime := time.Now()
	log.Infof("Starting fleet profiler %s (revision %s, build timestamp %s)",
		vc.Version(), vc.Revision(), vc.BuildTimestamp())

	ctlr := controller.New(cfg)
	if err = ctlr.Start(mainCtx); err != nil {
		ctlr.Shutdown()
		var exitErr controller.ErrorWithExitCode
		if errors.As(err, &exitErr) {
			return failureWithCode(exitCode(exitErr.Code()), "%v", err)
		}
		return failure("Failed to start profiling: %v", err)
	}

	// Block until a signal arrives or the requested rounds are done.
	select {
	case <-mainCtx.Done():
	case <-ctlr.Done():
	}
	mainCancel()

	ctlr.Shutdown()
	log.Infof("Exiting after %v ...", time.Since(startTime).Round(time.Second))
	return exitSuccess
}

func parseError(msg string, args ...any) exitCode {
	log.Errorf(msg, args...)
	return exitParseError
}

func failure(msg string, args ...any) exitCode {
	return failureWithCode(exitFailure, msg, args...)
}

func failureWithCode(code exitCode, msg string, args ...any) exitCode {
	log.Errorf(msg, args...)
	return code
}
