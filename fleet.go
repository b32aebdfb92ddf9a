// Copyright 2024 The CASPER Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package qdr

import (
	"log/slog"
	"sync"
	"time"
)

// FPGASession is the batch driver's view of one FPGA: its host identity,
// the QDR targets on it, and a way to obtain each target's Register. An
// FPGA with zero targets is valid and maps to an empty result (§4.5).
type FPGASession interface {
	Host() string
	Targets() []*Target
	Register(target *Target) (Register, error)
}

// CalibrateAll runs Calibrate for every QDR on every FPGA in sessions
// concurrently, giving up on (but not killing) any worker that has not
// finished within timeout. Across FPGAs this is fully parallel; within one
// FPGA, its QDRs are also run concurrently on the assumption — which the
// caller's FPGASession and Register implementations must uphold — that
// their register and memory windows are disjoint and the underlying
// transport is safe for concurrent use (§5). logger may be nil.
func CalibrateAll(sessions []FPGASession, timeout time.Duration, logger *slog.Logger) map[string]map[string]bool {
	if logger == nil {
		logger = slog.Default()
	}
	out := make(map[string]map[string]bool, len(sessions))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, session := range sessions {
		targets := session.Targets()
		hostResults := make(map[string]bool, len(targets))
		out[session.Host()] = hostResults
		if len(targets) == 0 {
			continue
		}
		for _, target := range targets {
			wg.Add(1)
			go func(session FPGASession, target *Target) {
				defer wg.Done()
				ok := calibrateOne(session, target, timeout, logger)
				mu.Lock()
				hostResults[target.Name] = ok
				mu.Unlock()
			}(session, target)
		}
	}

	wg.Wait()
	return out
}

// calibrateOne runs a single target's calibration with a bounded wait. The
// worker goroutine is not cancelled on timeout — the transport is assumed
// responsive, so it is left to finish on its own and its result is simply
// discarded (§5 Cancellation).
func calibrateOne(session FPGASession, target *Target, timeout time.Duration, logger *slog.Logger) bool {
	reg, err := session.Register(target)
	if err != nil {
		logger.Warn("qdr: could not obtain register for target", "host", session.Host(), "target", target, "err", err)
		return false
	}

	done := make(chan error, 1)
	go func() {
		done <- NewCalibrator(target, reg, logger).Calibrate()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Warn("qdr: calibration failed", "host", session.Host(), "target", target, "err", err)
			return false
		}
		return true
	case <-time.After(timeout):
		logger.Warn("qdr: calibration timed out", "host", session.Host(), "target", target, "timeout", timeout)
		return false
	}
}
