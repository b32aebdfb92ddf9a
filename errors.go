// Copyright 2024 The CASPER Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package qdr

import "fmt"

// HardwareInconsistentError is returned by delayClkGet when the duplicated
// clock-tap counter at bits 5..9 of word offset 8 disagrees with bits 0..4.
// It indicates a bus or fabric fault and is never retried.
type HardwareInconsistentError struct {
	Raw uint32
}

func (e *HardwareInconsistentError) Error() string {
	return fmt.Sprintf("qdr: clk tap counter inconsistent, got 0x%x", e.Raw)
}

// PerBitCalibrationFailedError is raised from FindInDelays when some bit
// never failed during the 32-step eye scan: its eye could not be bounded,
// so no tap can be chosen for it.
type PerBitCalibrationFailedError struct {
	Bit int
}

func (e *PerBitCalibrationFailedError) Error() string {
	return fmt.Sprintf("qdr: calibration failed for bit %d: no failing edge seen", e.Bit)
}

// NoRobustTapError is raised from FindInDelays when the best net-passing
// run found for some bit has a net sum (passing steps minus failing steps)
// below 4. Run holds that sum.
type NoRobustTapError struct {
	Bit int
	Run int
}

func (e *NoRobustTapError) Error() string {
	return fmt.Sprintf("qdr: could not find a robust calibration setting for bit %d (widest run %d taps)", e.Bit, e.Run)
}

// CalibrationFailedError is returned by Calibrate when the outer
// output/clock-delay sweep exhausts all 32 retries without a clean
// pattern-check pass.
type CalibrationFailedError struct {
	Target string
}

func (e *CalibrationFailedError) Error() string {
	return fmt.Sprintf("qdr: calibration failed for %s", e.Target)
}

// ReadShortError indicates a memory readback returned fewer bytes than
// requested. It is non-fatal: CalCheck treats it as a failed pattern round
// rather than raising.
type ReadShortError struct {
	Want, Got int
}

func (e *ReadShortError) Error() string {
	return fmt.Sprintf("qdr: short read, wanted %d bytes got %d", e.Want, e.Got)
}
