// Copyright 2024 The CASPER Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package qdr

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
)

// minRobustRun is the narrowest widest-passing-run (§4.4.1) that still
// counts as a robust tap choice.
const minRobustRun = 4

// maxOutSteps bounds the outer output/clock-delay sweep (§4.4.3): taps run
// [0, 31], so 32 retries cover the full range before giving up.
const maxOutSteps = 32

// EyeMap is the 32-step eye scan's result: one ternary (+1 pass, -1 fail)
// timeline per observable bit, plus the raw per-step fail mask the timeline
// was derived from. Its lifetime is a single Calibrator.FindInDelays call.
type EyeMap struct {
	FailMasks []uint32 // one 32-bit fail mask per step
	Bits      [][]int8 // Bits[bit][step], bit in [0, ObservableBits)
}

// DumpEye writes the scan's fail mask at every step, one line per step, in
// the "0 is pass, 1 is fail" binary form the CASPER tooling this is
// descended from used for bench debugging.
func (e *EyeMap) DumpEye(w io.Writer) {
	for step, mask := range e.FailMasks {
		fmt.Fprintf(w, "tap step %2d: %032b\n", step, mask)
	}
}

// Calibrator owns the end-to-end per-QDR calibration algorithm (L3): the
// eye scan, tap selection, tap application, and the outer retry loop.
type Calibrator struct {
	Target *Target
	Reg    Register
	Logger *slog.Logger

	tap *tapDriver
}

// NewCalibrator builds a Calibrator for target, driving reg. logger may be
// nil, in which case slog.Default() is used.
func NewCalibrator(target *Target, reg Register, logger *slog.Logger) *Calibrator {
	return &Calibrator{Target: target, Reg: reg, Logger: logger, tap: newTapDriver(reg)}
}

func (c *Calibrator) log() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// FindInDelays runs the 32-step input-delay eye scan and selects a tap per
// bit (§4.4.1). The caller must have reset the controller immediately
// beforehand so the scan starts from an all-zero tap state.
func (c *Calibrator) FindInDelays() (delays [TotalBits]int, eye *EyeMap, err error) {
	eye = &EyeMap{
		FailMasks: make([]uint32, ObservableBits),
		Bits:      make([][]int8, ObservableBits),
	}
	for b := range eye.Bits {
		eye.Bits[b] = make([]int8, ObservableBits)
	}

	for step := 0; step < ObservableBits; step++ {
		failMask, err := CalCheck(c.Reg)
		if err != nil {
			return delays, eye, err
		}
		eye.FailMasks[step] = failMask
		for bit := 0; bit < ObservableBits; bit++ {
			if failMask&(1<<uint(bit)) != 0 {
				eye.Bits[bit][step] = -1
			} else {
				eye.Bits[bit][step] = 1
			}
		}
		c.log().Debug("qdr: stepped input delays", "target", c.Target, "step", step+1)
		if err := c.tap.delayInStep(AllBitsMask, 1); err != nil {
			return delays, eye, err
		}
	}

	c.log().Debug("qdr: eye scan complete", "target", c.Target)
	if c.log().Enabled(context.Background(), slog.LevelDebug) {
		var dump strings.Builder
		eye.DumpEye(&dump)
		c.log().Debug("qdr: eye dump", "target", c.Target, "eye", dump.String())
	}

	taps := make([]int, ObservableBits)
	for bit := 0; bit < ObservableBits; bit++ {
		timeline := eye.Bits[bit]
		if !containsFail(timeline) {
			return delays, eye, &PerBitCalibrationFailedError{Bit: bit}
		}
		sum, begin, end := maxSumContiguous(timeline)
		if sum < minRobustRun {
			return delays, eye, &NoRobustTapError{Bit: bit, Run: sum}
		}
		tap := (begin + end) / 2
		taps[bit] = tap
		delays[bit] = tap
		c.log().Debug("qdr: selected tap", "target", c.Target, "bit", bit, "tap", tap)
	}

	// Bits 32..35 are not individually observable; estimate their required
	// delay as the median of the observable bits' chosen taps.
	median := medianInt(taps)
	for bit := ObservableBits; bit < TotalBits; bit++ {
		delays[bit] = median
		c.log().Debug("qdr: selected tap (unobservable)", "target", c.Target, "bit", bit, "tap", median)
	}
	return delays, eye, nil
}

func containsFail(timeline []int8) bool {
	for _, v := range timeline {
		if v < 0 {
			return true
		}
	}
	return false
}

// maxSumContiguous is the maximum-sum contiguous subarray (Kadane's
// algorithm), using >= rather than > when a new running sum ties the best
// seen so far (§8 property 3): a tie that extends the current run widens it,
// and a tie from a later, disjoint run replaces the earlier one.
func maxSumContiguous(a []int8) (sum, begin, end int) {
	maxSoFar := int(a[0])
	maxEndingHere := int(a[0])
	beginIdx, beginTemp, endIdx := 0, 0, 0
	for i := 1; i < len(a); i++ {
		if maxEndingHere < 0 {
			maxEndingHere = int(a[i])
			beginTemp = i
		} else {
			maxEndingHere += int(a[i])
		}
		if maxEndingHere >= maxSoFar {
			maxSoFar = maxEndingHere
			beginIdx = beginTemp
			endIdx = i
		}
	}
	return maxSoFar, beginIdx, endIdx
}

func medianInt(xs []int) int {
	sorted := make([]int, len(xs))
	copy(sorted, xs)
	sort.Ints(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// ApplyCals programs the controller with the given per-bit delays (§4.4.2).
// It resets the controller first, so it may be called standalone to
// reproduce a previously-found calibration.
func (c *Calibrator) ApplyCals(inDelays, outDelays [TotalBits]int, clkDelay int) error {
	if err := c.tap.reset(); err != nil {
		return err
	}
	if err := c.tap.delayClkStep(clkDelay); err != nil {
		return err
	}
	if err := c.rampDelays(inDelays, c.tap.delayInStep); err != nil {
		return err
	}
	return c.rampDelays(outDelays, c.tap.delayOutStep)
}

// rampDelays advances each bit's delay towards its target in O(max(delays))
// register bursts: at each step, every bit whose target exceeds step is
// still included in the mask, and drops out once it reaches its target.
func (c *Calibrator) rampDelays(delays [TotalBits]int, step func(mask uint64, step int) error) error {
	maxDelay := 0
	for _, d := range delays {
		if d > maxDelay {
			maxDelay = d
		}
	}
	for s := 0; s < maxDelay; s++ {
		var mask uint64
		for bit, d := range delays {
			if s < d {
				mask |= 1 << uint(bit)
			}
		}
		if err := step(mask, 1); err != nil {
			return err
		}
	}
	return nil
}

// Calibrate runs the full calibration: it returns immediately if the
// controller is already calibrated, otherwise it sweeps the outer
// output/clock-delay axis (§4.4.3), rerunning the eye scan at each step.
// An error from the inner eye scan (PerBitCalibrationFailedError,
// NoRobustTapError, or a Register error) propagates immediately and aborts
// the outer loop; it is not retried. The clock-tap readback after a failed
// outer step is diagnostic only: a HardwareInconsistentError from it is
// logged and the sweep continues.
func (c *Calibrator) Calibrate() error {
	if failMask, err := CalCheck(c.Reg); err != nil {
		return err
	} else if failMask == 0 {
		return nil
	}

	for outStep := 0; outStep < maxOutSteps; outStep++ {
		if err := c.tap.reset(); err != nil {
			return err
		}
		inDelays, _, err := c.FindInDelays()
		if err != nil {
			return err
		}
		var outDelays [TotalBits]int
		for bit := range outDelays {
			outDelays[bit] = outStep
		}
		if err := c.ApplyCals(inDelays, outDelays, outStep); err != nil {
			return err
		}
		failMask, err := CalCheck(c.Reg)
		if err != nil {
			return err
		}
		if failMask == 0 {
			c.log().Info("qdr: calibrated", "target", c.Target, "out_step", outStep)
			return nil
		}
		if clk, err := c.tap.delayClkGet(); err != nil {
			c.log().Debug("qdr: clk readback failed after retry", "target", c.Target, "err", err)
		} else {
			c.log().Debug("qdr: stepping out delays", "target", c.Target, "out_step", outStep+1, "was", clk)
		}
	}
	return &CalibrationFailedError{Target: c.Target.Name}
}
