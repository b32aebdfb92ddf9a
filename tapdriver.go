// Copyright 2024 The CASPER Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package qdr

// Bus topology constants (§9): a hardware property, not an algorithm
// choice, so hardware with a different split can be accommodated by
// changing only these.
const (
	// ObservableBits is the number of data bits individually round-tripped
	// through the memory window.
	ObservableBits = 32
	// TotalBits is the full width of the delay-programmable bus, including
	// the unobservable bits.
	TotalBits = 36
	// AllBitsMask selects every one of the TotalBits lines.
	AllBitsMask uint64 = (1 << TotalBits) - 1
)

const clkStrobeBit uint32 = 1 << 8

// tapDriver translates delay-stepping requests into the control register's
// stateful, order-sensitive write protocol (§4.2). It holds no state of its
// own beyond the Register it drives: every step is blind-written.
type tapDriver struct {
	reg Register
}

func newTapDriver(reg Register) *tapDriver {
	return &tapDriver{reg: reg}
}

// reset sets all taps to zero by toggling the reset bit's rising edge.
func (t *tapDriver) reset() error {
	if err := t.reg.CtrlWrite(OffsetReset, 1); err != nil {
		return err
	}
	return t.reg.CtrlWrite(OffsetReset, 0)
}

// latchDirection writes the shared direction-latch word for step's sign. A
// zero step issues no writes at all.
func (t *tapDriver) latchDirection(step int) (bool, error) {
	if step == 0 {
		return false, nil
	}
	if step > 0 {
		if err := t.reg.CtrlWrite(OffsetDirection, 0xFFFFFFFF); err != nil {
			return false, err
		}
	} else {
		if err := t.reg.CtrlWrite(OffsetDirection, 0); err != nil {
			return false, err
		}
	}
	return true, nil
}

// delayStep steps the bits set in bitmask by |step| taps in sign(step)'s
// direction, through dataOffset (4 for input, 6 for output) and the
// strobe/extension word built by buildStrobe from the high 4 bits of
// bitmask.
func (t *tapDriver) delayStep(bitmask uint64, step int, dataOffset int, buildStrobe func(ext uint32) uint32) error {
	did, err := t.latchDirection(step)
	if err != nil || !did {
		return err
	}
	low := uint32(bitmask & 0xFFFFFFFF)
	ext := uint32((bitmask >> 32) & 0xF)
	strobe := buildStrobe(ext)
	n := step
	if n < 0 {
		n = -n
	}
	for i := 0; i < n; i++ {
		if err := t.reg.CtrlWrite(dataOffset, 0); err != nil {
			return err
		}
		if err := t.reg.CtrlWrite(OffsetStrobe, 0); err != nil {
			return err
		}
		if err := t.reg.CtrlWrite(dataOffset, low); err != nil {
			return err
		}
		if err := t.reg.CtrlWrite(OffsetStrobe, strobe); err != nil {
			return err
		}
	}
	return nil
}

// delayInStep steps the input-delay taps of every bit set in bitmask.
func (t *tapDriver) delayInStep(bitmask uint64, step int) error {
	return t.delayStep(bitmask, step, OffsetInData, func(ext uint32) uint32 { return ext })
}

// delayOutStep steps the output-delay taps of every bit set in bitmask.
func (t *tapDriver) delayOutStep(bitmask uint64, step int) error {
	return t.delayStep(bitmask, step, OffsetOutData, func(ext uint32) uint32 { return ext << 4 })
}

// delayClkStep steps the output clock delay by |step| taps.
func (t *tapDriver) delayClkStep(step int) error {
	did, err := t.latchDirection(step)
	if err != nil || !did {
		return err
	}
	n := step
	if n < 0 {
		n = -n
	}
	for i := 0; i < n; i++ {
		if err := t.reg.CtrlWrite(OffsetStrobe, 0); err != nil {
			return err
		}
		if err := t.reg.CtrlWrite(OffsetStrobe, clkStrobeBit); err != nil {
			return err
		}
	}
	return nil
}

// delayClkGet reads back the current clock-tap counter, failing with
// HardwareInconsistentError if its duplicated copies disagree.
func (t *tapDriver) delayClkGet() (int, error) {
	raw, err := t.reg.CtrlRead(OffsetClkCount)
	if err != nil {
		return 0, err
	}
	if (raw & 0x1f) != ((raw & (0x1f << 5)) >> 5) {
		return 0, &HardwareInconsistentError{Raw: raw}
	}
	return int(raw & 0x1f), nil
}
