// Copyright 2024 The CASPER Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package qdr

import (
	"encoding/binary"
	"sync"
)

// ctrlOp records one control-register write, for assertions on write counts
// and ordering.
type ctrlOp struct {
	offset int
	value  uint32
}

// mockRegister is a Register whose MemRead XORs every word of the last
// MemWrite by a per-round fail mask, so a test can dictate exactly the
// fail_mask CalCheck will observe at each of its rounds without needing to
// hand-construct corrupted pattern data. "Round" here means one CalCheck
// call, which performs len(patternBattery) MemWrite/MemRead pairs.
type mockRegister struct {
	mu sync.Mutex

	ctrlWrites  []ctrlOp
	ctrlReads   []uint32
	ctrlReadIdx int

	failMasks    []uint32
	shortOnRound map[int]bool

	lastWritten []byte
	memOpIdx    int
}

func (m *mockRegister) CtrlWrite(offset int, value uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctrlWrites = append(m.ctrlWrites, ctrlOp{offset, value})
	return nil
}

func (m *mockRegister) CtrlRead(offset int) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.ctrlReads) == 0 {
		return 0, nil
	}
	idx := m.ctrlReadIdx
	if idx >= len(m.ctrlReads) {
		idx = len(m.ctrlReads) - 1
	}
	m.ctrlReadIdx++
	return m.ctrlReads[idx], nil
}

func (m *mockRegister) MemWrite(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastWritten = append([]byte(nil), data...)
	return nil
}

func (m *mockRegister) MemRead(n int) ([]byte, error) {
	m.mu.Lock()
	round := m.memOpIdx / len(patternBattery)
	m.memOpIdx++
	written := append([]byte(nil), m.lastWritten...)
	short := m.shortOnRound[round]
	m.mu.Unlock()

	if short {
		return written[:len(written)/2], nil
	}

	var mask uint32
	switch {
	case round < len(m.failMasks):
		mask = m.failMasks[round]
	case len(m.failMasks) > 0:
		mask = m.failMasks[len(m.failMasks)-1]
	}
	if mask == 0 {
		return written, nil
	}
	out := written
	for i := 0; i+4 <= len(out); i += 4 {
		w := binary.BigEndian.Uint32(out[i:])
		binary.BigEndian.PutUint32(out[i:], w^mask)
	}
	return out, nil
}

// simHardware is a small behavioural model of the control-register
// protocol's effect on tap state, used to exercise the idempotence property
// (§8.1) against the real tapDriver write sequence rather than just
// counting writes.
type simHardware struct {
	inTaps, outTaps [TotalBits]int
	clkTap          int

	resetPending   bool
	direction      int
	lastDataOffset int
	data4, data6   uint32
}

func (s *simHardware) CtrlWrite(offset int, value uint32) error {
	switch offset {
	case OffsetReset:
		if value == 1 {
			s.resetPending = true
		} else if value == 0 && s.resetPending {
			*s = simHardware{}
		}
	case OffsetInData:
		s.data4 = value
		s.lastDataOffset = OffsetInData
	case OffsetOutData:
		s.data6 = value
		s.lastDataOffset = OffsetOutData
	case OffsetDirection:
		if value == 0xFFFFFFFF {
			s.direction = 1
		} else if value == 0 {
			s.direction = -1
		}
	case OffsetStrobe:
		// Every strobe write applies the current data word: the clear-strobe
		// write follows a cleared data word and so moves nothing, and the
		// set-strobe write may itself be 0 when bits 32..35 are not selected.
		switch {
		case value&clkStrobeBit != 0 && s.lastDataOffset == 0:
			s.clkTap += s.direction
		case s.lastDataOffset == OffsetInData:
			mask := uint64(s.data4) | uint64(value&0xF)<<32
			applyMask(&s.inTaps, mask, s.direction)
		case s.lastDataOffset == OffsetOutData:
			mask := uint64(s.data6) | uint64((value>>4)&0xF)<<32
			applyMask(&s.outTaps, mask, s.direction)
		}
	}
	return nil
}

func applyMask(taps *[TotalBits]int, mask uint64, direction int) {
	for bit := 0; bit < TotalBits; bit++ {
		if mask&(1<<uint(bit)) != 0 {
			taps[bit] += direction
		}
	}
}

func (s *simHardware) CtrlRead(offset int) (uint32, error) {
	if offset == OffsetClkCount {
		c := uint32(s.clkTap) & 0x1f
		return c | (c << 5), nil
	}
	return 0, nil
}

func (s *simHardware) MemWrite(data []byte) error    { return nil }
func (s *simHardware) MemRead(n int) ([]byte, error) { return make([]byte, n), nil }
