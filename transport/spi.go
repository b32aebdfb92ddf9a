// Copyright 2024 The CASPER Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package transport adapts real buses to the qdr.Register boundary. SPI is
// the bus CASPER/ROACH bench bring-up rigs typically use to reach a QDR
// controller through an FTDI MPSSE adapter; FPGA discovery and the SPI
// connection itself remain the caller's concern.
package transport

import (
	"encoding/binary"
	"fmt"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"github.com/casper-astro/qdrcal"
)

// Command bytes prefixed ahead of every transaction's payload, the same
// command-byte-ahead-of-payload framing FTDI MPSSE SPI transactions use for
// register access.
const (
	cmdCtrlWrite byte = 0x01
	cmdCtrlRead  byte = 0x02
	cmdMemWrite  byte = 0x03
	cmdMemRead   byte = 0x04
)

// DefaultSpeed is the bus speed used if none is given to Connect: fast
// enough for bench bring-up, well under the FTDI MPSSE 30MHz ceiling.
const DefaultSpeed = 10 * physic.MegaHertz

// SPIRegister implements qdr.Register over a connected SPI bus. Each call is
// one full-duplex transaction starting with a one-byte command. Control
// calls follow it with a four-byte big-endian word offset and a four-byte
// value; memory calls follow it with the payload (or n filler bytes for a
// read). The reply is read from the same frame.
type SPIRegister struct {
	conn spi.Conn
}

// Connect opens port at speed (DefaultSpeed if zero) in SPI mode 0, 8 bits
// per word, and returns a Register driving it. The caller owns port's
// lifecycle; SPIRegister does not close it.
func Connect(port spi.Port, speed physic.Frequency) (*SPIRegister, error) {
	if speed == 0 {
		speed = DefaultSpeed
	}
	conn, err := port.Connect(speed, spi.Mode0, 8)
	if err != nil {
		return nil, fmt.Errorf("qdr/transport: connect: %w", err)
	}
	return &SPIRegister{conn: conn}, nil
}

// NewSPIRegister wraps an already-connected spi.Conn directly, for callers
// that manage their own Port.Connect (e.g. to share one port across several
// targets' control and memory windows).
func NewSPIRegister(conn spi.Conn) *SPIRegister {
	return &SPIRegister{conn: conn}
}

func (s *SPIRegister) CtrlWrite(wordOffset int, value uint32) error {
	w := make([]byte, 9)
	w[0] = cmdCtrlWrite
	binary.BigEndian.PutUint32(w[1:], uint32(wordOffset))
	binary.BigEndian.PutUint32(w[5:], value)
	if err := s.conn.Tx(w, make([]byte, len(w))); err != nil {
		return fmt.Errorf("qdr/transport: ctrl write offset %d: %w", wordOffset, err)
	}
	return nil
}

func (s *SPIRegister) CtrlRead(wordOffset int) (uint32, error) {
	w := make([]byte, 9)
	w[0] = cmdCtrlRead
	binary.BigEndian.PutUint32(w[1:], uint32(wordOffset))
	r := make([]byte, len(w))
	if err := s.conn.Tx(w, r); err != nil {
		return 0, fmt.Errorf("qdr/transport: ctrl read offset %d: %w", wordOffset, err)
	}
	return binary.BigEndian.Uint32(r[5:]), nil
}

func (s *SPIRegister) MemWrite(data []byte) error {
	w := make([]byte, 1+len(data))
	w[0] = cmdMemWrite
	copy(w[1:], data)
	if err := s.conn.Tx(w, make([]byte, len(w))); err != nil {
		return fmt.Errorf("qdr/transport: mem write %d bytes: %w", len(data), err)
	}
	return nil
}

func (s *SPIRegister) MemRead(n int) ([]byte, error) {
	w := make([]byte, 1+n)
	w[0] = cmdMemRead
	r := make([]byte, len(w))
	if err := s.conn.Tx(w, r); err != nil {
		return nil, fmt.Errorf("qdr/transport: mem read %d bytes: %w", n, err)
	}
	return r[1:], nil
}

var _ qdr.Register = (*SPIRegister)(nil)
