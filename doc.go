// Copyright 2024 The CASPER Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package qdr implements the software calibration core for a QDR-II+ SRAM
// controller attached to an FPGA target.
//
// A QDR-II+ controller exposes a raw memory window and a control register
// through which per-bit input-delay taps, per-bit output-delay taps, and an
// output-clock delay can be stepped. Physical skew across the 36-bit data
// bus is not known ahead of time, so the controller cannot reliably
// transfer data until the host searches for tap settings at which every
// bit's sampling window is centred. Calibrate does that search and programs
// the chosen settings; CalibrateAll does it for a whole fleet of FPGAs
// concurrently.
//
// This package does not open FPGA connections, parse Simulink-derived
// device metadata, or configure logging — callers provide a Register
// implementation (see the transport subpackage for one backed by a
// periph.io/x/conn/v3 SPI connection) and, optionally, a *slog.Logger.
package qdr
