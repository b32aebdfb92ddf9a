// Copyright 2024 The CASPER Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package qdr

import "fmt"

// Target describes a single QDR-II+ instance on an FPGA. It is constructed
// from external device metadata and is immutable thereafter; its Register
// is owned exclusively by the calibration running against it.
type Target struct {
	// Name is a human-readable label used in logs and fleet results.
	Name string
	// ID is the logical identifier Simulink assigns this QDR; it prefixes
	// the two underlying memory-mapped resources, "<ID>_ctrl" and
	// "<ID>_memory".
	ID string
	// MemAddress and MemLength describe the QDR memory window.
	MemAddress uint64
	MemLength  uint64
	// CtrlAddress is the byte address of the control register.
	CtrlAddress uint64
}

// String identifies the target for diagnostics and log attribution.
func (t *Target) String() string {
	return fmt.Sprintf("Target:%s", t.Name)
}

// MemoryEntry is one entry of a device memory map: a named resource's byte
// address and length.
type MemoryEntry struct {
	Address uint64
	Bytes   uint64
}

// MemoryMap is the minimal view of a device's Simulink-derived memory map
// this core needs: lookup by resource name. Parsing the map itself is an
// external concern; this core only ever performs the two lookups below.
type MemoryMap interface {
	Lookup(name string) (MemoryEntry, bool)
}

// DeviceInfo is the minimal view of a QDR block's Simulink-derived device
// info this core needs.
type DeviceInfo struct {
	// WhichQDR is the logical identifier (e.g. "qdr0") used to prefix the
	// memory-mapped resource names.
	WhichQDR string
}

// NewTargetFromMap builds a Target for deviceName by looking up its
// "<WhichQDR>_memory" and "<WhichQDR>_ctrl" entries in memMap, mirroring
// the two-lookup contract of the original CASPER tooling's
// Qdr.from_device_info. It returns an error if either resource is absent
// from the map.
func NewTargetFromMap(deviceName string, info DeviceInfo, memMap MemoryMap) (*Target, error) {
	memName := info.WhichQDR + "_memory"
	mem, ok := memMap.Lookup(memName)
	if !ok {
		return nil, fmt.Errorf("qdr: could not find address or length for %s (%s)", deviceName, memName)
	}
	ctrlName := info.WhichQDR + "_ctrl"
	ctrl, ok := memMap.Lookup(ctrlName)
	if !ok {
		return nil, fmt.Errorf("qdr: could not find ctrl reg address for %s (%s)", deviceName, ctrlName)
	}
	return &Target{
		Name:        deviceName,
		ID:          info.WhichQDR,
		MemAddress:  mem.Address,
		MemLength:   mem.Bytes,
		CtrlAddress: ctrl.Address,
	}, nil
}
