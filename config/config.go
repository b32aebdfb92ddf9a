// Copyright 2024 The CASPER Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package config loads the fleet manifest: which FPGA hosts to calibrate,
// which QDR targets each one carries, and the memory-map entries needed to
// build a qdr.Target for each.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/casper-astro/qdrcal"
)

// MemEntry is one named resource's address and length, as found in a
// Simulink-derived device memory map (fpg file metadata).
type MemEntry struct {
	Address uint64 `mapstructure:"address"`
	Bytes   uint64 `mapstructure:"bytes"`
}

// TargetConfig names one QDR block on a host by its Simulink logical ID
// (e.g. "qdr0"), from which "<id>_memory" and "<id>_ctrl" are derived.
type TargetConfig struct {
	Name     string `mapstructure:"name"`
	WhichQDR string `mapstructure:"which_qdr"`
}

// HostConfig is one FPGA's fleet entry: its address, QDR targets, and the
// memory map entries those targets resolve against.
type HostConfig struct {
	Host      string              `mapstructure:"host"`
	MemoryMap map[string]MemEntry `mapstructure:"memory_map"`
	Targets   []TargetConfig      `mapstructure:"targets"`
}

// Lookup implements qdr.MemoryMap against this host's memory_map table.
func (h HostConfig) Lookup(name string) (qdr.MemoryEntry, bool) {
	entry, ok := h.MemoryMap[name]
	if !ok {
		return qdr.MemoryEntry{}, false
	}
	return qdr.MemoryEntry{Address: entry.Address, Bytes: entry.Bytes}, true
}

// BuildTargets builds a qdr.Target for each of this host's configured QDR
// blocks, resolving each against the host's own memory map.
func (h HostConfig) BuildTargets() ([]*qdr.Target, error) {
	targets := make([]*qdr.Target, 0, len(h.Targets))
	for _, tc := range h.Targets {
		target, err := qdr.NewTargetFromMap(tc.Name, qdr.DeviceInfo{WhichQDR: tc.WhichQDR}, h)
		if err != nil {
			return nil, fmt.Errorf("qdr/config: host %s: %w", h.Host, err)
		}
		targets = append(targets, target)
	}
	return targets, nil
}

// FleetConfig is the full manifest this core's CLI reads.
type FleetConfig struct {
	Hosts          []HostConfig `mapstructure:"hosts"`
	TimeoutSeconds int          `mapstructure:"timeout_seconds"`
	LogLevel       string       `mapstructure:"log_level"`
}

// Load reads "qdrcal.toml" from the given search path, then from
// /etc/qdrcal, then from the working directory, mirroring the bench-tooling
// convention of checking a fixed system path before the working directory.
// If no config file is found, it returns DefaultConfig rather than failing.
func Load(searchPath string) (*FleetConfig, error) {
	viper.SetConfigName("qdrcal")
	viper.SetConfigType("toml")
	if searchPath != "" {
		viper.AddConfigPath(searchPath)
	}
	viper.AddConfigPath("/etc/qdrcal")
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("qdr/config: reading qdrcal.toml: %w", err)
	}

	cfg := DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("qdr/config: decoding qdrcal.toml: %w", err)
	}
	return cfg, nil
}

// DefaultConfig is the fallback used when no manifest file is found: no
// hosts, a 30 second per-target timeout, and info-level logging. The
// qdrcal command line takes no host list, so with this fallback the CLI
// has nothing to calibrate.
func DefaultConfig() *FleetConfig {
	return &FleetConfig{
		TimeoutSeconds: 30,
		LogLevel:       "info",
	}
}
