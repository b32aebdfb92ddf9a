// Copyright 2024 The CASPER Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	getopt "github.com/pborman/getopt/v2"
	"periph.io/x/conn/v3/spi/spireg"

	"github.com/casper-astro/qdrcal"
	"github.com/casper-astro/qdrcal/config"
	"github.com/casper-astro/qdrcal/loghandler"
	"github.com/casper-astro/qdrcal/transport"
)

var Logger *slog.Logger

// fleetSession adapts one config.HostConfig to qdr.FPGASession. Each
// target's SPI bus is opened when Register is called for it.
type fleetSession struct {
	host    string
	targets []*qdr.Target
}

func main() {
	optConfig := getopt.StringLong("config", 'c', "", "Fleet manifest (qdrcal.toml search path)")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file (stderr if unset)")
	optTimeout := getopt.IntLong("timeout", 't', 0, "Per-target timeout in seconds (overrides config)")
	optDebug := getopt.BoolLong("debug", 'd', "Mirror every log record to stderr")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	var out io.Writer
	if *optLogFile != "" {
		f, err := os.Create(*optLogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "qdrcal: cannot create log file: %v\n", err)
			os.Exit(1)
		}
		out = f
	}
	Logger = slog.New(loghandler.New(out, slog.LevelInfo, *optDebug))
	slog.SetDefault(Logger)

	cfg, err := config.Load(*optConfig)
	if err != nil {
		Logger.Error("qdrcal: loading fleet manifest", "err", err)
		os.Exit(1)
	}
	if len(cfg.Hosts) == 0 {
		Logger.Warn("qdrcal: fleet manifest has no hosts, nothing to calibrate")
		return
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if *optTimeout > 0 {
		timeout = time.Duration(*optTimeout) * time.Second
	}

	sessions := make([]qdr.FPGASession, 0, len(cfg.Hosts))
	for _, host := range cfg.Hosts {
		targets, err := host.BuildTargets()
		if err != nil {
			Logger.Error("qdrcal: resolving targets", "host", host.Host, "err", err)
			os.Exit(1)
		}
		sessions = append(sessions, &fleetSession{host: host.Host, targets: targets})
	}

	results := qdr.CalibrateAll(sessions, timeout, Logger)

	failed := false
	for host, byTarget := range results {
		for name, ok := range byTarget {
			Logger.Info("qdrcal: result", "host", host, "target", name, "ok", ok)
			if !ok {
				failed = true
			}
		}
	}
	if failed {
		os.Exit(1)
	}
}

func (s *fleetSession) Host() string          { return s.host }
func (s *fleetSession) Targets() []*qdr.Target { return s.targets }

// Register opens target's SPI bus by name (the target's Name is used as the
// spireg bus name, e.g. "/dev/spidev0.0") and wraps it as a qdr.Register.
// Bus discovery and registration are periph's concern, not this core's:
// spireg.Open resolves whatever driver the host platform has registered.
func (s *fleetSession) Register(target *qdr.Target) (qdr.Register, error) {
	port, err := spireg.Open(target.Name)
	if err != nil {
		return nil, fmt.Errorf("qdrcal: opening spi bus for %s: %w", target.Name, err)
	}
	return transport.Connect(port, transport.DefaultSpeed)
}
