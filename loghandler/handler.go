// Copyright 2024 The CASPER Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package loghandler formats calibration log records in the one-line,
// timestamp-prefixed style this core's CLI and batch driver use for bench
// output, with verbose (debug) records optionally mirrored to stderr even
// when the primary sink is a log file.
package loghandler

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Handler is a slog.Handler that renders records as a single
// "time level message attr=val ..." line, duplicating warning-and-above
// records (every record when debug is set) to stderr so bench operators see
// failures even when the run's primary output is redirected to a log file.
type Handler struct {
	out   io.Writer
	h     slog.Handler
	mu    *sync.Mutex
	debug bool
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.h.Enabled(ctx, level)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{out: h.out, h: h.h.WithAttrs(attrs), mu: h.mu, debug: h.debug}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{out: h.out, h: h.h.WithGroup(name), mu: h.mu, debug: h.debug}
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	parts := []string{r.Time.Format("2006/01/02 15:04:05"), r.Level.String() + ":", r.Message}
	r.Attrs(func(a slog.Attr) bool {
		parts = append(parts, a.Key+"="+a.Value.String())
		return true
	})
	line := []byte(strings.Join(parts, " ") + "\n")

	h.mu.Lock()
	defer h.mu.Unlock()

	var err error
	if h.out != nil {
		_, err = h.out.Write(line)
	}
	if h.debug || r.Level >= slog.LevelWarn {
		if _, werr := os.Stderr.Write(line); err == nil {
			err = werr
		}
	}
	return err
}

// New builds a Handler writing to out (stderr if nil) at the given level.
// When debug is true every record, not just warnings and above, is
// mirrored to stderr in addition to out.
func New(out io.Writer, level slog.Level, debug bool) *Handler {
	if out == nil {
		out = os.Stderr
	}
	return &Handler{
		out:   out,
		h:     slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}),
		mu:    &sync.Mutex{},
		debug: debug,
	}
}
