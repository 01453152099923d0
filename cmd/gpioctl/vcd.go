// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-lpc/gpio"
	"zappem.net/pub/io/iotracer"
)

// tracer records the levels of a watched pin as a VCD trace.
type tracer struct {
	pin int
	tr  *iotracer.Trace
}

func newTracer(pin int, v gpio.Level) *tracer {
	tr := iotracer.NewTrace("gpioctl", 1024)
	tr.Label(0, fmt.Sprintf("gpio%d", pin))
	tr.Sample(1, uint64(v))
	return &tracer{pin: pin, tr: tr}
}

func (t *tracer) sample(evt gpio.Event) {
	if t == nil {
		return
	}
	var v uint64
	if evt.Edge == gpio.Rising {
		v = 1
	}
	t.tr.Sample(1, v)
}

func (t *tracer) save(fname string) error {
	rd, err := t.tr.VCD(100 * time.Nanosecond)
	if err != nil {
		return fmt.Errorf("unable to generate %q trace of pin %d: %w", fname, t.pin, err)
	}

	f, err := os.Create(fname)
	if err != nil {
		return fmt.Errorf("unable to create %q file: %w", fname, err)
	}
	defer f.Close()

	_, err = io.Copy(f, rd)
	if err != nil {
		return fmt.Errorf("could not write VCD trace to %q: %w", fname, err)
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("could not close %q: %w", fname, err)
	}
	return nil
}
