// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bcm // import "github.com/go-lpc/gpio/bcm"

import (
	"log"
	"os"

	"github.com/go-lpc/gpio"
)

type config struct {
	gpiomem string
	mem     string
	dtree   string
	msg     *log.Logger
	irq     func() (gpio.Driver, error)

	rw   wordRW // pre-mapped registers
	chip *Chip
}

func newConfig() config {
	return config{
		gpiomem: "/dev/gpiomem",
		mem:     "/dev/mem",
		dtree:   "/proc/device-tree",
		msg:     log.New(os.Stdout, "bcm: ", 0),
	}
}

// Option configures a register-mapped driver.
type Option func(*config)

// WithGPIOMem sets the path to the unprivileged GPIO memory device.
func WithGPIOMem(fname string) Option {
	return func(cfg *config) {
		cfg.gpiomem = fname
	}
}

// WithMem sets the path to the physical memory device.
func WithMem(fname string) Option {
	return func(cfg *config) {
		cfg.mem = fname
	}
}

// WithDeviceTree sets the root of the device-tree used to identify the
// board and to locate the peripheral base address.
func WithDeviceTree(dir string) Option {
	return func(cfg *config) {
		cfg.dtree = dir
	}
}

// WithLogger sets the logger of the driver.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithChip overrides the detected pull programming variant.
func WithChip(chip Chip) Option {
	return func(cfg *config) {
		cfg.chip = &chip
	}
}

// WithInterruptDriver sets the factory of the driver handling edge events.
// The factory is called once, on first use.
// By default, the GPIO character device driver is used, falling back to the
// sysfs driver when the former is not available.
func WithInterruptDriver(f func() (gpio.Driver, error)) Option {
	return func(cfg *config) {
		cfg.irq = f
	}
}
