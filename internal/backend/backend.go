// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package backend opens GPIO drivers by name.
package backend // import "github.com/go-lpc/gpio/internal/backend"

import (
	"fmt"
	"log"

	"github.com/go-lpc/gpio"
	"github.com/go-lpc/gpio/bcm"
	"github.com/go-lpc/gpio/gpiod"
	"github.com/go-lpc/gpio/gpiotest"
	"github.com/go-lpc/gpio/sysfs"
)

// SimPins is the number of pins of the simulated backend.
const SimPins = bcm.NumPins

// Names lists the known backends.
var Names = []string{"bcm", "sysfs", "gpiod", "sim"}

// Open opens the named backend.
// chip is the GPIO character device used by the gpiod backend.
func Open(name, chip string, msg *log.Logger) (gpio.Driver, error) {
	switch name {
	case "bcm":
		drv, err := bcm.New(bcm.WithLogger(msg))
		if err != nil {
			return nil, err
		}
		return drv, nil
	case "sysfs":
		drv, err := sysfs.New(sysfs.WithLogger(msg))
		if err != nil {
			return nil, err
		}
		return drv, nil
	case "gpiod":
		drv, err := gpiod.New(gpiod.WithChip(chip), gpiod.WithLogger(msg))
		if err != nil {
			return nil, err
		}
		return drv, nil
	case "sim":
		return gpiotest.New(SimPins), nil
	}
	return nil, fmt.Errorf("backend: unknown backend %q (known: %q)", name, Names)
}
