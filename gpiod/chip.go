// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gpiod // import "github.com/go-lpc/gpio/gpiod"

import (
	"time"

	"github.com/go-lpc/gpio"
)

// lineConfig describes a line request.
type lineConfig struct {
	mode  gpio.Mode
	value gpio.Level // initial value of an output line
	edges gpio.Edge  // edges reported by an input line

	// asIs requests the line without changing its direction, bias or
	// output level.
	asIs bool
}

// chip is an open GPIO character device.
type chip interface {
	// Lines returns the number of lines of the chip.
	Lines() int
	// Mode returns the current kernel configuration of a line.
	Mode(offset int) (gpio.Mode, error)
	// Request requests a single line.
	Request(offset int, cfg lineConfig) (line, error)
	Close() error
}

// line is a requested line.
type line interface {
	Value() (gpio.Level, error)
	SetValue(v gpio.Level) error

	// Wait waits for an edge event for at most timeout.
	// Wait returns false when it timed out.
	Wait(timeout time.Duration) (bool, error)
	// ReadEvent returns the next pending edge event.
	ReadEvent() (gpio.Edge, error)

	Close() error
}
