// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sysfs // import "github.com/go-lpc/gpio/sysfs"

import (
	"errors"
	"time"
)

// errInterrupted is returned by a multiplexer wait interrupted by a signal.
var errInterrupted = errors.New("sysfs: multiplexer wait interrupted")

// poller multiplexes the readiness of the value files of watched pins.
type poller interface {
	// Add registers the file descriptor of the value file of pin.
	Add(fd uintptr, pin int) error
	// Remove unregisters a file descriptor.
	Remove(fd uintptr) error
	// Wait returns the pins whose value file became ready.
	// Wait returns no pin and no error on timeout, and errInterrupted
	// when interrupted by a signal.
	Wait(timeout time.Duration) ([]int, error)
	Close() error
}
