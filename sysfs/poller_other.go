// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package sysfs // import "github.com/go-lpc/gpio/sysfs"

import (
	"fmt"
	"runtime"

	"github.com/go-lpc/gpio"
)

func newPoller() (poller, error) {
	return nil, fmt.Errorf("sysfs: no edge multiplexer on %s: %w", runtime.GOOS, gpio.ErrPlatformNotSupported)
}
