// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gpio defines a backend-agnostic access layer to the general
// purpose I/O pins of single-board computers.
//
// A Driver gives access to pins: opening and closing them, configuring
// their mode, reading and writing their level and subscribing to edge
// events. Concrete drivers live in sub-packages:
//
//   - bcm: memory-mapped Broadcom SoC registers (Raspberry Pi),
//   - sysfs: the legacy /sys/class/gpio kernel interface,
//   - gpiod: the GPIO character device (/dev/gpiochipN),
//   - gpiotest: an in-memory simulated driver.
//
// A Controller is the user-facing handle over a Driver.
package gpio // import "github.com/go-lpc/gpio"

import (
	"fmt"
	"runtime/debug"
)

// Version returns the version of gpio and its checksum.
// The returned values are only valid in binaries built with module support.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return versionOf(b)
}

func versionOf(b *debug.BuildInfo) (version, sum string) {
	if b == nil {
		return "", ""
	}

	const root = "github.com/go-lpc/gpio"
	for _, m := range b.Deps {
		if m.Path != root {
			continue
		}
		if m.Replace != nil {
			switch {
			case m.Replace.Version != "" && m.Replace.Path != "":
				return fmt.Sprintf("%s %s", m.Replace.Path, m.Replace.Version), m.Replace.Sum
			case m.Replace.Version != "":
				return m.Replace.Version, m.Replace.Sum
			case m.Replace.Path != "":
				return m.Replace.Path, m.Replace.Sum
			default:
				return m.Version + "*", ""
			}
		}
		return m.Version, m.Sum
	}
	return "", ""
}
