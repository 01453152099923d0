// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bcm // import "github.com/go-lpc/gpio/bcm"

import (
	"fmt"
	"time"

	"github.com/go-lpc/gpio"
	"github.com/go-lpc/gpio/bcm/internal/regs"
)

// cycle is the period of the 250MHz VideoCore clock driving the pads.
const cycle = 4 * time.Nanosecond

// spin busy-waits for at least n clock cycles.
// It never yields to the scheduler, so the wait can not be elided and the
// calling goroutine keeps its thread for the whole window.
func spin(n int) {
	end := time.Now().Add(time.Duration(n) * cycle)
	for time.Now().Before(end) {
	}
}

// setPull programs the pull resistor of pin for the provided input mode.
// The whole sequence runs under dev.pullMu.
func (dev *Driver) setPull(pin int, mode gpio.Mode) error {
	dev.pullMu.Lock()
	defer dev.pullMu.Unlock()

	switch dev.info.Chip {
	case BCM2711:
		return dev.setPull2711(pin, mode)
	default:
		return dev.setPull2835(pin, mode)
	}
}

func (dev *Driver) setPull2835(pin int, mode gpio.Mode) error {
	var code uint32
	switch mode {
	case gpio.Input:
		code = regs.PudOff
	case gpio.InputPullDown:
		code = regs.PudDown
	case gpio.InputPullUp:
		code = regs.PudUp
	default:
		return fmt.Errorf("bcm: %v is not a pull mode: %w", mode, gpio.ErrInvalidMode)
	}

	var (
		pud = &dev.regs.pud
		clk = &dev.regs.pudclk[pin/32]
		bit = uint32(1) << uint(pin%32)
	)

	pud.w((pud.r() &^ 0b11) | code)
	dev.delay(regs.PudCycles) // setup time

	clk.w(clk.r() | bit)
	dev.delay(regs.PudCycles) // hold time

	// clock first, so a stale control code can not be latched in.
	clk.w(clk.r() &^ bit)
	pud.w(pud.r() &^ 0b11)

	// not in the datasheet, but frequent pull changes fail without it.
	dev.delay(regs.PudCycles)

	return dev.regErr()
}

func (dev *Driver) setPull2711(pin int, mode gpio.Mode) error {
	var code uint32
	switch mode {
	case gpio.Input:
		code = regs.PuppdnNone
	case gpio.InputPullUp:
		code = regs.PuppdnUp
	case gpio.InputPullDown:
		code = regs.PuppdnDown
	default:
		return fmt.Errorf("bcm: %v is not a pull mode: %w", mode, gpio.ErrInvalidMode)
	}

	dev.regs.setPull2711(pin, code)
	dev.delay(regs.PudCycles)
	return dev.regErr()
}

// pullMode returns the input mode matching the pull state of pin.
// Only the BCM2711 can read the pull state back.
func (dev *Driver) pullMode(pin int) gpio.Mode {
	if dev.info.Chip != BCM2711 {
		return gpio.Input
	}
	switch dev.regs.pull2711(pin) {
	case regs.PuppdnUp:
		return gpio.InputPullUp
	case regs.PuppdnDown:
		return gpio.InputPullDown
	}
	return gpio.Input
}
