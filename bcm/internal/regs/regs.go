// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package regs describes the layout of the BCM283x/BCM2711 GPIO register block.
package regs // import "github.com/go-lpc/gpio/bcm/internal/regs"

const (
	// VCBase is the peripheral base address on the VideoCore bus.
	VCBase = 0x7e000000

	BaseBCM2835 = 0x20000000 // Pi Zero, Pi 1
	BaseBCM2836 = 0x3f000000 // Pi 2, Pi 3
	BaseBCM2711 = 0xfe000000 // Pi 4

	// GPIOOffset is the offset of the GPIO block from the peripheral base.
	GPIOOffset = 0x00200000

	// Size is the size of the mapped register window.
	Size = 4096
)

// Byte offsets of the GPIO registers.
const (
	GPFSEL0   = 0x00 // 6 function select registers, 10 pins each
	GPSET0    = 0x1c // 2 output set registers
	GPCLR0    = 0x28 // 2 output clear registers
	GPLEV0    = 0x34 // 2 pin level registers
	GPPUD     = 0x94 // pull-up/down control (BCM2835-7)
	GPPUDCLK0 = 0x98 // 2 pull-up/down clock registers (BCM2835-7)
	GPPUPPDN0 = 0xe4 // 4 pull-up/down registers, 16 pins each (BCM2711)
)

const (
	NFSEL   = 6
	NBank   = 2
	NPUPPDN = 4
)

// Function select codes.
const (
	FnInput  = 0b000
	FnOutput = 0b001
	FnAlt0   = 0b100
	FnAlt1   = 0b101
	FnAlt2   = 0b110
	FnAlt3   = 0b111
	FnAlt4   = 0b011
	FnAlt5   = 0b010

	FnMask = 0b111
)

// Legacy GPPUD control codes.
const (
	PudOff  = 0b00
	PudDown = 0b01
	PudUp   = 0b10
)

// BCM2711 GPPUPPDN codes.
const (
	PuppdnNone = 0b00
	PuppdnUp   = 0b01
	PuppdnDown = 0b10
)

// Setup and hold time of the legacy pull sequence, in core clock cycles.
const PudCycles = 150
