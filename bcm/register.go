// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bcm // import "github.com/go-lpc/gpio/bcm"

import (
	"github.com/go-lpc/gpio/bcm/internal/regs"
)

// wordRW gives 32-bit access to a register block.
type wordRW interface {
	Uint32(off int64) (uint32, error)
	SetUint32(off int64, v uint32) error
}

type reg32 struct {
	r func() uint32
	w func(v uint32)
}

func newReg32(dev *Driver, rw wordRW, offset int64) reg32 {
	return reg32{
		r: func() uint32 {
			return dev.readU32(rw, offset)
		},
		w: func(v uint32) {
			dev.writeU32(rw, offset, v)
		},
	}
}

// registers is the typed view of the GPIO block.
type registers struct {
	fsel   [regs.NFSEL]reg32
	set    [regs.NBank]reg32
	clr    [regs.NBank]reg32
	lev    [regs.NBank]reg32
	pud    reg32
	pudclk [regs.NBank]reg32
	puppdn [regs.NPUPPDN]reg32
}

func newRegisters(dev *Driver, rw wordRW) registers {
	var reg registers
	for i := range reg.fsel {
		reg.fsel[i] = newReg32(dev, rw, regs.GPFSEL0+4*int64(i))
	}
	for i := 0; i < regs.NBank; i++ {
		off := 4 * int64(i)
		reg.set[i] = newReg32(dev, rw, regs.GPSET0+off)
		reg.clr[i] = newReg32(dev, rw, regs.GPCLR0+off)
		reg.lev[i] = newReg32(dev, rw, regs.GPLEV0+off)
		reg.pudclk[i] = newReg32(dev, rw, regs.GPPUDCLK0+off)
	}
	reg.pud = newReg32(dev, rw, regs.GPPUD)
	for i := range reg.puppdn {
		reg.puppdn[i] = newReg32(dev, rw, regs.GPPUPPDN0+4*int64(i))
	}
	return reg
}

// fn returns the function select code of pin.
func (reg *registers) fn(pin int) uint32 {
	shift := uint(pin%10) * 3
	return (reg.fsel[pin/10].r() >> shift) & regs.FnMask
}

// setFn writes the function select code of pin, leaving the other pins
// of the same register untouched.
func (reg *registers) setFn(pin int, code uint32) {
	var (
		r     = &reg.fsel[pin/10]
		shift = uint(pin%10) * 3
		v     = r.r()
	)
	v &^= regs.FnMask << shift
	v |= (code & regs.FnMask) << shift
	r.w(v)
}

func (reg *registers) level(pin int) bool {
	return (reg.lev[pin/32].r()>>uint(pin%32))&1 == 1
}

// write drives pin through the set or clear register.
// The level register is never written.
func (reg *registers) write(pin int, high bool) {
	bit := uint32(1) << uint(pin%32)
	if high {
		reg.set[pin/32].w(bit)
		return
	}
	reg.clr[pin/32].w(bit)
}

// pull2711 returns the BCM2711 pull code of pin.
func (reg *registers) pull2711(pin int) uint32 {
	shift := uint(pin&0xf) << 1
	return (reg.puppdn[pin>>4].r() >> shift) & 0b11
}

func (reg *registers) setPull2711(pin int, code uint32) {
	var (
		r     = &reg.puppdn[pin>>4]
		shift = uint(pin&0xf) << 1
		v     = r.r()
	)
	v &^= 0b11 << shift
	v |= (code & 0b11) << shift
	r.w(v)
}
