// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bcm // import "github.com/go-lpc/gpio/bcm"

import (
	"fmt"
	"sync"

	"github.com/go-lpc/gpio/bcm/internal/regs"
	"github.com/go-lpc/gpio/internal/mmap"
)

func withRegisters(rw wordRW) Option {
	return func(cfg *config) {
		cfg.rw = rw
	}
}

// fakeSoC emulates the GPIO register block: writes to the set/clear
// registers update the level registers. Writes and waits are traced.
type fakeSoC struct {
	mu    sync.Mutex
	mem   *mmap.Handle
	trace []string
}

func newFakeSoC() *fakeSoC {
	return &fakeSoC{mem: mmap.HandleFrom(make([]byte, regs.Size))}
}

func (soc *fakeSoC) Uint32(off int64) (uint32, error) {
	soc.mu.Lock()
	defer soc.mu.Unlock()
	return soc.mem.Uint32(off)
}

func (soc *fakeSoC) SetUint32(off int64, v uint32) error {
	soc.mu.Lock()
	defer soc.mu.Unlock()

	soc.trace = append(soc.trace, fmt.Sprintf("%s=0x%x", regName(off), v))

	switch {
	case off == regs.GPSET0 || off == regs.GPSET0+4:
		lev := regs.GPLEV0 + (off - regs.GPSET0)
		cur, _ := soc.mem.Uint32(lev)
		return soc.mem.SetUint32(lev, cur|v)
	case off == regs.GPCLR0 || off == regs.GPCLR0+4:
		lev := regs.GPLEV0 + (off - regs.GPCLR0)
		cur, _ := soc.mem.Uint32(lev)
		return soc.mem.SetUint32(lev, cur&^v)
	}
	return soc.mem.SetUint32(off, v)
}

// poke writes a register without tracing nor emulation.
func (soc *fakeSoC) poke(off int64, v uint32) {
	soc.mu.Lock()
	defer soc.mu.Unlock()
	_ = soc.mem.SetUint32(off, v)
}

func (soc *fakeSoC) peek(off int64) uint32 {
	v, _ := soc.Uint32(off)
	return v
}

func (soc *fakeSoC) wait(n int) {
	soc.mu.Lock()
	defer soc.mu.Unlock()
	soc.trace = append(soc.trace, fmt.Sprintf("wait-%d", n))
}

func (soc *fakeSoC) ops() []string {
	soc.mu.Lock()
	defer soc.mu.Unlock()
	return append([]string(nil), soc.trace...)
}

func (soc *fakeSoC) reset() {
	soc.mu.Lock()
	defer soc.mu.Unlock()
	soc.trace = soc.trace[:0]
}

func regName(off int64) string {
	switch {
	case off < regs.GPSET0:
		return fmt.Sprintf("fsel%d", off/4)
	case off < regs.GPCLR0:
		return fmt.Sprintf("set%d", (off-regs.GPSET0)/4)
	case off < regs.GPLEV0:
		return fmt.Sprintf("clr%d", (off-regs.GPCLR0)/4)
	case off == regs.GPPUD:
		return "pud"
	case off == regs.GPPUDCLK0 || off == regs.GPPUDCLK0+4:
		return fmt.Sprintf("pudclk%d", (off-regs.GPPUDCLK0)/4)
	case off >= regs.GPPUPPDN0 && off < regs.GPPUPPDN0+4*regs.NPUPPDN:
		return fmt.Sprintf("puppdn%d", (off-regs.GPPUPPDN0)/4)
	}
	return fmt.Sprintf("reg-0x%x", off)
}

func newTestDriver(soc *fakeSoC, chip Chip, opts ...Option) (*Driver, error) {
	opts = append([]Option{
		withRegisters(soc),
		WithChip(chip),
		WithDeviceTree("testdata/no-such-dir"),
		WithLogger(discard()),
	}, opts...)
	dev, err := New(opts...)
	if err != nil {
		return nil, err
	}
	dev.delay = soc.wait
	return dev, nil
}
