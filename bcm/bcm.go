// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bcm implements a GPIO driver for the Broadcom SoCs of the
// Raspberry Pi boards, through their memory-mapped registers.
//
// Modes and levels are programmed directly in the GPIO register block.
// Edge events are delegated to an interrupt capable driver: the GPIO
// character device driver if available, the sysfs driver otherwise.
package bcm // import "github.com/go-lpc/gpio/bcm"

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/go-lpc/gpio"
	"github.com/go-lpc/gpio/bcm/internal/regs"
	"github.com/go-lpc/gpio/gpiod"
	"github.com/go-lpc/gpio/internal/mmap"
	"github.com/go-lpc/gpio/sysfs"
)

// NumPins is the number of GPIO pins exposed on the 40-pin header.
const NumPins = 28

type pinState struct {
	mode gpio.Mode
	irq  bool // pin opened on the interrupt driver
}

// Driver is a register-mapped GPIO driver.
type Driver struct {
	msg   *log.Logger
	cfg   config
	info  Info
	mem   *mmap.Handle
	regs  registers
	delay func(cycles int)

	errMu sync.Mutex
	err   error // first register access error

	// pullMu guards the multi-write pull programming sequences.
	pullMu sync.Mutex

	// mu guards the pin states. Register accesses hold it for reading,
	// so the registers can not be unmapped under their feet.
	mu     sync.RWMutex
	closed bool
	pins   map[int]*pinState
	irq    gpio.Driver
}

var _ gpio.Driver = (*Driver)(nil)

// New maps the GPIO registers and returns a driver over them.
//
// New fails with gpio.ErrPermission if the memory devices can not be
// opened or mapped, and with gpio.ErrInit if the peripheral base address
// can not be determined.
func New(opts ...Option) (*Driver, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	dev := &Driver{
		msg:   cfg.msg,
		cfg:   cfg,
		delay: spin,
		pins:  make(map[int]*pinState),
	}

	rw := cfg.rw
	if rw == nil {
		mem, info, err := mapRegisters(&cfg)
		if err != nil {
			return nil, err
		}
		dev.mem = mem
		dev.info = info
		rw = mem
	} else {
		dev.info.Model, dev.info.Chip = detectModel(cfg.dtree)
		dev.info.Dev = "memory"
	}
	if cfg.chip != nil {
		dev.info.Chip = *cfg.chip
	}
	dev.regs = newRegisters(dev, rw)

	if dev.cfg.irq == nil {
		dev.cfg.irq = func() (gpio.Driver, error) {
			return newInterruptDriver(dev.msg)
		}
	}

	dev.msg.Printf("registers mapped for %v", dev.info)
	return dev, nil
}

func newInterruptDriver(msg *log.Logger) (gpio.Driver, error) {
	drv, err := gpiod.New(gpiod.WithLogger(msg))
	switch {
	case err == nil:
		return drv, nil
	case errors.Is(err, gpio.ErrPlatformNotSupported):
		msg.Printf("gpio character device unavailable (%v), using sysfs for edge events", err)
		return sysfs.New(sysfs.WithLogger(msg))
	}
	return nil, err
}

// Info returns the detected board information.
func (dev *Driver) Info() Info {
	return dev.info
}

func (dev *Driver) readU32(rw wordRW, off int64) uint32 {
	v, err := rw.Uint32(off)
	if err != nil {
		dev.setErr(fmt.Errorf("bcm: could not read register 0x%x: %w", off, err))
		return 0
	}
	return v
}

func (dev *Driver) writeU32(rw wordRW, off int64, v uint32) {
	err := rw.SetUint32(off, v)
	if err != nil {
		dev.setErr(fmt.Errorf("bcm: could not write register 0x%x: %w", off, err))
	}
}

func (dev *Driver) setErr(err error) {
	dev.errMu.Lock()
	defer dev.errMu.Unlock()
	if dev.err == nil {
		dev.err = err
	}
}

func (dev *Driver) regErr() error {
	dev.errMu.Lock()
	defer dev.errMu.Unlock()
	return dev.err
}

func validate(op string, pin int) error {
	if pin < 0 || pin >= NumPins {
		return gpio.Errorf(op, pin, gpio.ErrInvalidPin)
	}
	return nil
}

// pin returns the state of an open pin.
// pin must be called with dev.mu held, for reading at least.
func (dev *Driver) pin(op string, pin int) (*pinState, error) {
	if err := validate(op, pin); err != nil {
		return nil, err
	}
	if dev.closed {
		return nil, gpio.Errorf(op, pin, gpio.ErrClosed)
	}
	st, ok := dev.pins[pin]
	if !ok {
		return nil, gpio.Errorf(op, pin, gpio.ErrNotOpen)
	}
	return st, nil
}

// PinCount returns the number of GPIO pins of the header.
func (dev *Driver) PinCount() (int, error) {
	return NumPins, nil
}

// OpenPin opens pin, seeding its mode from the function select register.
// Opening an already opened pin is a no-op.
func (dev *Driver) OpenPin(pin int) error {
	const op = "open"
	if err := validate(op, pin); err != nil {
		return err
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.closed {
		return gpio.Errorf(op, pin, gpio.ErrClosed)
	}
	if _, dup := dev.pins[pin]; dup {
		return nil
	}

	mode := gpio.Input
	switch dev.regs.fn(pin) {
	case regs.FnOutput:
		mode = gpio.Output
	case regs.FnInput:
		mode = dev.pullMode(pin)
	}
	if err := dev.regErr(); err != nil {
		return gpio.Errorf(op, pin, err)
	}

	dev.pins[pin] = &pinState{mode: mode}
	return nil
}

// ClosePin closes pin and releases its edge watchers, if any.
func (dev *Driver) ClosePin(pin int) error {
	const op = "close"

	dev.mu.Lock()
	st, err := dev.pin(op, pin)
	if err != nil {
		dev.mu.Unlock()
		return err
	}
	delete(dev.pins, pin)
	irq := dev.irq
	dev.mu.Unlock()

	// handlers may still be running on the interrupt driver and
	// calling back into dev: do not hold dev.mu.
	if st.irq && irq != nil {
		err = irq.ClosePin(pin)
		if err != nil {
			return gpio.Errorf(op, pin, err)
		}
	}
	return nil
}

// IsModeSupported returns whether mode can be applied to pin.
func (dev *Driver) IsModeSupported(pin int, mode gpio.Mode) bool {
	if validate("check", pin) != nil {
		return false
	}
	switch mode {
	case gpio.Input, gpio.Output, gpio.InputPullUp, gpio.InputPullDown:
		return true
	}
	return false
}

// SetMode configures the function select and, for input modes, the pull
// resistor of pin.
func (dev *Driver) SetMode(pin int, mode gpio.Mode) error {
	const op = "set mode of"
	if !dev.IsModeSupported(pin, mode) {
		if err := validate(op, pin); err != nil {
			return err
		}
		return gpio.Errorf(op, pin, fmt.Errorf("%w %v", gpio.ErrInvalidMode, mode))
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	st, err := dev.pin(op, pin)
	if err != nil {
		return err
	}

	switch mode {
	case gpio.Output:
		dev.regs.setFn(pin, regs.FnOutput)
		err = dev.regErr()
	default:
		dev.regs.setFn(pin, regs.FnInput)
		err = dev.setPull(pin, mode)
	}
	if err != nil {
		return gpio.Errorf(op, pin, err)
	}

	st.mode = mode
	return nil
}

// SetModeWithValue writes v to pin and then applies mode.
// With mode Output, the pin is driven to v as soon as the mode is applied.
func (dev *Driver) SetModeWithValue(pin int, mode gpio.Mode, v gpio.Level) error {
	err := dev.Write(pin, v)
	if err != nil {
		return err
	}
	return dev.SetMode(pin, mode)
}

// Mode returns the current mode of pin.
func (dev *Driver) Mode(pin int) (gpio.Mode, error) {
	dev.mu.RLock()
	defer dev.mu.RUnlock()

	st, err := dev.pin("get mode of", pin)
	if err != nil {
		return 0, err
	}
	return st.mode, nil
}

// Read returns the level of pin.
func (dev *Driver) Read(pin int) (gpio.Level, error) {
	const op = "read"

	dev.mu.RLock()
	defer dev.mu.RUnlock()

	_, err := dev.pin(op, pin)
	if err != nil {
		return gpio.Low, err
	}

	v := dev.regs.level(pin)
	if err := dev.regErr(); err != nil {
		return gpio.Low, gpio.Errorf(op, pin, err)
	}
	return gpio.LevelOf(v), nil
}

// Write sets the output level of pin.
// Write is allowed in any mode: the level takes effect once the pin is
// configured as an output.
func (dev *Driver) Write(pin int, v gpio.Level) error {
	const op = "write"

	dev.mu.RLock()
	defer dev.mu.RUnlock()

	_, err := dev.pin(op, pin)
	if err != nil {
		return err
	}

	dev.regs.write(pin, v == gpio.High)
	if err := dev.regErr(); err != nil {
		return gpio.Errorf(op, pin, err)
	}
	return nil
}

// interrupts returns the interrupt driver, with pin opened on it.
func (dev *Driver) interrupts(op string, pin int) (gpio.Driver, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	st, err := dev.pin(op, pin)
	if err != nil {
		return nil, err
	}

	if dev.irq == nil {
		irq, err := dev.cfg.irq()
		if err != nil {
			return nil, gpio.Errorf(op, pin, fmt.Errorf("bcm: could not create interrupt driver: %w", err))
		}
		dev.irq = irq
	}

	if !st.irq {
		err = dev.irq.OpenPin(pin)
		if err != nil {
			return nil, gpio.Errorf(op, pin, err)
		}
		st.irq = true
	}
	return dev.irq, nil
}

// AddCallback registers h for the edges of pin, through the interrupt
// driver.
func (dev *Driver) AddCallback(pin int, edges gpio.Edge, h gpio.Handler) (gpio.HandlerID, error) {
	irq, err := dev.interrupts("add callback to", pin)
	if err != nil {
		return 0, err
	}
	return irq.AddCallback(pin, edges, h)
}

// RemoveCallback unregisters a callback of pin.
func (dev *Driver) RemoveCallback(pin int, id gpio.HandlerID) error {
	const op = "remove callback from"

	dev.mu.Lock()
	st, err := dev.pin(op, pin)
	var irq gpio.Driver
	if err == nil && st.irq {
		irq = dev.irq
	}
	dev.mu.Unlock()

	if err != nil {
		return err
	}
	if irq == nil {
		return gpio.Errorf(op, pin, gpio.ErrNotListening)
	}
	return irq.RemoveCallback(pin, id)
}

// WaitForEvent blocks until an edge matching edges is detected on pin, or
// until ctx is done.
func (dev *Driver) WaitForEvent(ctx context.Context, pin int, edges gpio.Edge) (gpio.WaitResult, error) {
	const op = "wait for event on"
	if ctx.Err() != nil {
		dev.mu.Lock()
		_, err := dev.pin(op, pin)
		dev.mu.Unlock()
		if err != nil {
			return gpio.WaitResult{}, err
		}
		return gpio.WaitResult{TimedOut: true}, nil
	}

	irq, err := dev.interrupts(op, pin)
	if err != nil {
		return gpio.WaitResult{}, err
	}
	return irq.WaitForEvent(ctx, pin, edges)
}

// Err returns the first register access error or interrupt driver fault.
func (dev *Driver) Err() error {
	if err := dev.regErr(); err != nil {
		return err
	}

	dev.mu.Lock()
	irq := dev.irq
	dev.mu.Unlock()

	if irq != nil {
		return irq.Err()
	}
	return nil
}

// Close releases the interrupt driver and unmaps the registers.
func (dev *Driver) Close() error {
	dev.mu.Lock()
	if dev.closed {
		dev.mu.Unlock()
		return nil
	}
	dev.closed = true
	dev.pins = make(map[int]*pinState)
	irq := dev.irq
	dev.mu.Unlock()

	var errs []error
	if irq != nil {
		err := irq.Close()
		if err != nil {
			errs = append(errs, fmt.Errorf("bcm: could not close interrupt driver: %w", err))
		}
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.mem != nil {
		err := dev.mem.Close()
		if err != nil {
			errs = append(errs, fmt.Errorf("bcm: could not unmap registers: %w", err))
		}
		dev.mem = nil
	}
	return errors.Join(errs...)
}
