// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bcm // import "github.com/go-lpc/gpio/bcm"

import (
	"fmt"

	"github.com/go-lpc/gpio"
	"github.com/go-lpc/gpio/bcm/internal/regs"
)

// Function is the role selected for a pin by its function select field.
type Function uint8

const (
	FnInput Function = iota
	FnOutput
	FnAlt0
	FnAlt1
	FnAlt2
	FnAlt3
	FnAlt4
	FnAlt5
)

var fnCodes = [...]uint32{
	FnInput:  regs.FnInput,
	FnOutput: regs.FnOutput,
	FnAlt0:   regs.FnAlt0,
	FnAlt1:   regs.FnAlt1,
	FnAlt2:   regs.FnAlt2,
	FnAlt3:   regs.FnAlt3,
	FnAlt4:   regs.FnAlt4,
	FnAlt5:   regs.FnAlt5,
}

func (fn Function) String() string {
	switch fn {
	case FnInput:
		return "input"
	case FnOutput:
		return "output"
	case FnAlt0, FnAlt1, FnAlt2, FnAlt3, FnAlt4, FnAlt5:
		return fmt.Sprintf("alt%d", int(fn-FnAlt0))
	}
	return fmt.Sprintf("Function(%d)", int(fn))
}

// ParseFunction parses the textual representation of a function,
// as returned by Function.String.
func ParseFunction(s string) (Function, error) {
	for fn := range fnCodes {
		if Function(fn).String() == s {
			return Function(fn), nil
		}
	}
	return 0, fmt.Errorf("bcm: invalid function %q: %w", s, gpio.ErrInvalidMode)
}

func functionOf(code uint32) Function {
	for fn, v := range fnCodes {
		if v == code {
			return Function(fn)
		}
	}
	panic(fmt.Errorf("bcm: invalid function select code 0b%03b", code))
}

// AltFunction returns the function currently selected for pin.
// The pin does not need to be opened.
func (dev *Driver) AltFunction(pin int) (Function, error) {
	const op = "get function of"
	if err := validate(op, pin); err != nil {
		return 0, err
	}

	dev.mu.RLock()
	defer dev.mu.RUnlock()
	if dev.closed {
		return 0, gpio.Errorf(op, pin, gpio.ErrClosed)
	}

	fn := functionOf(dev.regs.fn(pin))
	if err := dev.regErr(); err != nil {
		return 0, gpio.Errorf(op, pin, err)
	}
	return fn, nil
}

// SetAltFunction routes pin to one of its alternate peripheral functions,
// e.g. FnAlt0 on pins 2 and 3 for the I2C1 bus.
// The pin does not need to be opened. The pull resistor is left untouched.
func (dev *Driver) SetAltFunction(pin int, fn Function) error {
	const op = "set function of"
	if err := validate(op, pin); err != nil {
		return err
	}
	if int(fn) >= len(fnCodes) {
		return gpio.Errorf(op, pin, fmt.Errorf("bcm: invalid function %v: %w", fn, gpio.ErrInvalidMode))
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.closed {
		return gpio.Errorf(op, pin, gpio.ErrClosed)
	}

	dev.regs.setFn(pin, fnCodes[fn])
	if err := dev.regErr(); err != nil {
		return gpio.Errorf(op, pin, err)
	}

	if st, ok := dev.pins[pin]; ok {
		switch fn {
		case FnOutput:
			st.mode = gpio.Output
		case FnInput:
			st.mode = dev.pullMode(pin)
		}
	}
	return nil
}
