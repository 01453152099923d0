// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gpiotest provides an in-memory GPIO driver, for tests and dry
// runs of GPIO applications.
package gpiotest // import "github.com/go-lpc/gpio/gpiotest"

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-lpc/gpio"
	"github.com/go-lpc/gpio/internal/dispatch"
)

// Sim is a simulated GPIO driver.
//
// Levels are kept across the opening and closing of pins. Level changes,
// from Write or SetInput, dispatch the matching edge event synchronously.
type Sim struct {
	n   int
	reg *dispatch.Registry

	mu     sync.Mutex
	closed bool
	modes  map[int]gpio.Mode // open pins
	levels []gpio.Level
	armed  map[int]gpio.Edge
}

var _ gpio.Driver = (*Sim)(nil)

// New returns a simulator with n pins.
func New(n int) *Sim {
	sim := &Sim{
		n:      n,
		modes:  make(map[int]gpio.Mode),
		levels: make([]gpio.Level, n),
		armed:  make(map[int]gpio.Edge),
	}
	sim.reg = dispatch.New(sim)
	return sim
}

func (sim *Sim) mode(op string, pin int) (gpio.Mode, error) {
	if pin < 0 || pin >= sim.n {
		return 0, gpio.Errorf(op, pin, gpio.ErrInvalidPin)
	}
	if sim.closed {
		return 0, gpio.Errorf(op, pin, gpio.ErrClosed)
	}
	mode, ok := sim.modes[pin]
	if !ok {
		return 0, gpio.Errorf(op, pin, gpio.ErrNotOpen)
	}
	return mode, nil
}

// setLevel sets the level of pin and dispatches the edge it created.
func (sim *Sim) setLevel(pin int, v gpio.Level) {
	sim.mu.Lock()
	old := sim.levels[pin]
	sim.levels[pin] = v
	sim.mu.Unlock()

	if old == v {
		return
	}
	edge := gpio.Falling
	if v == gpio.High {
		edge = gpio.Rising
	}
	sim.reg.Dispatch(gpio.Event{Pin: pin, Edge: edge, Time: time.Now()})
}

// SetInput drives the level of an open pin from the outside world.
func (sim *Sim) SetInput(pin int, v gpio.Level) error {
	sim.mu.Lock()
	_, err := sim.mode("drive", pin)
	sim.mu.Unlock()
	if err != nil {
		return err
	}
	sim.setLevel(pin, v)
	return nil
}

// Fault records a watcher fault for pin, releasing its pending waits
// with err.
func (sim *Sim) Fault(pin int, err error) {
	sim.reg.Fail(pin, err)
}

// IsOpen returns whether pin is open.
func (sim *Sim) IsOpen(pin int) bool {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	_, ok := sim.modes[pin]
	return ok
}

// Watchers returns the number of pins with edge callbacks.
func (sim *Sim) Watchers() int {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	return len(sim.armed)
}

// Edges returns the edges watched on pin.
func (sim *Sim) Edges(pin int) gpio.Edge {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	return sim.armed[pin]
}

func (sim *Sim) PinCount() (int, error) {
	return sim.n, nil
}

func (sim *Sim) OpenPin(pin int) error {
	if pin < 0 || pin >= sim.n {
		return gpio.Errorf("open", pin, gpio.ErrInvalidPin)
	}

	sim.mu.Lock()
	defer sim.mu.Unlock()
	if sim.closed {
		return gpio.Errorf("open", pin, gpio.ErrClosed)
	}
	if _, dup := sim.modes[pin]; !dup {
		sim.modes[pin] = gpio.Input
	}
	return nil
}

func (sim *Sim) ClosePin(pin int) error {
	sim.mu.Lock()
	_, err := sim.mode("close", pin)
	sim.mu.Unlock()
	if err != nil {
		return err
	}

	err = sim.reg.Drop(pin)
	if err != nil {
		return err
	}

	sim.mu.Lock()
	defer sim.mu.Unlock()
	delete(sim.modes, pin)
	return nil
}

func (sim *Sim) IsModeSupported(pin int, mode gpio.Mode) bool {
	if pin < 0 || pin >= sim.n {
		return false
	}
	switch mode {
	case gpio.Input, gpio.Output, gpio.InputPullUp, gpio.InputPullDown:
		return true
	}
	return false
}

// SetMode sets the mode of pin.
// Pull resistors drive the level of pin.
func (sim *Sim) SetMode(pin int, mode gpio.Mode) error {
	const op = "set mode of"

	sim.mu.Lock()
	_, err := sim.mode(op, pin)
	if err == nil && !sim.IsModeSupported(pin, mode) {
		err = gpio.Errorf(op, pin, fmt.Errorf("%w %v", gpio.ErrInvalidMode, mode))
	}
	if err == nil {
		sim.modes[pin] = mode
	}
	sim.mu.Unlock()
	if err != nil {
		return err
	}

	switch mode {
	case gpio.InputPullUp:
		sim.setLevel(pin, gpio.High)
	case gpio.InputPullDown:
		sim.setLevel(pin, gpio.Low)
	}
	return nil
}

func (sim *Sim) Mode(pin int) (gpio.Mode, error) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	return sim.mode("get mode of", pin)
}

func (sim *Sim) Read(pin int) (gpio.Level, error) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	_, err := sim.mode("read", pin)
	if err != nil {
		return gpio.Low, err
	}
	return sim.levels[pin], nil
}

// Write sets the level of an output pin.
func (sim *Sim) Write(pin int, v gpio.Level) error {
	const op = "write"

	sim.mu.Lock()
	mode, err := sim.mode(op, pin)
	if err == nil && mode != gpio.Output {
		err = gpio.Errorf(op, pin, fmt.Errorf("%w: pin is an %v", gpio.ErrInvalidMode, mode))
	}
	sim.mu.Unlock()
	if err != nil {
		return err
	}

	sim.setLevel(pin, v)
	return nil
}

func (sim *Sim) Arm(pin int, edges gpio.Edge) error {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	sim.armed[pin] = edges
	return nil
}

func (sim *Sim) Disarm(pin int) error {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	delete(sim.armed, pin)
	return nil
}

func (sim *Sim) AddCallback(pin int, edges gpio.Edge, h gpio.Handler) (gpio.HandlerID, error) {
	sim.mu.Lock()
	_, err := sim.mode("add callback to", pin)
	sim.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return sim.reg.Add(pin, edges, h)
}

func (sim *Sim) RemoveCallback(pin int, id gpio.HandlerID) error {
	sim.mu.Lock()
	_, err := sim.mode("remove callback from", pin)
	sim.mu.Unlock()
	if err != nil {
		return err
	}
	return sim.reg.Remove(pin, id)
}

func (sim *Sim) WaitForEvent(ctx context.Context, pin int, edges gpio.Edge) (gpio.WaitResult, error) {
	sim.mu.Lock()
	_, err := sim.mode("wait for event on", pin)
	sim.mu.Unlock()
	if err != nil {
		return gpio.WaitResult{}, err
	}
	return sim.reg.Wait(ctx, pin, edges)
}

func (sim *Sim) Err() error {
	return sim.reg.Err()
}

// Close releases pending waits and closes all the pins.
func (sim *Sim) Close() error {
	sim.mu.Lock()
	if sim.closed {
		sim.mu.Unlock()
		return nil
	}
	sim.closed = true
	sim.mu.Unlock()

	sim.reg.Close()

	sim.mu.Lock()
	defer sim.mu.Unlock()
	sim.modes = make(map[int]gpio.Mode)
	sim.armed = make(map[int]gpio.Edge)
	return nil
}
