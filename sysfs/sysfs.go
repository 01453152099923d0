// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sysfs implements a GPIO driver over the legacy /sys/class/gpio
// kernel interface.
//
// Edge events are detected by a single watcher goroutine per driver,
// multiplexing the value files of the watched pins with epoll.
// Pull resistors are not supported.
package sysfs // import "github.com/go-lpc/gpio/sysfs"

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-lpc/gpio"
	"github.com/go-lpc/gpio/internal/dispatch"
)

type pinState struct {
	mode     gpio.Mode
	last     gpio.Level // last read or written level
	exported bool       // exported by this driver

	value  *os.File // opened while the pin is watched
	primed bool     // next notification reports the registration of value
}

// Driver is a sysfs GPIO driver.
type Driver struct {
	msg    *log.Logger
	cfg    config
	offset int
	reg    *dispatch.Registry

	mu       sync.Mutex
	closed   bool
	pins     map[int]*pinState
	poll     poller
	watching int  // number of watched pins
	running  bool // watcher goroutine is running
	quit     chan struct{}
	wg       sync.WaitGroup
}

var _ gpio.Driver = (*Driver)(nil)

// New returns a sysfs driver.
// New fails with gpio.ErrPlatformNotSupported if the sysfs GPIO class
// directory does not exist.
func New(opts ...Option) (*Driver, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	fi, err := os.Stat(cfg.root)
	if err != nil {
		return nil, fmt.Errorf("sysfs: could not access %q: %w", cfg.root, gpio.SysError(err))
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("sysfs: %q is not a directory: %w", cfg.root, gpio.ErrPlatformNotSupported)
	}

	drv := &Driver{
		msg:  cfg.msg,
		cfg:  cfg,
		pins: make(map[int]*pinState),
		quit: make(chan struct{}),
	}
	drv.reg = dispatch.New(drv)

	switch {
	case cfg.offset != nil:
		drv.offset = *cfg.offset
	default:
		drv.offset = chipOffset(cfg.root)
	}

	return drv, nil
}

// chipOffset returns the base of the first pinctrl gpiochip, or 0.
func chipOffset(root string) int {
	chips, err := filepath.Glob(filepath.Join(root, "gpiochip*"))
	if err != nil {
		return 0
	}
	for _, chip := range chips {
		label, err := os.ReadFile(filepath.Join(chip, "label"))
		if err != nil || !bytes.HasPrefix(label, []byte("pinctrl")) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(chip, "base"))
		if err != nil {
			continue
		}
		base, err := strconv.Atoi(strings.TrimSpace(string(raw)))
		if err != nil {
			continue
		}
		return base
	}
	return 0
}

func (drv *Driver) path(pin int, elem ...string) string {
	dir := "gpio" + strconv.Itoa(pin+drv.offset)
	return filepath.Join(append([]string{drv.cfg.root, dir}, elem...)...)
}

func (drv *Driver) writeFile(fname, v string) error {
	f, err := os.OpenFile(fname, os.O_WRONLY, 0)
	if err != nil {
		return gpio.SysError(err)
	}
	defer f.Close()

	_, err = f.WriteString(v)
	if err != nil {
		return fmt.Errorf("%w: %w", gpio.ErrIO, err)
	}
	err = f.Close()
	if err != nil {
		return fmt.Errorf("%w: %w", gpio.ErrIO, err)
	}
	return nil
}

func (drv *Driver) readFile(fname string) (string, error) {
	raw, err := os.ReadFile(fname)
	if err != nil {
		return "", gpio.SysError(err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func parseLevel(v string) (gpio.Level, error) {
	switch v {
	case "0":
		return gpio.Low, nil
	case "1":
		return gpio.High, nil
	}
	return gpio.Low, fmt.Errorf("sysfs: invalid pin value %q: %w", v, gpio.ErrIO)
}

func levelString(v gpio.Level) string {
	if v == gpio.High {
		return "1"
	}
	return "0"
}

// pin returns the state of an open pin.
// pin must be called with drv.mu held.
func (drv *Driver) pin(op string, pin int) (*pinState, error) {
	if pin < 0 {
		return nil, gpio.Errorf(op, pin, gpio.ErrInvalidPin)
	}
	if drv.closed {
		return nil, gpio.Errorf(op, pin, gpio.ErrClosed)
	}
	st, ok := drv.pins[pin]
	if !ok {
		return nil, gpio.Errorf(op, pin, gpio.ErrNotOpen)
	}
	return st, nil
}

// PinCount fails with gpio.ErrUnsupported: the sysfs interface does not
// enumerate pins.
func (drv *Driver) PinCount() (int, error) {
	return 0, fmt.Errorf("sysfs: could not count pins: %w", gpio.ErrUnsupported)
}

// OpenPin exports pin, unless it is already exported, and seeds its mode
// from its direction file.
func (drv *Driver) OpenPin(pin int) error {
	const op = "open"
	if pin < 0 {
		return gpio.Errorf(op, pin, gpio.ErrInvalidPin)
	}

	drv.mu.Lock()
	defer drv.mu.Unlock()

	if drv.closed {
		return gpio.Errorf(op, pin, gpio.ErrClosed)
	}
	if _, dup := drv.pins[pin]; dup {
		return nil
	}

	st := &pinState{mode: gpio.Input}
	_, err := os.Stat(drv.path(pin))
	if errors.Is(err, os.ErrNotExist) {
		err = drv.writeFile(filepath.Join(drv.cfg.root, "export"), strconv.Itoa(pin+drv.offset))
		if err != nil {
			return gpio.Errorf(op, pin, err)
		}
		st.exported = true
		err = drv.waitAccess(drv.path(pin, "direction"))
		if err != nil {
			_ = drv.unexport(pin)
			return gpio.Errorf(op, pin, err)
		}
	}

	dir, err := drv.readFile(drv.path(pin, "direction"))
	if err != nil {
		if st.exported {
			_ = drv.unexport(pin)
		}
		return gpio.Errorf(op, pin, err)
	}
	if dir == "out" {
		st.mode = gpio.Output
	}

	drv.pins[pin] = st
	return nil
}

// waitAccess waits until fname can be written to.
// Freshly exported pins are made accessible asynchronously by udev.
func (drv *Driver) waitAccess(fname string) error {
	deadline := time.Now().Add(drv.cfg.export)
	for {
		f, err := os.OpenFile(fname, os.O_WRONLY, 0)
		if err == nil {
			return f.Close()
		}
		if time.Now().After(deadline) {
			return gpio.SysError(err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (drv *Driver) unexport(pin int) error {
	return drv.writeFile(filepath.Join(drv.cfg.root, "unexport"), strconv.Itoa(pin+drv.offset))
}

// ClosePin stops watching pin and unexports it if it was exported by
// this driver.
func (drv *Driver) ClosePin(pin int) error {
	const op = "close"

	drv.mu.Lock()
	st, err := drv.pin(op, pin)
	drv.mu.Unlock()
	if err != nil {
		return err
	}

	err = drv.reg.Drop(pin)
	if err != nil {
		return gpio.Errorf(op, pin, err)
	}

	drv.mu.Lock()
	defer drv.mu.Unlock()
	delete(drv.pins, pin)

	if st.exported {
		err = drv.unexport(pin)
		if err != nil {
			return gpio.Errorf(op, pin, err)
		}
	}
	return nil
}

// IsModeSupported returns whether mode can be applied to pin.
// Pull resistors are not supported.
func (drv *Driver) IsModeSupported(pin int, mode gpio.Mode) bool {
	return pin >= 0 && (mode == gpio.Input || mode == gpio.Output)
}

// SetMode writes the direction of pin.
func (drv *Driver) SetMode(pin int, mode gpio.Mode) error {
	const op = "set mode of"

	drv.mu.Lock()
	defer drv.mu.Unlock()

	st, err := drv.pin(op, pin)
	if err != nil {
		return err
	}
	if !drv.IsModeSupported(pin, mode) {
		return gpio.Errorf(op, pin, fmt.Errorf("%w %v", gpio.ErrInvalidMode, mode))
	}

	dir := "in"
	if mode == gpio.Output {
		dir = "out"
	}
	err = drv.writeFile(drv.path(pin, "direction"), dir)
	if err != nil {
		return gpio.Errorf(op, pin, err)
	}
	st.mode = mode
	if mode == gpio.Output {
		// the kernel drives a pin switched to output low.
		st.last = gpio.Low
	}
	return nil
}

// Mode returns the current mode of pin.
func (drv *Driver) Mode(pin int) (gpio.Mode, error) {
	drv.mu.Lock()
	defer drv.mu.Unlock()

	st, err := drv.pin("get mode of", pin)
	if err != nil {
		return 0, err
	}
	return st.mode, nil
}

// Read returns the level of pin.
func (drv *Driver) Read(pin int) (gpio.Level, error) {
	const op = "read"

	drv.mu.Lock()
	defer drv.mu.Unlock()

	st, err := drv.pin(op, pin)
	if err != nil {
		return gpio.Low, err
	}

	v, err := drv.readFile(drv.path(pin, "value"))
	if err != nil {
		return gpio.Low, gpio.Errorf(op, pin, err)
	}
	lvl, err := parseLevel(v)
	if err != nil {
		return gpio.Low, gpio.Errorf(op, pin, err)
	}
	st.last = lvl
	return lvl, nil
}

// Write sets the level of pin.
// Write fails with gpio.ErrInvalidMode if pin is not an output.
func (drv *Driver) Write(pin int, v gpio.Level) error {
	const op = "write"

	drv.mu.Lock()
	defer drv.mu.Unlock()

	st, err := drv.pin(op, pin)
	if err != nil {
		return err
	}
	if st.mode != gpio.Output {
		return gpio.Errorf(op, pin, fmt.Errorf("%w: pin is an %v", gpio.ErrInvalidMode, st.mode))
	}

	err = drv.writeFile(drv.path(pin, "value"), levelString(v))
	if err != nil {
		return gpio.Errorf(op, pin, err)
	}
	st.last = v
	return nil
}

// AddCallback registers h for the edges of pin.
// The first callback of a pin starts watching it.
func (drv *Driver) AddCallback(pin int, edges gpio.Edge, h gpio.Handler) (gpio.HandlerID, error) {
	drv.mu.Lock()
	_, err := drv.pin("add callback to", pin)
	drv.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return drv.reg.Add(pin, edges, h)
}

// RemoveCallback unregisters a callback of pin.
// Removing the last callback of a pin stops watching it.
func (drv *Driver) RemoveCallback(pin int, id gpio.HandlerID) error {
	drv.mu.Lock()
	_, err := drv.pin("remove callback from", pin)
	drv.mu.Unlock()
	if err != nil {
		return err
	}
	return drv.reg.Remove(pin, id)
}

// WaitForEvent blocks until an edge matching edges is detected on pin, or
// until ctx is done.
func (drv *Driver) WaitForEvent(ctx context.Context, pin int, edges gpio.Edge) (gpio.WaitResult, error) {
	drv.mu.Lock()
	_, err := drv.pin("wait for event on", pin)
	drv.mu.Unlock()
	if err != nil {
		return gpio.WaitResult{}, err
	}
	return drv.reg.Wait(ctx, pin, edges)
}

// Err returns the first fault of the edge watcher.
func (drv *Driver) Err() error {
	return drv.reg.Err()
}

// Close stops the edge watcher, releases pending waits and unexports the
// pins exported by this driver.
func (drv *Driver) Close() error {
	drv.mu.Lock()
	if drv.closed {
		drv.mu.Unlock()
		return nil
	}
	drv.closed = true
	close(drv.quit)
	drv.mu.Unlock()

	drv.reg.Close()
	drv.wg.Wait()

	drv.mu.Lock()
	defer drv.mu.Unlock()

	var errs []error
	for pin, st := range drv.pins {
		if st.value != nil {
			if drv.poll != nil {
				_ = drv.poll.Remove(st.value.Fd())
			}
			_ = drv.writeFile(drv.path(pin, "edge"), "none")
			_ = st.value.Close()
			st.value = nil
		}
		if st.exported {
			err := drv.unexport(pin)
			if err != nil {
				errs = append(errs, gpio.Errorf("unexport", pin, err))
			}
		}
	}
	drv.pins = make(map[int]*pinState)
	drv.watching = 0

	if drv.poll != nil {
		err := drv.poll.Close()
		if err != nil {
			errs = append(errs, fmt.Errorf("sysfs: could not close multiplexer: %w", err))
		}
		drv.poll = nil
	}
	return errors.Join(errs...)
}

var _ io.Closer = (*Driver)(nil)
