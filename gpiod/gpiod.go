// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gpiod implements a GPIO driver over the Linux GPIO character
// device.
//
// Each line is requested from the kernel on first use. Lines with edge
// callbacks are requested with edge detection enabled and are watched by a
// dedicated goroutine.
package gpiod // import "github.com/go-lpc/gpio/gpiod"

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sync"

	"github.com/go-lpc/gpio"
	"github.com/go-lpc/gpio/internal/dispatch"
	"golang.org/x/sync/errgroup"
)

type lineState struct {
	mode  gpio.Mode
	last  gpio.Level // last read or written level
	edges gpio.Edge  // edges of the current request
	req   line       // nil until the line is first used
	w     *watcher
}

func (st *lineState) config() lineConfig {
	return lineConfig{mode: st.mode, value: st.last, edges: st.edges}
}

// Driver is a GPIO character device driver.
type Driver struct {
	msg  *log.Logger
	cfg  config
	name string
	chip chip
	reg  *dispatch.Registry

	// cfgMu serializes line reconfigurations.
	cfgMu sync.Mutex

	mu     sync.Mutex
	closed bool
	lines  map[int]*lineState
	grp    errgroup.Group // line watchers
}

var _ gpio.Driver = (*Driver)(nil)

// New opens a GPIO character device.
// New fails with gpio.ErrPlatformNotSupported if the device does not exist.
func New(opts ...Option) (*Driver, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	name := cfg.chip
	if !filepath.IsAbs(name) {
		name = filepath.Join(cfg.dev, name)
	}

	c, err := cfg.open(name, cfg.consumer)
	if err != nil {
		return nil, fmt.Errorf("gpiod: could not open chip %q: %w", name, err)
	}

	drv := &Driver{
		msg:   cfg.msg,
		cfg:   cfg,
		name:  name,
		chip:  c,
		lines: make(map[int]*lineState),
	}
	drv.reg = dispatch.New(drv)
	return drv, nil
}

// line returns the state of an open line.
// line must be called with drv.mu held.
func (drv *Driver) line(op string, pin int) (*lineState, error) {
	if pin < 0 || pin >= drv.chip.Lines() {
		return nil, gpio.Errorf(op, pin, gpio.ErrInvalidPin)
	}
	if drv.closed {
		return nil, gpio.Errorf(op, pin, gpio.ErrClosed)
	}
	st, ok := drv.lines[pin]
	if !ok {
		return nil, gpio.Errorf(op, pin, gpio.ErrNotOpen)
	}
	return st, nil
}

// request replaces the kernel request of pin with one matching cfg.
// request must be called with drv.mu held and the line watcher stopped.
func (drv *Driver) request(pin int, st *lineState, cfg lineConfig) error {
	if st.req != nil {
		err := st.req.Close()
		if err != nil {
			drv.msg.Printf("could not release line %d: %+v", pin, err)
		}
		st.req = nil
	}

	req, err := drv.chip.Request(pin, cfg)
	if err != nil {
		return err
	}
	st.req = req
	st.mode = cfg.mode
	st.edges = cfg.edges
	if cfg.mode == gpio.Output && !cfg.asIs {
		st.last = cfg.value
	}
	if cfg.edges != gpio.EdgeNone {
		st.w = drv.spawn(pin, req)
	}
	return nil
}

// configure applies the configuration returned by f to pin.
// The line watcher, if any, is stopped without holding drv.mu so
// callbacks in flight may still use the driver.
func (drv *Driver) configure(op string, pin int, f func(cur lineConfig) (lineConfig, error)) error {
	drv.cfgMu.Lock()
	defer drv.cfgMu.Unlock()

	drv.mu.Lock()
	st, err := drv.line(op, pin)
	if err != nil {
		drv.mu.Unlock()
		return err
	}
	cur := st.config()
	next, err := f(cur)
	if err != nil {
		drv.mu.Unlock()
		return gpio.Errorf(op, pin, err)
	}
	w := st.w
	st.w = nil
	drv.mu.Unlock()

	w.stop()

	drv.mu.Lock()
	defer drv.mu.Unlock()

	if drv.closed {
		return gpio.Errorf(op, pin, gpio.ErrClosed)
	}

	requested := st.req != nil
	err = drv.request(pin, st, next)
	if err != nil {
		if requested {
			if e := drv.request(pin, st, cur); e != nil {
				drv.msg.Printf("could not restore line %d: %+v", pin, e)
			}
		}
		return gpio.Errorf(op, pin, err)
	}
	return nil
}

// handle returns the kernel request of pin, requesting the line if needed.
// A line never configured through SetMode is requested as-is, so its
// current level is kept.
// handle must be called with drv.mu held.
func (drv *Driver) handle(op string, pin int) (*lineState, error) {
	st, err := drv.line(op, pin)
	if err != nil {
		return nil, err
	}
	if st.req != nil {
		return st, nil
	}

	err = drv.request(pin, st, lineConfig{mode: st.mode, asIs: true})
	if err != nil {
		return nil, gpio.Errorf(op, pin, err)
	}
	v, err := st.req.Value()
	if err != nil {
		return nil, gpio.Errorf(op, pin, gpio.SysError(err))
	}
	st.last = v
	return st, nil
}

// Name returns the path of the GPIO character device.
func (drv *Driver) Name() string {
	return drv.name
}

// PinCount returns the number of lines of the chip.
func (drv *Driver) PinCount() (int, error) {
	return drv.chip.Lines(), nil
}

// OpenPin opens a line and seeds its mode from the kernel line
// configuration. The line is requested on first use.
func (drv *Driver) OpenPin(pin int) error {
	const op = "open"
	if pin < 0 || pin >= drv.chip.Lines() {
		return gpio.Errorf(op, pin, gpio.ErrInvalidPin)
	}

	drv.mu.Lock()
	defer drv.mu.Unlock()

	if drv.closed {
		return gpio.Errorf(op, pin, gpio.ErrClosed)
	}
	if _, dup := drv.lines[pin]; dup {
		return nil
	}

	mode, err := drv.chip.Mode(pin)
	if err != nil {
		return gpio.Errorf(op, pin, err)
	}
	drv.lines[pin] = &lineState{mode: mode}
	return nil
}

// ClosePin releases a line and its callbacks.
func (drv *Driver) ClosePin(pin int) error {
	const op = "close"

	drv.mu.Lock()
	_, err := drv.line(op, pin)
	drv.mu.Unlock()
	if err != nil {
		return err
	}

	err = drv.reg.Drop(pin)
	if err != nil {
		drv.msg.Printf("could not stop watching line %d: %+v", pin, err)
	}

	drv.cfgMu.Lock()
	defer drv.cfgMu.Unlock()

	drv.mu.Lock()
	st, ok := drv.lines[pin]
	if !ok {
		drv.mu.Unlock()
		return nil
	}
	delete(drv.lines, pin)
	w := st.w
	st.w = nil
	drv.mu.Unlock()

	w.stop()

	if st.req != nil {
		err = st.req.Close()
		if err != nil {
			return gpio.Errorf(op, pin, gpio.SysError(err))
		}
	}
	return nil
}

// IsModeSupported returns whether mode can be applied to pin.
func (drv *Driver) IsModeSupported(pin int, mode gpio.Mode) bool {
	if pin < 0 || pin >= drv.chip.Lines() {
		return false
	}
	switch mode {
	case gpio.Input, gpio.Output, gpio.InputPullUp, gpio.InputPullDown:
		return true
	}
	return false
}

// SetMode requests pin with the provided mode.
// Output lines are driven low.
func (drv *Driver) SetMode(pin int, mode gpio.Mode) error {
	return drv.setMode(pin, mode, gpio.Low)
}

// SetModeWithValue requests pin with the provided mode, driving v if
// mode is gpio.Output.
func (drv *Driver) SetModeWithValue(pin int, mode gpio.Mode, v gpio.Level) error {
	return drv.setMode(pin, mode, v)
}

func (drv *Driver) setMode(pin int, mode gpio.Mode, v gpio.Level) error {
	return drv.configure("set mode of", pin, func(cur lineConfig) (lineConfig, error) {
		if !drv.IsModeSupported(pin, mode) {
			return cur, fmt.Errorf("%w %v", gpio.ErrInvalidMode, mode)
		}
		if mode == gpio.Output && cur.edges != gpio.EdgeNone {
			return cur, fmt.Errorf("%w: line is watched for %v edges", gpio.ErrInvalidMode, cur.edges)
		}
		return lineConfig{mode: mode, value: v, edges: cur.edges}, nil
	})
}

// Mode returns the current mode of pin.
func (drv *Driver) Mode(pin int) (gpio.Mode, error) {
	drv.mu.Lock()
	defer drv.mu.Unlock()

	st, err := drv.line("get mode of", pin)
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

	st, err := drv.handle(op, pin)
	if err != nil {
		return gpio.Low, err
	}
	v, err := st.req.Value()
	if err != nil {
		return gpio.Low, gpio.Errorf(op, pin, gpio.SysError(err))
	}
	st.last = v
	return v, nil
}

// Write sets the level of pin.
// Write fails with gpio.ErrInvalidMode if pin is not an output.
func (drv *Driver) Write(pin int, v gpio.Level) error {
	const op = "write"

	drv.mu.Lock()
	defer drv.mu.Unlock()

	return drv.write(op, pin, func(gpio.Level) gpio.Level { return v })
}

// Toggle writes the inverse of the last level read from or written to pin.
func (drv *Driver) Toggle(pin int) error {
	drv.mu.Lock()
	defer drv.mu.Unlock()

	return drv.write("toggle", pin, gpio.Level.Not)
}

// write drives pin to the level f returns from its last level.
// write must be called with drv.mu held.
func (drv *Driver) write(op string, pin int, f func(last gpio.Level) gpio.Level) error {
	st, err := drv.line(op, pin)
	if err != nil {
		return err
	}
	if st.mode != gpio.Output {
		return gpio.Errorf(op, pin, fmt.Errorf("%w: pin is an %v", gpio.ErrInvalidMode, st.mode))
	}
	st, err = drv.handle(op, pin)
	if err != nil {
		return err
	}
	v := f(st.last)
	err = st.req.SetValue(v)
	if err != nil {
		return gpio.Errorf(op, pin, gpio.SysError(err))
	}
	st.last = v
	return nil
}

// Arm requests pin with edge detection enabled for edges.
func (drv *Driver) Arm(pin int, edges gpio.Edge) error {
	return drv.configure("watch", pin, func(cur lineConfig) (lineConfig, error) {
		if cur.mode == gpio.Output {
			return cur, fmt.Errorf("%w: edges of an output line", gpio.ErrInvalidMode)
		}
		return lineConfig{mode: cur.mode, edges: edges}, nil
	})
}

// Disarm requests pin without edge detection.
func (drv *Driver) Disarm(pin int) error {
	return drv.configure("unwatch", pin, func(cur lineConfig) (lineConfig, error) {
		return lineConfig{mode: cur.mode, value: cur.value}, nil
	})
}

// AddCallback registers h for the edges of pin.
func (drv *Driver) AddCallback(pin int, edges gpio.Edge, h gpio.Handler) (gpio.HandlerID, error) {
	drv.mu.Lock()
	_, err := drv.line("add callback to", pin)
	drv.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return drv.reg.Add(pin, edges, h)
}

// RemoveCallback unregisters a callback of pin.
// Removing the last callback of pin releases its edge detection.
func (drv *Driver) RemoveCallback(pin int, id gpio.HandlerID) error {
	drv.mu.Lock()
	_, err := drv.line("remove callback from", pin)
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
	_, err := drv.line("wait for event on", pin)
	drv.mu.Unlock()
	if err != nil {
		return gpio.WaitResult{}, err
	}
	return drv.reg.Wait(ctx, pin, edges)
}

// Err returns the first fault of the line watchers.
func (drv *Driver) Err() error {
	return drv.reg.Err()
}

// Close stops the line watchers, releases pending waits, the requested
// lines and the chip.
// Close reports the first line watcher fault, if any.
func (drv *Driver) Close() error {
	drv.mu.Lock()
	if drv.closed {
		drv.mu.Unlock()
		return nil
	}
	drv.closed = true
	for _, st := range drv.lines {
		if st.w != nil {
			close(st.w.quit)
			st.w = nil
		}
	}
	drv.mu.Unlock()

	drv.reg.Close()

	var errs []error
	err := drv.grp.Wait()
	if err != nil {
		errs = append(errs, err)
	}

	drv.mu.Lock()
	defer drv.mu.Unlock()

	for pin, st := range drv.lines {
		if st.req == nil {
			continue
		}
		err := st.req.Close()
		if err != nil {
			errs = append(errs, gpio.Errorf("release", pin, gpio.SysError(err)))
		}
		st.req = nil
	}
	drv.lines = make(map[int]*lineState)

	err = drv.chip.Close()
	if err != nil {
		errs = append(errs, fmt.Errorf("gpiod: could not close chip %q: %w", drv.name, err))
	}
	return errors.Join(errs...)
}

var _ io.Closer = (*Driver)(nil)
