// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sysfs // import "github.com/go-lpc/gpio/sysfs"

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/go-lpc/gpio"
)

// Arm configures the edge file of pin and starts watching its value file.
func (drv *Driver) Arm(pin int, edges gpio.Edge) error {
	const op = "watch"

	drv.mu.Lock()
	defer drv.mu.Unlock()

	st, err := drv.pin(op, pin)
	if err != nil {
		return err
	}

	err = drv.writeFile(drv.path(pin, "edge"), edges.String())
	if err != nil {
		return gpio.Errorf(op, pin, err)
	}
	if st.value != nil {
		return nil
	}

	if drv.poll == nil {
		p, err := drv.cfg.newPoll()
		if err != nil {
			return gpio.Errorf(op, pin, err)
		}
		drv.poll = p
	}

	f, err := os.OpenFile(drv.path(pin, "value"), os.O_RDONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		return gpio.Errorf(op, pin, gpio.SysError(err))
	}

	// reading the value file acknowledges any pending notification.
	lvl, err := readLevel(f)
	if err != nil {
		_ = f.Close()
		return gpio.Errorf(op, pin, err)
	}

	err = drv.poll.Add(f.Fd(), pin)
	if err != nil {
		_ = f.Close()
		return gpio.Errorf(op, pin, fmt.Errorf("%w: %w", gpio.ErrIO, err))
	}

	// the multiplexer reports the current state of a newly added file.
	st.value = f
	st.last = lvl
	st.primed = true
	drv.watching++

	if !drv.running {
		drv.msg.Printf("starting edge watcher (pin %d)", pin)
		drv.running = true
		drv.wg.Add(1)
		go drv.watch()
	}
	return nil
}

// Disarm stops watching pin.
// The watcher goroutine exits by itself once no pin is watched anymore.
func (drv *Driver) Disarm(pin int) error {
	drv.mu.Lock()
	defer drv.mu.Unlock()

	st, ok := drv.pins[pin]
	if !ok || st.value == nil {
		return nil
	}

	var errs []error
	if drv.poll != nil {
		err := drv.poll.Remove(st.value.Fd())
		if err != nil {
			errs = append(errs, err)
		}
	}
	err := st.value.Close()
	if err != nil {
		errs = append(errs, err)
	}
	st.value = nil
	drv.watching--

	err = drv.writeFile(drv.path(pin, "edge"), "none")
	if err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return gpio.Errorf("unwatch", pin, err)
	}
	return nil
}

func (drv *Driver) watch() {
	defer drv.wg.Done()

	nintr := 0
	for {
		drv.mu.Lock()
		if drv.watching == 0 || drv.closed {
			drv.running = false
			drv.mu.Unlock()
			drv.msg.Printf("edge watcher stopped (interrupted waits: %d)", nintr)
			return
		}
		p := drv.poll
		drv.mu.Unlock()

		pins, err := p.Wait(drv.cfg.poll)
		switch {
		case errors.Is(err, errInterrupted):
			nintr++
			continue
		case err != nil:
			drv.fail(err)
			return
		}
		for _, pin := range pins {
			drv.notify(pin)
		}
	}
}

// fail records a fatal multiplexer error for all the watched pins.
func (drv *Driver) fail(err error) {
	err = fmt.Errorf("sysfs: edge watcher failed: %w: %w", gpio.ErrIO, err)
	drv.msg.Printf("%+v", err)

	drv.mu.Lock()
	drv.running = false
	var pins []int
	for pin, st := range drv.pins {
		if st.value != nil {
			pins = append(pins, pin)
		}
	}
	drv.mu.Unlock()

	for _, pin := range pins {
		drv.reg.Fail(pin, err)
	}
}

// notify reads the new level of pin and dispatches the inferred edges.
func (drv *Driver) notify(pin int) {
	drv.mu.Lock()
	st, ok := drv.pins[pin]
	if !ok || st.value == nil {
		drv.mu.Unlock()
		return
	}
	var (
		f      = st.value
		last   = st.last
		primed = st.primed
	)
	drv.mu.Unlock()

	if drv.cfg.settle > 0 {
		time.Sleep(drv.cfg.settle)
	}

	lvl, err := readLevel(f)
	if err != nil {
		if errors.Is(err, os.ErrClosed) {
			// pin unwatched in the meantime.
			return
		}
		drv.reg.Fail(pin, gpio.Errorf("read", pin, err))
		return
	}

	drv.mu.Lock()
	if st.value == f {
		st.last = lvl
		if primed {
			st.primed = false
		}
	}
	drv.mu.Unlock()

	if primed {
		return
	}

	now := time.Now()
	for _, edge := range classify(drv.reg.Edges(pin), last, lvl) {
		drv.reg.Dispatch(gpio.Event{Pin: pin, Edge: edge, Time: now})
	}
}

// classify infers the edges that led from level old to level cur.
//
// With a single subscribed direction, that direction is assumed.
// With both, an unchanged level means a pulse was missed between two
// polls: a High to High reading is a low pulse (Falling then Rising),
// a Low to Low reading is a high pulse (Rising then Falling).
// At most one missed pulse is accounted for.
func classify(subscribed gpio.Edge, old, cur gpio.Level) []gpio.Edge {
	switch subscribed & gpio.BothEdges {
	case gpio.Rising:
		return []gpio.Edge{gpio.Rising}
	case gpio.Falling:
		return []gpio.Edge{gpio.Falling}
	case gpio.BothEdges:
		switch {
		case old == gpio.Low && cur == gpio.High:
			return []gpio.Edge{gpio.Rising}
		case old == gpio.High && cur == gpio.Low:
			return []gpio.Edge{gpio.Falling}
		case old == gpio.High:
			return []gpio.Edge{gpio.Falling, gpio.Rising}
		default:
			return []gpio.Edge{gpio.Rising, gpio.Falling}
		}
	}
	return nil
}

func readLevel(f *os.File) (gpio.Level, error) {
	var buf [2]byte
	n, err := f.ReadAt(buf[:], 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return gpio.Low, fmt.Errorf("%w: %w", gpio.ErrIO, err)
	}
	if n == 0 {
		return gpio.Low, fmt.Errorf("sysfs: empty value file %q: %w", f.Name(), gpio.ErrIO)
	}
	return parseLevel(string(buf[:1]))
}
