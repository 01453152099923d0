// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gpiod // import "github.com/go-lpc/gpio/gpiod"

import (
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/go-lpc/gpio"
)

type watcher struct {
	quit chan struct{}
	done chan struct{}
}

// stop stops the watcher and waits for its goroutine to return.
func (w *watcher) stop() {
	if w == nil {
		return
	}
	close(w.quit)
	<-w.done
}

// spawn starts watching the edge events of req.
// spawn must be called with drv.mu held.
func (drv *Driver) spawn(pin int, req line) *watcher {
	w := &watcher{
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	drv.grp.Go(func() error {
		defer close(w.done)
		return drv.watch(pin, req, w.quit)
	})
	return w
}

func (drv *Driver) watch(pin int, req line, quit <-chan struct{}) error {
	drv.msg.Printf("starting watcher of line %d", pin)
	nintr := 0
	for {
		select {
		case <-quit:
			drv.msg.Printf("watcher of line %d stopped (interrupted waits: %d)", pin, nintr)
			return nil
		default:
		}

		ok, err := req.Wait(drv.cfg.wait)
		switch {
		case errors.Is(err, syscall.EINTR):
			nintr++
			continue
		case err != nil:
			return drv.fail(pin, err)
		case !ok:
			continue
		}

		edge, err := req.ReadEvent()
		switch {
		case errors.Is(err, syscall.EINTR):
			nintr++
			continue
		case err != nil:
			return drv.fail(pin, err)
		}

		drv.reg.Dispatch(gpio.Event{Pin: pin, Edge: edge, Time: time.Now()})
	}
}

// fail records a fatal error of the watcher of pin.
func (drv *Driver) fail(pin int, err error) error {
	err = gpio.Errorf("watch", pin, fmt.Errorf("%w: %w", gpio.ErrIO, err))
	drv.msg.Printf("line watcher failed: %+v", err)
	drv.reg.Fail(pin, err)
	return err
}
