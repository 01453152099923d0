// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gpio // import "github.com/go-lpc/gpio"

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Controller manages the pins of a Driver.
//
// A Controller owns the pins it opened: they are closed, together with
// the driver, when the controller is closed.
type Controller struct {
	drv Driver
	msg *log.Logger
	buf int // capacity of watch channels

	mu     sync.Mutex
	closed bool
	pins   map[int]*ctlPin
}

type ctlPin struct {
	last  Level
	known bool // last holds a level read from or written to the pin
	watch *watch
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger of the controller.
func WithLogger(msg *log.Logger) Option {
	return func(ctl *Controller) {
		ctl.msg = msg
	}
}

// WithWatchBuffer sets the capacity of the channels returned by Watch.
// Events are dropped when a channel is full.
func WithWatchBuffer(n int) Option {
	return func(ctl *Controller) {
		ctl.buf = n
	}
}

// NewController returns a controller over drv.
func NewController(drv Driver, opts ...Option) *Controller {
	ctl := &Controller{
		drv:  drv,
		msg:  log.New(os.Stdout, "gpio: ", 0),
		buf:  64,
		pins: make(map[int]*ctlPin),
	}
	for _, opt := range opts {
		opt(ctl)
	}
	return ctl
}

// Driver returns the underlying driver.
func (ctl *Controller) Driver() Driver {
	return ctl.drv
}

// PinCount returns the number of pins of the underlying driver.
func (ctl *Controller) PinCount() (int, error) {
	return ctl.drv.PinCount()
}

// pin returns the state of a pin opened by the controller.
// pin must be called with ctl.mu held.
func (ctl *Controller) pin(op string, pin int) (*ctlPin, error) {
	if ctl.closed {
		return nil, Errorf(op, pin, ErrClosed)
	}
	st, ok := ctl.pins[pin]
	if !ok {
		return nil, Errorf(op, pin, ErrNotOpen)
	}
	return st, nil
}

// IsPinOpen returns whether pin was opened by the controller.
func (ctl *Controller) IsPinOpen(pin int) bool {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	_, ok := ctl.pins[pin]
	return ok
}

// OpenPin opens pin and sets its mode.
// OpenPin fails with ErrAlreadyOpen if pin was already opened by the
// controller.
func (ctl *Controller) OpenPin(pin int, mode Mode) error {
	const op = "open"

	ctl.mu.Lock()
	defer ctl.mu.Unlock()

	if ctl.closed {
		return Errorf(op, pin, ErrClosed)
	}
	if _, dup := ctl.pins[pin]; dup {
		return Errorf(op, pin, ErrAlreadyOpen)
	}

	err := ctl.drv.OpenPin(pin)
	if err != nil {
		return err
	}
	if !ctl.drv.IsModeSupported(pin, mode) {
		err = Errorf(op, pin, fmt.Errorf("%w %v", ErrInvalidMode, mode))
	} else {
		err = ctl.drv.SetMode(pin, mode)
	}
	if err != nil {
		if e := ctl.drv.ClosePin(pin); e != nil {
			ctl.msg.Printf("could not close pin %d: %+v", pin, e)
		}
		return err
	}

	ctl.pins[pin] = &ctlPin{}
	return nil
}

// ClosePin stops watching pin and closes it.
func (ctl *Controller) ClosePin(pin int) error {
	ctl.mu.Lock()
	st, err := ctl.pin("close", pin)
	if err != nil {
		ctl.mu.Unlock()
		return err
	}
	delete(ctl.pins, pin)
	w := st.watch
	st.watch = nil
	ctl.mu.Unlock()

	w.stop()
	return ctl.drv.ClosePin(pin)
}

// SetMode sets the mode of an open pin.
func (ctl *Controller) SetMode(pin int, mode Mode) error {
	const op = "set mode of"

	ctl.mu.Lock()
	defer ctl.mu.Unlock()

	_, err := ctl.pin(op, pin)
	if err != nil {
		return err
	}
	if !ctl.drv.IsModeSupported(pin, mode) {
		return Errorf(op, pin, fmt.Errorf("%w %v", ErrInvalidMode, mode))
	}
	return ctl.drv.SetMode(pin, mode)
}

// Mode returns the mode of an open pin.
func (ctl *Controller) Mode(pin int) (Mode, error) {
	ctl.mu.Lock()
	_, err := ctl.pin("get mode of", pin)
	ctl.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return ctl.drv.Mode(pin)
}

// Read returns the level of an open pin.
func (ctl *Controller) Read(pin int) (Level, error) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()

	st, err := ctl.pin("read", pin)
	if err != nil {
		return Low, err
	}
	v, err := ctl.drv.Read(pin)
	if err != nil {
		return Low, err
	}
	st.last, st.known = v, true
	return v, nil
}

// Write sets the level of an open pin.
func (ctl *Controller) Write(pin int, v Level) error {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()

	st, err := ctl.pin("write", pin)
	if err != nil {
		return err
	}
	err = ctl.drv.Write(pin, v)
	if err != nil {
		return err
	}
	st.last, st.known = v, true
	return nil
}

// Toggle writes the inverse of the last level read from or written to
// pin. The pin is read first if its level is not known yet.
func (ctl *Controller) Toggle(pin int) error {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()

	st, err := ctl.pin("toggle", pin)
	if err != nil {
		return err
	}
	if !st.known {
		v, err := ctl.drv.Read(pin)
		if err != nil {
			return err
		}
		st.last, st.known = v, true
	}

	v := st.last.Not()
	err = ctl.drv.Write(pin, v)
	if err != nil {
		return err
	}
	st.last = v
	return nil
}

// WaitForEvent blocks until an edge matching edges is detected on pin, or
// until ctx is done.
func (ctl *Controller) WaitForEvent(ctx context.Context, pin int, edges Edge) (WaitResult, error) {
	ctl.mu.Lock()
	_, err := ctl.pin("wait for event on", pin)
	ctl.mu.Unlock()
	if err != nil {
		return WaitResult{}, err
	}
	return ctl.drv.WaitForEvent(ctx, pin, edges)
}

// WaitForEventTimeout is like WaitForEvent with a timeout.
func (ctl *Controller) WaitForEventTimeout(pin int, edges Edge, timeout time.Duration) (WaitResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return ctl.WaitForEvent(ctx, pin, edges)
}

// Watch delivers the edge events of pin matching edges on the returned
// channel, until ctx is done or the pin is closed.
// The channel is closed once the pin is not watched anymore.
// A pin can be watched by a single channel at a time.
func (ctl *Controller) Watch(ctx context.Context, pin int, edges Edge) (<-chan Event, error) {
	const op = "watch"

	ctl.mu.Lock()
	defer ctl.mu.Unlock()

	st, err := ctl.pin(op, pin)
	if err != nil {
		return nil, err
	}
	if st.watch != nil {
		return nil, Errorf(op, pin, ErrAlreadyListening)
	}

	ctx, cancel := context.WithCancel(ctx)
	w := &watch{
		cancel: cancel,
		done:   make(chan struct{}),
		ch:     make(chan Event, ctl.buf),
	}
	w.id, err = ctl.drv.AddCallback(pin, edges, w.send)
	if err != nil {
		cancel()
		return nil, err
	}
	st.watch = w

	go func() {
		defer close(w.done)
		<-ctx.Done()
		ctl.unwatch(pin, w)
	}()

	return w.ch, nil
}

func (ctl *Controller) unwatch(pin int, w *watch) {
	err := ctl.drv.RemoveCallback(pin, w.id)
	if err != nil && !errors.Is(err, ErrNotListening) {
		ctl.msg.Printf("could not stop watching pin %d: %+v", pin, err)
	}

	ctl.mu.Lock()
	if st, ok := ctl.pins[pin]; ok && st.watch == w {
		st.watch = nil
	}
	ctl.mu.Unlock()

	if n := w.close(); n > 0 {
		ctl.msg.Printf("dropped %d events of pin %d", n, pin)
	}
}

// Err returns the first background fault of the driver.
func (ctl *Controller) Err() error {
	return ctl.drv.Err()
}

// Close closes the pins opened by the controller, then the driver.
func (ctl *Controller) Close() error {
	ctl.mu.Lock()
	if ctl.closed {
		ctl.mu.Unlock()
		return nil
	}
	ctl.closed = true
	watches := make(map[int]*watch, len(ctl.pins))
	for pin, st := range ctl.pins {
		watches[pin] = st.watch
		st.watch = nil
	}
	ctl.pins = make(map[int]*ctlPin)
	ctl.mu.Unlock()

	var grp errgroup.Group
	for pin, w := range watches {
		pin, w := pin, w
		grp.Go(func() error {
			w.stop()
			return ctl.drv.ClosePin(pin)
		})
	}

	var errs []error
	err := grp.Wait()
	if err != nil {
		errs = append(errs, err)
	}

	err = ctl.drv.Close()
	if err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

type watch struct {
	id     HandlerID
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	ch      chan Event
	closed  bool
	dropped int
}

func (w *watch) send(evt Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.ch <- evt:
	default:
		w.dropped++
	}
}

// close closes the event channel and returns the number of dropped events.
func (w *watch) close() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.ch)
	}
	return w.dropped
}

// stop stops the watch and waits for its channel to be closed.
func (w *watch) stop() {
	if w == nil {
		return
	}
	w.cancel()
	<-w.done
}
