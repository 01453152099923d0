// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dispatch holds the edge event bookkeeping shared by the
// interrupt capable GPIO drivers.
//
// A Registry tracks the callbacks registered for each pin, arms the
// driver's watcher when the first callback of a pin is added and disarms
// it when the last one is removed.
package dispatch // import "github.com/go-lpc/gpio/internal/dispatch"

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-lpc/gpio"
)

// Hooks is implemented by drivers to start and stop watching a pin.
type Hooks interface {
	// Arm is called with the union of the subscribed edges of pin,
	// when the first callback is added and whenever that union grows.
	Arm(pin int, edges gpio.Edge) error
	// Disarm is called when the last callback of pin is removed.
	Disarm(pin int) error
}

type sub struct {
	id    gpio.HandlerID
	edges gpio.Edge
	h     gpio.Handler
}

type resource struct {
	edges  gpio.Edge // armed edges
	subs   []sub
	err    error
	failed chan struct{}
}

func newResource() *resource {
	return &resource{failed: make(chan struct{})}
}

func (r *resource) fail(err error) {
	if r.err != nil {
		return
	}
	r.err = err
	close(r.failed)
}

// Registry holds the callbacks of a driver, keyed by pin.
type Registry struct {
	hooks Hooks

	// armMu serializes calls to hooks.
	armMu sync.Mutex

	mu     sync.Mutex
	next   gpio.HandlerID
	pins   map[int]*resource
	fault  error
	closed bool
	done   chan struct{}
}

// New creates a new registry driving the provided hooks.
func New(hooks Hooks) *Registry {
	return &Registry{
		hooks: hooks,
		pins:  make(map[int]*resource),
		done:  make(chan struct{}),
	}
}

// Add registers h for the edges of pin.
// The driver watcher is armed, or re-armed with a larger edge set,
// before Add returns.
func (reg *Registry) Add(pin int, edges gpio.Edge, h gpio.Handler) (gpio.HandlerID, error) {
	id, _, err := reg.add(pin, edges, h)
	return id, err
}

func (reg *Registry) add(pin int, edges gpio.Edge, h gpio.Handler) (gpio.HandlerID, *resource, error) {
	edges &= gpio.BothEdges
	if edges == gpio.EdgeNone {
		return 0, nil, gpio.Errorf("add callback to", pin, gpio.ErrInvalidEdge)
	}
	if h == nil {
		return 0, nil, fmt.Errorf("dispatch: nil handler for pin %d", pin)
	}

	reg.armMu.Lock()
	defer reg.armMu.Unlock()

	reg.mu.Lock()
	if reg.closed {
		reg.mu.Unlock()
		return 0, nil, gpio.ErrClosed
	}
	var (
		res   = reg.pins[pin]
		armed = gpio.EdgeNone
	)
	if res != nil {
		armed = res.edges
	}
	union := armed | edges
	reg.mu.Unlock()

	if res == nil || union != armed {
		err := reg.hooks.Arm(pin, union)
		if err != nil {
			return 0, nil, err
		}
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if res == nil {
		res = newResource()
		reg.pins[pin] = res
	}
	res.edges = union
	reg.next++
	id := reg.next
	res.subs = append(res.subs, sub{id: id, edges: edges, h: h})
	return id, res, nil
}

// Remove unregisters the callback id of pin.
// The driver watcher is disarmed when no callback remains for pin.
func (reg *Registry) Remove(pin int, id gpio.HandlerID) error {
	reg.armMu.Lock()
	defer reg.armMu.Unlock()

	reg.mu.Lock()
	res := reg.pins[pin]
	idx := -1
	if res != nil {
		for i, s := range res.subs {
			if s.id == id {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		reg.mu.Unlock()
		return gpio.Errorf("remove callback from", pin, gpio.ErrNotListening)
	}
	res.subs = append(res.subs[:idx], res.subs[idx+1:]...)
	last := len(res.subs) == 0
	if last {
		delete(reg.pins, pin)
	}
	reg.mu.Unlock()

	if !last {
		return nil
	}
	return reg.hooks.Disarm(pin)
}

// Drop removes all the callbacks of pin and disarms its watcher.
// Pending waits on pin are released with ErrNotOpen.
// Dropping a pin without callbacks is a no-op.
func (reg *Registry) Drop(pin int) error {
	reg.armMu.Lock()
	defer reg.armMu.Unlock()

	reg.mu.Lock()
	res, ok := reg.pins[pin]
	if ok {
		delete(reg.pins, pin)
		res.fail(gpio.Errorf("wait for event on", pin, gpio.ErrNotOpen))
	}
	reg.mu.Unlock()

	if !ok {
		return nil
	}
	return reg.hooks.Disarm(pin)
}

// Dispatch calls, in registration order, the callbacks of evt.Pin whose
// edges match evt.Edge.
// Callbacks are called without any registry lock held.
func (reg *Registry) Dispatch(evt gpio.Event) {
	reg.mu.Lock()
	res := reg.pins[evt.Pin]
	if res == nil {
		reg.mu.Unlock()
		return
	}
	hs := make([]gpio.Handler, 0, len(res.subs))
	for _, s := range res.subs {
		if s.edges.Has(evt.Edge) {
			hs = append(hs, s.h)
		}
	}
	reg.mu.Unlock()

	for _, h := range hs {
		h(evt)
	}
}

// Fail records a fatal watcher error for pin.
// Pending waits on pin are released with err, and err is reported by Err
// if it is the first recorded fault.
func (reg *Registry) Fail(pin int, err error) {
	if err == nil {
		return
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.fault == nil {
		reg.fault = err
	}
	if res := reg.pins[pin]; res != nil {
		res.fail(err)
	}
}

// Err returns the first fault recorded with Fail.
func (reg *Registry) Err() error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.fault
}

// Edges returns the union of the edges subscribed for pin.
func (reg *Registry) Edges(pin int) gpio.Edge {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	var edges gpio.Edge
	if res := reg.pins[pin]; res != nil {
		for _, s := range res.subs {
			edges |= s.edges
		}
	}
	return edges
}

// Subscribed returns whether pin has at least one callback.
func (reg *Registry) Subscribed(pin int) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	_, ok := reg.pins[pin]
	return ok
}

// Len returns the number of pins with at least one callback.
func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.pins)
}

// Close releases all pending waits and forgets every callback.
// It returns the pins that were still armed, so the driver can release
// their watchers. Hooks are not called.
func (reg *Registry) Close() []int {
	reg.armMu.Lock()
	defer reg.armMu.Unlock()

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.closed {
		return nil
	}
	reg.closed = true
	close(reg.done)

	pins := make([]int, 0, len(reg.pins))
	for pin := range reg.pins {
		pins = append(pins, pin)
	}
	reg.pins = make(map[int]*resource)
	return pins
}

// Wait blocks until an edge of pin matching edges is dispatched, until
// ctx is done or until the registry is closed.
//
// Wait registers a transient callback for the duration of the call.
// That callback is always removed before Wait returns.
func (reg *Registry) Wait(ctx context.Context, pin int, edges gpio.Edge) (res gpio.WaitResult, err error) {
	if ctx.Err() != nil {
		return gpio.WaitResult{TimedOut: true}, nil
	}

	ch := make(chan gpio.Edge, 1)
	id, r, err := reg.add(pin, edges, func(evt gpio.Event) {
		select {
		case ch <- evt.Edge:
		default:
		}
	})
	if err != nil {
		return res, err
	}
	defer func() {
		e := reg.Remove(pin, id)
		if e != nil && err == nil && !errors.Is(e, gpio.ErrNotListening) {
			err = e
		}
	}()

	select {
	case edge := <-ch:
		return gpio.WaitResult{Edge: edge}, nil
	case <-ctx.Done():
		return gpio.WaitResult{TimedOut: true}, nil
	case <-reg.done:
		return gpio.WaitResult{TimedOut: true}, nil
	case <-r.failed:
		reg.mu.Lock()
		err = r.err
		reg.mu.Unlock()
		return res, err
	}
}
