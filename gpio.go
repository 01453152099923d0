// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gpio // import "github.com/go-lpc/gpio"

import (
	"context"
	"fmt"
	"time"
)

// Mode describes how a pin is configured.
type Mode int

const (
	Input Mode = iota
	Output
	InputPullUp
	InputPullDown
)

func (m Mode) String() string {
	switch m {
	case Input:
		return "input"
	case Output:
		return "output"
	case InputPullUp:
		return "input-pull-up"
	case InputPullDown:
		return "input-pull-down"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// IsInput returns whether the mode configures the pin as an input.
func (m Mode) IsInput() bool {
	return m == Input || m == InputPullUp || m == InputPullDown
}

// ParseMode parses the textual representation of a mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "in", "input":
		return Input, nil
	case "out", "output":
		return Output, nil
	case "up", "pull-up", "input-pull-up":
		return InputPullUp, nil
	case "down", "pull-down", "input-pull-down":
		return InputPullDown, nil
	}
	return 0, fmt.Errorf("gpio: invalid mode %q: %w", s, ErrInvalidMode)
}

// Level is the logical level of a pin.
type Level int

const (
	Low Level = iota
	High
)

func (lvl Level) String() string {
	if lvl == Low {
		return "low"
	}
	return "high"
}

// Not returns the opposite level.
func (lvl Level) Not() Level {
	if lvl == Low {
		return High
	}
	return Low
}

// LevelOf converts a boolean into a level.
func LevelOf(v bool) Level {
	if v {
		return High
	}
	return Low
}

// Edge is a set of level transitions.
// EdgeNone is a valid value, but it matches no transition.
type Edge uint8

const (
	EdgeNone Edge = 0
	Rising   Edge = 1 << 0
	Falling  Edge = 1 << 1

	BothEdges = Rising | Falling
)

// Has returns whether all the transitions of o are part of e.
func (e Edge) Has(o Edge) bool {
	return o != EdgeNone && e&o == o
}

func (e Edge) String() string {
	switch e & BothEdges {
	case EdgeNone:
		return "none"
	case Rising:
		return "rising"
	case Falling:
		return "falling"
	default:
		return "both"
	}
}

// ParseEdge parses the textual representation of an edge set.
func ParseEdge(s string) (Edge, error) {
	switch s {
	case "none":
		return EdgeNone, nil
	case "rising":
		return Rising, nil
	case "falling":
		return Falling, nil
	case "both":
		return BothEdges, nil
	}
	return EdgeNone, fmt.Errorf("gpio: invalid edge %q: %w", s, ErrInvalidEdge)
}

// Event is a level transition observed on a pin.
type Event struct {
	Pin  int
	Edge Edge
	Time time.Time
}

// Handler is called from a driver watcher goroutine when an edge is detected.
// Handlers of a given pin are called in registration order.
// A handler must not synchronously remove a callback of the pin it is
// dispatched for.
type Handler func(evt Event)

// HandlerID identifies a registered callback.
type HandlerID uint64

// WaitResult is the outcome of a WaitForEvent call.
type WaitResult struct {
	TimedOut bool
	Edge     Edge
}

// Driver is the interface implemented by all GPIO backends.
//
// Pins are identified by their backend-specific logical number.
// Besides OpenPin, PinCount, IsModeSupported and Close, every operation
// fails with ErrNotOpen on a pin that has not been opened.
type Driver interface {
	// PinCount returns the number of pins the driver gives access to.
	PinCount() (int, error)

	OpenPin(pin int) error
	// ClosePin releases the pin resources, including any live
	// edge watcher attached to it.
	ClosePin(pin int) error

	IsModeSupported(pin int, mode Mode) bool
	SetMode(pin int, mode Mode) error
	Mode(pin int) (Mode, error)

	Read(pin int) (Level, error)
	Write(pin int, v Level) error

	// AddCallback registers h to be called on every edge of pin
	// matching edges.
	AddCallback(pin int, edges Edge, h Handler) (HandlerID, error)
	// RemoveCallback unregisters a callback.
	// It fails with ErrNotListening if id is not registered for pin.
	RemoveCallback(pin int, id HandlerID) error

	// WaitForEvent blocks until an edge matching edges is detected on pin
	// or until ctx is done.
	// A done context yields WaitResult{TimedOut: true} and a nil error.
	WaitForEvent(ctx context.Context, pin int, edges Edge) (WaitResult, error)

	// Err returns the first fault recorded by a background watcher.
	Err() error

	// Close releases all the resources held by the driver.
	// Close is idempotent.
	Close() error
}
