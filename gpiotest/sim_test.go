// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gpiotest // import "github.com/go-lpc/gpio/gpiotest"

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/go-lpc/gpio"
)

func TestNotOpen(t *testing.T) {
	sim := New(28)
	defer sim.Close()

	for _, tc := range []struct {
		name string
		f    func(pin int) error
	}{
		{"read", func(pin int) error { _, err := sim.Read(pin); return err }},
		{"write", func(pin int) error { return sim.Write(pin, gpio.High) }},
		{"mode", func(pin int) error { _, err := sim.Mode(pin); return err }},
		{"set-mode", func(pin int) error { return sim.SetMode(pin, gpio.Output) }},
		{"input", func(pin int) error { return sim.SetInput(pin, gpio.High) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.f(4)
			if !errors.Is(err, gpio.ErrNotOpen) {
				t.Fatalf("invalid error before open: got=%+v, want=%+v", err, gpio.ErrNotOpen)
			}

			err = sim.OpenPin(4)
			if err != nil {
				t.Fatalf("could not open pin: %+v", err)
			}
			err = sim.ClosePin(4)
			if err != nil {
				t.Fatalf("could not close pin: %+v", err)
			}

			err = tc.f(4)
			if !errors.Is(err, gpio.ErrNotOpen) {
				t.Fatalf("invalid error after close: got=%+v, want=%+v", err, gpio.ErrNotOpen)
			}

			err = tc.f(28)
			if !errors.Is(err, gpio.ErrInvalidPin) {
				t.Fatalf("invalid error: got=%+v, want=%+v", err, gpio.ErrInvalidPin)
			}
		})
	}
}

func TestModes(t *testing.T) {
	sim := New(28)
	defer sim.Close()

	err := sim.OpenPin(5)
	if err != nil {
		t.Fatalf("could not open pin: %+v", err)
	}

	for _, tc := range []struct {
		mode gpio.Mode
		lvl  gpio.Level
	}{
		{gpio.InputPullUp, gpio.High},
		{gpio.Input, gpio.High},
		{gpio.InputPullDown, gpio.Low},
		{gpio.Output, gpio.Low},
	} {
		t.Run(tc.mode.String(), func(t *testing.T) {
			err := sim.SetMode(5, tc.mode)
			if err != nil {
				t.Fatalf("could not set mode: %+v", err)
			}
			mode, err := sim.Mode(5)
			if err != nil {
				t.Fatalf("could not get mode: %+v", err)
			}
			if mode != tc.mode {
				t.Fatalf("invalid mode: got=%v, want=%v", mode, tc.mode)
			}
			lvl, err := sim.Read(5)
			if err != nil {
				t.Fatalf("could not read: %+v", err)
			}
			if lvl != tc.lvl {
				t.Fatalf("invalid level: got=%v, want=%v", lvl, tc.lvl)
			}
		})
	}

	err = sim.SetMode(5, gpio.Mode(42))
	if !errors.Is(err, gpio.ErrInvalidMode) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, gpio.ErrInvalidMode)
	}
	mode, _ := sim.Mode(5)
	if mode != gpio.Output {
		t.Fatalf("mode changed by a failed set-mode: %v", mode)
	}
}

func TestEvents(t *testing.T) {
	sim := New(28)
	defer sim.Close()

	err := sim.OpenPin(17)
	if err != nil {
		t.Fatalf("could not open pin: %+v", err)
	}

	var got []gpio.Edge
	id, err := sim.AddCallback(17, gpio.Rising, func(evt gpio.Event) {
		got = append(got, evt.Edge)
	})
	if err != nil {
		t.Fatalf("could not add callback: %+v", err)
	}
	if got, want := sim.Edges(17), gpio.Rising; got != want {
		t.Fatalf("invalid watched edges: got=%v, want=%v", got, want)
	}

	for _, lvl := range []gpio.Level{gpio.High, gpio.High, gpio.Low, gpio.High} {
		err := sim.SetInput(17, lvl)
		if err != nil {
			t.Fatalf("could not drive pin: %+v", err)
		}
	}
	if want := []gpio.Edge{gpio.Rising, gpio.Rising}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid events: got=%v, want=%v", got, want)
	}

	err = sim.RemoveCallback(17, id)
	if err != nil {
		t.Fatalf("could not remove callback: %+v", err)
	}
	if got := sim.Watchers(); got != 0 {
		t.Fatalf("invalid number of watchers: got=%d, want=0", got)
	}
}

func TestWaitForEvent(t *testing.T) {
	sim := New(28)
	defer sim.Close()

	err := sim.OpenPin(17)
	if err != nil {
		t.Fatalf("could not open pin: %+v", err)
	}

	go func() {
		for sim.Watchers() == 0 {
			time.Sleep(time.Millisecond)
		}
		_ = sim.SetInput(17, gpio.High)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := sim.WaitForEvent(ctx, 17, gpio.Rising)
	if err != nil {
		t.Fatalf("could not wait: %+v", err)
	}
	if got, want := res, (gpio.WaitResult{Edge: gpio.Rising}); got != want {
		t.Fatalf("invalid result: got=%+v, want=%+v", got, want)
	}
	if got := sim.Watchers(); got != 0 {
		t.Fatalf("residual watcher after wait: %d", got)
	}

	go func() {
		for sim.Watchers() == 0 {
			time.Sleep(time.Millisecond)
		}
		sim.Fault(17, gpio.ErrIO)
	}()
	_, err = sim.WaitForEvent(ctx, 17, gpio.Falling)
	if !errors.Is(err, gpio.ErrIO) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, gpio.ErrIO)
	}
	if err := sim.Err(); !errors.Is(err, gpio.ErrIO) {
		t.Fatalf("fault not recorded: %+v", err)
	}
}
