// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/go-lpc/gpio"
	"github.com/go-lpc/gpio/bcm"
)

const usage = `  info                          display the backend description
  open PIN MODE                 open a pin in the given mode
  close PIN                     close a pin
  mode PIN [MODE]               display or set the mode of a pin
  read PIN                      read the level of a pin
  write PIN LEVEL               drive an output pin to LEVEL (0|1|low|high)
  toggle PIN                    invert the level of an output pin
  wait [-timeout=D] PIN EDGES   wait for an edge (rising|falling|both)
  watch [-n=N] [-timeout=D] [-vcd=FILE] PIN EDGES
                                display the edges detected on a pin
  alt PIN [FUNC]                display or set the function of a pin (bcm)
  i2c BUS ADDR REG              read a register of an I2C device
`

// i2cConn is an SMBus connection to an I2C device.
type i2cConn interface {
	ReadReg(addr, reg uint8) (uint8, error)
	Close() error
}

// altFunctioner is implemented by drivers able to route pins to
// peripheral functions.
type altFunctioner interface {
	AltFunction(pin int) (bcm.Function, error)
	SetAltFunction(pin int, fn bcm.Function) error
}

type app struct {
	ctl *gpio.Controller
	out io.Writer
	msg *log.Logger

	i2c func(bus int, addr uint8) (i2cConn, error)
}

func newApp(ctl *gpio.Controller, out io.Writer, msg *log.Logger) *app {
	return &app{
		ctl: ctl,
		out: out,
		msg: msg,
		i2c: func(int, uint8) (i2cConn, error) {
			return nil, fmt.Errorf("i2c: not available")
		},
	}
}

func (app *app) exec(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return nil
	}
	name, args := args[0], args[1:]
	switch name {
	case "help":
		fmt.Fprint(app.out, usage)
		return nil
	case "info":
		return app.info()
	case "open":
		return app.cmdOpen(args)
	case "close":
		return app.cmdClose(args)
	case "mode":
		return app.cmdMode(args)
	case "read":
		return app.cmdRead(args)
	case "write":
		return app.cmdWrite(args)
	case "toggle":
		return app.cmdToggle(args)
	case "wait":
		return app.cmdWait(ctx, args)
	case "watch":
		return app.cmdWatch(ctx, args)
	case "alt":
		return app.cmdAlt(args)
	case "i2c":
		return app.cmdI2C(args)
	}
	return fmt.Errorf("unknown command %q", name)
}

func (app *app) info() error {
	n, err := app.ctl.PinCount()
	if err != nil {
		return fmt.Errorf("could not retrieve pin count: %w", err)
	}
	if dev, ok := app.ctl.Driver().(interface{ Info() bcm.Info }); ok {
		fmt.Fprintf(app.out, "board: %v\n", dev.Info())
	}
	fmt.Fprintf(app.out, "pins:  %d\n", n)
	for pin := 0; pin < n; pin++ {
		if !app.ctl.IsPinOpen(pin) {
			continue
		}
		mode, err := app.ctl.Mode(pin)
		if err != nil {
			return err
		}
		fmt.Fprintf(app.out, "pin %d: %v\n", pin, mode)
	}
	return nil
}

// ensure opens pin in mode, unless it is already opened.
// An opened pin is switched to mode when force is set.
func (app *app) ensure(pin int, mode gpio.Mode, force bool) error {
	if !app.ctl.IsPinOpen(pin) {
		return app.ctl.OpenPin(pin, mode)
	}
	if !force {
		return nil
	}
	cur, err := app.ctl.Mode(pin)
	if err != nil {
		return err
	}
	if cur == mode {
		return nil
	}
	return app.ctl.SetMode(pin, mode)
}

func (app *app) cmdOpen(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: open PIN MODE")
	}
	pin, err := parsePin(args[0])
	if err != nil {
		return err
	}
	mode, err := gpio.ParseMode(args[1])
	if err != nil {
		return err
	}
	return app.ctl.OpenPin(pin, mode)
}

func (app *app) cmdClose(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: close PIN")
	}
	pin, err := parsePin(args[0])
	if err != nil {
		return err
	}
	return app.ctl.ClosePin(pin)
}

func (app *app) cmdMode(args []string) error {
	switch len(args) {
	case 1:
		pin, err := parsePin(args[0])
		if err != nil {
			return err
		}
		mode, err := app.ctl.Mode(pin)
		if err != nil {
			return err
		}
		fmt.Fprintf(app.out, "%v\n", mode)
		return nil
	case 2:
		pin, err := parsePin(args[0])
		if err != nil {
			return err
		}
		mode, err := gpio.ParseMode(args[1])
		if err != nil {
			return err
		}
		return app.ensure(pin, mode, true)
	}
	return fmt.Errorf("usage: mode PIN [MODE]")
}

func (app *app) cmdRead(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: read PIN")
	}
	pin, err := parsePin(args[0])
	if err != nil {
		return err
	}
	err = app.ensure(pin, gpio.Input, false)
	if err != nil {
		return err
	}
	v, err := app.ctl.Read(pin)
	if err != nil {
		return err
	}
	fmt.Fprintf(app.out, "%d\n", int(v))
	return nil
}

func (app *app) cmdWrite(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: write PIN LEVEL")
	}
	pin, err := parsePin(args[0])
	if err != nil {
		return err
	}
	v, err := parseLevel(args[1])
	if err != nil {
		return err
	}
	err = app.ensure(pin, gpio.Output, true)
	if err != nil {
		return err
	}
	return app.ctl.Write(pin, v)
}

func (app *app) cmdToggle(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: toggle PIN")
	}
	pin, err := parsePin(args[0])
	if err != nil {
		return err
	}
	err = app.ensure(pin, gpio.Output, true)
	if err != nil {
		return err
	}
	return app.ctl.Toggle(pin)
}

func (app *app) cmdWait(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("wait", flag.ContinueOnError)
	fset.SetOutput(app.out)
	timeout := fset.Duration("timeout", 0, "wait timeout (0: none)")
	err := fset.Parse(args)
	if err != nil {
		return err
	}
	if fset.NArg() != 2 {
		return fmt.Errorf("usage: wait [-timeout=D] PIN EDGES")
	}

	pin, edges, err := parseWatch(fset.Args())
	if err != nil {
		return err
	}
	err = app.ensure(pin, gpio.Input, false)
	if err != nil {
		return err
	}

	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	res, err := app.ctl.WaitForEvent(ctx, pin, edges)
	if err != nil {
		return err
	}
	if res.TimedOut {
		fmt.Fprintf(app.out, "timeout\n")
		return nil
	}
	fmt.Fprintf(app.out, "%v\n", res.Edge)
	return nil
}

func (app *app) cmdWatch(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("watch", flag.ContinueOnError)
	fset.SetOutput(app.out)
	var (
		nevts   = fset.Int("n", 0, "number of events to display (0: unlimited)")
		timeout = fset.Duration("timeout", 0, "watch duration (0: until interrupted)")
		vcd     = fset.String("vcd", "", "name of VCD file for the trace of the pin [ex. dump.vcd]")
	)
	err := fset.Parse(args)
	if err != nil {
		return err
	}
	if fset.NArg() != 2 {
		return fmt.Errorf("usage: watch [-n=N] [-timeout=D] [-vcd=FILE] PIN EDGES")
	}

	pin, edges, err := parseWatch(fset.Args())
	if err != nil {
		return err
	}
	err = app.ensure(pin, gpio.Input, false)
	if err != nil {
		return err
	}

	var tr *tracer
	if *vcd != "" {
		v, err := app.ctl.Read(pin)
		if err != nil {
			return err
		}
		tr = newTracer(pin, v)
	}

	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	evts, err := app.ctl.Watch(ctx, pin, edges)
	if err != nil {
		return err
	}

	n := 0
	for evt := range evts {
		n++
		fmt.Fprintf(app.out, "%s pin=%d edge=%v\n",
			evt.Time.Format(time.RFC3339Nano), evt.Pin, evt.Edge,
		)
		tr.sample(evt)
		if *nevts > 0 && n >= *nevts {
			cancel()
			break
		}
	}
	app.msg.Printf("watched %d events on pin %d", n, pin)

	if tr != nil {
		err = tr.save(*vcd)
		if err != nil {
			return err
		}
	}

	return app.ctl.Err()
}

func (app *app) cmdAlt(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("usage: alt PIN [FUNC]")
	}
	dev, ok := app.ctl.Driver().(altFunctioner)
	if !ok {
		return fmt.Errorf("backend does not support alternate functions")
	}
	pin, err := parsePin(args[0])
	if err != nil {
		return err
	}
	if len(args) == 1 {
		fn, err := dev.AltFunction(pin)
		if err != nil {
			return err
		}
		fmt.Fprintf(app.out, "%v\n", fn)
		return nil
	}
	fn, err := bcm.ParseFunction(args[1])
	if err != nil {
		return err
	}
	return dev.SetAltFunction(pin, fn)
}

// I2C1 bus lines on the 40-pins header.
const (
	pinSDA1 = 2
	pinSCL1 = 3
)

func (app *app) cmdI2C(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: i2c BUS ADDR REG")
	}
	var vs [3]uint64
	for i, arg := range args {
		v, err := strconv.ParseUint(arg, 0, 8)
		if err != nil {
			return fmt.Errorf("invalid i2c argument %q: %w", arg, err)
		}
		vs[i] = v
	}
	var (
		bus  = int(vs[0])
		addr = uint8(vs[1])
		reg  = uint8(vs[2])
	)

	if dev, ok := app.ctl.Driver().(altFunctioner); ok && bus == 1 {
		for _, pin := range []int{pinSDA1, pinSCL1} {
			err := dev.SetAltFunction(pin, bcm.FnAlt0)
			if err != nil {
				return fmt.Errorf("could not route pin %d to i2c-%d: %w", pin, bus, err)
			}
		}
	}

	conn, err := app.i2c(bus, addr)
	if err != nil {
		return fmt.Errorf("could not open i2c-%d device 0x%x: %w", bus, addr, err)
	}
	defer conn.Close()

	v, err := conn.ReadReg(addr, reg)
	if err != nil {
		return fmt.Errorf("could not read register 0x%x of i2c-%d device 0x%x: %w", reg, bus, addr, err)
	}
	fmt.Fprintf(app.out, "0x%02x\n", v)

	return nil
}

func parsePin(s string) (int, error) {
	pin, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid pin %q: %w", s, gpio.ErrInvalidPin)
	}
	return pin, nil
}

func parseLevel(s string) (gpio.Level, error) {
	switch strings.ToLower(s) {
	case "0", "low":
		return gpio.Low, nil
	case "1", "high":
		return gpio.High, nil
	}
	return gpio.Low, fmt.Errorf("invalid level %q", s)
}

func parseWatch(args []string) (int, gpio.Edge, error) {
	pin, err := parsePin(args[0])
	if err != nil {
		return 0, gpio.EdgeNone, err
	}
	edges, err := gpio.ParseEdge(args[1])
	if err != nil {
		return 0, gpio.EdgeNone, err
	}
	return pin, edges, nil
}
