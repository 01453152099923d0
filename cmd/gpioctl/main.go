// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command gpioctl inspects and drives GPIO pins.
//
// Usage: gpioctl [options] [command [args...]]
//
// Without a command, gpioctl starts an interactive shell.
//
// Example:
//
//	$> gpioctl -backend=gpiod read 17
//	$> gpioctl write 18 high
//	$> gpioctl watch -n=10 -vcd=out.vcd 17 both
//	$> gpioctl i2c 1 0x48 0x00
package main // import "github.com/go-lpc/gpio/cmd/gpioctl"

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"

	"github.com/go-daq/smbus"
	"github.com/go-lpc/gpio"
	"github.com/go-lpc/gpio/internal/backend"
)

var (
	drvName = flag.String("backend", "bcm", "GPIO backend (bcm|sysfs|gpiod|sim)")
	chip    = flag.String("chip", "gpiochip0", "GPIO character device (gpiod backend)")
	verbose = flag.Bool("v", false, "enable verbose mode")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `gpioctl inspects and drives GPIO pins.

Usage: gpioctl [options] [command [args...]]

Commands:
%s
Options:
`, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	log.SetPrefix("gpioctl: ")
	log.SetFlags(0)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := run(ctx, *drvName, *chip, *verbose, flag.Args())
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(ctx context.Context, name, chip string, verbose bool, args []string) (err error) {
	msg := log.New(io.Discard, "gpioctl: ", 0)
	if verbose {
		msg.SetOutput(os.Stderr)
	}

	drv, err := backend.Open(name, chip, msg)
	if err != nil {
		return fmt.Errorf("could not open %q backend: %w", name, err)
	}

	ctl := gpio.NewController(drv, gpio.WithLogger(msg))
	defer func() {
		e := ctl.Close()
		if e != nil {
			err = errors.Join(err, fmt.Errorf("could not close %q backend: %w", name, e))
		}
	}()

	app := newApp(ctl, os.Stdout, msg)
	app.i2c = openI2C

	if len(args) == 0 {
		return app.shell(ctx)
	}
	return app.exec(ctx, args)
}

func openI2C(bus int, addr uint8) (i2cConn, error) {
	conn, err := smbus.Open(bus, addr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
