// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gpiod // import "github.com/go-lpc/gpio/gpiod"

import (
	"log"
	"os"
	"time"
)

type config struct {
	dev      string
	chip     string
	consumer string
	wait     time.Duration // timeout of a single edge event wait
	msg      *log.Logger

	open func(path, consumer string) (chip, error)
}

func newConfig() config {
	return config{
		dev:      "/dev",
		chip:     "gpiochip0",
		consumer: "go-lpc-gpio",
		wait:     50 * time.Millisecond,
		msg:      log.New(os.Stdout, "gpiod: ", 0),
		open:     openChip,
	}
}

// Option configures a gpiod driver.
type Option func(*config)

// WithChip sets the name of the GPIO character device, e.g. "gpiochip0".
// An absolute path is used verbatim.
func WithChip(name string) Option {
	return func(cfg *config) {
		cfg.chip = name
	}
}

// WithDevDir sets the directory holding the GPIO character devices.
func WithDevDir(dir string) Option {
	return func(cfg *config) {
		cfg.dev = dir
	}
}

// WithConsumer sets the consumer label attached to the requested lines.
func WithConsumer(name string) Option {
	return func(cfg *config) {
		cfg.consumer = name
	}
}

// WithWaitTimeout sets the timeout of the edge event waits of the line
// watchers. It bounds the latency of a watcher shutdown.
func WithWaitTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.wait = d
	}
}

// WithLogger sets the logger of the driver.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}
