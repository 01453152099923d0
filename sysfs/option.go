// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sysfs // import "github.com/go-lpc/gpio/sysfs"

import (
	"log"
	"os"
	"time"
)

type config struct {
	root    string
	offset  *int
	poll    time.Duration // multiplexer wait timeout
	settle  time.Duration // delay before reading a value file after an event
	export  time.Duration // max time to wait for an exported pin to be accessible
	msg     *log.Logger
	newPoll func() (poller, error)
}

func newConfig() config {
	return config{
		root:    "/sys/class/gpio",
		poll:    50 * time.Millisecond,
		settle:  1 * time.Millisecond,
		export:  1 * time.Second,
		msg:     log.New(os.Stdout, "sysfs: ", 0),
		newPoll: newPoller,
	}
}

// Option configures a sysfs driver.
type Option func(*config)

// WithRoot sets the root of the sysfs GPIO class directory.
func WithRoot(dir string) Option {
	return func(cfg *config) {
		cfg.root = dir
	}
}

// WithChipOffset sets the number added to pin numbers to get the kernel
// GPIO numbers. By default, the base of the first pinctrl gpiochip is used.
func WithChipOffset(n int) Option {
	return func(cfg *config) {
		cfg.offset = &n
	}
}

// WithPollTimeout sets the timeout of the edge watcher multiplexer wait.
// It bounds the latency of the watcher shutdown.
func WithPollTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.poll = d
	}
}

// WithSettleDelay sets the delay between an edge notification and the
// read of the new pin level.
func WithSettleDelay(d time.Duration) Option {
	return func(cfg *config) {
		cfg.settle = d
	}
}

// WithExportTimeout sets how long to wait for an exported pin to become
// accessible.
func WithExportTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.export = d
	}
}

// WithLogger sets the logger of the driver.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}
