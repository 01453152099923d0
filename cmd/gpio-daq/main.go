// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command gpio-daq starts a TDAQ server streaming the edges detected on
// GPIO pins.
//
// The /config command selects the backend and the pins to open, /init
// opens them and /start streams their edges on the /edges output, until
// /stop.
// With -mail, a backend fault ending a run is reported by mail.
package main // import "github.com/go-lpc/gpio/cmd/gpio-daq"

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/gpio"
	"github.com/go-lpc/gpio/internal/backend"
	"github.com/sbinet/pmon"
)

var (
	doMon   = flag.Bool("pmon", false, "enable pmon monitoring")
	doFreq  = flag.Duration("freq", 1*time.Second, "pmon frequency")
	monFile = flag.String("pmon-log", "gpio-daq-pmon.log", "pmon log file")
	chip    = flag.String("chip", "gpiochip0", "GPIO character device (gpiod backend)")
	doMail  = flag.Bool("mail", false, "send a mail alert on backend faults (MAIL_* environment)")
)

func main() {
	cmd := flags.New()

	log.SetPrefix("gpio-daq: ")
	log.SetFlags(0)

	if *doMon {
		kill, err := monitor(*monFile, *doFreq)
		if err != nil {
			log.Fatalf("%+v", err)
		}
		defer kill()
	}

	msg := log.New(os.Stdout, "gpio-daq: ", 0)
	dev := newServer(func(name string) (gpio.Driver, error) {
		return backend.Open(name, *chip, msg)
	})
	if *doMail {
		m, err := newMailer(os.Getenv)
		if err != nil {
			log.Fatalf("could not setup mail alerts: %+v", err)
		}
		dev.alert = m.alert
	}

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/edges", dev.edges)

	srv.RunHandle(dev.run)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

// monitor starts monitoring the resources used by the current process.
func monitor(fname string, freq time.Duration) (func(), error) {
	pid := os.Getpid()
	p, err := pmon.Monitor(pid)
	if err != nil {
		return nil, fmt.Errorf("could not start monitoring (pid=%d): %w", pid, err)
	}
	f, err := os.Create(fname)
	if err != nil {
		return nil, fmt.Errorf("could not create pmon log file %q: %w", fname, err)
	}
	p.W = f
	p.Freq = freq

	go func() {
		log.Printf("run pmon (pid=%d)...", pid)
		err := p.Run()
		if err != nil {
			log.Printf("could not start monitoring: %+v", err)
		}
	}()

	return func() {
		err := p.Kill()
		if err != nil {
			log.Printf("could not stop monitoring: %+v", err)
		}
		f.Close()
	}, nil
}
