// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-lpc/gpio"
	"golang.org/x/sync/errgroup"
)

// pinConfig describes how a pin is opened and which of its edges are
// streamed.
type pinConfig struct {
	pin   int
	mode  gpio.Mode
	edges gpio.Edge
}

type config struct {
	backend string
	pins    []pinConfig
}

// parseConfig decodes the body of a /config command:
//
//	backend: str
//	n:       u32
//	n times:
//	  pin:   u32
//	  mode:  str
//	  edges: str
func parseConfig(p []byte) (config, error) {
	dec := tdaq.NewDecoder(bytes.NewReader(p))

	var cfg config
	cfg.backend = dec.ReadStr()
	n := int(dec.ReadU32())
	if err := dec.Err(); err != nil {
		return cfg, fmt.Errorf("could not decode configuration header: %w", err)
	}

	cfg.pins = make([]pinConfig, n)
	for i := range cfg.pins {
		var (
			pin   = dec.ReadU32()
			mode  = dec.ReadStr()
			edges = dec.ReadStr()
		)
		if err := dec.Err(); err != nil {
			return cfg, fmt.Errorf("could not decode configuration of pin #%d: %w", i, err)
		}

		pc := &cfg.pins[i]
		pc.pin = int(pin)
		m, err := gpio.ParseMode(mode)
		if err != nil {
			return cfg, fmt.Errorf("invalid configuration of pin %d: %w", pin, err)
		}
		pc.mode = m
		e, err := gpio.ParseEdge(edges)
		if err != nil {
			return cfg, fmt.Errorf("invalid configuration of pin %d: %w", pin, err)
		}
		if e != gpio.EdgeNone && !m.IsInput() {
			return cfg, fmt.Errorf("invalid configuration of pin %d: edges %v on %v pin", pin, e, m)
		}
		pc.edges = e
	}

	return cfg, nil
}

// encodeEvent encodes an edge event for the /edges output:
//
//	pin:  u32
//	edge: u8
//	time: u64 (ns since the Unix epoch)
func encodeEvent(evt gpio.Event) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := tdaq.NewEncoder(buf)
	enc.WriteU32(uint32(evt.Pin))
	enc.WriteU8(uint8(evt.Edge))
	enc.WriteU64(uint64(evt.Time.UnixNano()))
	if err := enc.Err(); err != nil {
		return nil, fmt.Errorf("could not encode event of pin %d: %w", evt.Pin, err)
	}
	return buf.Bytes(), nil
}

type server struct {
	open  func(backend string) (gpio.Driver, error)
	freq  time.Duration    // health check period
	alert func(err error) // called on backend faults, if set

	mu   sync.Mutex
	cfg  config
	ctl  *gpio.Controller
	data chan gpio.Event

	n       atomic.Int64 // events queued
	dropped atomic.Int64
}

func newServer(open func(backend string) (gpio.Driver, error)) *server {
	return &server{
		open: open,
		freq: 1 * time.Second,
		data: make(chan gpio.Event, 1024),
	}
}

func (srv *server) configure(p []byte) error {
	cfg, err := parseConfig(p)
	if err != nil {
		return err
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.cfg = cfg
	return nil
}

// initialize opens the configured backend and pins, closing the previous ones.
func (srv *server) initialize() error {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	err := srv.release()
	if err != nil {
		return err
	}
	if srv.cfg.backend == "" {
		return fmt.Errorf("no configured backend")
	}

	drv, err := srv.open(srv.cfg.backend)
	if err != nil {
		return fmt.Errorf("could not open backend %q: %w", srv.cfg.backend, err)
	}
	ctl := gpio.NewController(drv)
	for _, pc := range srv.cfg.pins {
		err := ctl.OpenPin(pc.pin, pc.mode)
		if err != nil {
			return errors.Join(
				fmt.Errorf("could not open pin %d: %w", pc.pin, err),
				ctl.Close(),
			)
		}
	}

	srv.ctl = ctl
	srv.data = make(chan gpio.Event, 1024)
	srv.n.Store(0)
	srv.dropped.Store(0)
	return nil
}

func (srv *server) release() error {
	if srv.ctl == nil {
		return nil
	}
	err := srv.ctl.Close()
	srv.ctl = nil
	if err != nil {
		return fmt.Errorf("could not close backend %q: %w", srv.cfg.backend, err)
	}
	return nil
}

func (srv *server) reset() error {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.release()
}

// acquire streams the edges of the configured pins to the data channel,
// until ctx is done or the backend faults.
func (srv *server) acquire(ctx context.Context) error {
	srv.mu.Lock()
	var (
		ctl  = srv.ctl
		pins = srv.cfg.pins
		data = srv.data
	)
	srv.mu.Unlock()

	if ctl == nil {
		return fmt.Errorf("backend not initialized")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	grp, ctx := errgroup.WithContext(ctx)
	for _, pc := range pins {
		if pc.edges == gpio.EdgeNone {
			continue
		}
		evts, err := ctl.Watch(ctx, pc.pin, pc.edges)
		if err != nil {
			cancel()
			return errors.Join(
				fmt.Errorf("could not watch pin %d: %w", pc.pin, err),
				grp.Wait(),
			)
		}
		grp.Go(func() error {
			for evt := range evts {
				select {
				case data <- evt:
					srv.n.Add(1)
				default:
					srv.dropped.Add(1)
				}
			}
			return nil
		})
	}

	grp.Go(func() error {
		tick := time.NewTicker(srv.freq)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-tick.C:
				err := ctl.Err()
				if err != nil {
					err = fmt.Errorf("backend fault: %w", err)
					if srv.alert != nil {
						srv.alert(err)
					}
					return err
				}
			}
		}
	})

	return grp.Wait()
}

// next returns the next encoded event, or nil once ctx is done.
func (srv *server) next(ctx context.Context) ([]byte, error) {
	srv.mu.Lock()
	data := srv.data
	srv.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, nil
	case evt := <-data:
		return encodeEvent(evt)
	}
}

func (srv *server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")
	err := srv.configure(req.Body)
	if err != nil {
		ctx.Msg.Errorf("could not configure: %+v", err)
		return fmt.Errorf("could not configure: %w", err)
	}
	return nil
}

func (srv *server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	err := srv.initialize()
	if err != nil {
		ctx.Msg.Errorf("could not initialize: %+v", err)
		return fmt.Errorf("could not initialize: %w", err)
	}
	return nil
}

func (srv *server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	return srv.reset()
}

func (srv *server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	return nil
}

func (srv *server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	var (
		n       = srv.n.Load()
		dropped = srv.dropped.Load()
	)
	ctx.Msg.Debugf("received /stop command... -> n=%d, dropped=%d", n, dropped)
	return nil
}

func (srv *server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	return srv.reset()
}

func (srv *server) edges(ctx tdaq.Context, dst *tdaq.Frame) error {
	body, err := srv.next(ctx.Ctx)
	if err != nil {
		return err
	}
	dst.Body = body
	return nil
}

func (srv *server) run(ctx tdaq.Context) error {
	err := srv.acquire(ctx.Ctx)
	if err != nil {
		ctx.Msg.Errorf("could not acquire edges: %+v", err)
		return err
	}
	return nil
}
