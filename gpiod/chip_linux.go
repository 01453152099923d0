// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package gpiod // import "github.com/go-lpc/gpio/gpiod"

import (
	"fmt"
	"os"
	"time"

	"github.com/go-lpc/gpio"
	"github.com/warthog618/go-gpiocdev/uapi"
	"golang.org/x/sys/unix"
)

// kernel event identifiers.
const (
	eventRising  = 1
	eventFalling = 2
)

type cdevChip struct {
	f        *os.File
	lines    int
	consumer string
}

func openChip(path, consumer string) (chip, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, gpio.SysError(err)
	}

	ci, err := uapi.GetChipInfo(f.Fd())
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("could not get info of %q: %w", path, gpio.SysError(err))
	}

	return &cdevChip{
		f:        f,
		lines:    int(ci.Lines),
		consumer: consumer,
	}, nil
}

func (c *cdevChip) Lines() int { return c.lines }

func (c *cdevChip) Mode(offset int) (gpio.Mode, error) {
	li, err := uapi.GetLineInfo(c.f.Fd(), offset)
	if err != nil {
		return gpio.Input, gpio.SysError(err)
	}
	switch {
	case li.Flags.IsOut():
		return gpio.Output, nil
	case li.Flags.IsPullUp():
		return gpio.InputPullUp, nil
	case li.Flags.IsPullDown():
		return gpio.InputPullDown, nil
	}
	return gpio.Input, nil
}

func handleFlags(mode gpio.Mode) uapi.HandleFlag {
	switch mode {
	case gpio.Output:
		return uapi.HandleRequestOutput
	case gpio.InputPullUp:
		return uapi.HandleRequestInput | uapi.HandleRequestPullUp
	case gpio.InputPullDown:
		return uapi.HandleRequestInput | uapi.HandleRequestPullDown
	}
	return uapi.HandleRequestInput
}

func eventFlags(edges gpio.Edge) uapi.EventFlag {
	var flags uapi.EventFlag
	if edges.Has(gpio.Rising) {
		flags |= uapi.EventRequestRisingEdge
	}
	if edges.Has(gpio.Falling) {
		flags |= uapi.EventRequestFallingEdge
	}
	return flags
}

func (c *cdevChip) Request(offset int, cfg lineConfig) (line, error) {
	if cfg.edges == gpio.EdgeNone {
		req := uapi.HandleRequest{
			Lines: 1,
		}
		if !cfg.asIs {
			req.Flags = handleFlags(cfg.mode)
		}
		req.Offsets[0] = uint32(offset)
		if !cfg.asIs && cfg.mode == gpio.Output && cfg.value == gpio.High {
			req.DefaultValues[0] = 1
		}
		copy(req.Consumer[:len(req.Consumer)-1], c.consumer)

		err := uapi.GetLineHandle(c.f.Fd(), &req)
		if err != nil {
			return nil, gpio.SysError(err)
		}
		return &cdevLine{fd: int(req.Fd)}, nil
	}

	req := uapi.EventRequest{
		Offset:      uint32(offset),
		HandleFlags: handleFlags(cfg.mode),
		EventFlags:  eventFlags(cfg.edges),
	}
	copy(req.Consumer[:len(req.Consumer)-1], c.consumer)

	err := uapi.GetLineEvent(c.f.Fd(), &req)
	if err != nil {
		return nil, gpio.SysError(err)
	}
	return &cdevLine{fd: int(req.Fd)}, nil
}

func (c *cdevChip) Close() error {
	return c.f.Close()
}

type cdevLine struct {
	fd int
}

func (l *cdevLine) Value() (gpio.Level, error) {
	var data uapi.HandleData
	err := uapi.GetLineValues(uintptr(l.fd), &data)
	if err != nil {
		return gpio.Low, err
	}
	return gpio.LevelOf(data[0] != 0), nil
}

func (l *cdevLine) SetValue(v gpio.Level) error {
	var data uapi.HandleData
	if v == gpio.High {
		data[0] = 1
	}
	return uapi.SetLineValues(uintptr(l.fd), data)
}

func (l *cdevLine) Wait(timeout time.Duration) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(l.fd), Events: unix.POLLIN | unix.POLLPRI}}
	n, err := unix.Poll(fds, int(timeout/time.Millisecond))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (l *cdevLine) ReadEvent() (gpio.Edge, error) {
	evt, err := uapi.ReadEvent(uintptr(l.fd))
	if err != nil {
		return gpio.EdgeNone, err
	}
	switch evt.ID {
	case eventRising:
		return gpio.Rising, nil
	case eventFalling:
		return gpio.Falling, nil
	}
	return gpio.EdgeNone, fmt.Errorf("invalid event id %d", evt.ID)
}

func (l *cdevLine) Close() error {
	return unix.Close(l.fd)
}
