// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package sysfs // import "github.com/go-lpc/gpio/sysfs"

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

const epollEvents = unix.EPOLLIN | unix.EPOLLET | unix.EPOLLPRI

type epoll struct {
	fd  int
	evs [8]unix.EpollEvent
}

func newPoller() (poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("sysfs: could not create epoll: %w", err)
	}
	return &epoll{fd: fd}, nil
}

func (ep *epoll) Add(fd uintptr, pin int) error {
	ev := unix.EpollEvent{
		Events: epollEvents,
		Fd:     int32(pin),
	}
	err := unix.EpollCtl(ep.fd, unix.EPOLL_CTL_ADD, int(fd), &ev)
	if err != nil {
		return fmt.Errorf("sysfs: could not add pin %d to epoll: %w", pin, err)
	}
	return nil
}

func (ep *epoll) Remove(fd uintptr) error {
	ev := unix.EpollEvent{Events: epollEvents}
	err := unix.EpollCtl(ep.fd, unix.EPOLL_CTL_DEL, int(fd), &ev)
	if err != nil {
		return fmt.Errorf("sysfs: could not remove fd %d from epoll: %w", fd, err)
	}
	return nil
}

func (ep *epoll) Wait(timeout time.Duration) ([]int, error) {
	n, err := unix.EpollWait(ep.fd, ep.evs[:], int(timeout/time.Millisecond))
	switch {
	case errors.Is(err, unix.EINTR):
		return nil, errInterrupted
	case err != nil:
		return nil, fmt.Errorf("sysfs: could not wait on epoll: %w", err)
	}
	if n <= 0 {
		return nil, nil
	}
	pins := make([]int, n)
	for i := range pins {
		pins[i] = int(ep.evs[i].Fd)
	}
	return pins, nil
}

func (ep *epoll) Close() error {
	return unix.Close(ep.fd)
}
