// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gpio // import "github.com/go-lpc/gpio"

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

var (
	ErrNotOpen              = errors.New("gpio: pin not open")
	ErrInvalidPin           = errors.New("gpio: invalid pin")
	ErrInvalidMode          = errors.New("gpio: invalid mode")
	ErrInvalidEdge          = errors.New("gpio: invalid edge")
	ErrAlreadyOpen          = errors.New("gpio: pin already open")
	ErrAlreadyListening     = errors.New("gpio: already listening")
	ErrNotListening         = errors.New("gpio: not listening")
	ErrPermission           = permError{}
	ErrPlatformNotSupported = errors.New("gpio: platform not supported")
	ErrIO                   = errors.New("gpio: i/o error")
	ErrInit                 = errors.New("gpio: initialization error")
	ErrUnsupported          = errors.New("gpio: unsupported operation")
	ErrClosed               = errors.New("gpio: driver closed")
)

// permError matches os.ErrPermission as well, so callers may test
// for either.
type permError struct{}

func (permError) Error() string { return "gpio: permission denied" }

func (permError) Is(target error) bool {
	return target == os.ErrPermission
}

// PinError records an error and the pin and operation that caused it.
type PinError struct {
	Op  string
	Pin int
	Err error
}

func (e *PinError) Error() string {
	return fmt.Sprintf("gpio: could not %s pin %d: %v", e.Op, e.Pin, e.Err)
}

func (e *PinError) Unwrap() error { return e.Err }

// Errorf returns a PinError for the provided pin and operation.
func Errorf(op string, pin int, err error) error {
	return &PinError{Op: op, Pin: pin, Err: err}
}

// SysError classifies a system call error into the package error taxonomy.
// The returned error wraps both the taxonomy sentinel and the original error.
func SysError(err error) error {
	if err == nil {
		return nil
	}
	var errno syscall.Errno
	switch {
	case errors.As(err, &errno) && (errno == syscall.EACCES || errno == syscall.EPERM),
		errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%w: %w", ErrPermission, err)
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: %w", ErrPlatformNotSupported, err)
	}
	return fmt.Errorf("%w: %w", ErrIO, err)
}
