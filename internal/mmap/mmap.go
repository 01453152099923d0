// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mmap provides an owned, bounds-checked view over a memory-mapped
// register block.
package mmap // import "github.com/go-lpc/gpio/internal/mmap"

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

var (
	errClosed = errors.New("mmap: closed")
)

// Handle is a memory-mapped region.
// Word accesses are 32-bit wide and never torn.
type Handle struct {
	data  []byte
	unmap func([]byte) error
}

// Map maps size bytes of f, starting at offset, for reading and writing.
func Map(f *os.File, offset int64, size int) (*Handle, error) {
	data, err := unix.Mmap(
		int(f.Fd()), offset, size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED,
	)
	if err != nil {
		return nil, fmt.Errorf("mmap: could not map %q (offset=0x%x, size=%d): %w", f.Name(), offset, size, err)
	}
	h := &Handle{data: data, unmap: unix.Munmap}
	runtime.SetFinalizer(h, (*Handle).Close)
	return h, nil
}

// HandleFrom creates a handle over a plain memory buffer.
// Closing the handle does not release data.
func HandleFrom(data []byte) *Handle {
	return &Handle{data: data}
}

// Close unmaps the region.
func (h *Handle) Close() error {
	if h == nil {
		return os.ErrInvalid
	}

	if h.data == nil {
		return nil
	}
	data := h.data
	h.data = nil
	runtime.SetFinalizer(h, nil)

	if h.unmap == nil {
		return nil
	}
	return h.unmap(data)
}

// Len returns the length of the underlying memory-mapped region.
func (h *Handle) Len() int {
	return len(h.data)
}

func (h *Handle) word(off int64) (*uint32, error) {
	if h == nil {
		return nil, os.ErrInvalid
	}
	if h.data == nil {
		return nil, errClosed
	}
	if off < 0 || off%4 != 0 || int64(len(h.data)) < off+4 {
		return nil, fmt.Errorf("mmap: invalid word offset 0x%x", off)
	}
	return (*uint32)(unsafe.Pointer(&h.data[off])), nil
}

// Uint32 loads the 32-bit word at byte offset off.
func (h *Handle) Uint32(off int64) (uint32, error) {
	p, err := h.word(off)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint32(p), nil
}

// SetUint32 stores v into the 32-bit word at byte offset off.
func (h *Handle) SetUint32(off int64, v uint32) error {
	p, err := h.word(off)
	if err != nil {
		return err
	}
	atomic.StoreUint32(p, v)
	return nil
}

var _ io.Closer = (*Handle)(nil)
