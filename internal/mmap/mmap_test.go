// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmap // import "github.com/go-lpc/gpio/internal/mmap"

import (
	"errors"
	"fmt"
	"os"
	"testing"
)

func TestHandle(t *testing.T) {
	t.Run("nil-handle", func(t *testing.T) {
		var h *Handle

		_, err := h.Uint32(0)
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid load error: %+v", err)
		}

		err = h.SetUint32(0, 1)
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid store error: %+v", err)
		}

		err = h.Close()
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid close error: %+v", err)
		}
	})
	t.Run("nil-data", func(t *testing.T) {
		var h Handle

		_, err := h.Uint32(0)
		if !errors.Is(err, errClosed) {
			t.Fatalf("invalid load error: %+v", err)
		}

		err = h.Close()
		if err != nil {
			t.Fatalf("error closing nil-data handle: %+v", err)
		}
	})
}

func TestHandleFrom(t *testing.T) {
	buf := []byte{0, 1, 2, 3}
	h := HandleFrom(buf)

	if got, want := h.Len(), 4; got != want {
		t.Fatalf("invalid len: got=%d, want=%d", got, want)
	}

	err := h.Close()
	if err != nil {
		t.Fatalf("could not close handle: %+v", err)
	}
	if got, want := buf[1], byte(1); got != want {
		t.Fatalf("buffer released on close: got=%d, want=%d", got, want)
	}
}

func TestWords(t *testing.T) {
	buf := make([]byte, 16)
	h := HandleFrom(buf)

	err := h.SetUint32(4, 0xdeadbeef)
	if err != nil {
		t.Fatalf("could not store word: %+v", err)
	}
	if got, want := buf[4], byte(0xef); got != want {
		t.Fatalf("invalid low byte: got=0x%x, want=0x%x", got, want)
	}

	v, err := h.Uint32(4)
	if err != nil {
		t.Fatalf("could not load word: %+v", err)
	}
	if got, want := v, uint32(0xdeadbeef); got != want {
		t.Fatalf("invalid word: got=0x%x, want=0x%x", got, want)
	}

	for _, off := range []int64{-4, 2, 16, 13} {
		_, err := h.Uint32(off)
		if err == nil {
			t.Fatalf("expected an error for offset %d", off)
		}
		if got, want := err.Error(), fmt.Sprintf("mmap: invalid word offset 0x%x", off); got != want {
			t.Fatalf("invalid error: got=%q, want=%q", got, want)
		}
	}

	err = h.Close()
	if err != nil {
		t.Fatalf("could not close handle: %+v", err)
	}
	err = h.SetUint32(0, 1)
	if !errors.Is(err, errClosed) {
		t.Fatalf("invalid error: %+v", err)
	}
}
