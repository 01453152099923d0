// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package backend

import (
	"io"
	"log"
	"testing"
)

func TestOpen(t *testing.T) {
	msg := log.New(io.Discard, "", 0)

	drv, err := Open("sim", "", msg)
	if err != nil {
		t.Fatalf("could not open sim backend: %+v", err)
	}
	defer drv.Close()

	n, err := drv.PinCount()
	if err != nil {
		t.Fatalf("could not get pin count: %+v", err)
	}
	if n != SimPins {
		t.Fatalf("invalid pin count: got=%d, want=%d", n, SimPins)
	}

	_, err = Open("xyz", "", msg)
	if err == nil {
		t.Fatalf("expected an error")
	}
}
