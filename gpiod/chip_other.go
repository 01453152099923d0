// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package gpiod // import "github.com/go-lpc/gpio/gpiod"

import (
	"fmt"
	"runtime"

	"github.com/go-lpc/gpio"
)

func openChip(path, consumer string) (chip, error) {
	return nil, fmt.Errorf("no GPIO character device on %s: %w", runtime.GOOS, gpio.ErrPlatformNotSupported)
}
