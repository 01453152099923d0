// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bcm // import "github.com/go-lpc/gpio/bcm"

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-lpc/gpio"
	"github.com/go-lpc/gpio/bcm/internal/regs"
	"github.com/go-lpc/gpio/internal/mmap"
)

// Chip identifies the pull resistor programming variant of the SoC.
type Chip int

const (
	// BCM2835 covers the BCM2835, BCM2836 and BCM2837 SoCs,
	// programmed through the GPPUD/GPPUDCLK sequence.
	BCM2835 Chip = iota
	// BCM2711 has a direct per-pin pull register.
	BCM2711
)

func (c Chip) String() string {
	switch c {
	case BCM2835:
		return "bcm2835"
	case BCM2711:
		return "bcm2711"
	}
	return fmt.Sprintf("Chip(%d)", int(c))
}

// Info describes the detected board.
type Info struct {
	Model string // device-tree model string, if any
	Chip  Chip
	Dev   string // memory device backing the register window
	Base  int64  // offset of the register window in Dev
}

func (info Info) String() string {
	model := info.Model
	if model == "" {
		model = "unknown board"
	}
	return fmt.Sprintf("%s (%v, %s@0x%x)", model, info.Chip, info.Dev, info.Base)
}

// detectModel reads the board model from the device tree.
// A missing or unreadable model file selects the BCM2835 path.
func detectModel(dtree string) (string, Chip) {
	raw, err := os.ReadFile(filepath.Join(dtree, "model"))
	if err != nil {
		return "", BCM2835
	}
	model := strings.TrimRight(string(raw), "\x00\n")
	switch {
	case strings.Contains(model, "Raspberry Pi 4"),
		strings.Contains(model, "Raspberry Pi Compute Module 4"):
		return model, BCM2711
	}
	return model, BCM2835
}

// peripheralBase decodes the CPU bus address of the peripherals from the
// device-tree "soc/ranges" property.
func peripheralBase(r io.Reader) (uint32, error) {
	var words [3]uint32
	n := 0
	for n < len(words) {
		err := binary.Read(r, binary.BigEndian, &words[n])
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return 0, fmt.Errorf("bcm: could not read soc ranges: %w", err)
		}
		n++
	}
	if n < 2 {
		return 0, fmt.Errorf("bcm: soc ranges too short (%d words): %w", n, gpio.ErrInit)
	}

	vc, cpu := words[0], words[1]
	if cpu == 0 {
		// 64b address: the low word follows.
		if n < 3 {
			return 0, fmt.Errorf("bcm: soc ranges too short for a 64b address: %w", gpio.ErrInit)
		}
		cpu = words[2]
	}

	if vc != regs.VCBase {
		return 0, fmt.Errorf("bcm: invalid VideoCore peripheral base 0x%x: %w", vc, gpio.ErrInit)
	}
	switch cpu {
	case regs.BaseBCM2835, regs.BaseBCM2836, regs.BaseBCM2711:
		return cpu, nil
	}
	return 0, fmt.Errorf("bcm: unknown peripheral base 0x%x: %w", cpu, gpio.ErrInit)
}

// mapRegisters maps the GPIO register window, through the unprivileged
// gpiomem device if it exists, or through the physical memory device.
func mapRegisters(cfg *config) (*mmap.Handle, Info, error) {
	var info Info
	info.Model, info.Chip = detectModel(cfg.dtree)

	f, err := os.OpenFile(cfg.gpiomem, os.O_RDWR|os.O_SYNC, 0)
	switch {
	case err == nil:
		info.Dev = cfg.gpiomem
	case errors.Is(err, os.ErrNotExist):
		base, err := readBase(cfg.dtree)
		if err != nil {
			return nil, info, err
		}
		f, err = os.OpenFile(cfg.mem, os.O_RDWR|os.O_SYNC, 0)
		if err != nil {
			return nil, info, fmt.Errorf("bcm: could not open %q: %w", cfg.mem, gpio.SysError(err))
		}
		info.Dev = cfg.mem
		info.Base = int64(base) + regs.GPIOOffset
	default:
		return nil, info, fmt.Errorf("bcm: could not open %q: %w", cfg.gpiomem, gpio.SysError(err))
	}
	defer f.Close()

	h, err := mmap.Map(f, info.Base, regs.Size)
	if err != nil {
		return nil, info, fmt.Errorf("bcm: could not map registers: %w", gpio.SysError(err))
	}
	return h, info, nil
}

func readBase(dtree string) (uint32, error) {
	raw, err := os.ReadFile(filepath.Join(dtree, "soc", "ranges"))
	if err != nil {
		return 0, fmt.Errorf("bcm: could not read soc ranges: %w: %w", gpio.ErrInit, err)
	}
	return peripheralBase(bytes.NewReader(raw))
}
