// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sysfs // import "github.com/go-lpc/gpio/sysfs"

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-lpc/gpio"
)

// fakePoller is a multiplexer driven by the test.
// Like epoll on sysfs value files, it reports a newly added file as ready.
type fakePoller struct {
	mu     sync.Mutex
	fds    map[uintptr]int
	closed bool

	ready chan int
	errs  chan error
}

func newFakePoller() *fakePoller {
	return &fakePoller{
		fds:   make(map[uintptr]int),
		ready: make(chan int, 16),
		errs:  make(chan error, 1),
	}
}

func (p *fakePoller) Add(fd uintptr, pin int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fds[fd] = pin
	p.ready <- pin
	return nil
}

func (p *fakePoller) Remove(fd uintptr) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.fds[fd]; !ok {
		return fmt.Errorf("unknown fd %d", fd)
	}
	delete(p.fds, fd)
	return nil
}

func (p *fakePoller) Wait(timeout time.Duration) ([]int, error) {
	select {
	case pin := <-p.ready:
		return []int{pin}, nil
	case err := <-p.errs:
		return nil, err
	case <-time.After(timeout):
		return nil, nil
	}
}

func (p *fakePoller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePoller) watched() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.fds)
}

type fakeSysfs struct {
	t    *testing.T
	root string
}

func newFakeSysfs(t *testing.T, pins ...int) *fakeSysfs {
	t.Helper()
	fs := &fakeSysfs{t: t, root: t.TempDir()}
	fs.write("export", "")
	fs.write("unexport", "")
	for _, pin := range pins {
		fs.mkpin(pin, "in", "0")
	}
	return fs
}

func (fs *fakeSysfs) write(name, v string) {
	fs.t.Helper()
	fname := filepath.Join(fs.root, name)
	err := os.MkdirAll(filepath.Dir(fname), 0755)
	if err != nil {
		fs.t.Fatalf("could not create dir: %+v", err)
	}
	err = os.WriteFile(fname, []byte(v), 0644)
	if err != nil {
		fs.t.Fatalf("could not write %q: %+v", name, err)
	}
}

func (fs *fakeSysfs) read(name string) string {
	fs.t.Helper()
	raw, err := os.ReadFile(filepath.Join(fs.root, name))
	if err != nil {
		fs.t.Fatalf("could not read %q: %+v", name, err)
	}
	return string(raw)
}

func (fs *fakeSysfs) mkpin(pin int, dir, value string) {
	fs.t.Helper()
	gpio := "gpio" + strconv.Itoa(pin)
	fs.write(filepath.Join(gpio, "direction"), dir)
	fs.write(filepath.Join(gpio, "value"), value)
	fs.write(filepath.Join(gpio, "edge"), "none")
}

func newTestDriver(t *testing.T, fs *fakeSysfs, p *fakePoller, opts ...Option) *Driver {
	t.Helper()
	opts = append([]Option{
		WithRoot(fs.root),
		WithLogger(log.New(io.Discard, "", 0)),
		WithPollTimeout(5 * time.Millisecond),
		WithSettleDelay(0),
		func(cfg *config) {
			cfg.newPoll = func() (poller, error) { return p, nil }
		},
	}, opts...)
	drv, err := New(opts...)
	if err != nil {
		t.Fatalf("could not create driver: %+v", err)
	}
	return drv
}

func TestNewMissingRoot(t *testing.T) {
	_, err := New(WithRoot(filepath.Join(t.TempDir(), "no-gpio")))
	if !errors.Is(err, gpio.ErrPlatformNotSupported) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, gpio.ErrPlatformNotSupported)
	}
}

func TestChipOffset(t *testing.T) {
	fs := newFakeSysfs(t)
	fs.write("gpiochip100/label", "raspberrypi-exp-gpio\n")
	fs.write("gpiochip100/base", "100\n")
	fs.write("gpiochip512/label", "pinctrl-bcm2711\n")
	fs.write("gpiochip512/base", "512\n")

	if got, want := chipOffset(fs.root), 512; got != want {
		t.Fatalf("invalid offset: got=%d, want=%d", got, want)
	}
	if got, want := chipOffset(t.TempDir()), 0; got != want {
		t.Fatalf("invalid offset: got=%d, want=%d", got, want)
	}

	fs.mkpin(512+4, "out", "1")
	drv := newTestDriver(t, fs, newFakePoller())
	defer drv.Close()

	err := drv.OpenPin(4)
	if err != nil {
		t.Fatalf("could not open pin: %+v", err)
	}
	lvl, err := drv.Read(4)
	if err != nil || lvl != gpio.High {
		t.Fatalf("invalid level: got=%v, want=%v (err=%v)", lvl, gpio.High, err)
	}
}

func TestPinCount(t *testing.T) {
	drv := newTestDriver(t, newFakeSysfs(t), newFakePoller())
	defer drv.Close()

	_, err := drv.PinCount()
	if !errors.Is(err, gpio.ErrUnsupported) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, gpio.ErrUnsupported)
	}
}

func TestExport(t *testing.T) {
	fs := newFakeSysfs(t)
	drv := newTestDriver(t, fs, newFakePoller(), WithChipOffset(0), WithExportTimeout(5*time.Second))
	defer drv.Close()

	// emulate the kernel creating the pin directory on export.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			raw, _ := os.ReadFile(filepath.Join(fs.root, "export"))
			if strings.TrimSpace(string(raw)) == "23" {
				gpio := filepath.Join(fs.root, "gpio23")
				_ = os.MkdirAll(gpio, 0755)
				_ = os.WriteFile(filepath.Join(gpio, "value"), []byte("0\n"), 0644)
				_ = os.WriteFile(filepath.Join(gpio, "edge"), []byte("none\n"), 0644)
				_ = os.WriteFile(filepath.Join(gpio, "direction"), []byte("in\n"), 0644)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	err := drv.OpenPin(23)
	<-done
	if err != nil {
		t.Fatalf("could not open pin: %+v", err)
	}

	err = drv.ClosePin(23)
	if err != nil {
		t.Fatalf("could not close pin: %+v", err)
	}
	if got, want := fs.read("unexport"), "23"; got != want {
		t.Fatalf("invalid unexport: got=%q, want=%q", got, want)
	}
}

func TestAlreadyExported(t *testing.T) {
	fs := newFakeSysfs(t, 5)
	drv := newTestDriver(t, fs, newFakePoller(), WithChipOffset(0))

	err := drv.OpenPin(5)
	if err != nil {
		t.Fatalf("could not open pin: %+v", err)
	}
	err = drv.Close()
	if err != nil {
		t.Fatalf("could not close driver: %+v", err)
	}
	if got := fs.read("export"); got != "" {
		t.Fatalf("pin should not have been exported: %q", got)
	}
	if got := fs.read("unexport"); got != "" {
		t.Fatalf("pin should not have been unexported: %q", got)
	}
}

func TestModes(t *testing.T) {
	fs := newFakeSysfs(t, 4)
	fs.mkpin(6, "out", "1")
	drv := newTestDriver(t, fs, newFakePoller(), WithChipOffset(0))
	defer drv.Close()

	for _, pin := range []int{4, 6} {
		if _, err := drv.Mode(pin); !errors.Is(err, gpio.ErrNotOpen) {
			t.Fatalf("invalid error: got=%+v, want=%+v", err, gpio.ErrNotOpen)
		}
		if err := drv.OpenPin(pin); err != nil {
			t.Fatalf("could not open pin %d: %+v", pin, err)
		}
	}

	mode, err := drv.Mode(6)
	if err != nil || mode != gpio.Output {
		t.Fatalf("invalid seeded mode: got=%v, want=%v (err=%v)", mode, gpio.Output, err)
	}

	for _, mode := range []gpio.Mode{gpio.InputPullUp, gpio.InputPullDown} {
		if drv.IsModeSupported(4, mode) {
			t.Fatalf("mode %v should not be supported", mode)
		}
		err := drv.SetMode(4, mode)
		if !errors.Is(err, gpio.ErrInvalidMode) {
			t.Fatalf("invalid error: got=%+v, want=%+v", err, gpio.ErrInvalidMode)
		}
		got, _ := drv.Mode(4)
		if got != gpio.Input {
			t.Fatalf("mode should be untouched: got=%v", got)
		}
	}

	err = drv.Write(4, gpio.High)
	if !errors.Is(err, gpio.ErrInvalidMode) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, gpio.ErrInvalidMode)
	}

	err = drv.SetMode(4, gpio.Output)
	if err != nil {
		t.Fatalf("could not set mode: %+v", err)
	}
	if got, want := fs.read("gpio4/direction"), "out"; got != want {
		t.Fatalf("invalid direction: got=%q, want=%q", got, want)
	}

	for _, lvl := range []gpio.Level{gpio.High, gpio.Low} {
		err = drv.Write(4, lvl)
		if err != nil {
			t.Fatalf("could not write: %+v", err)
		}
		got, err := drv.Read(4)
		if err != nil {
			t.Fatalf("could not read: %+v", err)
		}
		if got != lvl {
			t.Fatalf("invalid level: got=%v, want=%v", got, lvl)
		}
	}
}

func TestClassify(t *testing.T) {
	var (
		lo = gpio.Low
		hi = gpio.High
	)
	for _, tc := range []struct {
		sub      gpio.Edge
		old, cur gpio.Level
		want     []gpio.Edge
	}{
		{gpio.Rising, lo, hi, []gpio.Edge{gpio.Rising}},
		{gpio.Rising, hi, hi, []gpio.Edge{gpio.Rising}},
		{gpio.Falling, lo, lo, []gpio.Edge{gpio.Falling}},
		{gpio.Falling, lo, hi, []gpio.Edge{gpio.Falling}},
		{gpio.BothEdges, lo, hi, []gpio.Edge{gpio.Rising}},
		{gpio.BothEdges, hi, lo, []gpio.Edge{gpio.Falling}},
		{gpio.BothEdges, hi, hi, []gpio.Edge{gpio.Falling, gpio.Rising}},
		{gpio.BothEdges, lo, lo, []gpio.Edge{gpio.Rising, gpio.Falling}},
		{gpio.EdgeNone, lo, hi, nil},
	} {
		t.Run(fmt.Sprintf("%v-%v-%v", tc.sub, tc.old, tc.cur), func(t *testing.T) {
			got := classify(tc.sub, tc.old, tc.cur)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("invalid edges: got=%v, want=%v", got, tc.want)
			}
		})
	}
}

func waitFor(t *testing.T, what string, f func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !f() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func (drv *Driver) watcherRunning() bool {
	drv.mu.Lock()
	defer drv.mu.Unlock()
	return drv.running
}

func (drv *Driver) primed(pin int) bool {
	drv.mu.Lock()
	defer drv.mu.Unlock()
	st, ok := drv.pins[pin]
	return ok && st.primed
}

func TestCallbackLifecycle(t *testing.T) {
	var (
		fs = newFakeSysfs(t, 17)
		p  = newFakePoller()
	)
	drv := newTestDriver(t, fs, p, WithChipOffset(0))
	defer drv.Close()

	_, err := drv.AddCallback(17, gpio.Rising, func(gpio.Event) {})
	if !errors.Is(err, gpio.ErrNotOpen) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, gpio.ErrNotOpen)
	}

	err = drv.OpenPin(17)
	if err != nil {
		t.Fatalf("could not open pin: %+v", err)
	}

	id1, err := drv.AddCallback(17, gpio.Rising, func(gpio.Event) {})
	if err != nil {
		t.Fatalf("could not add callback: %+v", err)
	}
	if got, want := fs.read("gpio17/edge"), "rising"; got != want {
		t.Fatalf("invalid edge: got=%q, want=%q", got, want)
	}
	id2, err := drv.AddCallback(17, gpio.Falling, func(gpio.Event) {})
	if err != nil {
		t.Fatalf("could not add callback: %+v", err)
	}
	if got, want := fs.read("gpio17/edge"), "both"; got != want {
		t.Fatalf("invalid edge: got=%q, want=%q", got, want)
	}
	if got, want := p.watched(), 1; got != want {
		t.Fatalf("invalid number of watched files: got=%d, want=%d", got, want)
	}
	if !drv.watcherRunning() {
		t.Fatalf("watcher should be running")
	}

	for _, id := range []gpio.HandlerID{id1, id2} {
		err = drv.RemoveCallback(17, id)
		if err != nil {
			t.Fatalf("could not remove callback: %+v", err)
		}
	}
	err = drv.RemoveCallback(17, id1)
	if !errors.Is(err, gpio.ErrNotListening) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, gpio.ErrNotListening)
	}

	if got, want := fs.read("gpio17/edge"), "none"; got != want {
		t.Fatalf("invalid edge: got=%q, want=%q", got, want)
	}
	if got, want := p.watched(), 0; got != want {
		t.Fatalf("invalid number of watched files: got=%d, want=%d", got, want)
	}
	waitFor(t, "watcher exit", func() bool { return !drv.watcherRunning() })
}

func TestWaitForEvent(t *testing.T) {
	var (
		fs = newFakeSysfs(t, 17)
		p  = newFakePoller()
	)
	drv := newTestDriver(t, fs, p, WithChipOffset(0))
	defer drv.Close()

	err := drv.OpenPin(17)
	if err != nil {
		t.Fatalf("could not open pin: %+v", err)
	}
	err = drv.SetMode(17, gpio.Input)
	if err != nil {
		t.Fatalf("could not set mode: %+v", err)
	}

	go func() {
		for p.watched() == 0 {
			time.Sleep(time.Millisecond)
		}
		fs.write("gpio17/value", "1\n")
		p.ready <- 17
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := drv.WaitForEvent(ctx, 17, gpio.Rising)
	if err != nil {
		t.Fatalf("could not wait for event: %+v", err)
	}
	if got, want := res, (gpio.WaitResult{Edge: gpio.Rising}); got != want {
		t.Fatalf("invalid result: got=%+v, want=%+v", got, want)
	}
	if got, want := p.watched(), 0; got != want {
		t.Fatalf("residual watch: got=%d, want=%d", got, want)
	}

	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	res, err = drv.WaitForEvent(ctx, 17, gpio.Rising)
	if err != nil {
		t.Fatalf("could not wait for event: %+v", err)
	}
	if !res.TimedOut {
		t.Fatalf("cancelled wait should time out")
	}
	if drv.reg.Subscribed(17) {
		t.Fatalf("residual callback")
	}
}

func TestDualEdgePulse(t *testing.T) {
	var (
		fs = newFakeSysfs(t, 22)
		p  = newFakePoller()
	)
	drv := newTestDriver(t, fs, p, WithChipOffset(0))
	defer drv.Close()

	err := drv.OpenPin(22)
	if err != nil {
		t.Fatalf("could not open pin: %+v", err)
	}

	evts := make(chan gpio.Edge, 8)
	_, err = drv.AddCallback(22, gpio.BothEdges, func(evt gpio.Event) {
		evts <- evt.Edge
	})
	if err != nil {
		t.Fatalf("could not add callback: %+v", err)
	}

	// a high pulse shorter than the poll period: Low then Low.
	p.ready <- 22

	var got []gpio.Edge
	for i := 0; i < 2; i++ {
		select {
		case e := <-evts:
			got = append(got, e)
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for event %d", i)
		}
	}
	if want := []gpio.Edge{gpio.Rising, gpio.Falling}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid edges: got=%v, want=%v", got, want)
	}
}

func TestWatchRegistration(t *testing.T) {
	var (
		fs = newFakeSysfs(t, 4, 17)
		p  = newFakePoller()
	)
	drv := newTestDriver(t, fs, p, WithChipOffset(0))
	defer drv.Close()

	evts := make(chan gpio.Event, 8)
	for _, pin := range []int{4, 17} {
		err := drv.OpenPin(pin)
		if err != nil {
			t.Fatalf("could not open pin %d: %+v", pin, err)
		}
		_, err = drv.AddCallback(pin, gpio.Rising, func(evt gpio.Event) {
			evts <- evt
		})
		if err != nil {
			t.Fatalf("could not add callback to pin %d: %+v", pin, err)
		}
		if pin == 4 {
			waitFor(t, "watcher start", drv.watcherRunning)
		}
	}
	waitFor(t, "registrations", func() bool { return !drv.primed(4) && !drv.primed(17) })

	select {
	case evt := <-evts:
		t.Fatalf("event without level change: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}

	fs.write("gpio17/value", "1\n")
	p.ready <- 17

	select {
	case evt := <-evts:
		if evt.Pin != 17 || evt.Edge != gpio.Rising {
			t.Fatalf("invalid event: got=%+v", evt)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for event")
	}
	select {
	case evt := <-evts:
		t.Fatalf("spurious event: %+v", evt)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestInterruptedWait(t *testing.T) {
	var (
		fs = newFakeSysfs(t, 22)
		p  = newFakePoller()
	)
	drv := newTestDriver(t, fs, p, WithChipOffset(0))
	defer drv.Close()

	err := drv.OpenPin(22)
	if err != nil {
		t.Fatalf("could not open pin: %+v", err)
	}
	evts := make(chan gpio.Event, 4)
	_, err = drv.AddCallback(22, gpio.BothEdges, func(evt gpio.Event) {
		evts <- evt
	})
	if err != nil {
		t.Fatalf("could not add callback: %+v", err)
	}
	waitFor(t, "registration", func() bool { return !drv.primed(22) })

	p.errs <- errInterrupted
	fs.write("gpio22/value", "1\n")
	p.ready <- 22

	select {
	case evt := <-evts:
		if evt.Pin != 22 || evt.Edge != gpio.Rising {
			t.Fatalf("invalid event: got=%+v", evt)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for event")
	}
	if err := drv.Err(); err != nil {
		t.Fatalf("interrupted wait recorded as fault: %+v", err)
	}
}

func TestWatcherFault(t *testing.T) {
	var (
		fs = newFakeSysfs(t, 3)
		p  = newFakePoller()
	)
	drv := newTestDriver(t, fs, p, WithChipOffset(0))
	defer drv.Close()

	err := drv.OpenPin(3)
	if err != nil {
		t.Fatalf("could not open pin: %+v", err)
	}

	go func() {
		for p.watched() == 0 {
			time.Sleep(time.Millisecond)
		}
		p.errs <- errors.New("boom")
	}()

	_, err = drv.WaitForEvent(context.Background(), 3, gpio.Falling)
	if !errors.Is(err, gpio.ErrIO) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, gpio.ErrIO)
	}
	if err := drv.Err(); !errors.Is(err, gpio.ErrIO) {
		t.Fatalf("fault not recorded: %+v", err)
	}
}

func TestCloseReleasesWaits(t *testing.T) {
	var (
		fs = newFakeSysfs(t, 9)
		p  = newFakePoller()
	)
	drv := newTestDriver(t, fs, p, WithChipOffset(0))

	err := drv.OpenPin(9)
	if err != nil {
		t.Fatalf("could not open pin: %+v", err)
	}

	done := make(chan error)
	go func() {
		for p.watched() == 0 {
			time.Sleep(time.Millisecond)
		}
		done <- drv.Close()
	}()

	res, err := drv.WaitForEvent(context.Background(), 9, gpio.Rising)
	if err != nil {
		t.Fatalf("could not wait for event: %+v", err)
	}
	if !res.TimedOut {
		t.Fatalf("wait should have been cancelled")
	}
	err = <-done
	if err != nil {
		t.Fatalf("could not close driver: %+v", err)
	}
	err = drv.Close()
	if err != nil {
		t.Fatalf("second close failed: %+v", err)
	}
	if drv.watcherRunning() {
		t.Fatalf("watcher still running")
	}
	_, err = drv.Read(9)
	if !errors.Is(err, gpio.ErrClosed) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, gpio.ErrClosed)
	}
}
