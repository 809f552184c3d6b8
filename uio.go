// Copyright 2021 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gptimer

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Device paths.
const (
	drvMemSize = "/sys/class/uio/uio%d/maps/map0/size"
	drvUioBase = "/dev/uio%d"
)

// UIOTimer is one unit of a timer group whose registers and interrupt are
// exported through a Linux UIO device.
type UIOTimer struct {
	unit     int
	base     uintptr // Offset of the unit registers
	bit      uint32  // Interrupt bit of the unit
	sourceHz uint64
	r        regs
	irq      io.ReadWriteCloser
	release  func() error
	cb       atomic.Pointer[Callback]
	done     chan struct{}
}

// OpenUIO maps the timer group registers of UIO device id, and returns
// the timer unit selected. sourceHz is the frequency of the clock feeding
// the timer group.
func OpenUIO(id, unit int, sourceHz uint64) (*UIOTimer, error) {
	if unit < 0 || unit >= nUnits {
		return nil, fmt.Errorf("invalid timer unit %d", unit)
	}
	size, err := readDriverValue(fmt.Sprintf(drvMemSize, id))
	if err != nil {
		return nil, err
	}
	if size < groupSize {
		return nil, fmt.Errorf("register map of %d bytes too small", size)
	}
	name := fmt.Sprintf(drvUioBase, id)
	f, err := os.OpenFile(name, os.O_RDWR|os.O_SYNC, 0660)
	if err != nil {
		return nil, err
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %v", name, err)
	}
	t := newUIOTimer(mem, f, unit, sourceHz)
	t.release = func() error {
		return unix.Munmap(mem)
	}
	return t, nil
}

// newUIOTimer creates the timer over a register block and an interrupt
// device, and starts the interrupt reader.
func newUIOTimer(mem []byte, irq io.ReadWriteCloser, unit int, sourceHz uint64) *UIOTimer {
	t := &UIOTimer{
		unit:     unit,
		base:     uintptr(unit) * unitStride,
		bit:      1 << uint(unit),
		sourceHz: sourceHz,
		r:        regs(mem),
		irq:      irq,
		done:     make(chan struct{}),
	}
	go t.interruptReader()
	return t
}

// Configure sets the divider, count direction and auto-reload.
// The timer must not be counting.
func (t *UIOTimer) Configure(divider int, dir Direction, autoReload bool) error {
	v, err := encodeConfig(divider, dir, autoReload)
	if err != nil {
		return err
	}
	c := t.r.rd(t.base + rCONFIG)
	if c&cfgEnable != 0 {
		return fmt.Errorf("timer %d running: %w", t.unit, ErrConfig)
	}
	t.r.wr(t.base+rCONFIG, c&(cfgAlarmEnable|cfgLevelInt|cfgEdgeInt)|v)
	return nil
}

// SetCounter loads the counter, and sets the value loaded on auto-reload.
func (t *UIOTimer) SetCounter(v uint64) {
	t.r.wr64(t.base+rLOADLO, v)
	t.r.wr(t.base+rLOAD, 1)
}

// Counter latches and reads the counter.
func (t *UIOTimer) Counter() uint64 {
	t.r.wr(t.base+rUPDATE, 1)
	return t.r.rd64(t.base + rLO)
}

// ElapsedSeconds reads the counter and converts it to seconds.
func (t *UIOTimer) ElapsedSeconds() float64 {
	d := configDivider(t.r.rd(t.base + rCONFIG))
	return counterSeconds(t.Counter(), t.sourceHz, d)
}

// SetAlarm sets the alarm value.
func (t *UIOTimer) SetAlarm(v uint64) {
	t.r.wr64(t.base+rALARMLO, v)
}

// EnableAlarm enables the alarm and its level interrupt.
func (t *UIOTimer) EnableAlarm() {
	t.r.set(t.base+rCONFIG, cfgAlarmEnable|cfgLevelInt)
	t.r.set(rINTENA, t.bit)
}

// RegisterCallback installs the interrupt callback.
func (t *UIOTimer) RegisterCallback(f Callback) error {
	if f == nil {
		return fmt.Errorf("nil callback: %w", ErrRegistration)
	}
	if !t.cb.CompareAndSwap(nil, &f) {
		return ErrRegistration
	}
	return nil
}

// Start enables counting.
func (t *UIOTimer) Start() {
	t.r.set(t.base+rCONFIG, cfgEnable)
}

// Stop disables counting. The counter holds its value.
func (t *UIOTimer) Stop() {
	t.r.clear(t.base+rCONFIG, cfgEnable)
}

// Close stops the timer, masks its interrupt and releases the device.
func (t *UIOTimer) Close() error {
	t.Stop()
	t.r.clear(rINTENA, t.bit)
	err := t.irq.Close()
	// The reader must exit before the registers are unmapped.
	<-t.done
	if t.release != nil {
		if rerr := t.release(); err == nil {
			err = rerr
		}
	}
	return err
}

// interruptReader unmasks the interrupt and blocks reading the device.
// Each read that returns the 4 byte event count is one interrupt.
func (t *UIOTimer) interruptReader() {
	defer close(t.done)
	unmask := []byte{1, 0, 0, 0}
	b := make([]byte, 4)
	for {
		if _, err := t.irq.Write(unmask); err != nil {
			// Assume device has been closed.
			return
		}
		n, err := t.irq.Read(b)
		if err != nil {
			return
		}
		if n == 4 {
			t.service()
		}
	}
}

// service acknowledges the unit interrupt and runs the callback.
// The alarm enable is cleared by the hardware when the alarm fires,
// so it is re-enabled for auto-reload.
func (t *UIOTimer) service() {
	if t.r.rd(rINTST)&t.bit == 0 {
		return
	}
	t.r.wr(rINTCLR, t.bit)
	if t.r.rd(t.base+rCONFIG)&cfgAutoReload != 0 {
		t.r.set(t.base+rCONFIG, cfgAlarmEnable)
	}
	f := t.cb.Load()
	if f == nil {
		return
	}
	if (*f)(AlarmEvent{Unit: t.unit, Alarm: t.r.rd64(t.base + rALARMLO)}) {
		runtime.Gosched()
	}
}

// readDriverValue opens and reads a string from a device file and decodes
// the string as an integer. This is used to retrieve device specific
// parameters from the UIO kernel device driver.
func readDriverValue(s string) (int, error) {
	var val int
	f, err := os.Open(s)
	if err != nil {
		return -1, err
	}
	defer f.Close()
	n, err := fmt.Fscanf(f, "%v", &val)
	if err != nil {
		return -1, fmt.Errorf("%s: %v", s, err)
	}
	if n != 1 {
		return -1, fmt.Errorf("%s: no value found", s)
	}
	return val, nil
}
