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
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeIRQ stands in for the UIO interrupt device.
type fakeIRQ struct {
	events  chan struct{}
	closed  chan struct{}
	once    sync.Once
	unmasks atomic.Int32
}

func newFakeIRQ() *fakeIRQ {
	return &fakeIRQ{events: make(chan struct{}), closed: make(chan struct{})}
}

func (f *fakeIRQ) Read(b []byte) (int, error) {
	select {
	case <-f.events:
		copy(b, []byte{1, 0, 0, 0})
		return 4, nil
	case <-f.closed:
		return 0, os.ErrClosed
	}
}

func (f *fakeIRQ) Write(b []byte) (int, error) {
	select {
	case <-f.closed:
		return 0, os.ErrClosed
	default:
	}
	f.unmasks.Add(1)
	return len(b), nil
}

func (f *fakeIRQ) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func TestEncodeConfig(t *testing.T) {
	tests := []struct {
		name       string
		divider    int
		dir        Direction
		autoReload bool
		expected   uint32
		wantErr    bool
	}{
		{"divider 16 up reload", 16, CountUp, true, cfgIncrease | cfgAutoReload | 16<<cfgDividerLSB, false},
		{"divider 2 down", 2, CountDown, false, 2 << cfgDividerLSB, false},
		{"divider 65536", 65536, CountUp, false, cfgIncrease, false},
		{"divider 1", 1, CountUp, false, 0, true},
		{"bad direction", 16, Direction(5), false, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := encodeConfig(tt.divider, tt.dir, tt.autoReload)
			if tt.wantErr {
				if !errors.Is(err, ErrConfig) {
					t.Errorf("Expected ErrConfig, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if v != tt.expected {
				t.Errorf("Expected 0x%08x, got 0x%08x", tt.expected, v)
			}
			if d := configDivider(v); d != tt.divider {
				t.Errorf("Expected divider %d decoded, got %d", tt.divider, d)
			}
		})
	}
}

func TestRegs(t *testing.T) {
	r := regs(make([]byte, groupSize))
	r.wr64(rALARMLO, 0x123456789A)
	if v := r.rd(rALARMLO); v != 0x3456789A {
		t.Errorf("Expected low word 0x3456789A, got 0x%08x", v)
	}
	if v := r.rd(rALARMHI); v != 0x12 {
		t.Errorf("Expected high word 0x12, got 0x%08x", v)
	}
	if v := r.rd64(rALARMLO); v != 0x123456789A {
		t.Errorf("Expected 0x123456789A, got 0x%x", v)
	}
	r.set(rCONFIG, cfgEnable|cfgIncrease)
	r.clear(rCONFIG, cfgEnable)
	if v := r.rd(rCONFIG); v != cfgIncrease {
		t.Errorf("Expected 0x%08x, got 0x%08x", uint32(cfgIncrease), v)
	}
}

func TestUIOTimerRegisters(t *testing.T) {
	mem := make([]byte, groupSize)
	r := regs(mem)
	irq := newFakeIRQ()
	tm := newUIOTimer(mem, irq, 1, testSourceHz)
	defer tm.Close()
	base := uintptr(unitStride)

	if err := tm.Configure(16, CountUp, true); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	want := uint32(cfgIncrease | cfgAutoReload | 16<<cfgDividerLSB)
	if v := r.rd(base + rCONFIG); v != want {
		t.Errorf("Expected CONFIG 0x%08x, got 0x%08x", want, v)
	}
	if v := r.rd(rCONFIG); v != 0 {
		t.Errorf("Unit 0 CONFIG written: 0x%08x", v)
	}

	tm.SetCounter(0x100000002)
	if v := r.rd64(base + rLOADLO); v != 0x100000002 {
		t.Errorf("Expected load value 0x100000002, got 0x%x", v)
	}
	if r.rd(base+rLOAD) != 1 {
		t.Errorf("Expected LOAD written")
	}

	tm.SetAlarm(10000000)
	tm.EnableAlarm()
	if v := r.rd64(base + rALARMLO); v != 10000000 {
		t.Errorf("Expected alarm 10000000, got %d", v)
	}
	if r.rd(base+rCONFIG)&(cfgAlarmEnable|cfgLevelInt) != cfgAlarmEnable|cfgLevelInt {
		t.Errorf("Expected alarm and level interrupt enabled")
	}
	if r.rd(rINTENA) != 2 {
		t.Errorf("Expected INT_ENA 0x2, got 0x%x", r.rd(rINTENA))
	}

	tm.Start()
	if r.rd(base+rCONFIG)&cfgEnable == 0 {
		t.Errorf("Expected timer enabled")
	}
	if err := tm.Configure(16, CountUp, true); !errors.Is(err, ErrConfig) {
		t.Errorf("Expected ErrConfig while running, got %v", err)
	}

	r.wr64(base+rLO, 2500000)
	if v := tm.Counter(); v != 2500000 {
		t.Errorf("Expected counter 2500000, got %d", v)
	}
	if r.rd(base+rUPDATE) != 1 {
		t.Errorf("Expected counter latched through UPDATE")
	}
	if e := tm.ElapsedSeconds(); e != 0.5 {
		t.Errorf("Expected 0.5s, got %f", e)
	}

	tm.Stop()
	if r.rd(base+rCONFIG)&cfgEnable != 0 {
		t.Errorf("Expected timer disabled")
	}
}

func TestUIOTimerInterrupt(t *testing.T) {
	mem := make([]byte, groupSize)
	r := regs(mem)
	irq := newFakeIRQ()
	tm := newUIOTimer(mem, irq, 0, testSourceHz)
	if err := tm.Configure(16, CountUp, true); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	tm.SetAlarm(1234)
	tm.EnableAlarm()
	events := make(chan AlarmEvent, 1)
	var cb Callback = func(ev AlarmEvent) bool {
		events <- ev
		return true
	}
	if err := tm.RegisterCallback(cb); err != nil {
		t.Fatalf("RegisterCallback failed: %v", err)
	}
	if err := tm.RegisterCallback(cb); !errors.Is(err, ErrRegistration) {
		t.Errorf("Expected ErrRegistration, got %v", err)
	}
	tm.Start()

	// Hardware clears the alarm enable and raises the status bit.
	r.clear(rCONFIG, cfgAlarmEnable)
	r.wr(rINTST, 1)
	irq.events <- struct{}{}
	select {
	case ev := <-events:
		if ev.Alarm != 1234 || ev.Unit != 0 {
			t.Errorf("Unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("Callback not run")
	}
	if r.rd(rINTCLR) != 1 {
		t.Errorf("Expected interrupt cleared")
	}
	if r.rd(rCONFIG)&cfgAlarmEnable == 0 {
		t.Errorf("Expected alarm re-enabled for auto-reload")
	}

	// An interrupt for the other unit is ignored.
	r.wr(rINTST, 2)
	irq.events <- struct{}{}
	select {
	case ev := <-events:
		t.Errorf("Callback run for other unit: %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}

	if err := tm.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if n := irq.unmasks.Load(); n < 2 {
		t.Errorf("Expected interrupt unmasked after each event, got %d", n)
	}
	if r.rd(rINTENA) != 0 {
		t.Errorf("Expected interrupt disabled on close")
	}
}

func TestReadDriverValue(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "size")
	if err := os.WriteFile(name, []byte("0x00001000\n"), 0644); err != nil {
		t.Fatal(err)
	}
	v, err := readDriverValue(name)
	if err != nil {
		t.Fatalf("readDriverValue failed: %v", err)
	}
	if v != 0x1000 {
		t.Errorf("Expected 0x1000, got 0x%x", v)
	}
	if _, err := readDriverValue(filepath.Join(dir, "missing")); err == nil {
		t.Errorf("Expected error for missing file")
	}
}

func TestOpenUIOBadUnit(t *testing.T) {
	if _, err := OpenUIO(0, 2, testSourceHz); err == nil {
		t.Errorf("Expected error for unit 2")
	}
}
