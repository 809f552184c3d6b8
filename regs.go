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
	"sync/atomic"
	"unsafe"
)

// Timer group register offsets, per timer unit.
const (
	rCONFIG  = 0x00
	rLO      = 0x04
	rHI      = 0x08
	rUPDATE  = 0x0C
	rALARMLO = 0x10
	rALARMHI = 0x14
	rLOADLO  = 0x18
	rLOADHI  = 0x1C
	rLOAD    = 0x20

	unitStride = 0x24
	nUnits     = 2
)

// Timer group interrupt registers, one bit per unit.
const (
	rINTENA = 0x98
	rINTRAW = 0x9C
	rINTST  = 0xA0
	rINTCLR = 0xA4

	groupSize = 0x100
)

// CONFIG register fields.
const (
	cfgEnable      = 1 << 31
	cfgIncrease    = 1 << 30
	cfgAutoReload  = 1 << 29
	cfgDividerLSB  = 13
	cfgDividerMask = 0xFFFF << cfgDividerLSB
	cfgEdgeInt     = 1 << 12
	cfgLevelInt    = 1 << 11
	cfgAlarmEnable = 1 << 10
)

// encodeConfig builds the CONFIG register counting fields.
// A divider of 65536 is encoded as 0.
func encodeConfig(divider int, dir Direction, autoReload bool) (uint32, error) {
	if divider < minDivider || divider > maxDivider {
		return 0, fmt.Errorf("divider %d: %w", divider, ErrConfig)
	}
	var v uint32
	switch dir {
	case CountUp:
		v |= cfgIncrease
	case CountDown:
	default:
		return 0, fmt.Errorf("%v: %w", dir, ErrConfig)
	}
	if autoReload {
		v |= cfgAutoReload
	}
	v |= uint32(divider%maxDivider) << cfgDividerLSB
	return v, nil
}

// configDivider extracts the divider from a CONFIG register value.
func configDivider(v uint32) int {
	d := int((v & cfgDividerMask) >> cfgDividerLSB)
	if d == 0 {
		return maxDivider
	}
	return d
}

// regs is a window onto a register block.
// All accesses are single 32 bit loads or stores.
type regs []byte

// rd reads one 32 bit register
func (r regs) rd(offs uintptr) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&r[offs])))
}

// wr writes one 32 bit register
func (r regs) wr(offs uintptr, v uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&r[offs])), v)
}

// rd64 reads a register pair and combines them to a 64 bit value.
// The lower 32 bits are read from the first address.
func (r regs) rd64(offs uintptr) uint64 {
	v := uint64(r.rd(offs))
	v |= uint64(r.rd(offs+4)) << 32
	return v
}

// wr64 writes a 64 bit value to a register pair.
// The lower 32 bits are written to the first address.
func (r regs) wr64(offs uintptr, v uint64) {
	r.wr(offs, uint32(v))
	r.wr(offs+4, uint32(v>>32))
}

// set sets bits in a register.
func (r regs) set(offs uintptr, bits uint32) {
	r.wr(offs, r.rd(offs)|bits)
}

// clear clears bits in a register.
func (r regs) clear(offs uintptr, bits uint32) {
	r.wr(offs, r.rd(offs)&^bits)
}
