// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package index

import (
	"encoding/binary"

	"github.com/luci/luci-go/common/errors"

	"github.com/coreshard/robohen/rhdata"
)

// SlotSize is the width of a single index slot.
const SlotSize = 8

// MinEntrySlots is the minimum number of entry slots (slots after slot 0)
// the payload is padded to, regardless of how many physical entries exist.
const MinEntrySlots = 50

// endMarker is the literal slot value that terminates the live entry list;
// readers stop there regardless of any trailing bytes.
const endMarker = 1

// Index is the decoded form of the persistent index payload.
//
// Offsets holds the header offset of every live physical entry, in the
// order they were recorded; a 0 value in the underlying payload (a
// soft-deleted slot) is skipped and never appears here.
type Index struct {
	// Size is slot 0: the archive's total size at the moment the index was
	// written, including end-of-archive markers and the index's own
	// padding.
	Size uint64

	Offsets []uint64
}

// Encode renders idx as a payload, zero-padded so that at least
// MinEntrySlots entry slots follow slot 0. If idx has more than
// MinEntrySlots live offsets, the payload grows to fit them all plus the
// terminating marker; no entry is ever dropped.
func Encode(idx Index) []byte {
	entrySlots := len(idx.Offsets) + 1 // +1 for the end marker
	if entrySlots < MinEntrySlots {
		entrySlots = MinEntrySlots
	}

	buf := make([]byte, SlotSize*(1+entrySlots))
	binary.LittleEndian.PutUint64(buf[0:SlotSize], idx.Size)

	pos := SlotSize
	for _, off := range idx.Offsets {
		binary.LittleEndian.PutUint64(buf[pos:pos+SlotSize], off)
		pos += SlotSize
	}
	binary.LittleEndian.PutUint64(buf[pos:pos+SlotSize], endMarker)

	return buf
}

// Decode parses a payload written by Encode. It stops at the first slot
// holding the literal end marker (1), regardless of any trailing bytes,
// and silently skips any slot holding 0 (a soft-deleted entry).
func Decode(payload []byte) (Index, error) {
	if len(payload) < SlotSize {
		return Index{}, &rhdata.CorruptError{Reason: "index payload shorter than one slot"}
	}
	if len(payload)%SlotSize != 0 {
		return Index{}, &rhdata.CorruptError{Reason: "index payload not a multiple of slot size"}
	}

	idx := Index{Size: binary.LittleEndian.Uint64(payload[0:SlotSize])}

	for pos := SlotSize; pos+SlotSize <= len(payload); pos += SlotSize {
		slot := binary.LittleEndian.Uint64(payload[pos : pos+SlotSize])
		if slot == endMarker {
			return idx, nil
		}
		if slot == 0 {
			continue
		}
		idx.Offsets = append(idx.Offsets, slot)
	}

	return Index{}, errors.Reason("index payload has no terminating end marker").Err()
}

// Valid reports whether idx's recorded size matches the archive's current
// size, per spec: equal means the cache can be trusted and populated from
// Offsets; unequal means a full-scan rebuild is required.
func (idx Index) Valid(currentSize uint64) bool {
	return idx.Size == currentSize
}
