// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package robohen

import "github.com/coreshard/robohen/rhdata"

// Entry is the in-memory record of a single physical entry: its raw ustar
// fields, its decoded PAX attributes, and the byte offsets needed to
// locate its header and payload. See spec §4.3.
type Entry struct {
	// Name is the physical on-disk name (e.g. "big.a.part2"), exactly as
	// carried by the "path" PAX record. Entries with no "path" PAX header
	// are not decoded into an Entry.
	Name string

	// Size is the entry's data payload size in bytes.
	Size uint64

	// HeaderOffset is the byte offset of this entry's leading "path" PAX
	// header. Always a multiple of 512.
	HeaderOffset uint64

	// PathBlocks is the number of 512-byte blocks (header + padded payload)
	// used by the leading "path" PAX entry.
	PathBlocks uint64

	// AttrsBlocks is the number of 512-byte blocks used by the second PAX
	// entry, which carries the ROBOHEN_* attributes.
	AttrsBlocks uint64

	// DataOffset is HeaderOffset + 512*HeaderBlocks: where the payload
	// begins.
	DataOffset uint64

	// HeaderBlocks is the total number of 512-byte blocks consumed by both
	// PAX headers plus the ustar header, i.e. (DataOffset-HeaderOffset)/512.
	HeaderBlocks uint64

	// Attrs holds every ROBOHEN_* PAX record decoded from this entry's
	// second PAX header, keyed by attribute name.
	Attrs map[string]string

	// HeadName holds the ROBOHEN_FILE_NAME of a partition's chain head. It
	// is not set during cache population and stays empty; Logical-view code
	// finds a file's partitions by walking forward from its head instead.
	HeadName string
}

// AttrsOffset is the byte offset of the second ("ROBOHEN_*") PAX entry.
func (e *Entry) AttrsOffset() uint64 {
	return e.HeaderOffset + e.PathBlocks*rhdata.BlockSize
}

// UstarOffset is the byte offset of this entry's ustar header.
func (e *Entry) UstarOffset() uint64 {
	return e.HeaderOffset + (e.PathBlocks+e.AttrsBlocks)*rhdata.BlockSize
}

// FileName returns the entry's ROBOHEN_FILE_NAME attribute and whether it
// was present. Only authoritative on a head partition.
func (e *Entry) FileName() (string, bool) {
	v, ok := e.Attrs[rhdata.AttrFileName]
	return v, ok
}

// NextPartOffset returns the entry's ROBOHEN_NEXT_PART_OFFSET, decoded, and
// whether it was present (absent on a chain's tail, and on non-partitioned
// entries).
func (e *Entry) NextPartOffset() (uint64, bool) {
	return e.uintAttr(rhdata.AttrNextPartOffset)
}

// PrevPartOffset returns the entry's ROBOHEN_PREV_PART_OFFSET, decoded, and
// whether it was present (absent on a chain's head).
func (e *Entry) PrevPartOffset() (uint64, bool) {
	return e.uintAttr(rhdata.AttrPrevPartOffset)
}

// PartSuffix returns the entry's ROBOHEN_PART_SUFFIX and whether it was
// present (only ever present on a chain's head).
func (e *Entry) PartSuffix() (string, bool) {
	v, ok := e.Attrs[rhdata.AttrPartSuffix]
	return v, ok
}

// IsPartition reports whether this entry participates in a multi-partition
// chain (has a next and/or previous link). A head-only, single-partition
// logical file has neither and is not considered "partitioned" for the
// purposes of Logical-view's parts list.
func (e *Entry) IsPartition() bool {
	_, hasNext := e.NextPartOffset()
	_, hasPrev := e.PrevPartOffset()
	return hasNext || hasPrev
}

// uintAttr decodes a fixed-width offset-valued attribute. 0 is the
// reserved sentinel for "not present" (see DESIGN.md): every partition
// always carries NEXT_PART_OFFSET and PREV_PART_OFFSET records so that
// those records can be patched in place without ever changing byte
// length, but a value of 0 means the link is logically absent (no real
// entry can ever sit at offset 0 and also be "after" or "before" another
// entry, since nothing precedes byte 0).
func (e *Entry) uintAttr(key string) (uint64, bool) {
	v, ok := e.Attrs[key]
	if !ok {
		return 0, false
	}
	n, err := parseUint(v)
	if err != nil || n == 0 {
		return 0, false
	}
	return n, true
}
