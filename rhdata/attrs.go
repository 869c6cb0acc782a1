// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package rhdata

// Reserved PAX attribute keys used by the robohen partitioning layer.
//
// All of these live exclusively in PAX extended header records; none of
// them is ever written into a ustar reserved field.
const (
	// AttrFileName carries a logical file's user-visible name. Authoritative
	// only on the head partition of a chain.
	AttrFileName = "ROBOHEN_FILE_NAME"

	// AttrNextPartOffset carries the header offset of the next partition in
	// a chain. Absent on the tail.
	AttrNextPartOffset = "ROBOHEN_NEXT_PART_OFFSET"

	// AttrPrevPartOffset carries the header offset of the previous partition
	// in a chain. Absent on the head.
	AttrPrevPartOffset = "ROBOHEN_PREV_PART_OFFSET"

	// AttrPartSuffix carries the collision-resolution suffix for a chain's
	// base name. Present on the head partition only, and only when a
	// collision forced one to be assigned.
	AttrPartSuffix = "ROBOHEN_PART_SUFFIX"

	// AttrIndexOffset is reserved for the archive-level metadata entry: it
	// carries the header offset of the persistent index entry.
	AttrIndexOffset = "ROBOHEN_INDEX_OFFSET"
)

// PathRecordKey is the standard PAX record key used for renaming and for
// carrying names that exceed the ustar 100-byte name field.
const PathRecordKey = "path"

// DefaultSectorSize is used whenever sector probing is disabled, fails, or
// the underlying file does not refer to a block device.
const DefaultSectorSize = 512

// IsReservedAttr reports whether key is one of the ROBOHEN_* reserved
// attribute names.
func IsReservedAttr(key string) bool {
	switch key {
	case AttrFileName, AttrNextPartOffset, AttrPrevPartOffset, AttrPartSuffix, AttrIndexOffset:
		return true
	}
	return false
}
