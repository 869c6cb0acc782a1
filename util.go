// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package robohen

import (
	"strconv"

	"github.com/coreshard/robohen/rhdata"
)

func parseUint(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func paddedSize(n uint64) uint64 {
	return rhdata.PaddedSize(n)
}

// offsetAttrWidth is the fixed width used to encode NEXT_PART_OFFSET,
// PREV_PART_OFFSET, and INDEX_OFFSET attribute values, so that patching one
// of these records in place never changes the record's byte length. See
// DESIGN.md.
const offsetAttrWidth = 20

func encodeOffsetAttr(v uint64) string {
	s := strconv.FormatUint(v, 10)
	for len(s) < offsetAttrWidth {
		s = "0" + s
	}
	return s
}
