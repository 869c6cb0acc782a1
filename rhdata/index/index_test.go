// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package index

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestIndex(t *testing.T) {
	t.Parallel()

	Convey("Index", t, func() {
		Convey("Encode/Decode round trip, few entries", func() {
			idx := Index{Size: 12345, Offsets: []uint64{512, 1536, 4096}}
			payload := Encode(idx)
			So(len(payload)%SlotSize, ShouldEqual, 0)

			// slot 0, plus at least MinEntrySlots entry slots.
			So(len(payload), ShouldEqual, SlotSize*(1+MinEntrySlots))

			got, err := Decode(payload)
			So(err, ShouldBeNil)
			So(got.Size, ShouldEqual, idx.Size)
			So(got.Offsets, ShouldResemble, idx.Offsets)
		})

		Convey("Encode grows past MinEntrySlots without dropping entries", func() {
			offsets := make([]uint64, MinEntrySlots+10)
			for i := range offsets {
				offsets[i] = uint64(512 * (i + 1))
			}
			idx := Index{Size: 99, Offsets: offsets}
			payload := Encode(idx)
			So(len(payload), ShouldEqual, SlotSize*(1+len(offsets)+1)) // +1 end marker

			got, err := Decode(payload)
			So(err, ShouldBeNil)
			So(got.Offsets, ShouldResemble, offsets)
		})

		Convey("Decode skips soft-deleted (zero) slots", func() {
			idx := Index{Size: 1, Offsets: []uint64{512, 1024}}
			payload := Encode(idx)
			// Zero out the first offset slot directly.
			for i := 0; i < SlotSize; i++ {
				payload[SlotSize+i] = 0
			}

			got, err := Decode(payload)
			So(err, ShouldBeNil)
			So(got.Offsets, ShouldResemble, []uint64{1024})
		})

		Convey("Decode rejects a payload shorter than one slot", func() {
			_, err := Decode(make([]byte, 3))
			So(err, ShouldNotBeNil)
		})

		Convey("Decode rejects a payload not a multiple of slot size", func() {
			_, err := Decode(make([]byte, SlotSize+3))
			So(err, ShouldNotBeNil)
		})

		Convey("Decode rejects a payload with no terminating end marker", func() {
			payload := make([]byte, SlotSize*3)
			_, err := Decode(payload)
			So(err, ShouldNotBeNil)
		})

		Convey("Valid", func() {
			idx := Index{Size: 4096}
			So(idx.Valid(4096), ShouldBeTrue)
			So(idx.Valid(4097), ShouldBeFalse)
		})
	})
}
