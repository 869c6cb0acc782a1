// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package robohen

import (
	"testing"

	"github.com/coreshard/robohen/rhdata"

	. "github.com/smartystreets/goconvey/convey"
)

func TestEntry(t *testing.T) {
	t.Parallel()

	Convey("Entry", t, func() {
		Convey("AttrsOffset and UstarOffset", func() {
			e := &Entry{
				HeaderOffset: 1024,
				PathBlocks:   2,
				AttrsBlocks:  3,
			}
			So(e.AttrsOffset(), ShouldEqual, uint64(1024+2*512))
			So(e.UstarOffset(), ShouldEqual, uint64(1024+(2+3)*512))
		})

		Convey("FileName", func() {
			e := &Entry{Attrs: map[string]string{rhdata.AttrFileName: "big.txt"}}
			name, ok := e.FileName()
			So(ok, ShouldBeTrue)
			So(name, ShouldEqual, "big.txt")

			e2 := &Entry{Attrs: map[string]string{}}
			_, ok = e2.FileName()
			So(ok, ShouldBeFalse)
		})

		Convey("NextPartOffset/PrevPartOffset treat 0 as absent", func() {
			e := &Entry{Attrs: map[string]string{
				rhdata.AttrNextPartOffset: encodeOffsetAttr(0),
				rhdata.AttrPrevPartOffset: encodeOffsetAttr(512),
			}}
			_, ok := e.NextPartOffset()
			So(ok, ShouldBeFalse)

			prev, ok := e.PrevPartOffset()
			So(ok, ShouldBeTrue)
			So(prev, ShouldEqual, uint64(512))
		})

		Convey("NextPartOffset/PrevPartOffset are absent when the record itself is absent", func() {
			e := &Entry{Attrs: map[string]string{}}
			_, ok := e.NextPartOffset()
			So(ok, ShouldBeFalse)
			_, ok = e.PrevPartOffset()
			So(ok, ShouldBeFalse)
		})

		Convey("IsPartition", func() {
			head := &Entry{Attrs: map[string]string{
				rhdata.AttrNextPartOffset: encodeOffsetAttr(4096),
				rhdata.AttrPrevPartOffset: encodeOffsetAttr(0),
			}}
			So(head.IsPartition(), ShouldBeTrue)

			lone := &Entry{Attrs: map[string]string{
				rhdata.AttrNextPartOffset: encodeOffsetAttr(0),
				rhdata.AttrPrevPartOffset: encodeOffsetAttr(0),
			}}
			So(lone.IsPartition(), ShouldBeFalse)
		})

		Convey("PartSuffix", func() {
			e := &Entry{Attrs: map[string]string{rhdata.AttrPartSuffix: "a"}}
			suffix, ok := e.PartSuffix()
			So(ok, ShouldBeTrue)
			So(suffix, ShouldEqual, "a")
		})
	})
}
