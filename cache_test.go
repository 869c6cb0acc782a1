// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package robohen

import (
	"testing"

	"github.com/coreshard/robohen/rhdata"

	. "github.com/smartystreets/goconvey/convey"
)

func TestCache(t *testing.T) {
	t.Parallel()

	Convey("Cache", t, func() {
		c := NewCache()

		Convey("Add/ByName/ByOffset/All/Len", func() {
			e1 := &Entry{Name: "a.part1", HeaderOffset: 0, Size: 10, DataOffset: 1536}
			e2 := &Entry{Name: "a.part2", HeaderOffset: 2048, Size: 20, DataOffset: 2048 + 1536}

			So(c.Add(e1), ShouldBeNil)
			So(c.Add(e2), ShouldBeNil)
			So(c.Len(), ShouldEqual, 2)

			got, ok := c.ByName("a.part1")
			So(ok, ShouldBeTrue)
			So(got, ShouldEqual, e1)

			got, ok = c.ByOffset(2048)
			So(ok, ShouldBeTrue)
			So(got, ShouldEqual, e2)

			So(c.All(), ShouldResemble, []*Entry{e1, e2})
		})

		Convey("Add rejects a name collision", func() {
			So(c.Add(&Entry{Name: "a", HeaderOffset: 0}), ShouldBeNil)
			err := c.Add(&Entry{Name: "a", HeaderOffset: 512})
			So(err, ShouldNotBeNil)
		})

		Convey("Add rejects an offset collision", func() {
			So(c.Add(&Entry{Name: "a", HeaderOffset: 0}), ShouldBeNil)
			err := c.Add(&Entry{Name: "b", HeaderOffset: 0})
			So(err, ShouldNotBeNil)
		})

		Convey("Remove drops both indexes and the order slice", func() {
			e1 := &Entry{Name: "a", HeaderOffset: 0}
			e2 := &Entry{Name: "b", HeaderOffset: 512}
			So(c.Add(e1), ShouldBeNil)
			So(c.Add(e2), ShouldBeNil)

			c.Remove(e1)
			So(c.Len(), ShouldEqual, 1)
			_, ok := c.ByName("a")
			So(ok, ShouldBeFalse)
			_, ok = c.ByOffset(0)
			So(ok, ShouldBeFalse)
			So(c.All(), ShouldResemble, []*Entry{e2})
		})

		Convey("Rename moves the byName key without touching byOffset", func() {
			e := &Entry{Name: "old", HeaderOffset: 0}
			So(c.Add(e), ShouldBeNil)

			e.Name = "new"
			c.Rename(e, "old")

			_, ok := c.ByName("old")
			So(ok, ShouldBeFalse)
			got, ok := c.ByName("new")
			So(ok, ShouldBeTrue)
			So(got, ShouldEqual, e)

			got, ok = c.ByOffset(0)
			So(ok, ShouldBeTrue)
			So(got, ShouldEqual, e)
		})

		Convey("TailOffset", func() {
			Convey("empty cache", func() {
				So(c.TailOffset(), ShouldEqual, uint64(0))
			})

			Convey("reflects the highest-addressed entry's padded end", func() {
				So(c.Add(&Entry{Name: "a", HeaderOffset: 0, DataOffset: 1536, Size: 10}), ShouldBeNil)
				So(c.Add(&Entry{Name: "b", HeaderOffset: 2048, DataOffset: 3584, Size: 600}), ShouldBeNil)

				want := uint64(3584) + paddedSize(600)
				So(c.TailOffset(), ShouldEqual, want)
			})
		})

		Convey("Chain", func() {
			Convey("walks a multi-partition chain in order", func() {
				head := &Entry{
					Name: "big.part1", HeaderOffset: 0,
					Attrs: map[string]string{rhdata.AttrNextPartOffset: encodeOffsetAttr(1024)},
				}
				mid := &Entry{
					Name: "big.part2", HeaderOffset: 1024,
					Attrs: map[string]string{
						rhdata.AttrPrevPartOffset: encodeOffsetAttr(0),
						rhdata.AttrNextPartOffset: encodeOffsetAttr(2048),
					},
				}
				tail := &Entry{
					Name: "big.part3", HeaderOffset: 2048,
					Attrs: map[string]string{rhdata.AttrPrevPartOffset: encodeOffsetAttr(1024)},
				}
				So(c.Add(head), ShouldBeNil)
				So(c.Add(mid), ShouldBeNil)
				So(c.Add(tail), ShouldBeNil)

				chain, err := c.Chain(head)
				So(err, ShouldBeNil)
				So(chain, ShouldResemble, []*Entry{head, mid, tail})
			})

			Convey("a lone non-partitioned entry is a chain of one", func() {
				e := &Entry{Name: "solo", HeaderOffset: 0, Attrs: map[string]string{}}
				So(c.Add(e), ShouldBeNil)

				chain, err := c.Chain(e)
				So(err, ShouldBeNil)
				So(chain, ShouldResemble, []*Entry{e})
			})

			Convey("detects a cycle", func() {
				a := &Entry{
					Name: "a", HeaderOffset: 512,
					Attrs: map[string]string{rhdata.AttrNextPartOffset: encodeOffsetAttr(1024)},
				}
				b := &Entry{
					Name: "b", HeaderOffset: 1024,
					Attrs: map[string]string{rhdata.AttrNextPartOffset: encodeOffsetAttr(512)},
				}
				So(c.Add(a), ShouldBeNil)
				So(c.Add(b), ShouldBeNil)

				_, err := c.Chain(a)
				ce, ok := err.(*CorruptError)
				So(ok, ShouldBeTrue)
				So(ce.Reason, ShouldEqual, "cyclic partition chain")
			})

			Convey("errors when a link points at a missing offset", func() {
				a := &Entry{
					Name: "a", HeaderOffset: 0,
					Attrs: map[string]string{rhdata.AttrNextPartOffset: encodeOffsetAttr(4096)},
				}
				So(c.Add(a), ShouldBeNil)

				_, err := c.Chain(a)
				ce, ok := err.(*CorruptError)
				So(ok, ShouldBeTrue)
				So(ce.Reason, ShouldEqual, "partition chain references missing offset")
			})
		})
	})
}
