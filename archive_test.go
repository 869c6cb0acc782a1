// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package robohen

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/coreshard/robohen/rhdata"

	. "github.com/smartystreets/goconvey/convey"
)

func tempArchivePath(t *testing.T) string {
	f, err := os.CreateTemp("", "robohen-*.tar")
	if err != nil {
		t.Fatal(err)
	}
	path := f.Name()
	f.Close()
	os.Remove(path)
	t.Cleanup(func() { os.Remove(path) })
	return path
}

func TestArchiveScenarios(t *testing.T) {
	t.Parallel()

	Convey("scenario 1: small write", t, func() {
		path := tempArchivePath(t)
		a, err := Create(path)
		So(err, ShouldBeNil)

		So(a.WriteFile("a.txt", []byte("hello")), ShouldBeNil)
		got, err := a.ReadFile("a.txt")
		So(err, ShouldBeNil)
		So(got, ShouldResemble, []byte("hello"))

		So(a.Close(), ShouldBeNil)

		info, err := os.Stat(path)
		So(err, ShouldBeNil)
		So(info.Size()%512, ShouldEqual, int64(0))

		b, err := os.ReadFile(path)
		So(err, ShouldBeNil)
		So(b[len(b)-1024:], ShouldResemble, make([]byte, 1024))
	})

	Convey("scenario 2: split on first write", t, func() {
		path := tempArchivePath(t)
		a, err := Create(path, WithMaxPartitionSize(4096))
		So(err, ShouldBeNil)

		data := bytes.Repeat([]byte("x"), 10000)
		So(a.WriteFile("big", data), ShouldBeNil)

		chain, err := a.logicalChain("big")
		So(err, ShouldBeNil)
		So(len(chain), ShouldEqual, 3)
		So(chain[0].Name, ShouldEqual, "big.part1")
		So(chain[0].Size, ShouldEqual, uint64(4096))
		So(chain[1].Name, ShouldEqual, "big.part2")
		So(chain[1].Size, ShouldEqual, uint64(4096))
		So(chain[2].Name, ShouldEqual, "big.part3")
		So(chain[2].Size, ShouldEqual, uint64(1808))

		next0, ok := chain[0].NextPartOffset()
		So(ok, ShouldBeTrue)
		So(next0, ShouldEqual, chain[1].HeaderOffset)
		prev1, ok := chain[1].PrevPartOffset()
		So(ok, ShouldBeTrue)
		So(prev1, ShouldEqual, chain[0].HeaderOffset)
		next1, ok := chain[1].NextPartOffset()
		So(ok, ShouldBeTrue)
		So(next1, ShouldEqual, chain[2].HeaderOffset)
		prev2, ok := chain[2].PrevPartOffset()
		So(ok, ShouldBeTrue)
		So(prev2, ShouldEqual, chain[1].HeaderOffset)

		_, hasSuffix := chain[0].PartSuffix()
		So(hasSuffix, ShouldBeFalse)
		fn, ok := chain[0].FileName()
		So(ok, ShouldBeTrue)
		So(fn, ShouldEqual, "big")

		So(a.ListFiles(), ShouldResemble, []string{"big"})

		got, err := a.ReadFile("big")
		So(err, ShouldBeNil)
		So(got, ShouldResemble, data)

		So(a.Close(), ShouldBeNil)
	})

	Convey("scenario 3: collision suffix", t, func() {
		path := tempArchivePath(t)
		a, err := Create(path, WithMaxPartitionSize(4096))
		So(err, ShouldBeNil)

		So(a.WriteFile("big.part1", []byte("occupied")), ShouldBeNil)

		data := bytes.Repeat([]byte("y"), 10000)
		So(a.WriteFile("big", data), ShouldBeNil)

		chain, err := a.logicalChain("big")
		So(err, ShouldBeNil)
		So(chain[0].Name, ShouldEqual, "big.a.part1")
		So(chain[1].Name, ShouldEqual, "big.a.part2")
		So(chain[2].Name, ShouldEqual, "big.a.part3")
		suffix, ok := chain[0].PartSuffix()
		So(ok, ShouldBeTrue)
		So(suffix, ShouldEqual, "a")

		So(a.Close(), ShouldBeNil)
	})

	Convey("scenario 4: truncate removes a partition", t, func() {
		path := tempArchivePath(t)
		a, err := Create(path, WithMaxPartitionSize(4096))
		So(err, ShouldBeNil)

		data := bytes.Repeat([]byte("x"), 10000)
		So(a.WriteFile("big", data), ShouldBeNil)

		So(a.TruncateFile("big", 5000), ShouldBeNil)

		chain, err := a.logicalChain("big")
		So(err, ShouldBeNil)
		So(len(chain), ShouldEqual, 2)
		So(chain[0].Size, ShouldEqual, uint64(4096))
		So(chain[1].Size, ShouldEqual, uint64(904))

		_, ok := chain[1].NextPartOffset()
		So(ok, ShouldBeFalse)

		got, err := a.ReadFile("big")
		So(err, ShouldBeNil)
		So(got, ShouldResemble, data[:5000])

		So(a.Close(), ShouldBeNil)
	})

	Convey("scenario 5: external append detection", t, func() {
		path := tempArchivePath(t)
		a, err := Create(path)
		So(err, ShouldBeNil)
		So(a.WriteFile("a.txt", []byte("hello")), ShouldBeNil)
		So(a.Close(), ShouldBeNil)

		f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0644)
		So(err, ShouldBeNil)
		_, err = f.Write([]byte{0xAB})
		So(err, ShouldBeNil)
		So(f.Close(), ShouldBeNil)

		a2, err := Open(path)
		So(err, ShouldBeNil)
		So(a2.indexExists, ShouldBeFalse)

		got, err := a2.ReadFile("a.txt")
		So(err, ShouldBeNil)
		So(got, ShouldResemble, []byte("hello"))

		So(a2.Close(), ShouldBeNil)

		a3, err := Open(path)
		So(err, ShouldBeNil)
		So(a3.indexExists, ShouldBeTrue)
		So(a3.Close(), ShouldBeNil)
	})

	Convey("scenario 6: read-only invariance", t, func() {
		path := tempArchivePath(t)
		a, err := Create(path)
		So(err, ShouldBeNil)
		So(a.WriteFile("a.txt", []byte("hello")), ShouldBeNil)
		So(a.WriteFile("b.txt", []byte("world")), ShouldBeNil)
		So(a.Close(), ShouldBeNil)

		before, err := os.ReadFile(path)
		So(err, ShouldBeNil)

		ro, err := Open(path, WithReadOnly(true))
		So(err, ShouldBeNil)

		names := ro.ListFiles()
		So(len(names), ShouldEqual, 2)

		got, err := ro.ReadFile("a.txt")
		So(err, ShouldBeNil)
		So(got, ShouldResemble, []byte("hello"))

		var buf bytes.Buffer
		So(ro.StreamFile(context.Background(), "b.txt", &buf), ShouldBeNil)
		So(buf.Bytes(), ShouldResemble, []byte("world"))

		So(ro.Close(), ShouldBeNil)

		after, err := os.ReadFile(path)
		So(err, ShouldBeNil)
		So(after, ShouldResemble, before)
	})

	Convey("checksum trailer catches index corruption slot0 alone can't see", t, func() {
		path := tempArchivePath(t)
		a, err := Create(path, WithChecksumScheme(rhdata.ChecksumSHA2_256))
		So(err, ShouldBeNil)
		So(a.WriteFile("a.txt", []byte("hello")), ShouldBeNil)
		So(a.Close(), ShouldBeNil)

		a2, err := Open(path, WithChecksumScheme(rhdata.ChecksumSHA2_256))
		So(err, ShouldBeNil)
		So(a2.indexExists, ShouldBeTrue)
		idxEntry := a2.indexEntry
		So(idxEntry, ShouldNotBeNil)
		So(a2.Close(), ShouldBeNil)

		// Flip a byte inside the index payload itself, past slot 0, so the
		// size check alone would not notice.
		f, err := os.OpenFile(path, os.O_RDWR, 0644)
		So(err, ShouldBeNil)
		corruptOffset := int64(idxEntry.DataOffset) + 16
		b := make([]byte, 1)
		_, err = f.ReadAt(b, corruptOffset)
		So(err, ShouldBeNil)
		b[0] ^= 0xff
		_, err = f.WriteAt(b, corruptOffset)
		So(err, ShouldBeNil)
		So(f.Close(), ShouldBeNil)

		a3, err := Open(path, WithChecksumScheme(rhdata.ChecksumSHA2_256))
		So(err, ShouldBeNil)
		So(a3.indexExists, ShouldBeFalse) // rebuilt by scan despite slot0 matching

		got, err := a3.ReadFile("a.txt")
		So(err, ShouldBeNil)
		So(got, ShouldResemble, []byte("hello"))

		So(a3.Close(), ShouldBeNil)
	})
}
