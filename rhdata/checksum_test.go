// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package rhdata

import (
	"testing"

	. "github.com/luci/luci-go/common/testing/assertions"
	. "github.com/smartystreets/goconvey/convey"
)

func TestChecksum(t *testing.T) {
	t.Parallel()

	Convey("ChecksumScheme", t, func() {
		Convey("Valid", func() {
			So(ChecksumNone.Valid(), ShouldBeNil)
			So(ChecksumSHA2_256.Valid(), ShouldBeNil)
			So(ChecksumSHA2_512.Valid(), ShouldBeNil)
			So(ChecksumBLAKE2s.Valid(), ShouldBeNil)
			So(ChecksumBLAKE2b.Valid(), ShouldBeNil)
			So(ChecksumSHA3_256.Valid(), ShouldBeNil)
			So(ChecksumSHA3_512.Valid(), ShouldBeNil)
			So(ChecksumScheme(100).Valid(), ShouldErrLike, "unknown checksum scheme")
		})

		schemes := []ChecksumScheme{
			ChecksumSHA2_256, ChecksumSHA2_512, ChecksumBLAKE2s,
			ChecksumBLAKE2b, ChecksumSHA3_256, ChecksumSHA3_512,
		}

		Convey("AppendChecksumTrailer/VerifyChecksumTrailer round trip", func() {
			for _, scheme := range schemes {
				payload := []byte("the quick brown fox jumps over the lazy dog")
				data := AppendChecksumTrailer(payload, scheme)
				So(len(data), ShouldEqual, len(payload)+scheme.Hash().Size())

				got, err := VerifyChecksumTrailer(data, scheme)
				So(err, ShouldBeNil)
				So(got, ShouldResemble, payload)
			}
		})

		Convey("ChecksumNone passes the payload through untouched", func() {
			payload := []byte("untouched")
			data := AppendChecksumTrailer(payload, ChecksumNone)
			So(data, ShouldResemble, payload)

			got, err := VerifyChecksumTrailer(data, ChecksumNone)
			So(err, ShouldBeNil)
			So(got, ShouldResemble, payload)
		})

		Convey("VerifyChecksumTrailer detects corruption", func() {
			payload := []byte("index payload bytes")
			data := AppendChecksumTrailer(payload, ChecksumSHA2_256)
			data[0] ^= 0xff

			_, err := VerifyChecksumTrailer(data, ChecksumSHA2_256)
			ce, ok := err.(*CorruptError)
			So(ok, ShouldBeTrue)
			So(ce.Reason, ShouldEqual, "index checksum mismatch")
		})

		Convey("VerifyChecksumTrailer rejects truncated data", func() {
			_, err := VerifyChecksumTrailer([]byte("short"), ChecksumSHA2_256)
			ce, ok := err.(*CorruptError)
			So(ok, ShouldBeTrue)
			So(ce.Reason, ShouldEqual, "index checksum trailer truncated")
		})

		Convey("VerifyChecksumTrailer rejects an unknown scheme", func() {
			_, err := VerifyChecksumTrailer([]byte("whatever"), ChecksumScheme(100))
			So(err, ShouldErrLike, "unknown checksum scheme")
		})
	})
}
