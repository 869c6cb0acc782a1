// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package rhdata

import (
	"bytes"

	"github.com/luci/luci-go/common/errors"
)

// BlockSize is the fixed size of a ustar header block and the alignment
// unit of every payload in a robohen archive.
const BlockSize = 512

// Ustar field offsets, per POSIX.1-1988.
const (
	offName     = 0
	lenName     = 100
	offMode     = 100
	lenMode     = 8
	offUID      = 108
	lenUID      = 8
	offGID      = 116
	lenGID      = 8
	offSize     = 124
	lenSize     = 12
	offMtime    = 136
	lenMtime    = 12
	offChksum   = 148
	lenChksum   = 8
	offTypeflag = 156
	offLinkname = 157
	lenLinkname = 100
	offMagic    = 257
	lenMagic    = 6
	offVersion  = 263
	lenVersion  = 2
	offUname    = 265
	lenUname    = 32
	offGname    = 297
	lenGname    = 32
	offDevmajor = 329
	lenDevmajor = 8
	offDevminor = 337
	lenDevminor = 8
	offPrefix   = 345
	lenPrefix   = 155
)

var ustarMagic = []byte("ustar\x00")
var ustarVersion = []byte("00")

// Typeflag values relevant to robohen. Only regular files and PAX extended
// headers are ever emitted; the codec accepts (but does not itself emit)
// the other ustar typeflags so that foreign archives can still be scanned.
const (
	TypeRegular byte = '0'
	TypeRegularA byte = '\x00' // pre-POSIX readers wrote NUL here
	TypePaxExtended byte = 'x'
)

// UstarHeader is the decoded form of a single 512-byte ustar header block.
type UstarHeader struct {
	Name     string
	Size     uint64
	Typeflag byte
	Mtime    int64
}

// Encode renders h as a checksummed 512-byte ustar header block.
//
// Name longer than 100 bytes is truncated; callers that need to carry a
// long or unportable name use a preceding PAX "path" record instead (see
// EncodePaxEntry) and may pass any placeholder short name here.
func (h *UstarHeader) Encode() ([]byte, error) {
	buf := make([]byte, BlockSize)

	name := h.Name
	if len(name) > lenName {
		name = name[:lenName]
	}
	copy(buf[offName:offName+lenName], name)

	putOctal(buf[offMode:offMode+lenMode], 0o644)
	putOctal(buf[offUID:offUID+lenUID], 0)
	putOctal(buf[offGID:offGID+lenGID], 0)
	if err := putOctalChecked(buf[offSize:offSize+lenSize], h.Size); err != nil {
		return nil, errors.Annotate(err).Reason("encoding ustar size for %(name)q").D("name", h.Name).Err()
	}
	putOctal(buf[offMtime:offMtime+lenMtime], uint64(h.Mtime))

	typeflag := h.Typeflag
	if typeflag == 0 {
		typeflag = TypeRegular
	}
	buf[offTypeflag] = typeflag

	copy(buf[offMagic:offMagic+lenMagic], ustarMagic)
	copy(buf[offVersion:offVersion+lenVersion], ustarVersion)

	// checksum is computed with the checksum field itself blanked to spaces
	for i := 0; i < lenChksum; i++ {
		buf[offChksum+i] = ' '
	}
	sum := computeChecksum(buf)
	putChecksum(buf[offChksum:offChksum+lenChksum], sum)

	return buf, nil
}

// DecodeUstarHeader parses a 512-byte block as a ustar header, validating
// its checksum.
func DecodeUstarHeader(block []byte) (*UstarHeader, error) {
	if len(block) != BlockSize {
		return nil, errors.Reason("ustar block must be %(want)d bytes, got %(got)d").
			D("want", BlockSize).D("got", len(block)).Err()
	}

	want, err := parseOctal(block[offChksum : offChksum+lenChksum])
	if err != nil {
		return nil, errors.Annotate(err).Reason("parsing ustar checksum").Err()
	}

	checked := append([]byte(nil), block...)
	for i := 0; i < lenChksum; i++ {
		checked[offChksum+i] = ' '
	}
	got := computeChecksum(checked)
	if uint64(got) != want {
		return nil, &CorruptError{Reason: "ustar checksum mismatch"}
	}

	size, err := parseOctal(block[offSize : offSize+lenSize])
	if err != nil {
		return nil, errors.Annotate(err).Reason("parsing ustar size").Err()
	}
	mtime, _ := parseOctal(block[offMtime : offMtime+lenMtime])

	name := cString(block[offName : offName+lenName])

	return &UstarHeader{
		Name:     name,
		Size:     size,
		Typeflag: block[offTypeflag],
		Mtime:    int64(mtime),
	}, nil
}

// IsZeroBlock reports whether block is entirely zero bytes, the marker for
// both end-of-archive blocks and soft-deleted entries.
func IsZeroBlock(block []byte) bool {
	for _, b := range block {
		if b != 0 {
			return false
		}
	}
	return true
}

// UsedBlocks returns how many 512-byte blocks a payload of size n occupies
// once padded.
func UsedBlocks(n uint64) uint64 {
	return (n + BlockSize - 1) / BlockSize
}

// PaddedSize rounds n up to the next multiple of BlockSize.
func PaddedSize(n uint64) uint64 {
	return UsedBlocks(n) * BlockSize
}

func computeChecksum(block []byte) int64 {
	var sum int64
	for _, b := range block {
		sum += int64(b)
	}
	return sum
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func putOctal(dst []byte, v uint64) {
	// ignore overflow; callers that need to detect it use putOctalChecked
	_ = putOctalChecked(dst, v)
}

func putOctalChecked(dst []byte, v uint64) error {
	n := len(dst) - 1 // last byte is NUL
	digits := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		digits[i] = '0' + byte(v&7)
		v >>= 3
	}
	if v != 0 {
		return errors.Reason("value does not fit in %(n)d octal digits").D("n", n).Err()
	}
	for i, c := range dst {
		if i < n {
			dst[i] = digits[i]
		} else {
			_ = c
			dst[i] = 0
		}
	}
	return nil
}

func putChecksum(dst []byte, sum int64) {
	// POSIX: 6 octal digits, NUL, space
	digits := make([]byte, 6)
	v := sum
	for i := 5; i >= 0; i-- {
		digits[i] = '0' + byte(v&7)
		v >>= 3
	}
	copy(dst, digits)
	dst[6] = 0
	dst[7] = ' '
}

func parseOctal(b []byte) (uint64, error) {
	// trim trailing NUL/space and leading spaces
	start := 0
	end := len(b)
	for start < end && (b[start] == ' ' || b[start] == 0) {
		start++
	}
	for end > start && (b[end-1] == ' ' || b[end-1] == 0) {
		end--
	}
	if start == end {
		return 0, nil
	}
	var v uint64
	for _, c := range b[start:end] {
		if c < '0' || c > '7' {
			return 0, errors.Reason("invalid octal digit %(c)q").D("c", string(c)).Err()
		}
		v = v<<3 | uint64(c-'0')
	}
	return v, nil
}
