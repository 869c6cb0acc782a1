// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package rhdata

import (
	"bytes"
	"crypto/sha256"
	"crypto/sha512"
	"hash"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/sha3"

	"github.com/luci/luci-go/common/errors"
)

// ChecksumScheme selects the optional integrity trailer appended after a
// persistent index entry's padded slot array (see index.Encode). It is a
// renamed, index-scoped instance of the whole-archive checksum scheme this
// format's ancestor used to checksum an entire solid archive.
type ChecksumScheme byte

// Available index checksum schemes. ChecksumNone (the default) leaves the
// index payload exactly as spec.md describes it, with no trailer at all.
const (
	ChecksumNone ChecksumScheme = iota
	ChecksumSHA2_256
	ChecksumSHA2_512
	ChecksumBLAKE2s
	ChecksumBLAKE2b
	ChecksumSHA3_256
	ChecksumSHA3_512
)

// Valid returns nil iff c is a known checksum scheme.
func (c ChecksumScheme) Valid() error {
	switch c {
	case ChecksumNone, ChecksumSHA2_256, ChecksumSHA2_512, ChecksumBLAKE2s, ChecksumBLAKE2b, ChecksumSHA3_256, ChecksumSHA3_512:
		return nil
	}
	return errors.Reason("unknown checksum scheme %(c)x").D("c", byte(c)).Err()
}

// Hash returns a fresh hash.Hash for the scheme. Panics if c is invalid or
// ChecksumNone (callers must special-case ChecksumNone, which has no hash).
func (c ChecksumScheme) Hash() hash.Hash {
	switch c {
	case ChecksumSHA2_256:
		return sha256.New()
	case ChecksumSHA2_512:
		return sha512.New()
	case ChecksumBLAKE2s:
		h, _ := blake2s.New256(nil)
		return h
	case ChecksumBLAKE2b:
		h, _ := blake2b.New512(nil)
		return h
	case ChecksumSHA3_256:
		return sha3.New256()
	case ChecksumSHA3_512:
		return sha3.New512()
	}
	panic(c.Valid())
}

// AppendChecksumTrailer appends a trailer of c.Hash().Sum(payload) to
// payload. When c is ChecksumNone, payload is returned unmodified so the
// default on-disk layout is untouched.
func AppendChecksumTrailer(payload []byte, c ChecksumScheme) []byte {
	if c == ChecksumNone {
		return payload
	}
	h := c.Hash()
	h.Write(payload)
	return h.Sum(append([]byte(nil), payload...))
}

// VerifyChecksumTrailer splits data into its payload and trailer according
// to scheme, and verifies the trailer. When scheme is ChecksumNone, data is
// returned unchanged.
func VerifyChecksumTrailer(data []byte, c ChecksumScheme) (payload []byte, err error) {
	if c == ChecksumNone {
		return data, nil
	}
	if err := c.Valid(); err != nil {
		return nil, err
	}
	size := c.Hash().Size()
	if len(data) < size {
		return nil, &CorruptError{Reason: "index checksum trailer truncated"}
	}
	split := len(data) - size
	payload, trailer := data[:split], data[split:]

	h := c.Hash()
	h.Write(payload)
	want := h.Sum(nil)
	if !bytes.Equal(want, trailer) {
		return nil, &CorruptError{Reason: "index checksum mismatch"}
	}
	return payload, nil
}
