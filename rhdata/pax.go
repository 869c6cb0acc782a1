// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package rhdata

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/luci/luci-go/common/errors"
)

// PaxRecord is a single "<len> <key>=<value>\n" record of a PAX extended
// header.
type PaxRecord struct {
	Key   string
	Value string
}

// formatRecord renders a single PAX record, computing <len> by the usual
// fixed-point iteration: the length field includes its own digit count, so
// growing the digit count can push the total length into the next decimal
// width.
func formatRecord(key, value string) string {
	suffix := fmt.Sprintf(" %s=%s\n", key, value)
	length := len(suffix) + 1 // start with a 1-digit length guess
	for {
		candidate := len(strconv.Itoa(length)) + len(suffix)
		if candidate == length {
			break
		}
		length = candidate
	}
	return strconv.Itoa(length) + suffix
}

// EncodePaxEntry renders one complete PAX extended-header entry (ustar
// header with typeflag 'x', payload, zero-pad to the next 512-byte
// boundary) carrying records in the given order.
//
// name is the placeholder ustar name for the PAX header block itself; it is
// never interpreted by robohen, but conforming tar readers display it, so
// callers pass something recognizable (e.g. the logical file's name).
func EncodePaxEntry(name string, records []PaxRecord) ([]byte, error) {
	var payload strings.Builder
	for _, rec := range records {
		payload.WriteString(formatRecord(rec.Key, rec.Value))
	}
	body := []byte(payload.String())

	h := &UstarHeader{
		Name:     name,
		Size:     uint64(len(body)),
		Typeflag: TypePaxExtended,
	}
	header, err := h.Encode()
	if err != nil {
		return nil, errors.Annotate(err).Reason("encoding PAX header").Err()
	}

	out := make([]byte, 0, len(header)+int(PaddedSize(uint64(len(body)))))
	out = append(out, header...)
	out = append(out, body...)
	out = append(out, make([]byte, PaddedSize(uint64(len(body)))-uint64(len(body)))...)
	return out, nil
}

// DecodePaxPayload parses a PAX extended-header payload into its records,
// in on-disk order. It rejects any record whose declared length does not
// match its on-disk length.
func DecodePaxPayload(payload []byte) ([]PaxRecord, error) {
	var records []PaxRecord
	buf := payload
	for len(buf) > 0 {
		sp := indexByte(buf, ' ')
		if sp < 0 {
			return nil, &CorruptError{Reason: "PAX record missing length prefix"}
		}
		declLen, err := strconv.Atoi(string(buf[:sp]))
		if err != nil || declLen <= sp {
			return nil, &CorruptError{Reason: "PAX record has invalid length prefix"}
		}
		if declLen > len(buf) {
			return nil, &CorruptError{Reason: "PAX record length exceeds remaining payload"}
		}
		record := buf[:declLen]
		if record[len(record)-1] != '\n' {
			return nil, &CorruptError{Reason: "PAX record missing trailing newline"}
		}
		kv := record[sp+1 : len(record)-1]
		eq := indexByte(kv, '=')
		if eq < 0 {
			return nil, &CorruptError{Reason: "PAX record missing '=' separator"}
		}
		records = append(records, PaxRecord{Key: string(kv[:eq]), Value: string(kv[eq+1:])})
		buf = buf[declLen:]
	}
	return records, nil
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

// ParsedEntry is the merged result of reading every PAX extended header
// immediately preceding a ustar header, plus the ustar header itself.
type ParsedEntry struct {
	Ustar       *UstarHeader
	Attrs       map[string]string
	HeaderBlock uint64 // header offset, relative to start of read
	HeaderCount uint64 // number of 512-byte blocks consumed by PAX+ustar headers
}

// ReadEntryHeaders reads zero or more consecutive PAX extended-header
// blocks followed by the terminating ustar header from r, merging all PAX
// records into a single attribute map (later PAX blocks win on key
// collision, though robohen itself never emits overlapping keys across its
// two PAX headers).
//
// r must be positioned at the start of a 512-byte-aligned header block.
func ReadEntryHeaders(r *bufio.Reader) (*ParsedEntry, error) {
	attrs := map[string]string{}
	var blocks uint64

	for {
		block := make([]byte, BlockSize)
		if _, err := io.ReadFull(r, block); err != nil {
			return nil, err
		}
		blocks++

		h, err := DecodeUstarHeader(block)
		if err != nil {
			return nil, err
		}

		if h.Typeflag != TypePaxExtended {
			return &ParsedEntry{Ustar: h, Attrs: attrs, HeaderCount: blocks}, nil
		}

		payloadBlocks := UsedBlocks(h.Size)
		payload := make([]byte, payloadBlocks*BlockSize)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
		blocks += payloadBlocks

		records, err := DecodePaxPayload(payload[:h.Size])
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			attrs[rec.Key] = rec.Value
		}
	}
}

// SortedAttrKeys returns all keys of attrs in sorted order,
// useful for deterministic PAX record emission order in tests.
func SortedAttrKeys(attrs map[string]string) []string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
