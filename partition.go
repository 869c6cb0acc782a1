// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package robohen

import (
	"github.com/luci/luci-go/common/errors"

	"github.com/coreshard/robohen/rhdata"
)

// attrOrder is the canonical emission order of ROBOHEN_* records, used so
// that re-encoding the same logical attribute set always produces the same
// bytes (a prerequisite for patch-in-place: the record we're not changing
// must land at the same offset every time).
var attrOrder = []string{
	rhdata.AttrFileName,
	rhdata.AttrNextPartOffset,
	rhdata.AttrPrevPartOffset,
	rhdata.AttrPartSuffix,
	rhdata.AttrIndexOffset,
}

func attrRecords(attrs map[string]string) []rhdata.PaxRecord {
	records := make([]rhdata.PaxRecord, 0, len(attrs))
	for _, key := range attrOrder {
		if v, ok := attrs[key]; ok {
			records = append(records, rhdata.PaxRecord{Key: key, Value: v})
		}
	}
	return records
}

// builtEntry is the result of laying out one physical entry's bytes before
// it is written: everything the Entry cache record needs, plus the raw
// bytes to write at a chosen offset.
type builtEntry struct {
	name        string
	attrs       map[string]string
	data        []byte
	pathBlocks  uint64
	attrsBlocks uint64
	raw         []byte // path-PAX + attrs-PAX + ustar + padded data
}

// layoutEntry computes the on-disk bytes for a physical entry without
// choosing its offset, so that chain layout (§4.4 step 3) can be computed
// in a first pass before any bytes are written.
func layoutEntry(name string, attrs map[string]string, data []byte) (*builtEntry, error) {
	pathBlock, err := rhdata.EncodePaxEntry(name, []rhdata.PaxRecord{{Key: rhdata.PathRecordKey, Value: name}})
	if err != nil {
		return nil, errors.Annotate(err).Reason("encoding path PAX header for %(name)q").D("name", name).Err()
	}

	attrsBlock, err := rhdata.EncodePaxEntry(name, attrRecords(attrs))
	if err != nil {
		return nil, errors.Annotate(err).Reason("encoding attrs PAX header for %(name)q").D("name", name).Err()
	}

	ustarName := name
	if len(ustarName) > 100 {
		ustarName = ustarName[:100]
	}
	ustarHeader := &rhdata.UstarHeader{Name: ustarName, Size: uint64(len(data))}
	ustarBytes, err := ustarHeader.Encode()
	if err != nil {
		return nil, errors.Annotate(err).Reason("encoding ustar header for %(name)q").D("name", name).Err()
	}

	padded := rhdata.PaddedSize(uint64(len(data)))
	raw := make([]byte, 0, len(pathBlock)+len(attrsBlock)+len(ustarBytes)+int(padded))
	raw = append(raw, pathBlock...)
	raw = append(raw, attrsBlock...)
	raw = append(raw, ustarBytes...)
	raw = append(raw, data...)
	raw = append(raw, make([]byte, padded-uint64(len(data)))...)

	return &builtEntry{
		name:        name,
		attrs:       attrs,
		data:        data,
		pathBlocks:  uint64(len(pathBlock)) / rhdata.BlockSize,
		attrsBlocks: uint64(len(attrsBlock)) / rhdata.BlockSize,
		raw:         raw,
	}, nil
}

func (b *builtEntry) headerBlocks() uint64 {
	return b.pathBlocks + b.attrsBlocks + 1
}

func (b *builtEntry) totalSize() uint64 {
	return b.headerBlocks()*rhdata.BlockSize + rhdata.PaddedSize(uint64(len(b.data)))
}

// commit writes b at offset, registers the resulting Entry in the cache,
// and returns it.
func (a *Archive) commit(b *builtEntry, offset uint64) (*Entry, error) {
	if err := a.io.WriteAt(int64(offset), b.raw); err != nil {
		return nil, err
	}
	e := &Entry{
		Name:         b.name,
		Size:         uint64(len(b.data)),
		HeaderOffset: offset,
		PathBlocks:   b.pathBlocks,
		AttrsBlocks:  b.attrsBlocks,
		HeaderBlocks: b.headerBlocks(),
		Attrs:        b.attrs,
	}
	e.DataOffset = offset + e.HeaderBlocks*rhdata.BlockSize
	if err := a.cache.Add(e); err != nil {
		return nil, err
	}
	return e, nil
}

// writeSingleEntry writes a non-partitioned logical file: one physical
// entry named exactly F, carrying only ROBOHEN_FILE_NAME. See spec §8
// scenario 1.
func (a *Archive) writeSingleEntry(name string, data []byte) (*Entry, error) {
	b, err := layoutEntry(name, map[string]string{rhdata.AttrFileName: name}, data)
	if err != nil {
		return nil, err
	}
	offset := a.cache.TailOffset()
	return a.commit(b, offset)
}

// writeChain writes a fresh multi-partition chain for logical file name,
// choosing a collision suffix if needed, laying out every partition's
// bytes in a first pass (so every NEXT/PREV offset is known up front) and
// writing them in a second pass. See spec §4.4 steps 3-4 and §4.4.2.
func (a *Archive) writeChain(name string, data []byte) ([]*Entry, error) {
	maxPart := a.cfg.MaxPartitionSize
	n := int((uint64(len(data)) + maxPart - 1) / maxPart)
	if n == 0 {
		n = 1
	}

	suffix := ""
	if a.partitionNameTaken(name, "", n) {
		suffix = chooseSuffix(func(s string) bool {
			return a.partitionNameTaken(name, s, n)
		})
	}

	names := make([]string, n)
	for k := 1; k <= n; k++ {
		names[k-1] = partitionName(name, suffix, k)
	}

	builts := make([]*builtEntry, n)
	for k := 0; k < n; k++ {
		start := uint64(k) * maxPart
		end := start + maxPart
		if end > uint64(len(data)) {
			end = uint64(len(data))
		}

		attrs := map[string]string{
			rhdata.AttrNextPartOffset: encodeOffsetAttr(0),
			rhdata.AttrPrevPartOffset: encodeOffsetAttr(0),
		}
		if k == 0 {
			attrs[rhdata.AttrFileName] = name
			if suffix != "" {
				attrs[rhdata.AttrPartSuffix] = suffix
			}
		}

		b, err := layoutEntry(names[k], attrs, data[start:end])
		if err != nil {
			return nil, err
		}
		builts[k] = b
	}

	offsets := make([]uint64, n)
	offsets[0] = a.cache.TailOffset()
	for k := 0; k < n-1; k++ {
		offsets[k+1] = offsets[k] + builts[k].totalSize()
	}

	for k := 0; k < n; k++ {
		if k > 0 {
			builts[k].attrs[rhdata.AttrPrevPartOffset] = encodeOffsetAttr(offsets[k-1])
		}
		if k < n-1 {
			builts[k].attrs[rhdata.AttrNextPartOffset] = encodeOffsetAttr(offsets[k+1])
		}
		// attrs map mutated after layout; re-layout so raw bytes match (the
		// attrs PAX block's blocks count never changes: every key here is
		// fixed-width or was already included with its final value).
		rebuilt, err := layoutEntry(builts[k].name, builts[k].attrs, builts[k].data)
		if err != nil {
			return nil, err
		}
		builts[k] = rebuilt
	}

	entries := make([]*Entry, n)
	for k := 0; k < n; k++ {
		e, err := a.commit(builts[k], offsets[k])
		if err != nil {
			return nil, err
		}
		entries[k] = e
	}
	return entries, nil
}

// partitionNameTaken reports whether any of base[.suffix].part1..N collides
// with an existing cache entry.
func (a *Archive) partitionNameTaken(base, suffix string, n int) bool {
	for k := 1; k <= n; k++ {
		if _, ok := a.cache.ByName(partitionName(base, suffix, k)); ok {
			return true
		}
	}
	return false
}

// writeLogical implements the full create-or-replace algorithm of spec
// §4.4: soft-delete any existing chain for name, then write a fresh single
// entry or chain depending on size.
func (a *Archive) writeLogical(name string, data []byte) ([]*Entry, error) {
	if err := a.deleteLogicalIfExists(name); err != nil {
		return nil, err
	}
	if uint64(len(data)) <= a.cfg.MaxPartitionSize {
		e, err := a.writeSingleEntry(name, data)
		if err != nil {
			return nil, err
		}
		return []*Entry{e}, nil
	}
	return a.writeChain(name, data)
}

// zeroHeader overwrites every header block of e (both PAX headers and the
// ustar header) with zero bytes: a soft delete. Payload bytes are left
// alone (orphaned), per spec §3 invariant 6 and the Glossary.
func (a *Archive) zeroHeader(e *Entry) error {
	zeros := make([]byte, e.HeaderBlocks*rhdata.BlockSize)
	return a.io.WriteAt(int64(e.HeaderOffset), zeros)
}

// deleteLogicalIfExists soft-deletes the chain (or single entry) currently
// identified by ROBOHEN_FILE_NAME == name, if any, removing every
// partition from the cache. It is not an error for name to be absent.
func (a *Archive) deleteLogicalIfExists(name string) error {
	head := a.findHead(name)
	if head == nil {
		return nil
	}
	chain, err := a.resolveChain(head)
	if err != nil {
		return err
	}
	for _, e := range chain {
		if err := a.zeroHeader(e); err != nil {
			return err
		}
		a.cache.Remove(e)
	}
	return nil
}

// findHead returns the head partition (or lone entry) whose
// ROBOHEN_FILE_NAME equals name, or nil.
func (a *Archive) findHead(name string) *Entry {
	for _, e := range a.cache.All() {
		if v, ok := e.FileName(); ok && v == name {
			return e
		}
	}
	return nil
}

// resolveChain returns every partition of head's chain, in order
// (head.. tail), or just []*Entry{head} if head is not partitioned.
func (a *Archive) resolveChain(head *Entry) ([]*Entry, error) {
	if !head.IsPartition() {
		return []*Entry{head}, nil
	}
	return a.cache.Chain(head)
}

// patchLink rewrites just the attrs PAX entry of e in place with new
// NEXT/PREV values. Both attribute values are fixed-width (see
// encodeOffsetAttr), so re-encoding the attrs PAX payload always produces
// exactly e.AttrsBlocks*512 bytes: the rewrite never touches anything past
// that block range.
func (a *Archive) patchLink(e *Entry, next, prev uint64) error {
	attrs := map[string]string{}
	for k, v := range e.Attrs {
		attrs[k] = v
	}
	attrs[rhdata.AttrNextPartOffset] = encodeOffsetAttr(next)
	attrs[rhdata.AttrPrevPartOffset] = encodeOffsetAttr(prev)

	block, err := rhdata.EncodePaxEntry(e.Name, attrRecords(attrs))
	if err != nil {
		return errors.Annotate(err).Reason("re-encoding attrs PAX header for %(name)q").D("name", e.Name).Err()
	}
	if uint64(len(block)) != e.AttrsBlocks*rhdata.BlockSize {
		return &CorruptError{Reason: "patched attrs PAX header would change size", Offset: int64(e.AttrsOffset())}
	}
	if err := a.io.WriteAt(int64(e.AttrsOffset()), block); err != nil {
		return err
	}
	e.Attrs = attrs
	return nil
}

// patchUstarSize rewrites just e's ustar header block in place with a new
// Size field (used by Truncate, §4.4.3).
func (a *Archive) patchUstarSize(e *Entry, newSize uint64) error {
	h := &rhdata.UstarHeader{Name: e.Name, Size: newSize}
	if len(e.Name) > 100 {
		h.Name = e.Name[:100]
	}
	block, err := h.Encode()
	if err != nil {
		return err
	}
	if err := a.io.WriteAt(int64(e.UstarOffset()), block); err != nil {
		return err
	}
	e.Size = newSize
	return nil
}

// patchPath rewrites e's leading "path" PAX entry in place with a new
// name. The rewrite must fit within e's existing PathBlocks; see
// DESIGN.md for the (documented) limitation this implies for pathological
// renames that cross a 512-byte payload boundary.
func (a *Archive) patchPath(e *Entry, newName string) error {
	block, err := rhdata.EncodePaxEntry(newName, []rhdata.PaxRecord{{Key: rhdata.PathRecordKey, Value: newName}})
	if err != nil {
		return err
	}
	if uint64(len(block)) != e.PathBlocks*rhdata.BlockSize {
		return &CorruptError{Reason: "renamed path PAX header would change size", Offset: int64(e.HeaderOffset)}
	}
	if err := a.io.WriteAt(int64(e.HeaderOffset), block); err != nil {
		return err
	}
	oldName := e.Name
	e.Name = newName
	a.cache.Rename(e, oldName)
	return nil
}
