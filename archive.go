// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package robohen

import (
	"context"
	"os"
	"sync"

	"github.com/luci/luci-go/common/errors"
	"github.com/luci/luci-go/common/logging"

	"github.com/coreshard/robohen/rhdata"
	"github.com/coreshard/robohen/rhdata/index"
)

// Reserved physical entry names. Neither is ever exposed through
// ListRawEntries or ListFiles; both are ordinary physical entries in every
// other respect, so any conforming tar reader will happily list them too.
const (
	indexPointerName = ".robohen.index.ptr"
	indexDataName    = ".robohen.index.data"
)

func isReservedPhysicalName(name string) bool {
	return name == indexPointerName || name == indexDataName
}

// Archive is a single open robohen archive. All operations are safe for
// concurrent use; the archive itself holds a single underlying handle and
// serializes access to it behind one mutex, per spec §4.7 ("single-handle
// concurrency discipline").
type Archive struct {
	mu sync.Mutex

	f   *os.File
	io  *rhdata.BlockIO
	cfg Config

	cache        *Cache
	pointerEntry *Entry
	indexEntry   *Entry // nil until the index has been written at least once

	indexExists bool // mirrors spec §4.7's "index-exists" flag
	closed      bool
}

// Create creates a new archive at path, truncating any existing file, and
// writes the reserved index-pointer entry (reservation value 0; see spec
// §4.6).
func Create(path string, opts ...Option) (*Archive, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, errors.Annotate(err).Reason("creating %(path)q").D("path", path).Err()
	}

	a, err := newArchive(f, opts)
	if err != nil {
		f.Close()
		return nil, err
	}

	b, err := layoutEntry(indexPointerName, map[string]string{rhdata.AttrIndexOffset: encodeOffsetAttr(0)}, nil)
	if err != nil {
		f.Close()
		return nil, err
	}
	ptr, err := a.commit(b, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	a.pointerEntry = ptr

	logging.Debugf(context.Background(), "robohen: created archive %s", path)
	return a, nil
}

// Open opens an existing archive at path. It trusts the persistent index
// when present and its recorded size matches the file's current size (spec
// §4.6); otherwise it falls back to a full forward scan.
func Open(path string, opts ...Option) (*Archive, error) {
	flag := os.O_RDWR
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, errors.Annotate(err).Reason("opening %(path)q").D("path", path).Err()
	}

	a, err := newArchive(f, opts)
	if err != nil {
		f.Close()
		return nil, err
	}

	if err := a.loadOrRebuild(); err != nil {
		f.Close()
		return nil, err
	}
	return a, nil
}

func newArchive(f *os.File, opts []Option) (*Archive, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	sectorSize := cfg.SectorSize
	if sectorSize == 0 {
		if cfg.ProbeSectorSize {
			sectorSize = rhdata.ProbeSectorSize(f)
		} else {
			sectorSize = rhdata.DefaultSectorSize
		}
	}

	return &Archive{
		f:     f,
		io:    rhdata.New(f, sectorSize, cfg.TargetBufferSize),
		cfg:   cfg,
		cache: NewCache(),
	}, nil
}

// loadOrRebuild implements the Open-time index-validation algorithm of
// spec §4.6.
func (a *Archive) loadOrRebuild() error {
	size, err := a.io.Size()
	if err != nil {
		return err
	}
	if size == 0 {
		return &CorruptError{Reason: "archive is empty"}
	}

	ptr, err := a.readPhysicalEntryAt(0)
	if err != nil {
		return errors.Annotate(err).Reason("reading index pointer entry").Err()
	}
	a.pointerEntry = ptr
	if err := a.cache.Add(ptr); err != nil {
		return err
	}

	if idxOffset, ok := ptr.uintAttr(rhdata.AttrIndexOffset); ok {
		if err := a.tryLoadIndex(idxOffset, uint64(size)); err == nil {
			return nil
		}
		logging.Warningf(context.Background(), "robohen: index at offset %d unusable, rebuilding by full scan", idxOffset)
	}

	return a.rebuildByScan(uint64(size))
}

// tryLoadIndex reads the index entry at offset, validates its recorded size
// against currentSize, and if valid, populates the cache directly from its
// offset list (no scan needed).
func (a *Archive) tryLoadIndex(offset, currentSize uint64) error {
	idxEntry, err := a.readPhysicalEntryAt(offset)
	if err != nil {
		return err
	}
	raw, err := a.io.ReadAt(int64(idxEntry.DataOffset), int(idxEntry.Size))
	if err != nil {
		return err
	}
	payload, err := rhdata.VerifyChecksumTrailer(raw, a.cfg.ChecksumScheme)
	if err != nil {
		return err
	}
	idx, err := index.Decode(payload)
	if err != nil {
		return err
	}
	if !idx.Valid(currentSize) {
		return errors.Reason("index size %(idx)d does not match archive size %(cur)d").
			D("idx", idx.Size).D("cur", currentSize).Err()
	}

	for _, off := range idx.Offsets {
		e, err := a.readPhysicalEntryAt(off)
		if err != nil {
			return err
		}
		if err := a.cache.Add(e); err != nil {
			return err
		}
	}
	a.indexEntry = idxEntry
	if err := a.cache.Add(idxEntry); err != nil {
		return err
	}
	a.indexExists = true
	return nil
}

// rebuildByScan walks the whole archive from offset 0, resynchronizing past
// any unreadable or zeroed region (soft-deleted headers, orphaned payload
// bytes, the final end-of-archive markers). See DESIGN.md: since a
// soft-deleted entry's header is zeroed but its payload is left in place,
// a correct scanner cannot always tell where a deleted entry's footprint
// ends, so it resynchronizes one block at a time whenever it cannot decode
// a valid header. In practice a checksummed ustar header essentially never
// appears by chance in file payload bytes, so this reliably finds every
// live entry.
func (a *Archive) rebuildByScan(size uint64) error {
	a.cache = NewCache()
	var offset uint64

	// A trailing partial block (e.g. bytes appended by a foreign tool) can't
	// hold a header, so the scan stops before it.
	for offset+rhdata.BlockSize <= size {
		block, err := a.io.ReadAt(int64(offset), rhdata.BlockSize)
		if err != nil {
			return err
		}
		if rhdata.IsZeroBlock(block) {
			offset += rhdata.BlockSize
			continue
		}

		e, total, err := a.scanEntryAt(offset)
		if err != nil {
			offset += rhdata.BlockSize
			continue
		}

		switch e.Name {
		case indexPointerName:
			a.pointerEntry = e
		case indexDataName:
			// Its presence on disk doesn't mean it's trustworthy -- that's
			// exactly what the pointer-size check just failed to confirm --
			// but persistIndex still needs to know to soft-delete it at
			// Close, so it's tracked the same as any other stale index
			// entry, just never marked indexExists.
			a.indexEntry = e
		}
		if err := a.cache.Add(e); err != nil {
			return err
		}
		offset += total
	}

	if a.pointerEntry == nil {
		return &CorruptError{Reason: "archive has no index pointer entry"}
	}
	return nil
}

// readPhysicalEntryAt decodes the full two-PAX-header entry at offset, with
// no tolerance for resynchronization (used once the caller already knows a
// valid entry starts there, e.g. following the index or a chain link).
func (a *Archive) readPhysicalEntryAt(offset uint64) (*Entry, error) {
	e, _, err := a.scanEntryAt(offset)
	return e, err
}

// scanEntryAt decodes the path-PAX, attrs-PAX, and ustar headers starting
// at offset and returns the resulting Entry plus its total on-disk
// footprint (header blocks + padded payload).
func (a *Archive) scanEntryAt(offset uint64) (*Entry, uint64, error) {
	pathHeader, pathAttrs, pathBlocks, err := a.readOnePaxBlock(offset)
	if err != nil {
		return nil, 0, err
	}
	if pathHeader.Typeflag != rhdata.TypePaxExtended {
		return nil, 0, &CorruptError{Reason: "expected leading path PAX header", Offset: int64(offset)}
	}
	name, ok := pathAttrs[rhdata.PathRecordKey]
	if !ok {
		return nil, 0, &CorruptError{Reason: "path PAX header missing path record", Offset: int64(offset)}
	}

	attrsOffset := offset + pathBlocks*rhdata.BlockSize
	attrsHeader, attrs, attrsBlocks, err := a.readOnePaxBlock(attrsOffset)
	if err != nil {
		return nil, 0, err
	}
	if attrsHeader.Typeflag != rhdata.TypePaxExtended {
		return nil, 0, &CorruptError{Reason: "expected attrs PAX header", Offset: int64(attrsOffset)}
	}

	ustarOffset := attrsOffset + attrsBlocks*rhdata.BlockSize
	ustarBlock, err := a.io.ReadAt(int64(ustarOffset), rhdata.BlockSize)
	if err != nil {
		return nil, 0, err
	}
	ustar, err := rhdata.DecodeUstarHeader(ustarBlock)
	if err != nil {
		return nil, 0, err
	}

	headerBlocks := pathBlocks + attrsBlocks + 1
	e := &Entry{
		Name:         name,
		Size:         ustar.Size,
		HeaderOffset: offset,
		PathBlocks:   pathBlocks,
		AttrsBlocks:  attrsBlocks,
		HeaderBlocks: headerBlocks,
		DataOffset:   offset + headerBlocks*rhdata.BlockSize,
		Attrs:        attrs,
	}
	total := headerBlocks*rhdata.BlockSize + rhdata.PaddedSize(ustar.Size)
	return e, total, nil
}

// readOnePaxBlock decodes a single ustar-format header block at offset and,
// if it is a PAX extended header, its payload, returning the decoded
// records as a map and the number of 512-byte blocks consumed (header
// included). If the block is not a PAX header, attrs is nil and blocks is 1;
// the caller is responsible for deciding whether that's expected.
func (a *Archive) readOnePaxBlock(offset uint64) (*rhdata.UstarHeader, map[string]string, uint64, error) {
	block, err := a.io.ReadAt(int64(offset), rhdata.BlockSize)
	if err != nil {
		return nil, nil, 0, err
	}
	h, err := rhdata.DecodeUstarHeader(block)
	if err != nil {
		return nil, nil, 0, err
	}
	if h.Typeflag != rhdata.TypePaxExtended {
		return h, nil, 1, nil
	}

	payloadBlocks := rhdata.UsedBlocks(h.Size)
	payload, err := a.io.ReadAt(int64(offset)+rhdata.BlockSize, int(payloadBlocks*rhdata.BlockSize))
	if err != nil {
		return nil, nil, 0, err
	}
	records, err := rhdata.DecodePaxPayload(payload[:h.Size])
	if err != nil {
		return nil, nil, 0, err
	}
	attrs := map[string]string{}
	for _, rec := range records {
		attrs[rec.Key] = rec.Value
	}
	return h, attrs, 1 + payloadBlocks, nil
}

// persistIndex writes a fresh index entry reflecting the current cache
// contents, soft-deletes the previous one (if any), and patches the
// pointer entry to reference it. Called at Close.
func (a *Archive) persistIndex() error {
	var offsets []uint64
	for _, e := range a.cache.All() {
		if e.HeaderOffset == a.pointerEntry.HeaderOffset {
			continue
		}
		if a.indexEntry != nil && e.HeaderOffset == a.indexEntry.HeaderOffset {
			continue
		}
		offsets = append(offsets, e.HeaderOffset)
	}

	if a.indexEntry != nil {
		if err := a.zeroHeader(a.indexEntry); err != nil {
			return err
		}
		a.cache.Remove(a.indexEntry)
		a.indexEntry = nil
	}

	tail := a.cache.TailOffset()

	// index.Encode's slot 0 (Size) is a fixed 8-byte field, so re-encoding
	// with the real final size below never changes the payload's length:
	// one dry-run layout is enough to know exactly where the trailing
	// end-of-archive marker will land.
	dryPayload := rhdata.AppendChecksumTrailer(index.Encode(index.Index{Offsets: offsets}), a.cfg.ChecksumScheme)
	dry, err := layoutEntry(indexDataName, map[string]string{}, dryPayload)
	if err != nil {
		return err
	}
	finalSize := tail + dry.totalSize() + uint64(len(rhdata.EndOfArchiveMarker()))

	idxPayload := rhdata.AppendChecksumTrailer(index.Encode(index.Index{Size: finalSize, Offsets: offsets}), a.cfg.ChecksumScheme)
	b, err := layoutEntry(indexDataName, map[string]string{}, idxPayload)
	if err != nil {
		return err
	}
	e, err := a.commit(b, tail)
	if err != nil {
		return err
	}
	a.indexEntry = e

	ptrAttrs := map[string]string{rhdata.AttrIndexOffset: encodeOffsetAttr(e.HeaderOffset)}
	block, err := rhdata.EncodePaxEntry(a.pointerEntry.Name, attrRecords(ptrAttrs))
	if err != nil {
		return err
	}
	if uint64(len(block)) != a.pointerEntry.AttrsBlocks*rhdata.BlockSize {
		return errors.Reason("index pointer attrs block size mismatch on update").Err()
	}
	if err := a.io.WriteAt(int64(a.pointerEntry.AttrsOffset()), block); err != nil {
		return err
	}
	a.pointerEntry.Attrs = ptrAttrs
	a.indexExists = true
	return nil
}

// Close finalizes the archive: it writes a fresh persistent index if the
// current one is missing or stale, appends the two trailing end-of-archive
// zero blocks, truncates away any stale bytes beyond them, and closes the
// underlying file.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	defer func() { a.closed = true }()

	if a.cfg.ReadOnly {
		if err := a.f.Close(); err != nil {
			return &IoError{Kind: "close", Err: err}
		}
		return nil
	}

	if !a.indexExists {
		if err := a.persistIndex(); err != nil {
			return err
		}
	}

	tail := a.cache.TailOffset()
	marker := rhdata.EndOfArchiveMarker()
	if err := a.io.WriteAt(int64(tail), marker); err != nil {
		return err
	}
	finalSize := tail + uint64(len(marker))
	if err := a.io.Truncate(int64(finalSize)); err != nil {
		return err
	}
	if err := a.io.Flush(); err != nil {
		return err
	}
	if err := a.f.Close(); err != nil {
		return &IoError{Kind: "close", Err: err}
	}
	return nil
}

func (a *Archive) checkWritable() error {
	if a.closed {
		return &IoError{Kind: "write", Err: errors.Reason("archive is closed").Err()}
	}
	if a.cfg.ReadOnly {
		return &ReadOnlyError{}
	}
	return nil
}
