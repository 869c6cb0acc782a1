// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package rhdata

import (
	"io"
	"sync"

	"github.com/luci/luci-go/common/errors"
	"github.com/luci/luci-go/common/iotools"
)

// handle is the minimal file-like surface BlockIO needs. *os.File satisfies
// it; tests substitute an in-memory fake.
type handle interface {
	io.ReadWriteSeeker
	Truncate(size int64) error
	Sync() error
}

// BlockIO is a sector-aligned, position-tracked reader/writer over a single
// shared file handle. Every call re-seeks the handle only when the cached
// position disagrees with the target offset, which both avoids redundant
// syscalls and defends against external code sharing the same descriptor.
//
// IO is issued in transfers of at most bufferSize bytes (rounded up to a
// multiple of sectorSize); callers of ReadAt/WriteAt may ask for any
// length, which is internally split into ceil(len/bufferSize) transfers.
// Transfers start at the caller's offset: neither the offset nor the last
// transfer's length is rounded to a sector boundary.
type BlockIO struct {
	mu sync.Mutex

	h   handle
	pos int64

	sectorSize uint64
	bufferSize uint64
}

// New wraps h for sector-aligned access. sectorSize must be a power of two;
// bufferSize is rounded up to the next multiple of sectorSize.
func New(h handle, sectorSize, targetBufferSize uint64) *BlockIO {
	if sectorSize == 0 {
		sectorSize = 512
	}
	bufferSize := roundUp(targetBufferSize, sectorSize)
	if bufferSize == 0 {
		bufferSize = sectorSize
	}
	return &BlockIO{h: h, pos: -1, sectorSize: sectorSize, bufferSize: bufferSize}
}

func roundUp(n, align uint64) uint64 {
	if align == 0 {
		return n
	}
	return (n + align - 1) / align * align
}

func (b *BlockIO) seekTo(offset int64) error {
	if b.pos == offset {
		return nil
	}
	pos, err := b.h.Seek(offset, io.SeekStart)
	if err != nil {
		return &IoError{Kind: "seek", Offset: offset, Err: err}
	}
	b.pos = pos
	return nil
}

// ReadAt reads exactly len bytes starting at offset, issued as
// ceil(len/bufferSize) transfers.
func (b *BlockIO) ReadAt(offset int64, length int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.seekTo(offset); err != nil {
		return nil, err
	}

	out := make([]byte, length)
	cr := &iotools.CountingReader{Reader: b.h}
	remaining := out
	for len(remaining) > 0 {
		chunk := remaining
		if uint64(len(chunk)) > b.bufferSize {
			chunk = chunk[:b.bufferSize]
		}
		n, err := io.ReadFull(cr, chunk)
		b.pos += int64(n)
		if err != nil {
			return nil, &IoError{Kind: "read", Offset: offset, Err: err}
		}
		remaining = remaining[n:]
	}
	return out, nil
}

// WriteAt writes all of data starting at offset, issued as
// ceil(len(data)/bufferSize) transfers. Partial writes from the
// underlying handle are retried until the transfer completes or a fatal
// error is reported.
func (b *BlockIO) WriteAt(offset int64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.seekTo(offset); err != nil {
		return err
	}

	cw := &iotools.CountingWriter{Writer: b.h}
	remaining := data
	for len(remaining) > 0 {
		chunk := remaining
		if uint64(len(chunk)) > b.bufferSize {
			chunk = chunk[:b.bufferSize]
		}
		written := 0
		for written < len(chunk) {
			n, err := cw.Write(chunk[written:])
			b.pos += int64(n)
			written += n
			if err != nil {
				return &IoError{Kind: "write", Offset: offset, Err: err}
			}
			if n == 0 {
				return &IoError{Kind: "write", Offset: offset, Err: errors.New("zero-byte write with no error")}
			}
		}
		remaining = remaining[len(chunk):]
	}
	return nil
}

// Truncate resizes the underlying handle to exactly size bytes.
func (b *BlockIO) Truncate(size int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.h.Truncate(size); err != nil {
		return &IoError{Kind: "truncate", Offset: size, Err: err}
	}
	if b.pos > size {
		b.pos = -1
	}
	return nil
}

// Flush forces any buffered writes to stable storage.
func (b *BlockIO) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.h.Sync(); err != nil {
		return &IoError{Kind: "flush", Offset: b.pos, Err: err}
	}
	return nil
}

// Size returns the current length of the underlying handle.
func (b *BlockIO) Size() (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, err := b.h.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, &IoError{Kind: "seek", Offset: 0, Err: err}
	}
	end, err := b.h.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, &IoError{Kind: "seek", Offset: 0, Err: err}
	}
	if _, err := b.h.Seek(cur, io.SeekStart); err != nil {
		return 0, &IoError{Kind: "seek", Offset: cur, Err: err}
	}
	b.pos = cur
	return end, nil
}

// SectorSize returns the configured sector size.
func (b *BlockIO) SectorSize() uint64 { return b.sectorSize }

// BufferSize returns the configured (rounded) buffer size.
func (b *BlockIO) BufferSize() uint64 { return b.bufferSize }
