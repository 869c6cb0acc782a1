// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package robohen

import "github.com/luci/luci-go/common/errors"

// Cache is the in-memory index of all physical entries, keyed by name and
// by header offset, both preserving insertion order. See spec §4.3.
//
// Cache mutations are driven only by: creation/modification/deletion of a
// ROBOHEN_* attribute, close of a write, creation of a partition, and
// conversion of a non-partitioned file to partitioned -- i.e. every path
// that changes on-disk entry metadata goes through Add/Remove/Rename here.
type Cache struct {
	byName   map[string]*Entry
	byOffset map[uint64]*Entry
	order    []uint64 // header offsets, in insertion order
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		byName:   map[string]*Entry{},
		byOffset: map[uint64]*Entry{},
	}
}

// Add records e in the cache. It is an error to add an entry whose name or
// offset collides with an existing one.
func (c *Cache) Add(e *Entry) error {
	if _, ok := c.byName[e.Name]; ok {
		return errors.Reason("cache already has an entry named %(name)q").D("name", e.Name).Err()
	}
	if _, ok := c.byOffset[e.HeaderOffset]; ok {
		return errors.Reason("cache already has an entry at offset %(off)d").D("off", e.HeaderOffset).Err()
	}
	c.byName[e.Name] = e
	c.byOffset[e.HeaderOffset] = e
	c.order = append(c.order, e.HeaderOffset)
	return nil
}

// Remove drops e from the cache entirely (used by soft delete and by
// truncation of trailing partitions, once the entry's headers are zeroed).
func (c *Cache) Remove(e *Entry) {
	delete(c.byName, e.Name)
	delete(c.byOffset, e.HeaderOffset)
	for i, off := range c.order {
		if off == e.HeaderOffset {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Rename updates e's name in the byName index. Callers are responsible for
// first mutating e.Name and the on-disk "path" PAX record.
func (c *Cache) Rename(e *Entry, oldName string) {
	delete(c.byName, oldName)
	c.byName[e.Name] = e
}

// ByName looks up a physical entry by its current name.
func (c *Cache) ByName(name string) (*Entry, bool) {
	e, ok := c.byName[name]
	return e, ok
}

// ByOffset looks up a physical entry by its header offset.
func (c *Cache) ByOffset(offset uint64) (*Entry, bool) {
	e, ok := c.byOffset[offset]
	return e, ok
}

// All returns every live physical entry, in insertion (on-disk) order.
func (c *Cache) All() []*Entry {
	out := make([]*Entry, 0, len(c.order))
	for _, off := range c.order {
		out = append(out, c.byOffset[off])
	}
	return out
}

// Len returns the number of live physical entries.
func (c *Cache) Len() int { return len(c.order) }

// TailOffset returns the header offset one past the end of the
// highest-addressed live entry's padded payload, i.e. where the next
// append should land. Returns 0 if the cache is empty.
func (c *Cache) TailOffset() uint64 {
	var tail uint64
	for _, e := range c.byOffset {
		end := e.DataOffset + paddedSize(e.Size)
		if end > tail {
			tail = end
		}
	}
	return tail
}

// Chain walks the partition chain starting at head, following
// ROBOHEN_NEXT_PART_OFFSET, and returns the partitions in order. It
// detects cycles via a visited-offset set, per spec §9 ("Cyclic risk in
// chains"): chains are offsets in a file, not pointers, so an
// acyclicity check at cache-build time suffices.
func (c *Cache) Chain(head *Entry) ([]*Entry, error) {
	visited := map[uint64]bool{}
	var chain []*Entry

	cur := head
	for {
		if visited[cur.HeaderOffset] {
			return nil, &CorruptError{Reason: "cyclic partition chain", Offset: int64(cur.HeaderOffset)}
		}
		visited[cur.HeaderOffset] = true
		chain = append(chain, cur)

		next, ok := cur.NextPartOffset()
		if !ok {
			return chain, nil
		}
		nextEntry, ok := c.ByOffset(next)
		if !ok {
			return nil, &CorruptError{Reason: "partition chain references missing offset", Offset: int64(next)}
		}
		cur = nextEntry
	}
}
