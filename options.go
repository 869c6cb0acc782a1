// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package robohen

import "github.com/coreshard/robohen/rhdata"

// MaxPartitionSizeLimit is the hard upper bound on Config.MaxPartitionSize.
const MaxPartitionSizeLimit = 7 * (1 << 30) // 7 GiB

// DefaultMaxPartitionSize is the default partition size: the hard upper
// bound itself.
const DefaultMaxPartitionSize = MaxPartitionSizeLimit

// DefaultSplitThreshold is the default Config.SplitThreshold.
const DefaultSplitThreshold = 4096

// DefaultTargetBufferSize is the default target for Block IO transfers,
// rounded up to a multiple of the sector size.
const DefaultTargetBufferSize = 4096

// NamePolicy controls what happens when a logical file or partition name
// fails POSIX portable-filename validation.
type NamePolicy int

const (
	// NamePolicyReject returns InvalidNameError for any non-portable name.
	NamePolicyReject NamePolicy = iota
	// NamePolicySanitize replaces non-portable characters with '_'.
	NamePolicySanitize
)

// Config holds the immutable-after-open configuration of an Archive. See
// spec §6.
type Config struct {
	// MaxPartitionSize is the largest a single partition's payload may be.
	// Must be <= MaxPartitionSizeLimit.
	MaxPartitionSize uint64

	// SplitThreshold is the payload size at or under which an overflowing
	// non-partitioned file's old payload is read with a single ReadAt when
	// it is converted to a chain; larger payloads are read in
	// TargetBufferSize chunks. Either way the file is soft-deleted and
	// rewritten at the end of the archive; no variant overwrites the old
	// entry in place.
	SplitThreshold uint64

	// SectorSize is the alignment unit for all Block IO transfers. Must be
	// a power of two. If zero and ProbeSectorSize is true, it is probed
	// from the underlying file at open/create time, falling back to 512.
	SectorSize uint64

	// TargetBufferSize is the target Block IO transfer size; it is rounded
	// up to the next multiple of SectorSize.
	TargetBufferSize uint64

	// ReadOnly refuses every mutating operation with ReadOnlyError.
	ReadOnly bool

	// NamePolicy selects how non-portable names are handled.
	NamePolicy NamePolicy

	// ChecksumScheme selects the optional index integrity trailer. The
	// default, rhdata.ChecksumNone, leaves the index payload exactly as
	// spec.md describes with no trailer at all.
	ChecksumScheme rhdata.ChecksumScheme

	// ProbeSectorSize, when true and SectorSize is zero, probes the
	// underlying block device's sector size via rhdata.ProbeSectorSize
	// before falling back to 512.
	ProbeSectorSize bool
}

// DefaultConfig returns the configuration spec §6 describes as default.
func DefaultConfig() Config {
	return Config{
		MaxPartitionSize: DefaultMaxPartitionSize,
		SplitThreshold:   DefaultSplitThreshold,
		SectorSize:       0, // resolved at open/create time
		TargetBufferSize: DefaultTargetBufferSize,
		ReadOnly:         false,
		NamePolicy:       NamePolicyReject,
		ChecksumScheme:   rhdata.ChecksumNone,
		ProbeSectorSize:  true,
	}
}

// Option mutates a Config during New{Archive,Create,Open}.
type Option func(*Config)

// WithMaxPartitionSize overrides the default partition size.
func WithMaxPartitionSize(n uint64) Option {
	return func(c *Config) { c.MaxPartitionSize = n }
}

// WithSplitThreshold overrides the default split threshold.
func WithSplitThreshold(n uint64) Option {
	return func(c *Config) { c.SplitThreshold = n }
}

// WithSectorSize pins the sector size, disabling probing.
func WithSectorSize(n uint64) Option {
	return func(c *Config) {
		c.SectorSize = n
		c.ProbeSectorSize = false
	}
}

// WithTargetBufferSize overrides the default Block IO transfer size.
func WithTargetBufferSize(n uint64) Option {
	return func(c *Config) { c.TargetBufferSize = n }
}

// WithReadOnly opens the archive read-only: every mutating operation fails
// with ReadOnlyError.
func WithReadOnly(ro bool) Option {
	return func(c *Config) { c.ReadOnly = ro }
}

// WithNamePolicy overrides the default ("reject") name policy.
func WithNamePolicy(p NamePolicy) Option {
	return func(c *Config) { c.NamePolicy = p }
}

// WithChecksumScheme enables the optional index integrity trailer.
func WithChecksumScheme(s rhdata.ChecksumScheme) Option {
	return func(c *Config) { c.ChecksumScheme = s }
}

// WithSectorProbing controls whether the sector size is probed from the
// underlying device when SectorSize is left at zero.
func WithSectorProbing(enabled bool) Option {
	return func(c *Config) { c.ProbeSectorSize = enabled }
}

func (c Config) validate() error {
	if c.MaxPartitionSize == 0 || c.MaxPartitionSize > MaxPartitionSizeLimit {
		return &TooLargeError{Size: c.MaxPartitionSize, Limit: MaxPartitionSizeLimit}
	}
	return c.ChecksumScheme.Valid()
}
