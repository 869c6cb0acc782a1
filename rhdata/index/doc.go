// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package index implements the on-disk payload format of the persistent
// index entry: a flat array of little-endian u64 slots recording the
// archive's total size and the header offsets of its physical entries.
//
// It is a self-contained, independently testable payload format driven by
// the archive manager, much like the teacher's sardata/toc package was a
// self-contained table-of-contents format driven by the sar package.
package index
