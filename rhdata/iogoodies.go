// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package rhdata

// ZeroBlock returns a fresh zeroed 512-byte block.
func ZeroBlock() []byte {
	return make([]byte, BlockSize)
}

// EndOfArchiveMarker returns the two trailing 512-byte zero blocks every
// closed archive ends with.
func EndOfArchiveMarker() []byte {
	return make([]byte, 2*BlockSize)
}
