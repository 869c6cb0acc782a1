// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

//go:build !linux

package rhdata

import "os"

// ProbeSectorSize always returns DefaultSectorSize on platforms where the
// BLKSSZGET ioctl is unavailable.
func ProbeSectorSize(f *os.File) uint64 {
	return DefaultSectorSize
}
