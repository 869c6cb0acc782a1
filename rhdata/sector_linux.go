// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

//go:build linux

package rhdata

import (
	"os"

	"golang.org/x/sys/unix"
)

// ioctlBlkSSZGet is BLKSSZGET from linux/fs.h: query the logical block
// (sector) size of a block device.
const ioctlBlkSSZGet = 0x1268

// ProbeSectorSize attempts to determine the logical sector size of the
// block device backing f via the BLKSSZGET ioctl. Any failure -- f is a
// regular file, the platform doesn't support the ioctl, permissions are
// denied -- is swallowed and DefaultSectorSize is returned instead; sector
// probing is a best-effort optimization, never a correctness requirement.
func ProbeSectorSize(f *os.File) uint64 {
	if f == nil {
		return DefaultSectorSize
	}
	sz, err := unix.IoctlGetInt(int(f.Fd()), ioctlBlkSSZGet)
	if err != nil || sz <= 0 {
		return DefaultSectorSize
	}
	return uint64(sz)
}
