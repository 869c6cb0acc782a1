// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package rhdata implements IO routines for the binary layout of a robohen
// archive: sector-aligned block IO over a single file handle, the POSIX
// ustar and PAX header codecs, the optional index checksum trailer, and
// sector-size probing.
package rhdata
