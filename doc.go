// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package robohen implements a POSIX ustar/PAX archive format that supports
// transparent random-access partitioning of large logical files into
// fixed-size physical tar entries, linked into a chain via a small set of
// reserved ROBOHEN_* PAX extended-header attributes, plus a persistent
// on-disk index that lets Open skip a full linear scan when the archive
// hasn't been mutated by anything but robohen itself.
//
// Every physical entry robohen writes is a pair of PAX extended headers
// (a standard "path" record, then a ROBOHEN_* attribute record) followed by
// an ordinary ustar regular-file entry and its payload. Any conforming tar
// reader can list and extract a robohen archive's contents without knowing
// anything about partitioning; only robohen interprets the ROBOHEN_* chain
// attributes to present a partitioned file as one logical stream.
//
// See rhdata for the on-disk binary format (ustar/PAX codec, block IO,
// sector probing, the optional index checksum trailer) and rhdata/index for
// the persistent index payload itself.
package robohen
