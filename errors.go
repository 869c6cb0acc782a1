// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package robohen

import "github.com/coreshard/robohen/rhdata"

// Error kinds, re-exported from rhdata so callers never need to import the
// lower-level package directly. See spec §7.
type (
	IoError          = rhdata.IoError
	CorruptError     = rhdata.CorruptError
	NotFoundError    = rhdata.NotFoundError
	ExistsError      = rhdata.ExistsError
	InvalidNameError = rhdata.InvalidNameError
	TooLargeError    = rhdata.TooLargeError
	ReadOnlyError    = rhdata.ReadOnlyError
	CancelledError   = rhdata.CancelledError
)
