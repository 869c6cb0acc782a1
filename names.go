// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package robohen

import "strings"

// isPortableNameByte reports whether b is in the POSIX portable filename
// character set: [A-Za-z0-9._-].
func isPortableNameByte(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9':
		return true
	case b == '.' || b == '_' || b == '-':
		return true
	}
	return false
}

// validateName checks name against policy, returning the name to use
// on-disk (unchanged under NamePolicyReject, sanitized under
// NamePolicySanitize) or InvalidNameError.
func validateName(name string, policy NamePolicy) (string, error) {
	if name == "" {
		return "", &InvalidNameError{Name: name}
	}

	hasInvalid := false
	for i := 0; i < len(name); i++ {
		if !isPortableNameByte(name[i]) {
			hasInvalid = true
			break
		}
	}
	if !hasInvalid {
		return name, nil
	}

	switch policy {
	case NamePolicySanitize:
		buf := []byte(name)
		for i, b := range buf {
			if !isPortableNameByte(b) {
				buf[i] = '_'
			}
		}
		return string(buf), nil
	default:
		return "", &InvalidNameError{Name: name}
	}
}

// chooseSuffix returns the first collision-resolution suffix, in the order
// a, b, ..., z, aa, ab, ..., zz, aaa, ..., for which taken(suffix) is
// false. See spec §4.4.2.
func chooseSuffix(taken func(suffix string) bool) string {
	for length := 1; ; length++ {
		idx := make([]int, length)
		for {
			s := suffixFromIndex(idx)
			if !taken(s) {
				return s
			}
			if !incrementIndex(idx, 26) {
				break
			}
		}
	}
}

func suffixFromIndex(idx []int) string {
	var b strings.Builder
	for _, d := range idx {
		b.WriteByte('a' + byte(d))
	}
	return b.String()
}

// incrementIndex increments idx as a base-`base` counter, most-significant
// digit first. Returns false on overflow (all digits exhausted), meaning
// the caller should move on to the next length.
func incrementIndex(idx []int, base int) bool {
	for i := len(idx) - 1; i >= 0; i-- {
		idx[i]++
		if idx[i] < base {
			return true
		}
		idx[i] = 0
	}
	return false
}

// partitionName renders the physical name of partition k of a (possibly
// suffixed) base name.
func partitionName(base string, suffix string, k int) string {
	if suffix == "" {
		return base + ".part" + itoa(k)
	}
	return base + "." + suffix + ".part" + itoa(k)
}

func itoa(k int) string {
	return formatUint(uint64(k))
}
