// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package uidrpc

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// EncodeVersion packs v as major<<16 | minor<<8 | patch. Minor and patch
// must fit in a byte and major in 15 bits.
func EncodeVersion(v *semver.Version) (int32, error) {
	if v.Major() > 0x7fff || v.Minor() > 0xff || v.Patch() > 0xff {
		return 0, fmt.Errorf("uidrpc: version %s out of range", v)
	}
	return int32(v.Major()<<16 | v.Minor()<<8 | v.Patch()), nil
}

// ParseVersion parses a semver string into its packed form.
func ParseVersion(s string) (int32, error) {
	v, err := semver.NewVersion(s)
	if err != nil {
		return 0, fmt.Errorf("uidrpc: version %q: %w", s, err)
	}
	return EncodeVersion(v)
}

// DecodeVersion unpacks a version carried in Envelope.Version.
func DecodeVersion(code int32) *semver.Version {
	u := uint64(uint32(code))
	return semver.New(u>>16&0x7fff, u>>8&0xff, u&0xff, "", "")
}
