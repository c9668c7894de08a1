// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package protocol

import (
	"errors"
	"fmt"
)

// MaxBatch bounds how many IDs one GenerateIDs request may ask for.
const MaxBatch = 10000

var ErrInvalidHeader = errors.New("protocol: invalid header")

// GenerateIDsHeader asks for Count IDs from the named rule.
type GenerateIDsHeader struct {
	Rule  string `header:"rule,required"`
	Count int32  `header:"count,required"`
	Shard *int32 `header:"shard"`
}

func (h *GenerateIDsHeader) Validate() error {
	if h.Rule == "" {
		return fmt.Errorf("%w: empty rule", ErrInvalidHeader)
	}
	if h.Count <= 0 || h.Count > MaxBatch {
		return fmt.Errorf("%w: count %d outside 1..%d", ErrInvalidHeader, h.Count, MaxBatch)
	}
	return nil
}

// AllocRangeHeader asks for a numeric range of Size values.
type AllocRangeHeader struct {
	Rule string `header:"rule,required"`
	Size int64  `header:"size,required"`
}

func (h *AllocRangeHeader) Validate() error {
	if h.Rule == "" {
		return fmt.Errorf("%w: empty rule", ErrInvalidHeader)
	}
	if h.Size <= 0 {
		return fmt.Errorf("%w: size %d", ErrInvalidHeader, h.Size)
	}
	return nil
}

// HeartbeatHeader identifies the sending node.
type HeartbeatHeader struct {
	NodeID   string `header:"nodeId,required"`
	Term     int64  `header:"term"`
	IsLeader bool   `header:"leader"`
}
