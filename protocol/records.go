// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package protocol

import "github.com/luxfi/uidrpc/codec"

// IDBatch is the GenerateIDs response body.
type IDBatch struct {
	Rule string   `wire:"1"`
	IDs  []string `wire:"2"`
}

// Range is the AllocRange response body: values in [Start, End).
type Range struct {
	Rule  string `wire:"1"`
	Start int64  `wire:"2"`
	End   int64  `wire:"3"`
}

func (r Range) Len() int64 { return r.End - r.Start }

// RuleInfo describes one ID rule as listed by the admin protocol.
type RuleInfo struct {
	Name       string  `wire:"1"`
	Expression string  `wire:"2"`
	Shards     []int32 `wire:"3"`
	Disabled   bool    `wire:"4"`
}

// RuleList is the ListRules response body.
type RuleList struct {
	Rules []RuleInfo `wire:"1"`
}

// HeartbeatData is the heartbeat body sent between nodes.
type HeartbeatData struct {
	NodeID    string          `wire:"1"`
	Addr      string          `wire:"2"`
	Timestamp int64           `wire:"3"`
	Load      float64         `wire:"4"`
	Rules     map[string]bool `wire:"5"`
	Leader    *NodeAddr       `wire:"6"`
}

type NodeAddr struct {
	NodeID string `wire:"1"`
	Addr   string `wire:"2"`
}

// Register compiles the schemas of every body record into r so that the
// first request does not pay for it.
func Register(r *codec.Registry) error {
	return r.Register(IDBatch{}, Range{}, RuleInfo{}, RuleList{}, HeartbeatData{}, NodeAddr{})
}
