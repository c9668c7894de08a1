// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package protocol

import (
	"errors"
	"testing"

	"github.com/luxfi/uidrpc"
	"github.com/luxfi/uidrpc/codec"
)

func TestCodesAreUniqueAndNamed(t *testing.T) {
	seen := make(map[int32]bool)
	for _, c := range Codes() {
		if seen[c] {
			t.Fatalf("duplicate code %d", c)
		}
		seen[c] = true
		if CodeName(c) == "" {
			t.Fatalf("code %d has no name", c)
		}
		if c <= uidrpc.CodeVersionRejected {
			t.Fatalf("code %d collides with transport response codes", c)
		}
	}
	if CodeName(9999) != "" {
		t.Fatal("unknown code should have no name")
	}
}

func TestRegister(t *testing.T) {
	if err := Register(codec.NewRegistry()); err != nil {
		t.Fatalf("Register: %v", err)
	}
}

func TestHeartbeatRoundTrip(t *testing.T) {
	c := codec.New()
	in := HeartbeatData{
		NodeID:    "n1",
		Addr:      "10.0.0.1:8888",
		Timestamp: 1700000000000,
		Load:      0.25,
		Rules:     map[string]bool{"order": true, "user": true},
		Leader:    &NodeAddr{NodeID: "n0", Addr: "10.0.0.0:8888"},
	}
	data, err := c.Marshal(&in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	out, err := codec.Decode[HeartbeatData](c, data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.NodeID != in.NodeID || out.Addr != in.Addr || out.Timestamp != in.Timestamp || out.Load != in.Load {
		t.Fatalf("scalars: got %+v", out)
	}
	if len(out.Rules) != 2 || !out.Rules["order"] || !out.Rules["user"] {
		t.Fatalf("rules: got %v", out.Rules)
	}
	if out.Leader == nil || *out.Leader != *in.Leader {
		t.Fatalf("leader: got %+v", out.Leader)
	}
}

func TestRuleListRoundTrip(t *testing.T) {
	c := codec.New()
	in := RuleList{Rules: []RuleInfo{
		{Name: "order", Expression: "{date}{seq:6}", Shards: []int32{0, 1}},
		{Name: "legacy", Disabled: true},
	}}
	data, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out RuleList
	if err := c.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(out.Rules) != 2 {
		t.Fatalf("got %d rules", len(out.Rules))
	}
	if r := out.Rules[0]; r.Name != "order" || r.Expression != "{date}{seq:6}" || len(r.Shards) != 2 || r.Shards[1] != 1 {
		t.Fatalf("rule 0: %+v", r)
	}
	if r := out.Rules[1]; r.Name != "legacy" || !r.Disabled || r.Shards == nil || len(r.Shards) != 0 {
		t.Fatalf("rule 1: %+v", r)
	}
}

func TestGenerateIDsHeader(t *testing.T) {
	shard := int32(3)
	req := uidrpc.NewRequest(CodeGenerateIDs, &GenerateIDsHeader{Rule: "order", Count: 10, Shard: &shard})
	frame, err := req.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	env, err := uidrpc.DecodeEnvelope(frame)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	var h GenerateIDsHeader
	if err := env.DecodeHeader(&h); err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if h.Rule != "order" || h.Count != 10 || h.Shard == nil || *h.Shard != 3 {
		t.Fatalf("got %+v", h)
	}
}

func TestHeaderValidation(t *testing.T) {
	env := &uidrpc.Envelope{Fields: map[string]string{"rule": "order", "count": "0"}}
	var h GenerateIDsHeader
	if err := env.DecodeHeader(&h); !errors.Is(err, ErrInvalidHeader) {
		t.Fatalf("count 0: got %v, want ErrInvalidHeader", err)
	}

	env = &uidrpc.Envelope{Fields: map[string]string{"size": "5"}}
	var a AllocRangeHeader
	if err := env.DecodeHeader(&a); !errors.Is(err, uidrpc.ErrHeaderField) {
		t.Fatalf("missing rule: got %v, want ErrHeaderField", err)
	}
}

func TestRangeLen(t *testing.T) {
	if n := (Range{Start: 100, End: 150}).Len(); n != 50 {
		t.Fatalf("Len = %d", n)
	}
}
