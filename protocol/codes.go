// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package protocol declares the request codes, typed headers and body
// records exchanged by the ID service's admin, user, heartbeat and
// replication protocols. It carries no service logic.
package protocol

// Admin protocol
const (
	CodeAddRule    int32 = 101
	CodeUpdateRule int32 = 102
	CodeDeleteRule int32 = 103
	CodeListRules  int32 = 104
)

// User protocol
const (
	CodeGenerateIDs int32 = 201
	CodeAllocRange  int32 = 202
)

// Heartbeat and routing protocol
const (
	CodeHeartbeat   int32 = 301
	CodeRouteUpdate int32 = 302
)

// Replication protocol
const (
	CodeVote        int32 = 401
	CodeAppendBlock int32 = 402
	CodeSyncBlocks  int32 = 403
)

var codeNames = map[int32]string{
	CodeAddRule:     "AddRule",
	CodeUpdateRule:  "UpdateRule",
	CodeDeleteRule:  "DeleteRule",
	CodeListRules:   "ListRules",
	CodeGenerateIDs: "GenerateIDs",
	CodeAllocRange:  "AllocRange",
	CodeHeartbeat:   "Heartbeat",
	CodeRouteUpdate: "RouteUpdate",
	CodeVote:        "Vote",
	CodeAppendBlock: "AppendBlock",
	CodeSyncBlocks:  "SyncBlocks",
}

// CodeName returns a readable name for a request code, or "" if unknown.
func CodeName(code int32) string { return codeNames[code] }

// Codes lists every request code in this package.
func Codes() []int32 {
	return []int32{
		CodeAddRule, CodeUpdateRule, CodeDeleteRule, CodeListRules,
		CodeGenerateIDs, CodeAllocRange,
		CodeHeartbeat, CodeRouteUpdate,
		CodeVote, CodeAppendBlock, CodeSyncBlocks,
	}
}
