// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package uidrpc is the request/response transport of the ID service.
//
// Messages are Envelopes: a request code, a packed protocol version, an
// opaque correlation id, flags, a remark and a map of string header fields,
// followed by an opaque body. Bodies are usually records encoded with the
// tagged codec in package codec.
//
// # Transports
//
// Two transports are registered:
//
//	tcp   framed envelopes over one multiplexed TCP connection per peer (default)
//	grpc  envelopes tunneled through unary gRPC calls
//
// Select one with WithTransport or the transport key of the config file.
//
// # Usage
//
// Client usage:
//
//	caller, err := uidrpc.Dial(ctx, "localhost:8888")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer caller.Close()
//
//	var batch protocol.IDBatch
//	err = caller.Call(ctx, protocol.CodeGenerateIDs,
//	    &protocol.GenerateIDsHeader{Rule: "order", Count: 10}, nil, &batch)
//
// Server usage:
//
//	server, err := uidrpc.Listen(":8888")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	server.RegisterHandler(protocol.CodeGenerateIDs, handler, uidrpc.NewWorkerPool(8, 1024))
//	server.Serve(ctx)
//
// # Architecture
//
//   - client.go: Client, Server and Handler interfaces and the Caller helper
//   - envelope.go, header.go: envelope framing and typed header fields
//   - remoting.go: handler dispatch, response table, permits and the sweep
//   - conn.go, tcp.go: the TCP transport
//   - grpc.go: the gRPC transport
//   - json.go: the JSON-RPC admin endpoint
//   - transport.go, dial.go: transport registry and factory functions
package uidrpc
