// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package uidrpc

import (
	"sort"
	"sync"
)

// Transport types
const (
	TransportTCP  = "tcp"  // framed envelopes over TCP, default
	TransportGRPC = "grpc" // envelopes tunnelled through gRPC unary calls
)

// DefaultTransport is the default transport type (TCP)
const DefaultTransport = TransportTCP

type newClientFunc func(o *options) (Client, error)
type listenFunc func(addr string, o *options) (Server, error)

type transportFuncs struct {
	newClient newClientFunc
	listen    listenFunc
}

var (
	transportsMu sync.RWMutex
	transports   = map[string]transportFuncs{
		TransportTCP: {newRemotingClient, listenRemoting},
	}
)

// registerTransport registers a new transport
func registerTransport(name string, newClient newClientFunc, listen listenFunc) {
	transportsMu.Lock()
	defer transportsMu.Unlock()
	transports[name] = transportFuncs{newClient, listen}
}

func lookupTransport(name string) (transportFuncs, bool) {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	t, ok := transports[name]
	return t, ok
}

// AvailableTransports returns the sorted list of available transport types
func AvailableTransports() []string {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	result := make([]string, 0, len(transports))
	for name := range transports {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// HasTransport checks if a transport is available
func HasTransport(name string) bool {
	_, ok := lookupTransport(name)
	return ok
}
