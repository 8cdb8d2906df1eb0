//
// Copyright 2024 The Akuma Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// Package netloop stands in for the NIC driver and TCP/IP stack spec.md §1
// keeps out of scope: a single in-memory byte-pipe pair a listener and a
// client can dial, enough to exercise the loopback self-test property
// without a real socket layer. The self-test battery uses it whatever
// BootConfig.EnableNetwork says; the kernel does not read that flag.
package netloop

// Pair is a bidirectional channel-backed pipe between a server and client
// endpoint, the loopback equivalent of 127.0.0.1:9999.
type Pair struct {
	toServer chan []byte
	toClient chan []byte
}

// NewPair creates an unconnected pair with modest buffering so Send never
// blocks the self-test battery on a slow reader.
func NewPair() *Pair {
	return &Pair{
		toServer: make(chan []byte, 8),
		toClient: make(chan []byte, 8),
	}
}

// Conn is one endpoint of a Pair.
type Conn struct {
	pair     *Pair
	isServer bool
}

// Listener returns the server-side endpoint.
func (p *Pair) Listener() *Conn { return &Conn{pair: p, isServer: true} }

// Dial returns the client-side endpoint.
func (p *Pair) Dial() *Conn { return &Conn{pair: p, isServer: false} }

// Send writes b to the peer endpoint.
func (c *Conn) Send(b []byte) {
	cp := append([]byte(nil), b...)
	if c.isServer {
		c.pair.toClient <- cp
	} else {
		c.pair.toServer <- cp
	}
}

// Recv blocks until a message from the peer arrives.
func (c *Conn) Recv() []byte {
	if c.isServer {
		return <-c.pair.toServer
	}
	return <-c.pair.toClient
}
