/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package transport implements the UDP control-plane channel shared by the
// orchestrator and every client: a single bound socket, a locked send path
// (spec.md §7: "the UDP send path ... is the one piece of state every
// sender-side goroutine touches"), and a blocking receive loop that decodes
// ControlMessage frames and dispatches them to a handler. Grounded on
// ntp/responder/server/server.go's listener-goroutine shape, adapted from a
// multi-worker fan-out to the single shared socket this protocol needs.
package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/ida-tubs/rscmng/protocol"
)

// Handler processes one inbound ControlMessage received from addr.
type Handler func(msg protocol.ControlMessage, addr *net.UDPAddr)

// Control is a bound UDP socket used for the control-plane protocol. All
// sends funnel through a single mutex, so the agent's acks and any other
// sender sharing this Control never interleave on the socket.
type Control struct {
	conn *net.UDPConn
	mu   sync.Mutex
}

// Listen binds a UDP socket at laddr for control-plane traffic.
// SO_REUSEADDR and SO_BROADCAST are set via golang.org/x/sys/unix (spec.md
// §4.1: "reuse_address=true, broadcast=true"), the way the teacher's
// lower-level socket code reaches for unix syscalls instead of net package
// defaults when a specific socket option is required.
func Listen(laddr *net.UDPAddr) (*Control, error) {
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("binding control socket %s: %w", laddr, err)
	}
	if err := setSockOpt(conn, unix.SO_REUSEADDR); err != nil {
		log.Warningf("failed to set SO_REUSEADDR on control socket: %v", err)
	}
	if err := setSockOpt(conn, unix.SO_BROADCAST); err != nil {
		log.Warningf("failed to set SO_BROADCAST on control socket: %v", err)
	}
	return &Control{conn: conn}, nil
}

func setSockOpt(conn *net.UDPConn, opt int) error {
	sc, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = sc.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, opt, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// LocalAddr returns the bound local address.
func (c *Control) LocalAddr() *net.UDPAddr {
	return c.conn.LocalAddr().(*net.UDPAddr)
}

// Close releases the underlying socket.
func (c *Control) Close() error {
	return c.conn.Close()
}

// Send serializes and transmits msg to raddr under the shared send lock.
func (c *Control) Send(msg protocol.ControlMessage, raddr *net.UDPAddr) error {
	raw, err := msg.Bytes()
	if err != nil {
		return fmt.Errorf("encoding control message: %w", err)
	}
	c.mu.Lock()
	_, err = c.conn.WriteToUDP(raw, raddr)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("sending control message to %s: %w", raddr, err)
	}
	return nil
}

// Serve blocks, reading inbound datagrams and invoking handler for each
// successfully decoded ControlMessage. Malformed datagrams are logged and
// skipped rather than torn down the connection (spec.md §7: bad input from
// one peer must not take down the process). Serve returns when the socket
// is closed.
func (c *Control) Serve(handler Handler) error {
	buf := make([]byte, protocol.MaxLength)
	for {
		n, addr, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("reading control socket: %w", err)
		}
		msg, err := protocol.ControlMessageFromBytes(buf[:n])
		if err != nil {
			log.Warningf("dropping malformed control message from %s: %v", addr, err)
			continue
		}
		handler(msg, addr)
	}
}
