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

package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ida-tubs/rscmng/protocol"
)

func mustListen(t *testing.T) *Control {
	t.Helper()
	c, err := Listen(&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	return c
}

func TestControlSendAndServeRoundTrip(t *testing.T) {
	server := mustListen(t)
	defer server.Close()
	client := mustListen(t)
	defer client.Close()

	received := make(chan protocol.ControlMessage, 1)
	go func() {
		_ = server.Serve(func(msg protocol.ControlMessage, addr *net.UDPAddr) {
			received <- msg
		})
	}()

	msg := protocol.ControlMessage{
		Kind:          protocol.RMClientStart,
		SourceID:      protocol.ClientID(1),
		DestinationID: protocol.ClientID(2),
		ServiceID:     protocol.ServiceID(7),
		ProtocolID:    protocol.ProtocolRM,
	}
	require.NoError(t, client.Send(msg, server.LocalAddr()))

	select {
	case got := <-received:
		require.Equal(t, msg.Kind, got.Kind)
		require.Equal(t, msg.ServiceID, got.ServiceID)
	case <-time.After(time.Second):
		t.Fatal("did not receive control message")
	}
}

func TestServeReturnsNilAfterClose(t *testing.T) {
	c := mustListen(t)
	done := make(chan error, 1)
	go func() {
		done <- c.Serve(func(protocol.ControlMessage, *net.UDPAddr) {})
	}()
	require.NoError(t, c.Close())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after Close")
	}
}

func TestServeSkipsMalformedDatagrams(t *testing.T) {
	server := mustListen(t)
	defer server.Close()

	calls := make(chan protocol.ControlMessage, 1)
	go func() {
		_ = server.Serve(func(msg protocol.ControlMessage, addr *net.UDPAddr) {
			calls <- msg
		})
	}()

	raw := net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
	sender, err := net.ListenUDP("udp", &raw)
	require.NoError(t, err)
	defer sender.Close()

	_, err = sender.WriteToUDP([]byte{1, 2, 3}, server.LocalAddr())
	require.NoError(t, err)

	good := protocol.ControlMessage{Kind: protocol.ACK, ProtocolID: protocol.ProtocolRM}
	rawGood, err := good.Bytes()
	require.NoError(t, err)
	_, err = sender.WriteToUDP(rawGood, server.LocalAddr())
	require.NoError(t, err)

	select {
	case got := <-calls:
		require.Equal(t, protocol.ACK, got.Kind)
	case <-time.After(time.Second):
		t.Fatal("handler never invoked for well-formed message")
	}
}
