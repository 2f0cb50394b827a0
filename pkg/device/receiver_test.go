package device

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHandleReliableExactDispatchesAndAcks(t *testing.T) {
	d, peer := newLoopbackFixture(t, nil)
	defer d.conn.Close()

	received := make(chan []byte, 1)
	require.NoError(t, d.RegisterParser(MessageTypeTest, func(sendTime int64, payload []byte) {
		received <- payload
	}))

	pkt := dataPacket{kind: PacketReliable, sequence: 0, messageType: MessageTypeTest, sendTime: 1, payload: []byte("a")}
	d.handleReliable(pkt)

	select {
	case payload := <-received:
		require.Equal(t, []byte("a"), payload)
	case <-time.After(time.Second):
		t.Fatal("handler did not run")
	}
	require.EqualValues(t, 1, d.loadReliableReceive())

	buf := make([]byte, MaxPacketSize)
	peer.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := peer.ReadFromUDP(buf)
	require.NoError(t, err)
	resp, err := decodeResponse(buf[:n])
	require.NoError(t, err)
	require.EqualValues(t, 0, resp.ackedSequence)
}

func TestHandleReliableDuplicateAcksWithoutRedispatch(t *testing.T) {
	d, peer := newLoopbackFixture(t, nil)
	defer d.conn.Close()

	calls := 0
	require.NoError(t, d.RegisterParser(MessageTypeTest, func(sendTime int64, payload []byte) {
		calls++
	}))

	pkt := dataPacket{kind: PacketReliable, sequence: 0, messageType: MessageTypeTest, sendTime: 1, payload: []byte("a")}
	d.handleReliable(pkt)
	d.handleReliable(pkt) // duplicate

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, calls)

	buf := make([]byte, MaxPacketSize)
	peer.SetReadDeadline(time.Now().Add(time.Second))
	for i := 0; i < 2; i++ {
		_, _, err := peer.ReadFromUDP(buf)
		require.NoError(t, err)
	}
}

func TestHandleReliableTooEarlyDropped(t *testing.T) {
	d, _ := newLoopbackFixture(t, nil)
	defer d.conn.Close()

	calls := 0
	require.NoError(t, d.RegisterParser(MessageTypeTest, func(sendTime int64, payload []byte) {
		calls++
	}))

	pkt := dataPacket{kind: PacketReliable, sequence: 5, messageType: MessageTypeTest, sendTime: 1, payload: []byte("a")}
	d.handleReliable(pkt)

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 0, calls)
	require.EqualValues(t, 0, d.loadReliableReceive())
}

func TestHandleUnreliableMonotonicReceive(t *testing.T) {
	d, _ := newLoopbackFixture(t, nil)
	defer d.conn.Close()

	var got []byte
	done := make(chan struct{}, 4)
	require.NoError(t, d.RegisterParser(MessageTypeTest, func(sendTime int64, payload []byte) {
		got = payload
		done <- struct{}{}
	}))

	d.handleUnreliable(dataPacket{sequence: 3, messageType: MessageTypeTest, payload: []byte("first")})
	<-done
	require.Equal(t, []byte("first"), got)
	require.EqualValues(t, 4, d.loadUnreliableReceive())

	// A late/duplicate arrival behind the high-water mark is dropped.
	d.handleUnreliable(dataPacket{sequence: 1, messageType: MessageTypeTest, payload: []byte("stale")})
	select {
	case <-done:
		t.Fatal("stale unreliable datagram should not dispatch")
	case <-time.After(20 * time.Millisecond):
	}

	d.handleUnreliable(dataPacket{sequence: 9, messageType: MessageTypeTest, payload: []byte("jump")})
	<-done
	require.Equal(t, []byte("jump"), got)
	require.EqualValues(t, 10, d.loadUnreliableReceive())
}

func TestHandleResponseSignalsPendingSlot(t *testing.T) {
	d, _ := newLoopbackFixture(t, nil)
	defer d.conn.Close()

	slot := newSendSlot(42)
	d.addPendingSlot(slot)

	d.handleResponse(responsePacket{ackedSequence: 42})
	require.True(t, slot.isAcked())
}

func TestHandleResponseUnknownSequenceIgnored(t *testing.T) {
	d, _ := newLoopbackFixture(t, nil)
	defer d.conn.Close()

	// No pending slot for sequence 7; must not panic.
	d.handleResponse(responsePacket{ackedSequence: 7})
}
