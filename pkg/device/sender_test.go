package device

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestSendReliableSucceedsOnAck(t *testing.T) {
	d, peer := newLoopbackFixture(t, nil)
	defer d.conn.Close()

	done := make(chan error, 1)
	go func() {
		done <- d.SendReliable(MessageTypeTest, []byte("hi"), WithAttempts(20), WithInterval(5*time.Millisecond))
	}()

	buf := make([]byte, MaxPacketSize)
	n, addr, err := peer.ReadFromUDP(buf)
	require.NoError(t, err)

	pkt, err := decodeData(buf[:n])
	require.NoError(t, err)
	require.Equal(t, PacketReliable, pkt.kind)
	require.Equal(t, []byte("hi"), pkt.payload)

	_, err = peer.WriteToUDP(encodeResponse(pkt.sequence), addr)
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("SendReliable did not return after ack")
	}
}

func TestSendReliableTimesOutWithFakeClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d, peer := newLoopbackFixture(t, clock)
	defer d.conn.Close()
	defer peer.Close()

	done := make(chan error, 1)
	go func() {
		done <- d.SendReliable(MessageTypeTest, []byte("hi"), WithAttempts(3), WithInterval(10*time.Millisecond))
	}()

	// Drain the three probe writes. Each one, including the last, gets its
	// own full interval window to be acked before the next is sent (or,
	// for the last, before the send gives up) - so three advances follow
	// the three writes.
	buf := make([]byte, MaxPacketSize)
	for i := 0; i < 3; i++ {
		_, _, err := peer.ReadFromUDP(buf)
		require.NoError(t, err)
		clock.BlockUntil(1)
		clock.Advance(10 * time.Millisecond)
	}

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrTimeout)
	case <-time.After(2 * time.Second):
		t.Fatal("SendReliable did not time out")
	}
}

func TestSendReliableRejectsWhenNotConnected(t *testing.T) {
	d, _ := newLoopbackFixture(t, nil)
	defer d.conn.Close()
	d.connected.Store(false)

	err := d.SendReliable(MessageTypeTest, []byte("hi"))
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestSendReliableRejectsOversizedPayload(t *testing.T) {
	d, _ := newLoopbackFixture(t, nil)
	defer d.conn.Close()

	payload := make([]byte, MaxMessageSize+1)
	err := d.SendReliable(MessageTypeTest, payload)
	require.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestSendUnreliableWritesDatagram(t *testing.T) {
	d, peer := newLoopbackFixture(t, nil)
	defer d.conn.Close()

	require.NoError(t, d.SendUnreliable(MessageTypeTest, []byte("ping")))

	buf := make([]byte, MaxPacketSize)
	n, _, err := peer.ReadFromUDP(buf)
	require.NoError(t, err)

	pkt, err := decodeData(buf[:n])
	require.NoError(t, err)
	require.Equal(t, PacketUnreliable, pkt.kind)
	require.Equal(t, []byte("ping"), pkt.payload)
}

func TestSendUnreliableRejectsOversizedPayload(t *testing.T) {
	d, _ := newLoopbackFixture(t, nil)
	defer d.conn.Close()

	payload := make([]byte, MaxMessageSize+1)
	err := d.SendUnreliable(MessageTypeTest, payload)
	require.ErrorIs(t, err, ErrMessageTooLarge)
}
