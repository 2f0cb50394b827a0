package device

import (
	"net"
	"testing"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"reliudp/pkg/logging"
)

// newLoopbackFixture builds a Device bypassing Start's handshake, with its
// receive loop running, wired to a second raw UDP socket ("peer") the test
// can read from and write to directly. This lets sender/receiver unit tests exercise the wire-level
// ack/dispatch logic without driving a full CONNECT handshake.
func newLoopbackFixture(t *testing.T, clock clockwork.Clock) (*Device, *net.UDPConn) {
	t.Helper()

	deviceConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("listen device socket: %v", err)
	}
	t.Cleanup(func() { deviceConn.Close() })

	peerConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("listen peer socket: %v", err)
	}
	t.Cleanup(func() { peerConn.Close() })

	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	d := &Device{
		conn:     deviceConn,
		pending:  make(map[uint32]*sendSlot),
		registry: newHandlerRegistry(),
		clock:    clock,
		logger:   logging.New(logging.Options{}),
	}
	d.setRemote(peerConn.LocalAddr().(*net.UDPAddr))
	d.connected.Store(true)

	d.group = new(errgroup.Group)
	d.groupStop = func() {}
	d.group.Go(d.receiveLoop)

	return d, peerConn
}
