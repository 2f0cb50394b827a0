package device

import (
	"fmt"
	"log/slog"
	"net"
	"time"
)

// Default handshake budget for active-mode Start.
const (
	DefaultConnectAttempts = 10
	DefaultConnectInterval = 100 * time.Millisecond
)

// activeConnect drives the active-side handshake: send CONNECT(query=1), wait
// up to interval for a CONNECT(query=0) reply, repeat up to attempts times.
func (d *Device) activeConnect(remote *net.UDPAddr, attempts int, interval time.Duration) error {
	d.setRemote(remote)

	replyCh := d.awaitConnectReply(remote)
	defer d.stopAwaitingConnectReply()

	probe := encodeConnect(true)
	for i := 0; i < attempts; i++ {
		if err := d.writePacket(probe); err != nil {
			d.logger.Warn("connect: probe write failed", slog.Int("attempt", i+1), slog.Any("error", err))
		}

		timer := d.clock.NewTimer(interval)
		select {
		case <-replyCh:
			timer.Stop()
			d.connected.Store(true)
			d.logger.Info("connect: handshake complete (active)", slog.String("remote", remote.String()))
			return nil
		case <-timer.Chan():
			d.logger.Debug("connect: no reply, retrying", slog.Int("attempt", i+1))
		}
	}

	d.setRemote(nil)
	return fmt.Errorf("%w: no reply after %d attempts", ErrConnectionFail, attempts)
}

// handleConnect processes an inbound CONNECT packet in the receive loop. It
// covers both roles: the active side receiving the passive side's
// query=0 acknowledgement, and the passive side learning its peer from the
// first query=1 probe.
func (d *Device) handleConnect(pkt connectPacket, addr *net.UDPAddr) {
	if pkt.query {
		d.handleConnectProbe(addr)
		return
	}
	d.handleConnectReply(addr)
}

// handleConnectProbe implements the passive side of the handshake: the
// first probe from a peer fixes the remote endpoint and is answered; later
// probes from the same peer are answered idempotently; probes from any
// other peer while a remote is already bound are silently ignored.
func (d *Device) handleConnectProbe(addr *net.UDPAddr) {
	remote := d.getRemote()

	if remote == nil {
		d.setRemote(addr)
		d.connected.Store(true)
		d.logger.Info("connect: peer bound (passive)", slog.String("remote", addr.String()))
	} else if !sameEndpoint(remote, addr) {
		return
	}

	reply := encodeConnect(false)
	if err := d.writeTo(reply, addr); err != nil {
		d.logger.Warn("connect: reply write failed", slog.Any("error", err))
	}
}

// handleConnectReply delivers a query=0 reply to an active-mode Start that is
// currently awaiting exactly this peer; replies from any other peer, or
// arriving when nobody is waiting, are ignored.
func (d *Device) handleConnectReply(addr *net.UDPAddr) {
	d.connAwaitMu.Lock()
	ch := d.connAwaitCh
	expect := d.connAwaitAddr
	d.connAwaitMu.Unlock()

	if ch == nil || expect == nil || !sameEndpoint(expect, addr) {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// awaitConnectReply registers interest in a query=0 reply from remote and
// returns a channel that receives once when it arrives.
func (d *Device) awaitConnectReply(remote *net.UDPAddr) <-chan struct{} {
	ch := make(chan struct{}, 1)
	d.connAwaitMu.Lock()
	d.connAwaitCh = ch
	d.connAwaitAddr = remote
	d.connAwaitMu.Unlock()
	return ch
}

func (d *Device) stopAwaitingConnectReply() {
	d.connAwaitMu.Lock()
	d.connAwaitCh = nil
	d.connAwaitAddr = nil
	d.connAwaitMu.Unlock()
}

func sameEndpoint(a, b *net.UDPAddr) bool {
	return a.IP.Equal(b.IP) && a.Port == b.Port
}
