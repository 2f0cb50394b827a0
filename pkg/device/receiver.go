package device

import (
	"errors"
	"log/slog"
	"net"
)

// receiveLoop owns all socket reads for the device's lifetime. It exits
// cleanly when the socket is closed (Close) and logs, but continues on, any
// other read error.
func (d *Device) receiveLoop() error {
	buf := make([]byte, MaxPacketSize)
	for {
		n, addr, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			if d.closed.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			d.logger.Warn("receive: socket read error, continuing", slog.Any("error", err))
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		d.handleDatagram(data, addr)
	}
}

func (d *Device) handleDatagram(data []byte, addr *net.UDPAddr) {
	kind, err := packetTypeOf(data)
	if err != nil {
		d.logger.Debug("receive: dropping malformed datagram", slog.Any("error", err))
		return
	}

	switch kind {
	case PacketConnect:
		pkt, err := decodeConnect(data)
		if err != nil {
			d.logger.Debug("receive: malformed CONNECT", slog.Any("error", err))
			return
		}
		d.handleConnect(pkt, addr)

	case PacketResponse:
		pkt, err := decodeResponse(data)
		if err != nil {
			d.logger.Debug("receive: malformed RESPONSE", slog.Any("error", err))
			return
		}
		d.handleResponse(pkt)

	case PacketReliable:
		if !d.isFromRemote(addr) {
			return
		}
		pkt, err := decodeData(data)
		if err != nil {
			d.logger.Debug("receive: malformed RELIABLE", slog.Any("error", err))
			return
		}
		d.handleReliable(pkt)

	case PacketUnreliable:
		if !d.isFromRemote(addr) {
			return
		}
		pkt, err := decodeData(data)
		if err != nil {
			d.logger.Debug("receive: malformed UNRELIABLE", slog.Any("error", err))
			return
		}
		d.handleUnreliable(pkt)

	default:
		d.logger.Debug("receive: unknown packet type", slog.Int("type", int(kind)))
	}
}

// handleResponse signals the matching pending slot if one exists. Absence
// is not an error — the ack may have arrived after the sender already
// timed out and removed its slot.
func (d *Device) handleResponse(pkt responsePacket) {
	if slot, ok := d.findPendingSlot(pkt.ackedSequence); ok {
		slot.signalAcked()
	}
}

// handleReliable dispatches exactly the expected sequence, acks-but-drops
// a duplicate, or silently drops an early arrival.
func (d *Device) handleReliable(pkt dataPacket) {
	expected := d.loadReliableReceive()

	switch {
	case pkt.sequence == expected:
		d.ackReliable(pkt.sequence)
		d.storeReliableReceive(expected + 1)
		d.dispatch(pkt.messageType, pkt.sendTime, pkt.payload)

	case pkt.sequence < expected:
		d.ackReliable(pkt.sequence)

	default:
		// Too early; the sender will retransmit lower sequences to catch up.
	}
}

func (d *Device) ackReliable(seq uint32) {
	if err := d.writePacket(encodeResponse(seq)); err != nil {
		d.logger.Warn("receive: ack write failed", slog.Uint64("sequence", uint64(seq)), slog.Any("error", err))
	}
}

// handleUnreliable accepts anything at or past the current high-water mark.
// The receive counter is a monotonic max over seq+1, not a bare +1 per
// accepted packet, so a gap in unreliable sequence numbers (a dropped
// datagram) never blocks later arrivals.
func (d *Device) handleUnreliable(pkt dataPacket) {
	next := d.loadUnreliableReceive()
	if pkt.sequence < next {
		return
	}
	d.storeUnreliableReceive(pkt.sequence + 1)
	d.dispatch(pkt.messageType, pkt.sendTime, pkt.payload)
}

// dispatch hands a payload to its registered handler. When no handler is
// registered the occurrence is logged (ErrNoHandler) and the loop continues.
func (d *Device) dispatch(msgType MessageTypeID, sendTime int64, payload []byte) {
	handler, ok := d.registry.lookup(msgType)
	if !ok {
		d.logger.Error("dispatch: no handler registered", slog.Any("error", ErrNoHandler), slog.Int("messageType", int(msgType)))
		return
	}
	d.dispatcher.run(func() { handler(sendTime, payload) })
}
