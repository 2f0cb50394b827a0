package device

import (
	"encoding/binary"
	"fmt"
)

// PacketType identifies the shape of a framed packet. It is always the first
// byte on the wire.
type PacketType byte

const (
	PacketConnect    PacketType = 0
	PacketResponse   PacketType = 1
	PacketReliable   PacketType = 2
	PacketUnreliable PacketType = 3
)

// Wire size constants. MaxMessageSize bounds a single payload; the header
// sizes below are fixed per packet type, so MaxPacketSize is the data-packet
// header plus the largest payload.
const (
	MaxMessageSize     = 60
	ConnectHeaderSize  = 2
	ResponseHeaderSize = 5
	FullHeaderSize     = 14
	MaxPacketSize      = FullHeaderSize + MaxMessageSize // 74
)

// connectPacket is the 2-byte CONNECT frame: type, query.
type connectPacket struct {
	query bool
}

func encodeConnect(query bool) []byte {
	buf := make([]byte, ConnectHeaderSize)
	buf[0] = byte(PacketConnect)
	if query {
		buf[1] = 1
	}
	return buf
}

func decodeConnect(data []byte) (connectPacket, error) {
	if len(data) < ConnectHeaderSize {
		return connectPacket{}, fmt.Errorf("device: short CONNECT packet (%d bytes)", len(data))
	}
	return connectPacket{query: data[1] == 1}, nil
}

// responsePacket is the 5-byte RESPONSE (ack) frame: type, acked_sequence.
type responsePacket struct {
	ackedSequence uint32
}

func encodeResponse(seq uint32) []byte {
	buf := make([]byte, ResponseHeaderSize)
	buf[0] = byte(PacketResponse)
	binary.BigEndian.PutUint32(buf[1:], seq)
	return buf
}

func decodeResponse(data []byte) (responsePacket, error) {
	if len(data) < ResponseHeaderSize {
		return responsePacket{}, fmt.Errorf("device: short RESPONSE packet (%d bytes)", len(data))
	}
	return responsePacket{ackedSequence: binary.BigEndian.Uint32(data[1:5])}, nil
}

// dataPacket is the shared RELIABLE/UNRELIABLE frame: type, sequence,
// message_type, send_time, payload.
type dataPacket struct {
	kind        PacketType
	sequence    uint32
	messageType MessageTypeID
	sendTime    int64
	payload     []byte
}

func encodeData(kind PacketType, seq uint32, msgType MessageTypeID, sendTime int64, payload []byte) ([]byte, error) {
	if len(payload) > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}
	buf := make([]byte, FullHeaderSize+len(payload))
	buf[0] = byte(kind)
	binary.BigEndian.PutUint32(buf[1:5], seq)
	buf[5] = byte(msgType)
	binary.BigEndian.PutUint64(buf[6:14], uint64(sendTime))
	copy(buf[14:], payload)
	return buf, nil
}

func decodeData(data []byte) (dataPacket, error) {
	if len(data) < FullHeaderSize {
		return dataPacket{}, fmt.Errorf("device: short data packet (%d bytes)", len(data))
	}
	payload := make([]byte, len(data)-FullHeaderSize)
	copy(payload, data[FullHeaderSize:])
	return dataPacket{
		kind:        PacketType(data[0]),
		sequence:    binary.BigEndian.Uint32(data[1:5]),
		messageType: MessageTypeID(data[5]),
		sendTime:    int64(binary.BigEndian.Uint64(data[6:14])),
		payload:     payload,
	}, nil
}

// packetTypeOf reads the first byte of a datagram without otherwise
// decoding it, for dispatch in the receive loop.
func packetTypeOf(data []byte) (PacketType, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("device: empty datagram")
	}
	return PacketType(data[0]), nil
}
