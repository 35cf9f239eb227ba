package mesh

import (
	"errors"
	"fmt"
)

// PortNum identifies the application a Data payload belongs to.
type PortNum uint32

// Port numbers used by meshrelay.
const (
	UnknownApp     PortNum = 0
	TextMessageApp PortNum = 1
)

const (
	// BroadcastAddr addresses every node on the mesh.
	BroadcastAddr uint32 = 0xFFFFFFFF

	// MaxChannel is the highest channel index a gateway exposes.
	MaxChannel = 7

	// DefaultHopLimit matches the firmware default.
	DefaultHopLimit = 7

	// MaxTextBytes is the largest Data payload the firmware accepts.
	MaxTextBytes = 233
)

var (
	// ErrChannelRange is returned for packets whose channel index is above MaxChannel.
	ErrChannelRange = errors.New("mesh: channel out of range")

	// ErrPayloadVariant is returned for packets that set both Encrypted and a
	// decoded PortNum or Payload. On the wire the two are alternatives.
	ErrPayloadVariant = errors.New("mesh: packet is both encrypted and decoded")
)

// Packet is the routing view of a MeshPacket.
type Packet struct {
	ID       uint32
	From     uint32
	To       uint32
	Channel  uint8
	PortNum  PortNum
	HopLimit uint32
	WantAck  bool

	// Payload is the Data payload; empty payloads decode as nil.
	Payload []byte

	// Encrypted holds the ciphertext when the gateway could not decode the
	// packet. A packet is either encrypted or carries PortNum/Payload, never both.
	Encrypted []byte
}

// Validate checks the packet invariants.
func (p Packet) Validate() error {
	if p.Channel > MaxChannel {
		return fmt.Errorf("%w: %d", ErrChannelRange, p.Channel)
	}
	if p.Encrypted != nil && (p.PortNum != UnknownApp || len(p.Payload) > 0) {
		return ErrPayloadVariant
	}
	return nil
}

// IsText reports whether the packet carries a decoded text message.
func (p Packet) IsText() bool {
	return p.Encrypted == nil && p.PortNum == TextMessageApp
}

// Text returns the text body, or "" for non-text packets.
func (p Packet) Text() string {
	if !p.IsText() {
		return ""
	}
	return string(p.Payload)
}

// NewText builds a broadcast text packet.
func NewText(id uint32, channel uint8, text string) Packet {
	return Packet{
		ID:       id,
		To:       BroadcastAddr,
		Channel:  channel,
		PortNum:  TextMessageApp,
		HopLimit: DefaultHopLimit,
		WantAck:  true,
		Payload:  []byte(text),
	}
}
