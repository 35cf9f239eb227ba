package mesh

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Kind discriminates decode results.
type Kind int

const (
	// KindMalformed means the payload is not a valid envelope.
	KindMalformed Kind = iota
	// KindPacket means the envelope carries a MeshPacket.
	KindPacket
	// KindOther means a valid envelope without a MeshPacket.
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindPacket:
		return "packet"
	case KindOther:
		return "other"
	default:
		return "malformed"
	}
}

// Envelope is the tagged result of decoding a frame payload.
type Envelope struct {
	Kind    Kind
	Packet  Packet
	Variant string
	Err     error
}

// Field numbers of the envelopes.
const (
	toRadioPacket       protowire.Number = 1
	toRadioWantConfigID protowire.Number = 3

	fromRadioID     protowire.Number = 1
	fromRadioPacket protowire.Number = 2

	meshFrom      protowire.Number = 1
	meshTo        protowire.Number = 2
	meshChannel   protowire.Number = 3
	meshDecoded   protowire.Number = 4
	meshEncrypted protowire.Number = 5
	meshID        protowire.Number = 6
	meshHopLimit  protowire.Number = 9
	meshWantAck   protowire.Number = 10

	dataPortNum protowire.Number = 1
	dataPayload protowire.Number = 2
)

var toRadioVariants = map[protowire.Number]string{
	1: "packet",
	3: "want_config_id",
	4: "disconnect",
	5: "xmodem_packet",
	6: "mqtt_client_proxy_message",
	7: "heartbeat",
}

var fromRadioVariants = map[protowire.Number]string{
	2:  "packet",
	3:  "my_info",
	4:  "node_info",
	5:  "config",
	6:  "log_record",
	7:  "config_complete_id",
	8:  "rebooted",
	9:  "module_config",
	10: "channel",
	11: "queue_status",
	12: "xmodem_packet",
	13: "metadata",
	14: "mqtt_client_proxy_message",
	15: "file_info",
	16: "client_notification",
}

// EncodeToRadio renders p as a ToRadio envelope (client to gateway).
func EncodeToRadio(p Packet) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	b := protowire.AppendTag(nil, toRadioPacket, protowire.BytesType)
	return protowire.AppendBytes(b, encodeMeshPacket(p)), nil
}

// EncodeFromRadio renders p as a FromRadio envelope (gateway to client).
func EncodeFromRadio(p Packet) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	b := protowire.AppendTag(nil, fromRadioPacket, protowire.BytesType)
	return protowire.AppendBytes(b, encodeMeshPacket(p)), nil
}

// EncodeWantConfig renders the ToRadio request that starts a gateway's stream.
func EncodeWantConfig(id uint32) []byte {
	b := protowire.AppendTag(nil, toRadioWantConfigID, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(id))
}

// DecodeToRadio decodes a client to gateway envelope.
func DecodeToRadio(b []byte) Envelope {
	return decodeEnvelope(b, toRadioPacket, toRadioVariants)
}

// DecodeFromRadio decodes a gateway to client envelope.
func DecodeFromRadio(b []byte) Envelope {
	return decodeEnvelope(b, fromRadioPacket, fromRadioVariants)
}

func decodeEnvelope(b []byte, packetField protowire.Number, variants map[protowire.Number]string) Envelope {
	env := Envelope{Kind: KindOther}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return malformed(protowire.ParseError(n))
		}
		b = b[n:]

		if num == packetField && typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return malformed(protowire.ParseError(n))
			}
			b = b[n:]
			p, err := decodeMeshPacket(v)
			if err != nil {
				return malformed(err)
			}
			if err := p.Validate(); err != nil {
				return malformed(err)
			}
			env.Kind = KindPacket
			env.Packet = p
			env.Variant = variants[num]
			continue
		}

		if name, ok := variants[num]; ok && env.Kind != KindPacket {
			env.Variant = name
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return malformed(protowire.ParseError(n))
		}
		b = b[n:]
	}
	return env
}

func malformed(err error) Envelope {
	return Envelope{Kind: KindMalformed, Err: fmt.Errorf("mesh: decode envelope: %w", err)}
}

func encodeMeshPacket(p Packet) []byte {
	var b []byte
	if p.From != 0 {
		b = protowire.AppendTag(b, meshFrom, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, p.From)
	}
	if p.To != 0 {
		b = protowire.AppendTag(b, meshTo, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, p.To)
	}
	if p.Channel != 0 {
		b = protowire.AppendTag(b, meshChannel, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.Channel))
	}
	if p.Encrypted != nil {
		b = protowire.AppendTag(b, meshEncrypted, protowire.BytesType)
		b = protowire.AppendBytes(b, p.Encrypted)
	} else {
		b = protowire.AppendTag(b, meshDecoded, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeData(p))
	}
	if p.ID != 0 {
		b = protowire.AppendTag(b, meshID, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, p.ID)
	}
	if p.HopLimit != 0 {
		b = protowire.AppendTag(b, meshHopLimit, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.HopLimit))
	}
	if p.WantAck {
		b = protowire.AppendTag(b, meshWantAck, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	return b
}

func encodeData(p Packet) []byte {
	var b []byte
	if p.PortNum != UnknownApp {
		b = protowire.AppendTag(b, dataPortNum, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.PortNum))
	}
	if len(p.Payload) > 0 {
		b = protowire.AppendTag(b, dataPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, p.Payload)
	}
	return b
}

func decodeMeshPacket(b []byte) (Packet, error) {
	var p Packet
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return p, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case (num == meshFrom || num == meshTo || num == meshID) && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return p, protowire.ParseError(n)
			}
			b = b[n:]
			switch num {
			case meshFrom:
				p.From = v
			case meshTo:
				p.To = v
			default:
				p.ID = v
			}
		case (num == meshChannel || num == meshHopLimit || num == meshWantAck) && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return p, protowire.ParseError(n)
			}
			b = b[n:]
			switch num {
			case meshChannel:
				if v > 0xFF {
					return p, fmt.Errorf("%w: %d", ErrChannelRange, v)
				}
				p.Channel = uint8(v)
			case meshHopLimit:
				p.HopLimit = uint32(v)
			default:
				p.WantAck = protowire.DecodeBool(v)
			}
		case num == meshDecoded && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return p, protowire.ParseError(n)
			}
			b = b[n:]
			// decoded and encrypted share a oneof; the last one on the wire wins.
			p.Encrypted = nil
			if err := decodeData(v, &p); err != nil {
				return p, err
			}
		case num == meshEncrypted && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return p, protowire.ParseError(n)
			}
			b = b[n:]
			p.PortNum, p.Payload = UnknownApp, nil
			p.Encrypted = append([]byte{}, v...)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return p, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return p, nil
}

func decodeData(b []byte, p *Packet) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == dataPortNum && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			p.PortNum = PortNum(v)
		case num == dataPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			if len(v) > 0 {
				p.Payload = append([]byte{}, v...)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}
