package mesh

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func samplePackets() []Packet {
	return []Packet{
		NewText(0x1234, 2, "/gem 2+2"),
		{ID: 1, From: 0xa1b2c3d4, To: 0x01020304, Channel: 7, PortNum: 67, HopLimit: 3, Payload: []byte{0x00, 0xff}},
		{From: 0xdeadbeef, To: BroadcastAddr, Channel: 0, PortNum: TextMessageApp, Payload: []byte("hello")},
		{ID: 99, From: 5, To: 6, Channel: 3, Encrypted: []byte{0x01, 0x02, 0x03}},
		{ID: 7, Channel: 1, PortNum: TextMessageApp},
	}
}

func TestToRadio_RoundTrip(t *testing.T) {
	for _, p := range samplePackets() {
		b, err := EncodeToRadio(p)
		require.NoError(t, err)

		env := DecodeToRadio(b)
		require.Equal(t, KindPacket, env.Kind, "err: %v", env.Err)
		assert.Equal(t, "packet", env.Variant)
		assert.Equal(t, p, env.Packet)
	}
}

func TestFromRadio_RoundTrip(t *testing.T) {
	for _, p := range samplePackets() {
		b, err := EncodeFromRadio(p)
		require.NoError(t, err)

		env := DecodeFromRadio(b)
		require.Equal(t, KindPacket, env.Kind, "err: %v", env.Err)
		assert.Equal(t, p, env.Packet)
	}
}

func TestEncode_RejectsChannelOutOfRange(t *testing.T) {
	_, err := EncodeToRadio(Packet{Channel: 8})
	assert.True(t, errors.Is(err, ErrChannelRange))

	_, err = EncodeFromRadio(Packet{Channel: 200})
	assert.True(t, errors.Is(err, ErrChannelRange))
}

func TestEncode_RejectsEncryptedWithDecodedFields(t *testing.T) {
	tests := []struct {
		name string
		p    Packet
	}{
		{"port set", Packet{ID: 1, PortNum: TextMessageApp, Encrypted: []byte{0x01}}},
		{"payload set", Packet{ID: 2, Payload: []byte("x"), Encrypted: []byte{0x01}}},
		{"empty ciphertext", Packet{ID: 3, PortNum: 67, Encrypted: []byte{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodeToRadio(tt.p)
			assert.ErrorIs(t, err, ErrPayloadVariant)
			_, err = EncodeFromRadio(tt.p)
			assert.ErrorIs(t, err, ErrPayloadVariant)
		})
	}
}

func TestDecode_LastPayloadVariantWins(t *testing.T) {
	decoded := encodeMeshPacket(NewText(5, 1, "plain"))
	encrypted := encodeMeshPacket(Packet{ID: 5, Channel: 1, Encrypted: []byte{0xAA, 0xBB}})

	tests := []struct {
		name  string
		inner []byte
		want  Packet
	}{
		{
			name:  "encrypted last",
			inner: append(append([]byte{}, decoded...), encrypted...),
			want:  Packet{ID: 5, To: BroadcastAddr, Channel: 1, HopLimit: DefaultHopLimit, WantAck: true, Encrypted: []byte{0xAA, 0xBB}},
		},
		{
			name:  "decoded last",
			inner: append(append([]byte{}, encrypted...), decoded...),
			want:  NewText(5, 1, "plain"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := protowire.AppendTag(nil, fromRadioPacket, protowire.BytesType)
			b = protowire.AppendBytes(b, tt.inner)

			env := DecodeFromRadio(b)
			require.Equal(t, KindPacket, env.Kind, "err: %v", env.Err)
			assert.Equal(t, tt.want, env.Packet)
			require.NoError(t, env.Packet.Validate())

			again, err := EncodeFromRadio(env.Packet)
			require.NoError(t, err)
			assert.Equal(t, tt.want, DecodeFromRadio(again).Packet)
		})
	}
}

func TestDecode_ChannelOutOfRangeIsMalformed(t *testing.T) {
	inner := protowire.AppendTag(nil, meshChannel, protowire.VarintType)
	inner = protowire.AppendVarint(inner, 9)
	b := protowire.AppendTag(nil, fromRadioPacket, protowire.BytesType)
	b = protowire.AppendBytes(b, inner)

	env := DecodeFromRadio(b)
	assert.Equal(t, KindMalformed, env.Kind)
	assert.True(t, errors.Is(env.Err, ErrChannelRange))
}

func TestDecode_OtherVariants(t *testing.T) {
	env := DecodeToRadio(EncodeWantConfig(0xCAFE))
	assert.Equal(t, KindOther, env.Kind)
	assert.Equal(t, "want_config_id", env.Variant)

	// FromRadio { id: 5, config_complete_id: 42 }
	b := protowire.AppendTag(nil, fromRadioID, protowire.VarintType)
	b = protowire.AppendVarint(b, 5)
	b = protowire.AppendTag(b, 7, protowire.VarintType)
	b = protowire.AppendVarint(b, 42)
	env = DecodeFromRadio(b)
	assert.Equal(t, KindOther, env.Kind)
	assert.Equal(t, "config_complete_id", env.Variant)
}

func TestDecode_Truncated(t *testing.T) {
	env := DecodeFromRadio([]byte{0x12, 0x05, 0x01})
	assert.Equal(t, KindMalformed, env.Kind)
	assert.Error(t, env.Err)
}

func TestDecode_SkipsUnknownMeshFields(t *testing.T) {
	p := NewText(77, 4, "hi")
	inner := encodeMeshPacket(p)
	// rx_snr (float, field 8) and rx_time (fixed32, field 7)
	inner = protowire.AppendTag(inner, 8, protowire.Fixed32Type)
	inner = protowire.AppendFixed32(inner, 0x41200000)
	inner = protowire.AppendTag(inner, 7, protowire.Fixed32Type)
	inner = protowire.AppendFixed32(inner, 1700000000)
	b := protowire.AppendTag(nil, fromRadioPacket, protowire.BytesType)
	b = protowire.AppendBytes(b, inner)

	env := DecodeFromRadio(b)
	require.Equal(t, KindPacket, env.Kind)
	assert.Equal(t, p, env.Packet)
}

func TestPacket_Text(t *testing.T) {
	assert.Equal(t, "hello", NewText(1, 0, "hello").Text())
	assert.Equal(t, "", Packet{PortNum: 67, Payload: []byte("x")}.Text())
	assert.False(t, Packet{PortNum: TextMessageApp, Encrypted: []byte{1}}.IsText())
}
