package connection

import (
	"testing"

	"github.com/embermqtt/ember/encoding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboundStore_AddEraseOrder(t *testing.T) {
	s := NewOutboundStore()

	s.Add(&StoredPacket{PacketID: 1, Response: ResponsePuback, Topic: "a", QoS: encoding.QoS1})
	s.Add(&StoredPacket{PacketID: 2, Response: ResponsePubrec, Topic: "b", QoS: encoding.QoS2})
	s.Add(&StoredPacket{PacketID: 3, Response: ResponsePuback, Topic: "c", QoS: encoding.QoS1})

	var seen []uint16
	s.ForEach(func(p *StoredPacket) { seen = append(seen, p.PacketID) })
	assert.Equal(t, []uint16{1, 2, 3}, seen)

	// Wrong response tag does not erase.
	assert.Nil(t, s.Erase(ResponsePubrec, 1))
	assert.Equal(t, 3, s.Len())

	got := s.Erase(ResponsePuback, 1)
	require.NotNil(t, got)
	assert.Equal(t, "a", got.Topic)
	assert.Equal(t, 2, s.Len())

	seen = nil
	s.ForEach(func(p *StoredPacket) { seen = append(seen, p.PacketID) })
	assert.Equal(t, []uint16{2, 3}, seen)
}

func TestOutboundStore_RekeyQoS2Flow(t *testing.T) {
	s := NewOutboundStore()
	s.Add(&StoredPacket{PacketID: 7, Response: ResponsePubrec, QoS: encoding.QoS2})

	// PUBREC arrives: move expectation to PUBCOMP.
	s.Rekey(7, ResponsePubcomp)

	assert.Nil(t, s.Erase(ResponsePubrec, 7))
	got := s.Erase(ResponsePubcomp, 7)
	require.NotNil(t, got)
	assert.Equal(t, uint16(7), got.PacketID)
}

func TestOutboundStore_Clear(t *testing.T) {
	s := NewOutboundStore()
	s.Add(&StoredPacket{PacketID: 1, Response: ResponsePuback})
	s.Clear()
	assert.Equal(t, 0, s.Len())
	assert.Nil(t, s.Erase(ResponsePuback, 1))
}
