package rtp

import (
	"net"
	"testing"
	"time"

	"github.com/opd-ai/m2mencoder/h264"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSPS = []byte{0x67, 0x42, 0xc0, 0x1e, 0xda, 0x02, 0x80}
	testPPS = []byte{0x68, 0xce, 0x3c, 0x80}
)

// slice returns a NAL unit of the given type and size with no zero bytes,
// so it cannot contain a start code.
func slice(t h264.NALUType, size int) []byte {
	nalu := make([]byte, size)
	nalu[0] = 0x60 | byte(t)
	for i := 1; i < size; i++ {
		nalu[i] = byte(i%250) + 1
	}
	return nalu
}

func keyframe(sliceSize int) []byte {
	var frame []byte
	frame = h264.AppendNALU(frame, testSPS)
	frame = h264.AppendNALU(frame, testPPS)
	return h264.AppendNALU(frame, slice(h264.NALUIDRSlice, sliceSize))
}

func marshalAll(t *testing.T, packets []*rtp.Packet) [][]byte {
	t.Helper()
	raw := make([][]byte, len(packets))
	for i, p := range packets {
		b, err := p.Marshal()
		require.NoError(t, err)
		raw[i] = b
	}
	return raw
}

func nalTypes(frame []byte) []h264.NALUType {
	var types []h264.NALUType
	for _, n := range h264.Split(frame) {
		types = append(types, n.Type)
	}
	return types
}

func TestNewH264Packetizer(t *testing.T) {
	tests := []struct {
		name        string
		mtu         uint16
		payloadType uint8
		wantErr     bool
	}{
		{"defaults", DefaultMTU, DefaultPayloadType, false},
		{"mtu too small", headerSize + 2, DefaultPayloadType, true},
		{"payload type out of range", DefaultMTU, 128, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewH264Packetizer(tt.mtu, tt.payloadType)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, p)
		})
	}
}

func TestRTPTimestamp(t *testing.T) {
	assert.Equal(t, uint32(0), RTPTimestamp(0))
	assert.Equal(t, uint32(90000), RTPTimestamp(time.Second))
	assert.Equal(t, uint32(3000), RTPTimestamp(time.Second/30))
}

func TestPacketize_SingleNALU(t *testing.T) {
	p, err := NewH264Packetizer(DefaultMTU, DefaultPayloadType)
	require.NoError(t, err)

	frame := h264.AppendNALU(nil, slice(h264.NALUNonIDRSlice, 200))
	first, err := p.Packetize(frame, 0)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.True(t, first[0].Marker)
	assert.Equal(t, uint8(DefaultPayloadType), first[0].PayloadType)
	assert.Equal(t, p.SSRC(), first[0].SSRC)
	assert.Equal(t, slice(h264.NALUNonIDRSlice, 200), first[0].Payload)

	second, err := p.Packetize(frame, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].SequenceNumber+1, second[0].SequenceNumber)
	assert.Equal(t, uint32(9000), second[0].Timestamp-first[0].Timestamp)
	assert.Equal(t, uint64(2), p.PacketsCreated())
}

func TestPacketize_Keyframe(t *testing.T) {
	p, err := NewH264Packetizer(DefaultMTU, DefaultPayloadType)
	require.NoError(t, err)

	packets, err := p.Packetize(keyframe(5000), 0)
	require.NoError(t, err)
	require.Greater(t, len(packets), 2, "parameter sets plus fragments")

	for i, pkt := range packets {
		raw, err := pkt.Marshal()
		require.NoError(t, err)
		assert.LessOrEqual(t, len(raw), DefaultMTU)
		assert.Equal(t, i == len(packets)-1, pkt.Marker)
		assert.Equal(t, packets[0].Timestamp, pkt.Timestamp)
		assert.Equal(t, packets[0].SequenceNumber+uint16(i), pkt.SequenceNumber)
	}
	// STAP-A
	assert.Equal(t, byte(24), packets[0].Payload[0]&0x1f)
}

func TestPacketize_Empty(t *testing.T) {
	p, err := NewH264Packetizer(DefaultMTU, DefaultPayloadType)
	require.NoError(t, err)

	_, err = p.Packetize(nil, 0)
	assert.ErrorIs(t, err, ErrEmptyFrame)
}

func TestDepacketizer_RoundTrip(t *testing.T) {
	p, err := NewH264Packetizer(DefaultMTU, DefaultPayloadType)
	require.NoError(t, err)
	d := NewH264Depacketizer()

	frames := [][]byte{
		keyframe(5000),
		h264.AppendNALU(nil, slice(h264.NALUNonIDRSlice, 300)),
		h264.AppendNALU(nil, slice(h264.NALUNonIDRSlice, 2500)),
	}
	for i, frame := range frames {
		packets, err := p.Packetize(frame, time.Duration(i)*33*time.Millisecond)
		require.NoError(t, err)

		raw := marshalAll(t, packets)
		for j, r := range raw {
			got, ts, complete, err := d.Push(r)
			require.NoError(t, err)
			if j < len(raw)-1 {
				assert.False(t, complete)
				continue
			}
			require.True(t, complete)
			assert.Equal(t, packets[0].Timestamp, ts)
			assert.Equal(t, nalTypes(frame), nalTypes(got))
			assert.Equal(t, frame, got)
		}
	}
}

func TestDepacketizer_SequenceGap(t *testing.T) {
	p, err := NewH264Packetizer(DefaultMTU, DefaultPayloadType)
	require.NoError(t, err)
	d := NewH264Depacketizer()

	packets, err := p.Packetize(keyframe(5000), 0)
	require.NoError(t, err)
	raw := marshalAll(t, packets)
	require.Greater(t, len(raw), 3)

	_, _, complete, err := d.Push(raw[0])
	require.NoError(t, err)
	assert.False(t, complete)

	_, _, complete, err = d.Push(raw[2])
	assert.ErrorIs(t, err, ErrSequenceGap)
	assert.False(t, complete)

	_, _, _, err = d.Push([]byte{0x80})
	assert.Error(t, err, "truncated packet")
}

func TestSender_UDP(t *testing.T) {
	listener, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	sender, err := DialUDP(listener.LocalAddr().String(), DefaultMTU, DefaultPayloadType)
	require.NoError(t, err)
	defer sender.Close()

	frame := keyframe(3000)
	require.NoError(t, sender.WriteFrame(frame, 0))

	packets, bytes := sender.Stats()
	require.Greater(t, packets, uint64(1))
	assert.Equal(t, sender.Packetizer().PacketsCreated(), packets)

	d := NewH264Depacketizer()
	buf := make([]byte, 1500)
	var received uint64
	for {
		require.NoError(t, listener.SetReadDeadline(time.Now().Add(2*time.Second)))
		n, _, err := listener.ReadFrom(buf)
		require.NoError(t, err)
		received += uint64(n)

		got, _, complete, err := d.Push(buf[:n])
		require.NoError(t, err)
		if complete {
			assert.Equal(t, frame, got)
			break
		}
	}
	assert.Equal(t, bytes, received)
}

func TestNewSender_Validation(t *testing.T) {
	p, err := NewH264Packetizer(DefaultMTU, DefaultPayloadType)
	require.NoError(t, err)

	_, err = NewSender(nil, p)
	assert.Error(t, err)

	conn, err := net.Dial("udp", "127.0.0.1:9")
	require.NoError(t, err)
	defer conn.Close()

	_, err = NewSender(conn, nil)
	assert.Error(t, err)

	s, err := NewSender(conn, p)
	require.NoError(t, err)
	assert.Same(t, p, s.Packetizer())
}
