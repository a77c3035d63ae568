package rtp

import (
	"errors"
	"fmt"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/sirupsen/logrus"
)

// ErrSequenceGap is returned when a packet is missing inside an access unit.
// The partial unit is discarded.
var ErrSequenceGap = errors.New("sequence gap")

// H264Depacketizer rebuilds Annex-B access units from RTP packets of a
// single SSRC delivered in order.
type H264Depacketizer struct {
	packet  codecs.H264Packet
	pending []byte
	lastSeq uint16
	hasSeq  bool
	ssrc    uint32
	hasSSRC bool
}

// NewH264Depacketizer creates an empty depacketizer.
func NewH264Depacketizer() *H264Depacketizer {
	return &H264Depacketizer{}
}

// Push consumes one marshaled RTP packet. When the packet completes an
// access unit (marker bit), the unit and its RTP timestamp are returned
// with complete set.
func (d *H264Depacketizer) Push(raw []byte) (frame []byte, timestamp uint32, complete bool, err error) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(raw); err != nil {
		return nil, 0, false, fmt.Errorf("unmarshal RTP packet: %w", err)
	}

	if d.hasSSRC && pkt.SSRC != d.ssrc {
		logrus.WithFields(logrus.Fields{
			"function": "H264Depacketizer.Push",
			"expected": d.ssrc,
			"got":      pkt.SSRC,
		}).Warn("Ignoring packet from unexpected SSRC")
		return nil, 0, false, nil
	}
	d.ssrc, d.hasSSRC = pkt.SSRC, true

	if d.hasSeq && pkt.SequenceNumber != d.lastSeq+1 {
		gap := pkt.SequenceNumber - d.lastSeq - 1
		d.lastSeq = pkt.SequenceNumber
		d.pending = d.pending[:0]
		d.packet = codecs.H264Packet{}
		return nil, 0, false, fmt.Errorf("%w: %d packets lost", ErrSequenceGap, gap)
	}
	d.lastSeq, d.hasSeq = pkt.SequenceNumber, true

	nalus, err := d.packet.Unmarshal(pkt.Payload)
	if err != nil {
		d.pending = d.pending[:0]
		return nil, 0, false, fmt.Errorf("depacketize H.264: %w", err)
	}
	d.pending = append(d.pending, nalus...)

	if !pkt.Marker {
		return nil, 0, false, nil
	}
	frame = append([]byte(nil), d.pending...)
	d.pending = d.pending[:0]
	return frame, pkt.Timestamp, true, nil
}
