package rtp

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/sirupsen/logrus"
)

const (
	// ClockRate is the RTP clock of H.264 video (RFC 6184).
	ClockRate = 90000
	// DefaultMTU leaves room for IP and UDP headers on a 1280 byte path.
	DefaultMTU = 1200
	// DefaultPayloadType is the first dynamic payload type.
	DefaultPayloadType = 96

	headerSize = 12
)

var (
	// ErrEmptyFrame is returned when there is nothing to packetize.
	ErrEmptyFrame = errors.New("empty frame")
	// ErrMTUTooSmall is returned when the MTU cannot hold a header and an
	// FU-A fragment.
	ErrMTUTooSmall = errors.New("mtu too small")
)

// H264Packetizer splits Annex-B access units into RTP packets following
// RFC 6184 (single NAL unit, STAP-A for parameter sets, FU-A fragments).
type H264Packetizer struct {
	mu             sync.Mutex
	mtu            uint16
	payloadType    uint8
	ssrc           uint32
	timestampBase  uint32
	sequencer      rtp.Sequencer
	payloader      *codecs.H264Payloader
	packetsCreated uint64
}

func randomUint32() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// NewH264Packetizer creates a packetizer with a random SSRC, initial
// sequence number and timestamp offset.
func NewH264Packetizer(mtu uint16, payloadType uint8) (*H264Packetizer, error) {
	logrus.WithFields(logrus.Fields{
		"function":     "NewH264Packetizer",
		"mtu":          mtu,
		"payload_type": payloadType,
	}).Info("Creating H.264 RTP packetizer")

	if mtu <= headerSize+2 {
		return nil, fmt.Errorf("%w: %d", ErrMTUTooSmall, mtu)
	}
	if payloadType > 127 {
		return nil, fmt.Errorf("payload type %d out of range", payloadType)
	}

	ssrc, err := randomUint32()
	if err != nil {
		return nil, fmt.Errorf("failed to generate SSRC: %w", err)
	}
	base, err := randomUint32()
	if err != nil {
		return nil, fmt.Errorf("failed to generate timestamp offset: %w", err)
	}

	return &H264Packetizer{
		mtu:           mtu,
		payloadType:   payloadType,
		ssrc:          ssrc,
		timestampBase: base,
		sequencer:     rtp.NewRandomSequencer(),
		payloader:     &codecs.H264Payloader{},
	}, nil
}

// SSRC returns the synchronization source of the stream.
func (p *H264Packetizer) SSRC() uint32 { return p.ssrc }

// PacketsCreated returns how many packets have been produced.
func (p *H264Packetizer) PacketsCreated() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.packetsCreated
}

// RTPTimestamp converts a media timestamp to the 90 kHz RTP clock, without
// the stream's random offset.
func RTPTimestamp(ts time.Duration) uint32 {
	return uint32(int64(ts) * ClockRate / int64(time.Second))
}

// Packetize converts one access unit into RTP packets. All packets share
// the frame's timestamp and the last one carries the marker bit. Parameter
// sets alone produce no packets; they are sent together with the next
// slice.
func (p *H264Packetizer) Packetize(frame []byte, timestamp time.Duration) ([]*rtp.Packet, error) {
	if len(frame) == 0 {
		return nil, ErrEmptyFrame
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	payloads := p.payloader.Payload(p.mtu-headerSize, frame)
	if len(payloads) == 0 {
		return nil, nil
	}

	rtpTS := p.timestampBase + RTPTimestamp(timestamp)
	packets := make([]*rtp.Packet, len(payloads))
	for i, payload := range payloads {
		packets[i] = &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         i == len(payloads)-1,
				PayloadType:    p.payloadType,
				SequenceNumber: p.sequencer.NextSequenceNumber(),
				Timestamp:      rtpTS,
				SSRC:           p.ssrc,
			},
			Payload: payload,
		}
	}
	p.packetsCreated += uint64(len(packets))

	logrus.WithFields(logrus.Fields{
		"function":  "H264Packetizer.Packetize",
		"frame":     len(frame),
		"packets":   len(packets),
		"timestamp": rtpTS,
	}).Debug("Packetized access unit")

	return packets, nil
}
