package rtp

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Sender writes packetized H.264 access units to a connected datagram
// socket.
type Sender struct {
	mu          sync.Mutex
	conn        net.Conn
	packetizer  *H264Packetizer
	packetsSent uint64
	bytesSent   uint64
}

// NewSender wraps conn. Each Write on conn must send one datagram.
func NewSender(conn net.Conn, packetizer *H264Packetizer) (*Sender, error) {
	if conn == nil {
		return nil, fmt.Errorf("connection cannot be nil")
	}
	if packetizer == nil {
		return nil, fmt.Errorf("packetizer cannot be nil")
	}
	return &Sender{conn: conn, packetizer: packetizer}, nil
}

// DialUDP creates a Sender streaming to addr ("host:port").
func DialUDP(addr string, mtu uint16, payloadType uint8) (*Sender, error) {
	packetizer, err := NewH264Packetizer(mtu, payloadType)
	if err != nil {
		return nil, err
	}
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "DialUDP",
		"remote_addr": conn.RemoteAddr().String(),
		"local_addr":  conn.LocalAddr().String(),
		"ssrc":        packetizer.SSRC(),
	}).Info("RTP sender connected")

	return &Sender{conn: conn, packetizer: packetizer}, nil
}

// Packetizer returns the packetizer feeding this sender.
func (s *Sender) Packetizer() *H264Packetizer { return s.packetizer }

// WriteFrame packetizes one access unit and sends every packet.
func (s *Sender) WriteFrame(frame []byte, timestamp time.Duration) error {
	packets, err := s.packetizer.Packetize(frame, timestamp)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pkt := range packets {
		raw, err := pkt.Marshal()
		if err != nil {
			return fmt.Errorf("failed to marshal RTP packet: %w", err)
		}
		if _, err := s.conn.Write(raw); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Sender.WriteFrame",
				"sequence": pkt.SequenceNumber,
				"error":    err.Error(),
			}).Error("Failed to send RTP packet")
			return fmt.Errorf("failed to send RTP packet: %w", err)
		}
		s.packetsSent++
		s.bytesSent += uint64(len(raw))
	}
	return nil
}

// Stats returns the number of packets and bytes sent.
func (s *Sender) Stats() (packets, bytes uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.packetsSent, s.bytesSent
}

// Close closes the underlying connection.
func (s *Sender) Close() error {
	packets, bytes := s.Stats()
	logrus.WithFields(logrus.Fields{
		"function": "Sender.Close",
		"packets":  packets,
		"bytes":    bytes,
	}).Info("Closing RTP sender")
	return s.conn.Close()
}
