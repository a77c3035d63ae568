package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"

	"github.com/opd-ai/m2mencoder"
	"github.com/opd-ai/m2mencoder/config"
	"github.com/opd-ai/m2mencoder/rtp"
	"github.com/sirupsen/logrus"
)

// bitstreamSink writes encoded frames to every configured output.
type bitstreamSink struct {
	file   *os.File
	writer *bufio.Writer
	sender *rtp.Sender

	frames    int
	bytes     int
	keyframes int
}

func openSink(out config.OutputConfig) (*bitstreamSink, error) {
	if out.Path == "" && out.RTPAddr == "" {
		return nil, errors.New("no output: set an output file or an RTP address")
	}

	s := &bitstreamSink{}
	if out.Path != "" {
		f, err := os.Create(out.Path)
		if err != nil {
			return nil, fmt.Errorf("create output: %w", err)
		}
		s.file, s.writer = f, bufio.NewWriter(f)
	}
	if out.RTPAddr != "" {
		sender, err := rtp.DialUDP(out.RTPAddr, out.MTU, out.PayloadType)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.sender = sender
	}
	return s, nil
}

// WriteFrame writes one access unit.
func (s *bitstreamSink) WriteFrame(data []byte, md m2mencoder.BitstreamBufferMetadata) error {
	if len(data) == 0 {
		logrus.WithFields(logrus.Fields{
			"function":  "bitstreamSink.WriteFrame",
			"timestamp": md.Timestamp,
		}).Warn("Skipping empty bitstream buffer")
		return nil
	}

	if s.writer != nil {
		if _, err := s.writer.Write(data); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	}
	if s.sender != nil {
		if err := s.sender.WriteFrame(data, md.Timestamp); err != nil {
			return err
		}
	}

	s.frames++
	s.bytes += len(data)
	if md.Keyframe {
		s.keyframes++
	}
	return nil
}

// Close flushes and closes every output.
func (s *bitstreamSink) Close() error {
	var errs []error
	if s.writer != nil {
		errs = append(errs, s.writer.Flush(), s.file.Close())
	}
	if s.sender != nil {
		errs = append(errs, s.sender.Close())
	}

	logrus.WithFields(logrus.Fields{
		"function":  "bitstreamSink.Close",
		"frames":    s.frames,
		"bytes":     s.bytes,
		"keyframes": s.keyframes,
	}).Info("Output closed")

	return errors.Join(errs...)
}
