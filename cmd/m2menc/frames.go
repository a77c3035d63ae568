package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/opd-ai/m2mencoder/video"
)

// frameReader reads tightly packed raw frames and lays them out with the
// coded size the encoder asked for.
type frameReader struct {
	r       *bufio.Reader
	format  video.PixelFormat
	visible video.Size
	coded   video.Size
	raw     []byte
}

func newFrameReader(r io.Reader, format video.PixelFormat, visible, coded video.Size) (*frameReader, error) {
	if coded.Width < visible.Width || coded.Height < visible.Height {
		return nil, fmt.Errorf("coded size %s smaller than frame size %s", coded, visible)
	}
	return &frameReader{
		r:       bufio.NewReaderSize(r, format.AllocationSize(visible)),
		format:  format,
		visible: visible,
		coded:   coded,
		raw:     make([]byte, format.AllocationSize(visible)),
	}, nil
}

// FrameSize is the number of file bytes per frame.
func (fr *frameReader) FrameSize() int { return len(fr.raw) }

// Next returns the next frame, or io.EOF at a clean end of input.
func (fr *frameReader) Next(timestamp time.Duration) (*video.VideoFrame, error) {
	if _, err := io.ReadFull(fr.r, fr.raw); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("truncated frame: %w", err)
		}
		return nil, err
	}

	layout := video.NewFrameLayout(fr.format, fr.coded, false)
	frame, err := video.NewFrame(layout, video.NewRect(fr.visible), timestamp)
	if err != nil {
		return nil, err
	}

	offset := 0
	for i, plane := range layout.Planes {
		rows := fr.format.PlaneSize(i, fr.visible)
		for y := 0; y < rows.Height; y++ {
			copy(frame.Data[i][y*plane.Stride:], fr.raw[offset:offset+rows.Width])
			offset += rows.Width
		}
	}
	return frame, nil
}
