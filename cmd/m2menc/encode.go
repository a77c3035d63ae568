package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/opd-ai/m2mencoder"
	"github.com/opd-ai/m2mencoder/factory"
	"github.com/opd-ai/m2mencoder/video"
	"github.com/sirupsen/logrus"
)

// setupTimeout bounds the wait for RequireBitstreamBuffers.
const setupTimeout = 10 * time.Second

// EncodeCmd defines the encode subcommand.
type EncodeCmd struct {
	RunFlags `embed:""`

	Input         string `arg:"" type:"existingfile" help:"Raw I420 or NV12 frames, tightly packed."`
	Frames        int    `short:"n" help:"Stop after this many frames (0 = whole file)."`
	KeyframeEvery int    `help:"Request an IDR every N frames (0 = device GOP)."`
}

type requirement struct {
	inputCount int
	codedSize  video.Size
}

// sinkClient receives encoder callbacks on the encoder's client goroutine
// and writes every returned buffer to the sink.
type sinkClient struct {
	enc     *m2mencoder.Encoder
	sink    *bitstreamSink
	count   int
	buffers map[int32][]byte

	required chan requirement
	errCh    chan m2mencoder.ErrorKind
	slots    chan struct{}
	inFlight sync.WaitGroup

	mu       sync.Mutex
	writeErr error
}

func newSinkClient(enc *m2mencoder.Encoder, sink *bitstreamSink, count int) *sinkClient {
	return &sinkClient{
		enc:      enc,
		sink:     sink,
		count:    count,
		buffers:  make(map[int32][]byte),
		required: make(chan requirement, 1),
		errCh:    make(chan m2mencoder.ErrorKind, 1),
	}
}

func (c *sinkClient) RequireBitstreamBuffers(inputCount int, codedSize video.Size, bufferSize int) {
	logrus.WithFields(logrus.Fields{
		"function":    "sinkClient.RequireBitstreamBuffers",
		"input_count": inputCount,
		"coded_size":  codedSize.String(),
		"buffer_size": bufferSize,
		"buffers":     c.count,
	}).Info("Providing bitstream buffers")

	for id := int32(0); id < int32(c.count); id++ {
		c.buffers[id] = make([]byte, bufferSize)
		c.provide(id)
	}
	c.required <- requirement{inputCount: inputCount, codedSize: codedSize}
}

func (c *sinkClient) provide(id int32) {
	buf := c.buffers[id]
	c.enc.UseOutputBitstreamBuffer(m2mencoder.BitstreamBuffer{ID: id, Region: buf, Size: len(buf)})
}

func (c *sinkClient) BitstreamBufferReady(id int32, md m2mencoder.BitstreamBufferMetadata) {
	buf, ok := c.buffers[id]
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function": "sinkClient.BitstreamBufferReady",
			"id":       id,
		}).Error("Unknown bitstream buffer")
		return
	}

	if err := c.sink.WriteFrame(buf[:md.PayloadSize], md); err != nil {
		c.mu.Lock()
		if c.writeErr == nil {
			c.writeErr = err
		}
		c.mu.Unlock()
	}
	c.provide(id)

	<-c.slots
	c.inFlight.Done()
}

func (c *sinkClient) NotifyError(kind m2mencoder.ErrorKind) {
	select {
	case c.errCh <- kind:
	default:
	}
}

func (c *sinkClient) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeErr
}

// Run executes the encode command.
func (cmd *EncodeCmd) Run(g *Globals) (err error) {
	cfg, err := cmd.load()
	if err != nil {
		return err
	}
	encCfg, err := cfg.EncoderConfig()
	if err != nil {
		return fmt.Errorf("encoder configuration: %w", err)
	}

	input, err := os.Open(cmd.Input)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer input.Close()

	sink, err := openSink(cfg.Output)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sink.Close(); err == nil {
			err = cerr
		}
	}()

	devCfg := cfg.DeviceConfig()
	dev, err := factory.NewDeviceFactory().CreateDeviceWithConfig(devCfg)
	if err != nil {
		return err
	}

	enc := m2mencoder.New(dev, m2mencoder.Options{PollTimeout: devCfg.PollTimeout})
	defer func() {
		enc.Destroy()
		<-enc.Done()
	}()

	client := newSinkClient(enc, sink, cfg.Output.Buffers)
	if err := enc.Initialize(encCfg, client); err != nil {
		return err
	}

	var req requirement
	select {
	case req = <-client.required:
	case kind := <-client.errCh:
		return fmt.Errorf("encoder failed during setup: %w", kind.Sentinel())
	case <-time.After(setupTimeout):
		return errors.New("timed out waiting for the encoder to request buffers")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reader, err := newFrameReader(input, encCfg.InputFormat, encCfg.InputVisibleSize, req.codedSize)
	if err != nil {
		return err
	}
	client.slots = make(chan struct{}, req.inputCount+cfg.Output.Buffers)

	start := time.Now()
	frameInterval := time.Second / time.Duration(encCfg.InitialFramerate)
	submitted, err := cmd.feed(ctx, enc, client, reader, frameInterval)
	if err != nil {
		return err
	}
	if err := cmd.drain(ctx, enc, client); err != nil {
		return err
	}
	if err := client.err(); err != nil {
		return err
	}

	elapsed := time.Since(start)
	stats := enc.Stats()
	logrus.WithFields(logrus.Fields{
		"function":  "EncodeCmd.Run",
		"frames":    submitted,
		"elapsed":   elapsed,
		"fps":       float64(submitted) / elapsed.Seconds(),
		"bytes":     stats.BytesProduced,
		"keyframes": stats.Keyframes,
	}).Info("Encoding finished")

	_, err = fmt.Fprintf(g.Stdout, "%d frames, %d bytes, %d keyframes in %s\n",
		submitted, stats.BytesProduced, stats.Keyframes, elapsed.Round(time.Millisecond))
	return err
}

// feed submits frames, keeping at most cap(slots) of them in the encoder.
func (cmd *EncodeCmd) feed(ctx context.Context, enc *m2mencoder.Encoder, client *sinkClient, reader *frameReader, interval time.Duration) (int, error) {
	submitted := 0
	for cmd.Frames == 0 || submitted < cmd.Frames {
		frame, err := reader.Next(time.Duration(submitted) * interval)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return submitted, fmt.Errorf("read frame %d: %w", submitted, err)
		}

		select {
		case client.slots <- struct{}{}:
		case kind := <-client.errCh:
			return submitted, fmt.Errorf("encoder failed: %w", kind.Sentinel())
		case <-ctx.Done():
			return submitted, ctx.Err()
		}

		force := cmd.KeyframeEvery > 0 && submitted > 0 && submitted%cmd.KeyframeEvery == 0
		client.inFlight.Add(1)
		enc.Encode(frame, force)
		submitted++
	}
	return submitted, nil
}

// drain waits until every submitted frame has come back.
func (cmd *EncodeCmd) drain(ctx context.Context, enc *m2mencoder.Encoder, client *sinkClient) error {
	done := make(chan bool, 1)
	if enc.IsFlushSupported() {
		enc.Flush(func(ok bool) { done <- ok })
	} else {
		go func() {
			client.inFlight.Wait()
			done <- true
		}()
	}

	select {
	case ok := <-done:
		if !ok {
			return errors.New("flush failed")
		}
		return nil
	case kind := <-client.errCh:
		return fmt.Errorf("encoder failed: %w", kind.Sentinel())
	case <-ctx.Done():
		return ctx.Err()
	}
}
