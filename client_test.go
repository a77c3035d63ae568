package m2mencoder

import (
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/m2mencoder/video"
	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

type requiredBuffers struct {
	inputCount int
	codedSize  video.Size
	bufferSize int
}

type readyBuffer struct {
	id      int32
	md      BitstreamBufferMetadata
	payload []byte
}

// recordingClient records notifications and, when recycle is set, hands
// every returned buffer straight back to the encoder.
type recordingClient struct {
	enc     *Encoder
	recycle bool

	mu      sync.Mutex
	buffers map[int32][]byte
	ready   []readyBuffer
	errs    []ErrorKind

	requiredCh chan requiredBuffers
	readyCh    chan readyBuffer
	errCh      chan ErrorKind
}

func newRecordingClient(enc *Encoder, recycle bool) *recordingClient {
	return &recordingClient{
		enc:        enc,
		recycle:    recycle,
		buffers:    make(map[int32][]byte),
		requiredCh: make(chan requiredBuffers, 4),
		readyCh:    make(chan readyBuffer, 1024),
		errCh:      make(chan ErrorKind, 16),
	}
}

func (c *recordingClient) RequireBitstreamBuffers(inputCount int, codedSize video.Size, bufferSize int) {
	c.requiredCh <- requiredBuffers{inputCount: inputCount, codedSize: codedSize, bufferSize: bufferSize}
}

func (c *recordingClient) BitstreamBufferReady(id int32, md BitstreamBufferMetadata) {
	c.mu.Lock()
	region := c.buffers[id]
	rb := readyBuffer{id: id, md: md, payload: append([]byte(nil), region[:md.PayloadSize]...)}
	c.ready = append(c.ready, rb)
	c.mu.Unlock()

	c.readyCh <- rb
	if c.recycle {
		c.enc.UseOutputBitstreamBuffer(BitstreamBuffer{ID: id, Region: region, Size: len(region)})
	}
}

func (c *recordingClient) NotifyError(kind ErrorKind) {
	c.mu.Lock()
	c.errs = append(c.errs, kind)
	c.mu.Unlock()
	c.errCh <- kind
}

// provide allocates count buffers of size bytes and hands them over.
func (c *recordingClient) provide(count, size int) {
	c.mu.Lock()
	first := int32(len(c.buffers))
	regions := make([][]byte, count)
	for i := range regions {
		regions[i] = make([]byte, size)
		c.buffers[first+int32(i)] = regions[i]
	}
	c.mu.Unlock()

	for i, region := range regions {
		c.enc.UseOutputBitstreamBuffer(BitstreamBuffer{ID: first + int32(i), Region: region, Size: size})
	}
}

func (c *recordingClient) errors() []ErrorKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ErrorKind(nil), c.errs...)
}

func (c *recordingClient) waitRequired(t *testing.T) requiredBuffers {
	t.Helper()
	select {
	case r := <-c.requiredCh:
		return r
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for RequireBitstreamBuffers")
	}
	return requiredBuffers{}
}

func (c *recordingClient) waitReady(t *testing.T, n int) []readyBuffer {
	t.Helper()
	out := make([]readyBuffer, 0, n)
	for len(out) < n {
		select {
		case rb := <-c.readyCh:
			out = append(out, rb)
		case <-time.After(testTimeout):
			t.Fatalf("timed out waiting for bitstream buffers, got %d of %d", len(out), n)
		}
	}
	return out
}

func (c *recordingClient) waitError(t *testing.T) ErrorKind {
	t.Helper()
	select {
	case kind := <-c.errCh:
		return kind
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for NotifyError")
	}
	return 0
}

// flushResult returns a flush callback and the channel it reports to.
func flushResult() (FlushCallback, chan bool) {
	ch := make(chan bool, 1)
	return func(success bool) { ch <- success }, ch
}

func waitFlush(t *testing.T, ch chan bool) bool {
	t.Helper()
	select {
	case ok := <-ch:
		return ok
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for the flush callback")
	}
	return false
}

func requireNoFlushResult(t *testing.T, ch chan bool) {
	t.Helper()
	select {
	case ok := <-ch:
		t.Fatalf("unexpected flush result %t", ok)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBitstreamBuffer_Mapping(t *testing.T) {
	region := make([]byte, 100)
	m, err := BitstreamBuffer{ID: 1, Region: region, Offset: 10, Size: 50}.mapping()
	require.NoError(t, err)
	require.Len(t, m, 50)
	require.Equal(t, 50, cap(m), "writes must not spill past the buffer")

	_, err = BitstreamBuffer{ID: 2, Region: region, Offset: 60, Size: 50}.mapping()
	require.Error(t, err)
	_, err = BitstreamBuffer{ID: 3, Region: region, Offset: -1, Size: 10}.mapping()
	require.Error(t, err)
}
