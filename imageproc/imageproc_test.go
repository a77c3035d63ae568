package imageproc

import (
	"errors"
	"testing"
	"time"

	"github.com/opd-ai/m2mencoder/video"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSize     = video.Size{Width: 64, Height: 48}
	deviceLayout = video.NewFrameLayout(video.PixelFormatNV12, testSize, true)
)

func newTestProcessor(t *testing.T, onError func(error)) *SoftwareProcessor {
	t.Helper()
	input := NewPortConfig(video.NewFrameLayout(video.PixelFormatI420, testSize, false), video.NewRect(testSize), video.StorageOwnedMemory)
	output := NewPortConfig(deviceLayout, video.NewRect(testSize), video.StorageDmabuf)
	p, err := NewSoftwareProcessor(input, output, onError)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func newI420(t *testing.T, ts time.Duration, luma byte) *video.VideoFrame {
	t.Helper()
	f, err := video.NewI420Frame(testSize.Width, testSize.Height, ts)
	require.NoError(t, err)
	for i := range f.Data[0] {
		f.Data[0][i] = luma
	}
	return f
}

// postQueue collects functions posted from the processor goroutine so the
// test can run them on its own goroutine, like an encoder context would.
type postQueue chan func()

func (q postQueue) post(fn func()) { q <- fn }

func (q postQueue) run(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case fn := <-q:
			fn()
		case <-time.After(2 * time.Second):
			t.Fatalf("completion %d of %d not posted", i+1, n)
		}
	}
}

func TestSoftwareProcessor_Convert(t *testing.T) {
	p := newTestProcessor(t, func(err error) { t.Errorf("unexpected error: %v", err) })
	assert.Equal(t, OutputModeImport, p.OutputMode())
	assert.Equal(t, video.StorageOwnedMemory, p.OutputConfig().Storage, "software output is always owned memory")

	src := newI420(t, 33*time.Millisecond, 77)
	for i := range src.Data[1] {
		src.Data[1][i] = 10
		src.Data[2][i] = 20
	}
	dst, err := video.NewFrame(deviceLayout, video.NewRect(testSize), 0)
	require.NoError(t, err)

	done := make(chan *video.VideoFrame, 1)
	require.NoError(t, p.Process(src, dst, func(f *video.VideoFrame) { done <- f }))

	select {
	case out := <-done:
		assert.Same(t, dst, out)
		assert.Equal(t, 33*time.Millisecond, out.Timestamp)
		assert.Equal(t, byte(77), out.Data[0][0])
		assert.Equal(t, byte(10), out.Data[1][0])
		assert.Equal(t, byte(20), out.Data[1][1])
	case <-time.After(2 * time.Second):
		t.Fatal("conversion did not complete")
	}
}

func TestSoftwareProcessor_Rejects(t *testing.T) {
	p := newTestProcessor(t, nil)
	nv12, err := video.NewNV12Frame(testSize.Width, testSize.Height, 0)
	require.NoError(t, err)
	dst, err := video.NewFrame(deviceLayout, video.NewRect(testSize), 0)
	require.NoError(t, err)

	err = p.Process(nv12, dst, func(*video.VideoFrame) {})
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
	assert.Error(t, p.Process(nil, dst, func(*video.VideoFrame) {}))

	p.Close()
	err = p.Process(newI420(t, 0, 0), dst, func(*video.VideoFrame) {})
	assert.True(t, errors.Is(err, ErrProcessorClosed))
}

func TestSoftwareProcessor_ReportsConversionErrors(t *testing.T) {
	errCh := make(chan error, 1)
	p := newTestProcessor(t, func(err error) { errCh <- err })

	src := &video.VideoFrame{
		Layout:      video.NewFrameLayout(video.PixelFormatI420, testSize, false),
		VisibleRect: video.NewRect(testSize),
		Storage:     video.StorageDmabuf,
		FDs:         []int{5},
	}
	dst, err := video.NewFrame(deviceLayout, video.NewRect(testSize), 0)
	require.NoError(t, err)
	require.NoError(t, p.Process(src, dst, func(*video.VideoFrame) { t.Error("ready must not run") }))

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, ErrUnsupportedStorage))
	case <-time.After(2 * time.Second):
		t.Fatal("error not reported")
	}
}

func TestSoftwareProcessor_MappedDmabuf(t *testing.T) {
	p := newTestProcessor(t, func(err error) { t.Errorf("unexpected error: %v", err) })
	src := newI420(t, time.Second, 9)
	src.Storage = video.StorageDmabuf
	src.FDs = []int{3}
	dst, err := video.NewFrame(deviceLayout, video.NewRect(testSize), 0)
	require.NoError(t, err)

	done := make(chan struct{})
	require.NoError(t, p.Process(src, dst, func(*video.VideoFrame) { close(done) }))
	select {
	case <-done:
		assert.Equal(t, byte(9), dst.Data[0][len(dst.Data[0])-1])
	case <-time.After(2 * time.Second):
		t.Fatal("conversion did not complete")
	}
}

func TestCreate_OutputModes(t *testing.T) {
	input := NewPortConfig(video.NewFrameLayout(video.PixelFormatI420, testSize, false), video.NewRect(testSize), video.StorageOwnedMemory)
	output := NewPortConfig(deviceLayout, video.NewRect(testSize), video.StorageOwnedMemory)

	_, err := Create(input, output, []OutputMode{OutputModeAllocate}, nil)
	assert.True(t, errors.Is(err, ErrUnsupportedMode))

	p, err := Create(input, output, []OutputMode{OutputModeAllocate, OutputModeImport}, nil)
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, OutputModeImport, p.OutputMode())

	bad := input
	bad.Layout.Format = video.PixelFormatUnknown
	_, err = Create(bad, output, []OutputMode{OutputModeImport}, nil)
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}

type emitted struct {
	outputs []Output
}

func (e *emitted) emit(o Output) { e.outputs = append(e.outputs, o) }

func newTestAdapter(t *testing.T, count int) (*Adapter, postQueue, *emitted) {
	t.Helper()
	q := make(postQueue, 16)
	out := &emitted{}
	a, err := NewAdapter(newTestProcessor(t, nil), count, deviceLayout, Hooks{
		Post: q.post,
		Emit: out.emit,
		OnError: func(err error) {
			t.Errorf("unexpected adapter error: %v", err)
		},
	})
	require.NoError(t, err)
	return a, q, out
}

func TestAdapter_BoundedPool(t *testing.T) {
	a, q, out := newTestAdapter(t, 2)
	assert.Equal(t, 2, a.FreeCount())
	assert.Equal(t, testSize, a.InputSize())

	for i := 0; i < 3; i++ {
		require.NoError(t, a.Submit(newI420(t, time.Duration(i)*time.Second, byte(i)), i == 0))
	}
	assert.Equal(t, 0, a.FreeCount())
	assert.Equal(t, 2, a.InFlight())
	assert.Equal(t, 1, a.PendingCount())

	q.run(t, 2)
	require.Len(t, out.outputs, 2)
	// Indices come off the top of the free stack.
	assert.Equal(t, 1, out.outputs[0].Index)
	assert.True(t, out.outputs[0].ForceKeyframe)
	assert.Equal(t, time.Duration(0), out.outputs[0].Frame.Timestamp)
	assert.Equal(t, 0, out.outputs[1].Index)
	assert.False(t, out.outputs[1].ForceKeyframe)
	assert.Equal(t, time.Second, out.outputs[1].Frame.Timestamp)

	// Completion alone does not free a slot.
	assert.Equal(t, 0, a.FreeCount())
	assert.Equal(t, 1, a.PendingCount())

	require.NoError(t, a.Recycle(1))
	assert.Equal(t, 0, a.PendingCount())
	assert.Equal(t, 1, a.InFlight())

	q.run(t, 1)
	require.Len(t, out.outputs, 3)
	assert.Equal(t, 1, out.outputs[2].Index)
	assert.Equal(t, 2*time.Second, out.outputs[2].Frame.Timestamp)
	assert.Equal(t, byte(2), out.outputs[2].Frame.Data[0][0])
}

func TestAdapter_FlushSentinelKeepsOrder(t *testing.T) {
	a, q, out := newTestAdapter(t, 2)

	require.NoError(t, a.Submit(newI420(t, time.Second, 1), false))
	require.NoError(t, a.Submit(nil, false))
	assert.Empty(t, out.outputs, "sentinel waits for the conversion in flight")

	q.run(t, 1)
	require.Len(t, out.outputs, 2)
	assert.NotNil(t, out.outputs[0].Frame)
	assert.Nil(t, out.outputs[1].Frame)
	assert.Equal(t, -1, out.outputs[1].Index)

	// With nothing in flight the sentinel goes straight through.
	require.NoError(t, a.Submit(nil, false))
	require.Len(t, out.outputs, 3)
	assert.Nil(t, out.outputs[2].Frame)
}

func TestAdapter_RecycleInvalid(t *testing.T) {
	a, q, _ := newTestAdapter(t, 2)
	assert.True(t, errors.Is(a.Recycle(0), ErrInvalidIndex), "free slot")
	assert.True(t, errors.Is(a.Recycle(7), ErrInvalidIndex))

	require.NoError(t, a.Submit(newI420(t, 0, 0), false))
	q.run(t, 1)
	require.NoError(t, a.Recycle(1))
	assert.True(t, errors.Is(a.Recycle(1), ErrInvalidIndex), "double recycle")
	assert.Equal(t, 2, a.FreeCount())
}

func TestNewAdapter_OutputSize(t *testing.T) {
	// Processor output padded to 64 rows, device input needs 48.
	padded := video.NewFrameLayout(video.PixelFormatNV12, video.Size{Width: 64, Height: 64}, true)
	input := NewPortConfig(video.NewFrameLayout(video.PixelFormatI420, testSize, false), video.NewRect(testSize), video.StorageOwnedMemory)
	p, err := NewSoftwareProcessor(input, NewPortConfig(padded, video.NewRect(testSize), video.StorageOwnedMemory), nil)
	require.NoError(t, err)
	defer p.Close()

	a, err := NewAdapter(p, 3, deviceLayout, Hooks{})
	require.NoError(t, err, "processor output may be taller than the device input")
	assert.Equal(t, 3, a.FreeCount())

	wider := video.NewFrameLayout(video.PixelFormatNV12, video.Size{Width: 80, Height: 48}, true)
	_, err = NewAdapter(p, 1, wider, Hooks{})
	assert.True(t, errors.Is(err, ErrOutputSizeMismatch))

	taller := video.NewFrameLayout(video.PixelFormatNV12, video.Size{Width: 64, Height: 80}, true)
	_, err = NewAdapter(p, 1, taller, Hooks{})
	assert.True(t, errors.Is(err, ErrOutputSizeMismatch))
}
