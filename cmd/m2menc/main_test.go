package main

import (
	"bytes"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/opd-ai/m2mencoder/h264"
	"github.com/opd-ai/m2mencoder/rtp"
	"github.com/opd-ai/m2mencoder/video"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cli := CLI{Globals: Globals{Stdout: &out}}
	parser, err := newParser(&cli, kong.Exit(func(code int) {
		t.Fatalf("unexpected exit with code %d", code)
	}))
	require.NoError(t, err)

	ctx, err := parser.Parse(args)
	if err != nil {
		return "", err
	}
	err = ctx.Run(&cli.Globals)
	return out.String(), err
}

// writeRawFrames writes n tightly packed frames with a moving gradient.
func writeRawFrames(t *testing.T, format video.PixelFormat, size video.Size, n int) string {
	t.Helper()
	frameSize := format.AllocationSize(size)
	data := make([]byte, 0, frameSize*n)
	for i := 0; i < n; i++ {
		for j := 0; j < frameSize; j++ {
			data = append(data, byte(i*7+j))
		}
	}
	path := filepath.Join(t.TempDir(), "input.yuv")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func countTypes(stream []byte) map[h264.NALUType]int {
	counts := make(map[h264.NALUType]int)
	for _, n := range h264.Split(stream) {
		counts[n.Type]++
	}
	return counts
}

func TestEncode_AnnexBFile(t *testing.T) {
	input := writeRawFrames(t, video.PixelFormatNV12, video.Size{Width: 64, Height: 48}, 6)
	output := filepath.Join(t.TempDir(), "out.h264")

	stdout, err := run(t, "encode", "--simulate", "--poll-timeout", "10",
		"-f", "NV12", "-W", "64", "-H", "48", "-o", output, input)
	require.NoError(t, err)
	assert.Contains(t, stdout, "6 frames")

	stream, err := os.ReadFile(output)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(stream, []byte{0, 0, 0, 1}))

	counts := countTypes(stream)
	assert.GreaterOrEqual(t, counts[h264.NALUSPS], 1)
	assert.GreaterOrEqual(t, counts[h264.NALUPPS], 1)
	assert.Equal(t, 6, counts[h264.NALUIDRSlice]+counts[h264.NALUNonIDRSlice])
}

func TestEncode_FrameLimitAndKeyframes(t *testing.T) {
	input := writeRawFrames(t, video.PixelFormatI420, video.Size{Width: 64, Height: 48}, 8)
	output := filepath.Join(t.TempDir(), "out.h264")

	_, err := run(t, "encode", "--simulate", "--poll-timeout", "10",
		"-f", "I420", "-W", "64", "-H", "48", "-n", "5", "--keyframe-every", "2",
		"-o", output, input)
	require.NoError(t, err)

	stream, err := os.ReadFile(output)
	require.NoError(t, err)
	counts := countTypes(stream)
	assert.Equal(t, 5, counts[h264.NALUIDRSlice]+counts[h264.NALUNonIDRSlice])
	assert.GreaterOrEqual(t, counts[h264.NALUIDRSlice], 3, "frames 0, 2 and 4")
}

func TestEncode_RTP(t *testing.T) {
	listener, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	input := writeRawFrames(t, video.PixelFormatNV12, video.Size{Width: 64, Height: 48}, 4)
	_, err = run(t, "encode", "--simulate", "--poll-timeout", "10",
		"-W", "64", "-H", "48", "--rtp", listener.LocalAddr().String(), input)
	require.NoError(t, err)

	d := rtp.NewH264Depacketizer()
	buf := make([]byte, 2048)
	frames := 0
	for frames < 4 {
		require.NoError(t, listener.SetReadDeadline(time.Now().Add(2*time.Second)))
		n, _, err := listener.ReadFrom(buf)
		require.NoError(t, err)
		frame, _, complete, err := d.Push(buf[:n])
		require.NoError(t, err)
		if complete {
			assert.NotEmpty(t, h264.Split(frame))
			frames++
		}
	}
}

func TestEncode_Errors(t *testing.T) {
	size := video.Size{Width: 64, Height: 48}
	input := writeRawFrames(t, video.PixelFormatNV12, size, 1)

	truncated := filepath.Join(t.TempDir(), "truncated.yuv")
	require.NoError(t, os.WriteFile(truncated, make([]byte, video.PixelFormatNV12.AllocationSize(size)/2), 0o600))
	output := filepath.Join(t.TempDir(), "out.h264")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no output", []string{"encode", "--simulate", "-W", "64", "-H", "48", input}, "no output"},
		{"no size", []string{"encode", "--simulate", "-o", output, input}, "encoder configuration"},
		{"bad profile", []string{"encode", "--simulate", "-W", "64", "-H", "48", "-p", "h265", "-o", output, input}, "profile"},
		{"truncated input", []string{"encode", "--simulate", "--poll-timeout", "10", "-W", "64", "-H", "48", "-o", output, truncated}, "truncated frame"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestProbe_Simulated(t *testing.T) {
	stdout, err := run(t, "probe", "--simulate")
	require.NoError(t, err)

	assert.Contains(t, stdout, "m2m-sim")
	assert.Contains(t, stdout, "NM12")
	assert.Contains(t, stdout, "supported")
	assert.Contains(t, stdout, "H264_SPS_PPS_BEFORE_IDR")

	_, err = run(t, "probe", "--simulate", "--codec", "VP9")
	assert.Error(t, err)
}

func TestConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m2menc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("encoder:\n  width: 320\n  height: 240\n"), 0o600))

	stdout, err := run(t, "config", "-c", path, "-H", "180", "-b", "500000")
	require.NoError(t, err)
	assert.Contains(t, stdout, "width: 320")
	assert.Contains(t, stdout, "height: 180")
	assert.Contains(t, stdout, "bitrate: 500000")
}

func TestVersion(t *testing.T) {
	stdout, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "m2menc dev\n", stdout)
}

func TestFrameReader_Padding(t *testing.T) {
	visible := video.Size{Width: 4, Height: 2}
	coded := video.Size{Width: 8, Height: 4}
	raw := []byte{
		1, 2, 3, 4, // Y row 0
		5, 6, 7, 8, // Y row 1
		9, 10,      // U
		11, 12,     // V
	}
	require.Len(t, raw, video.PixelFormatI420.AllocationSize(visible))

	reader, err := newFrameReader(bytes.NewReader(raw), video.PixelFormatI420, visible, coded)
	require.NoError(t, err)
	assert.Equal(t, 12, reader.FrameSize())

	frame, err := reader.Next(time.Second)
	require.NoError(t, err)
	assert.Equal(t, coded, frame.CodedSize())
	assert.Equal(t, video.NewRect(visible), frame.VisibleRect)
	assert.Equal(t, time.Second, frame.Timestamp)

	assert.Equal(t, []byte{1, 2, 3, 4, 0, 0, 0, 0}, frame.Data[0][:8])
	assert.Equal(t, []byte{5, 6, 7, 8, 0, 0, 0, 0}, frame.Data[0][8:16])
	assert.Equal(t, []byte{9, 10}, frame.Data[1][:2])
	assert.Equal(t, []byte{11, 12}, frame.Data[2][:2])

	_, err = reader.Next(0)
	assert.ErrorIs(t, err, io.EOF)

	_, err = newFrameReader(bytes.NewReader(raw), video.PixelFormatI420, coded, visible)
	assert.Error(t, err)
}
