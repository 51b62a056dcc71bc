package source

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawStream(frames ...[]byte) io.ReadCloser {
	var buf bytes.Buffer
	for _, f := range frames {
		buf.Write(f)
	}
	return io.NopCloser(&buf)
}

func TestRawPipeReader_PacketFraming(t *testing.T) {
	w, h := 4, 3
	sz := w * h * 3

	f0 := bytes.Repeat([]byte{1}, sz)
	f1 := bytes.Repeat([]byte{2}, sz)

	src := newRawPipeReader(rawStream(f0, f1), w, h)

	frame, ok := src.Next()
	require.True(t, ok)
	assert.Equal(t, w, frame.Width)
	assert.Equal(t, h, frame.Height)
	assert.Equal(t, f0, frame.BGR)

	frame, ok = src.Next()
	require.True(t, ok)
	assert.Equal(t, f1, frame.BGR)

	_, ok = src.Next()
	assert.False(t, ok)
}

func TestRawPipeReader_GrabSkipsOnePacket(t *testing.T) {
	w, h := 2, 2
	sz := w * h * 3

	f0 := bytes.Repeat([]byte{10}, sz)
	f1 := bytes.Repeat([]byte{20}, sz)

	src := newRawPipeReader(rawStream(f0, f1), w, h)

	require.True(t, src.Grab())
	frame, ok := src.Next()
	require.True(t, ok)
	assert.Equal(t, f1, frame.BGR)

	assert.False(t, src.Grab())
}

// A truncated trailing packet must terminate the stream, never yield a
// partial frame.
func TestRawPipeReader_ShortReadIsEOF(t *testing.T) {
	w, h := 4, 4
	sz := w * h * 3

	full := bytes.Repeat([]byte{7}, sz)
	partial := bytes.Repeat([]byte{8}, sz/2)

	src := newRawPipeReader(rawStream(full, partial), w, h)

	_, ok := src.Next()
	require.True(t, ok)

	_, ok = src.Next()
	assert.False(t, ok)
}

func TestRawPipeReader_DefaultFPS(t *testing.T) {
	src := newRawPipeReader(rawStream(), 2, 2)
	assert.Equal(t, 30.0, src.FPS())
}
