package socket

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestFrameRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		frames := rapid.SliceOfN(rapid.SliceOfN(rapid.Byte(), 0, 512), 1, 8).Draw(t, "frames")
		var buf bytes.Buffer
		for _, f := range frames {
			if err := WriteFrame(&buf, f); err != nil {
				t.Fatalf("write: %v", err)
			}
		}
		for i, want := range frames {
			got, err := ReadFrame(&buf, 512)
			if err != nil {
				t.Fatalf("frame %d: %v", i, err)
			}
			if !bytes.Equal(want, got) {
				t.Fatalf("frame %d: got %x, want %x", i, got, want)
			}
		}
		if _, err := ReadFrame(&buf, 512); err != io.EOF {
			t.Fatalf("expected io.EOF after last frame, got %v", err)
		}
	})
}

func TestFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, make([]byte, 100)))
	_, err := ReadFrame(&buf, 10)
	assert.Equal(t, IOError, KindOf(err))
	assert.Contains(t, err.Error(), "frame too large")
}

func TestFrameTruncated(t *testing.T) {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], 8)
	r := bytes.NewReader(append(hdr[:], 'a', 'b'))
	_, err := ReadFrame(r, 0)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = ReadFrame(bytes.NewReader([]byte{0, 0}), 0)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = ReadFrame(bytes.NewReader(nil), 0)
	assert.ErrorIs(t, err, io.EOF)
}
