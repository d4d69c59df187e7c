package socket

import (
	"encoding/binary"
	"errors"
	"io"
	"strconv"

	"github.com/valyala/bytebufferpool"

	"github.com/srediag/plugin-socket/pkg/sockerr"
)

// frameHeaderSize is the 4-byte big-endian payload length that starts each frame.
const frameHeaderSize = 4

// WriteFrame writes p to w as one frame: a 4-byte big-endian length followed
// by the payload.
func WriteFrame(w io.Writer, p []byte) error {
	if uint64(len(p)) > maxFrameSizeLimit {
		return sockerr.New(sockerr.IOError, "frame", "frame too large")
	}
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	buf.B = binary.BigEndian.AppendUint32(buf.B[:0], uint32(len(p)))
	buf.B = append(buf.B, p...)
	_, err := w.Write(buf.B)
	return err
}

// ReadFrame reads one frame from r. A frame longer than max gives IOError
// with detail "frame too large"; max <= 0 means DefaultMaxFrameSize. End of
// stream before a header is io.EOF, inside a frame io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader, max int) ([]byte, error) {
	if max <= 0 {
		max = DefaultMaxFrameSize
	}
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if uint64(n) > uint64(max) {
		return nil, sockerr.New(sockerr.IOError, "frame", "frame too large: "+strconv.FormatUint(uint64(n), 10)+" bytes")
	}
	p := make([]byte, n)
	if _, err := io.ReadFull(r, p); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return p, nil
}
