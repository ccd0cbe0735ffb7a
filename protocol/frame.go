// Package protocol implements the GBXRemote frame-level I/O on an
// established TCP byte stream: the fixed 8-byte length+handle header, the
// variable-length body that follows it, and the one-time connect banner a
// GBXRemote server sends immediately after accept.
//
// Frame format (all integers little-endian):
//
//	offset 0: u32 body_length
//	offset 4: u32 handle      // bit 31 set → response to a client call
//	offset 8: body_length bytes of XML text
//
// The body is opaque bytes at this layer; the xmlvalue package decodes it.
package protocol

import (
	"encoding/binary"
	"io"
	"time"

	"gbxremote/gbxerr"
)

// HeaderSize is the fixed 8-byte frame header: 4 bytes body length + 4 bytes handle.
const HeaderSize = 8

// DefaultMaxFrameSize bounds per-message memory. 4 MiB, per spec.
const DefaultMaxFrameSize uint32 = 4 << 20

// DefaultMaxBannerSize bounds the connect banner length.
const DefaultMaxBannerSize uint32 = 64

// CallbackHandleBit is the high bit that, when set, marks a handle as a
// client-assigned request/response handle instead of a server-assigned
// callback handle.
const CallbackHandleBit uint32 = 0x8000_0000

// ExpectedBanner is the only protocol name this client accepts.
const ExpectedBanner = "GBXRemote 2"

// IsCallback reports whether a handle's high bit is clear, marking the
// frame as a server-initiated methodCall rather than a reply to a client call.
func IsCallback(handle uint32) bool { return handle&CallbackHandleBit == 0 }

// Codec performs frame-level reads and writes on one established
// connection. A single Codec must not be read from concurrently (the
// receive loop owns reads); writes must be externally serialized by the
// caller (see transport.Transport.WriteFrame).
type Codec struct {
	rw        io.ReadWriter
	maxFrame  uint32
	maxBanner uint32
}

// NewCodec wraps rw with the default size ceilings.
func NewCodec(rw io.ReadWriter) *Codec {
	return &Codec{rw: rw, maxFrame: DefaultMaxFrameSize, maxBanner: DefaultMaxBannerSize}
}

// WithLimits overrides the frame and banner size ceilings.
func (c *Codec) WithLimits(maxFrame, maxBanner uint32) *Codec {
	c.maxFrame = maxFrame
	c.maxBanner = maxBanner
	return c
}

// ReadFrame reads exactly one frame: the 8-byte header, then exactly
// body_length body bytes.
func (c *Codec) ReadFrame() (handle uint32, body []byte, err error) {
	var headerBuf [HeaderSize]byte
	if _, err := io.ReadFull(c.rw, headerBuf[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, nil, &gbxerr.Closed{}
		}
		return 0, nil, &gbxerr.Io{Err: err}
	}

	bodyLen := binary.LittleEndian.Uint32(headerBuf[0:4])
	handle = binary.LittleEndian.Uint32(headerBuf[4:8])

	if bodyLen > c.maxFrame {
		return 0, nil, &gbxerr.TooLarge{What: "frame body", Size: bodyLen, Max: c.maxFrame}
	}

	body = make([]byte, bodyLen)
	if _, err := io.ReadFull(c.rw, body); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, nil, &gbxerr.Closed{}
		}
		return 0, nil, &gbxerr.Io{Err: err}
	}

	return handle, body, nil
}

// WriteFrame writes the header then the body as one logical unit, retrying
// partial writes until completion. The caller must hold the connection's
// write mutex — concurrent callers of WriteFrame on the same Codec will
// interleave bytes and corrupt the stream.
func (c *Codec) WriteFrame(handle uint32, body []byte) error {
	var headerBuf [HeaderSize]byte
	binary.LittleEndian.PutUint32(headerBuf[0:4], uint32(len(body)))
	binary.LittleEndian.PutUint32(headerBuf[4:8], handle)

	if err := writeFull(c.rw, headerBuf[:]); err != nil {
		return &gbxerr.Io{Err: err}
	}
	if err := writeFull(c.rw, body); err != nil {
		return &gbxerr.Io{Err: err}
	}
	return nil
}

func writeFull(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

// deadlineConn is the subset of net.Conn needed to enforce a read deadline
// around the banner handshake.
type deadlineConn interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

// ReadBanner reads the server's one-time connect banner: a u32 length
// (bounded to maxBanner), then that many ASCII bytes. deadline, if
// non-zero, bounds the whole read.
func ReadBanner(conn deadlineConn, maxBanner uint32, deadline time.Duration) (string, error) {
	if deadline > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(deadline)); err != nil {
			return "", &gbxerr.Io{Err: err}
		}
		defer conn.SetReadDeadline(time.Time{})
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		if isTimeout(err) {
			return "", &gbxerr.Timeout{Op: "banner handshake"}
		}
		return "", &gbxerr.Io{Err: err}
	}

	length := binary.LittleEndian.Uint32(lenBuf[:])
	if length > maxBanner {
		return "", &gbxerr.TooLarge{What: "banner", Size: length, Max: maxBanner}
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(conn, buf); err != nil {
		if isTimeout(err) {
			return "", &gbxerr.Timeout{Op: "banner handshake"}
		}
		return "", &gbxerr.Io{Err: err}
	}

	return string(buf), nil
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}
