package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"io"

	"github.com/pkg/errors"
)

// MaxFrameSize bounds a single encoded Req or Res, guarding a stream peer
// against a malicious or buggy length prefix.
const MaxFrameSize = 64 << 20

// WriteFrame encodes v as gob and writes it to w as a 4-byte big-endian
// length prefix followed by the payload: the framing the Peer Protocol
// uses on top of a raw libp2p stream.
func WriteFrame(w io.Writer, v interface{}) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return errors.Wrap(err, "encode frame")
	}
	if buf.Len() > MaxFrameSize {
		return errors.Errorf("encoded frame too large: %d bytes", buf.Len())
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(buf.Len()))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return errors.Wrap(err, "write frame length")
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return errors.Wrap(err, "write frame body")
	}
	return nil
}

// ReadFrame reads one length-prefixed gob frame from r into v.
func ReadFrame(r io.Reader, v interface{}) error {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n > MaxFrameSize {
		return errors.Errorf("frame length %d exceeds maximum %d", n, MaxFrameSize)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return errors.Wrap(err, "read frame body")
	}
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(v); err != nil {
		return errors.Wrap(err, "decode frame")
	}
	return nil
}

// WriteReq and WriteRes are thin, named wrappers around WriteFrame so call
// sites read as intent rather than a generic encode.
func WriteReq(w io.Writer, req Req) error { return WriteFrame(w, req) }
func WriteRes(w io.Writer, res Res) error { return WriteFrame(w, res) }

// ReadReq and ReadRes are thin, named wrappers around ReadFrame.
func ReadReq(r io.Reader) (Req, error) {
	var req Req
	err := ReadFrame(r, &req)
	return req, err
}

func ReadRes(r io.Reader) (Res, error) {
	var res Res
	err := ReadFrame(r, &res)
	return res, err
}
