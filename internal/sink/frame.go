package sink

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/zsiec/hoststream/internal/queue"
)

// Frame header, little-endian:
//
//	0  kind      u8
//	1  flags     u8   bit0 key frame, bit1 control record
//	2  length    u32
//	6  duration  u64  nanoseconds since the previous packet
const headerSize = 14

const (
	frameKeyFrame = 1 << 0
	frameControl  = 1 << 1
)

// MaxFrame bounds the payload a receiver accepts.
const MaxFrame = 16 << 20

var errFrameTooLarge = errors.New("sink: frame exceeds limit")

func putHeader(b []byte, pkt queue.Packet) {
	b[0] = byte(pkt.Kind)
	var flags byte
	if pkt.KeyFrame {
		flags |= frameKeyFrame
	}
	if pkt.Control {
		flags |= frameControl
	}
	b[1] = flags
	binary.LittleEndian.PutUint32(b[2:], uint32(len(pkt.Payload)))
	binary.LittleEndian.PutUint64(b[6:], uint64(pkt.Duration))
}

func parseHeader(b []byte) (queue.Meta, int, error) {
	n := binary.LittleEndian.Uint32(b[2:])
	if n > MaxFrame {
		return queue.Meta{}, 0, fmt.Errorf("%w: %d bytes", errFrameTooLarge, n)
	}
	return queue.Meta{
		Kind:     queue.Kind(b[0]),
		KeyFrame: b[1]&frameKeyFrame != 0,
		Control:  b[1]&frameControl != 0,
		Duration: time.Duration(binary.LittleEndian.Uint64(b[6:])),
	}, int(n), nil
}

// encodeFrame returns header and payload as one buffer.
func encodeFrame(pkt queue.Packet) []byte {
	out := make([]byte, headerSize+len(pkt.Payload))
	putHeader(out, pkt)
	copy(out[headerSize:], pkt.Payload)
	return out
}

// readFrame reads one frame from a byte stream.
func readFrame(r io.Reader) (queue.Packet, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return queue.Packet{}, err
	}
	meta, n, err := parseHeader(hdr[:])
	if err != nil {
		return queue.Packet{}, err
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return queue.Packet{}, fmt.Errorf("read %d-byte payload: %w", n, err)
	}
	return queue.Packet{Meta: meta, Payload: payload}, nil
}

// reassembler rebuilds frames from a message transport that split them
// into chunks.
type reassembler struct {
	buf []byte
}

// feed appends a received message and returns every frame it completed.
func (r *reassembler) feed(msg []byte) ([]queue.Packet, error) {
	r.buf = append(r.buf, msg...)
	var out []queue.Packet
	for len(r.buf) >= headerSize {
		meta, n, err := parseHeader(r.buf)
		if err != nil {
			r.buf = r.buf[:0]
			return out, err
		}
		if len(r.buf) < headerSize+n {
			break
		}
		payload := append([]byte(nil), r.buf[headerSize:headerSize+n]...)
		out = append(out, queue.Packet{Meta: meta, Payload: payload})
		r.buf = r.buf[headerSize+n:]
	}
	if len(r.buf) == 0 {
		r.buf = nil
	}
	return out, nil
}
